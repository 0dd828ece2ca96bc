package approval

import "errors"

var (
	ErrRequestNotFound  = errors.New("approval request not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrMissingActor     = errors.New("decision requires an actor")
	ErrInvalidAction    = errors.New("invalid decision action")
	ErrMissingCommand   = errors.New("modify decision requires a replacement command")
	ErrSafetyViolation  = errors.New("safety violation")
	ErrOverrideRequired = errors.New("manual override required")
	ErrAlreadyDecided   = errors.New("approval request already decided")
	ErrRequestExpired   = errors.New("approval request expired")
	ErrNotApproved      = errors.New("approval request is not approved")
	ErrBatchNotAllowed  = errors.New("batch approval not allowed")
)
