package event

// Type identifies the type of domain event
type Type string

const (
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalDecided   Type = "approval.decided"
	TypeApprovalExpired   Type = "approval.expired"
	TypeApprovalRevoked   Type = "approval.revoked"
	TypeSafetyViolation   Type = "approval.violation"
	TypeTaskStatusChanged Type = "task.status_changed"
	TypePlanCreated       Type = "plan.created"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApprovalRequested,
		TypeApprovalDecided,
		TypeApprovalExpired,
		TypeApprovalRevoked,
		TypeSafetyViolation,
		TypeTaskStatusChanged,
		TypePlanCreated:
		return true
	default:
		return false
	}
}
