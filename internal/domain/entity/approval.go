package entity

import "time"

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
	ApprovalModified ApprovalStatus = "MODIFIED"
	ApprovalRevoked  ApprovalStatus = "REVOKED"
)

// IsDecided reports whether the request left the pending state.
func (s ApprovalStatus) IsDecided() bool {
	return s != ApprovalPending
}

// ApprovalRequest is the gate's record of "may these tasks run".
type ApprovalRequest struct {
	ID        string         `json:"id" yaml:"id"`
	TaskIDs   []string       `json:"task_ids" yaml:"task_ids"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	ExpiresAt time.Time      `json:"expires_at" yaml:"expires_at"`
	Snapshot  RiskSnapshot   `json:"snapshot" yaml:"snapshot"`
	Status    ApprovalStatus `json:"status" yaml:"status"`

	DecidedBy          string     `json:"decided_by,omitempty" yaml:"decided_by,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
	Reason             string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	ReplacementCommand string     `json:"replacement_command,omitempty" yaml:"replacement_command,omitempty"`
}

// TaskID returns the primary task id of the request.
func (r *ApprovalRequest) TaskID() string {
	if len(r.TaskIDs) == 0 {
		return ""
	}
	return r.TaskIDs[0]
}

// IsBatch reports whether the request covers more than one task.
func (r *ApprovalRequest) IsBatch() bool {
	return len(r.TaskIDs) > 1
}

// Clone returns a deep copy of the request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.TaskIDs = cloneStrings(r.TaskIDs)
	if r.DecidedAt != nil {
		ts := *r.DecidedAt
		c.DecidedAt = &ts
	}
	c.Snapshot = r.Snapshot.clone()
	return &c
}

// RiskSnapshot is the risk and safety context captured when a request is created.
type RiskSnapshot struct {
	Command                string         `json:"command" yaml:"command"`
	RiskScore              float64        `json:"risk_score" yaml:"risk_score"`
	RiskLevel              RiskLevel      `json:"risk_level" yaml:"risk_level"`
	RiskZone               RiskZone       `json:"risk_zone" yaml:"risk_zone"`
	Confidence             float64        `json:"confidence" yaml:"confidence"`
	ManualOverrideRequired bool           `json:"manual_override_required" yaml:"manual_override_required"`
	ConfirmationRequired   bool           `json:"confirmation_required" yaml:"confirmation_required"`
	Warnings               []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Recommendations        []string       `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Rollback               *RollbackPlan  `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	Cascade                []string       `json:"cascade,omitempty" yaml:"cascade,omitempty"`
	Conflicts              []TaskConflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

func (s RiskSnapshot) clone() RiskSnapshot {
	c := s
	c.Warnings = cloneStrings(s.Warnings)
	c.Recommendations = cloneStrings(s.Recommendations)
	c.Cascade = cloneStrings(s.Cascade)
	if s.Rollback != nil {
		rb := *s.Rollback
		rb.Steps = append([]RollbackStep(nil), s.Rollback.Steps...)
		c.Rollback = &rb
	}
	if s.Conflicts != nil {
		c.Conflicts = append([]TaskConflict(nil), s.Conflicts...)
	}
	return c
}

// RollbackStepType names a remediation step kind.
type RollbackStepType string

const (
	StepBackup        RollbackStepType = "backup"
	StepRevertCode    RollbackStepType = "revert-code"
	StepRestoreConfig RollbackStepType = "restore-config"
	StepRestoreData   RollbackStepType = "restore-data"
	StepMigrateDown   RollbackStepType = "migrate-down"
	StepVerify        RollbackStepType = "verify"
	StepNotify        RollbackStepType = "notify"
)

// RollbackStep is one ordered remediation step.
type RollbackStep struct {
	Order       int              `json:"order" yaml:"order"`
	Type        RollbackStepType `json:"type" yaml:"type"`
	Description string           `json:"description" yaml:"description"`
	Estimate    time.Duration    `json:"estimate" yaml:"estimate"`
}

// RollbackPlan is computed, never executed, by this system.
type RollbackPlan struct {
	TaskID         string         `json:"task_id" yaml:"task_id"`
	Steps          []RollbackStep `json:"steps" yaml:"steps"`
	TotalEstimate  time.Duration  `json:"total_estimate" yaml:"total_estimate"`
	RequiresBackup bool           `json:"requires_backup" yaml:"requires_backup"`
}
