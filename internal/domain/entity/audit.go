package entity

import "time"

// AuditDecision is the decision recorded by an audit entry.
type AuditDecision string

const (
	DecisionApproved  AuditDecision = "approved"
	DecisionRejected  AuditDecision = "rejected"
	DecisionModified  AuditDecision = "modified"
	DecisionExpired   AuditDecision = "expired"
	DecisionCancelled AuditDecision = "cancelled"
	DecisionRevoked   AuditDecision = "revoked"
	DecisionDenied    AuditDecision = "denied"
)

// SafetyViolationMarker prefixes the reason of every denial caused by a safety violation.
const SafetyViolationMarker = "SAFETY_VIOLATION"

// AuditEntry is written once per decision and never mutated, except for the
// execution outcome which the executor reports later.
type AuditEntry struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id"`
	TaskID       string        `json:"task_id"`
	Command      string        `json:"command"`
	Decision     AuditDecision `json:"decision"`
	Actor        string        `json:"actor"`
	Reason       string        `json:"reason"`
	RiskZone     RiskZone      `json:"risk_zone"`
	RiskScore    float64       `json:"risk_score"`
	Confidence   float64       `json:"confidence"`
	WarningCount int           `json:"warning_count"`
	RequestedAt  time.Time     `json:"requested_at"`
	DecidedAt    time.Time     `json:"decided_at"`

	Outcome *ExecutionOutcome `json:"outcome,omitempty"`
}

// DecisionLatency is the time between request creation and decision.
func (e *AuditEntry) DecisionLatency() time.Duration {
	if e.RequestedAt.IsZero() || e.DecidedAt.Before(e.RequestedAt) {
		return 0
	}
	return e.DecidedAt.Sub(e.RequestedAt)
}

// Clone returns a copy safe to hand to callers.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Outcome != nil {
		o := *e.Outcome
		c.Outcome = &o
	}
	return &c
}

// ExecutionOutcome is attached to an audit entry after the executor ran the task.
type ExecutionOutcome struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// SafetyViolation records an attempt the gate refused on safety grounds.
type SafetyViolation struct {
	RequestID  string    `json:"request_id"`
	TaskID     string    `json:"task_id"`
	Actor      string    `json:"actor"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Violation kinds.
const (
	ViolationAutomatedApproval = "automated_approval"
	ViolationMissingOverride   = "missing_override"
)
