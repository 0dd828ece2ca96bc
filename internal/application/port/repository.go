package port

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

var (
	// ErrAuditEntryNotFound is returned when an outcome targets an unknown entry
	ErrAuditEntryNotFound = errors.New("audit entry not found")
	// ErrOutcomeRecorded is returned when an entry already carries an outcome
	ErrOutcomeRecorded = errors.New("execution outcome already recorded")
	// ErrSnapshotNotFound is returned when no plan snapshot matches
	ErrSnapshotNotFound = errors.New("plan snapshot not found")
)

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	CommandContains string               `json:"command_contains,omitempty"`
	TaskID          string               `json:"task_id,omitempty"`
	Decision        entity.AuditDecision `json:"decision,omitempty"`
	RiskZone        entity.RiskZone      `json:"risk_zone,omitempty"`
	From            time.Time            `json:"from,omitempty"`
	To              time.Time            `json:"to,omitempty"`
	Limit           int                  `json:"limit,omitempty"`
}

// Matches reports whether the entry passes every set criterion.
// From is inclusive and To is exclusive, both on DecidedAt.
func (f AuditFilter) Matches(e *entity.AuditEntry) bool {
	if f.CommandContains != "" && !strings.Contains(strings.ToLower(e.Command), strings.ToLower(f.CommandContains)) {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.RiskZone != "" && e.RiskZone != f.RiskZone {
		return false
	}
	if !f.From.IsZero() && e.DecidedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.DecidedAt.Before(f.To) {
		return false
	}
	return true
}

// AuditRepository is the append-only sink for gate decisions
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	AttachOutcome(ctx context.Context, entryID string, outcome entity.ExecutionOutcome) error
	// List returns matching entries oldest first; Limit keeps the most recent ones
	List(ctx context.Context, filter AuditFilter) ([]*entity.AuditEntry, error)
}

// PlanSnapshot is a serialized plan (graph, waits and approval state) kept for restore
type PlanSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   []byte    `json:"payload"`
	TaskCount int       `json:"task_count"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotRepository defines persistence operations for PlanSnapshot
type SnapshotRepository interface {
	Save(ctx context.Context, snapshot *PlanSnapshot) error
	GetByID(ctx context.Context, id string) (*PlanSnapshot, error)
	Latest(ctx context.Context, name string) (*PlanSnapshot, error)
	List(ctx context.Context, limit int) ([]*PlanSnapshot, error)
}

// TransactionManager runs fn in one transaction carried by the context.
// Nested calls reuse the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
