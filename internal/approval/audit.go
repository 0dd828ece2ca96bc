package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// DefaultAuditRetention is the number of entries MemoryAuditLog keeps.
const DefaultAuditRetention = 1000

// MemoryAuditLog is an in-memory port.AuditRepository that keeps the most
// recent entries up to its retention cap.
type MemoryAuditLog struct {
	mu        sync.RWMutex
	entries   []*entity.AuditEntry
	retention int
}

// NewMemoryAuditLog creates a log keeping at most retention entries.
func NewMemoryAuditLog(retention int) *MemoryAuditLog {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &MemoryAuditLog{retention: retention}
}

// Append stores a copy of entry, evicting the oldest entries beyond the cap.
func (l *MemoryAuditLog) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("audit entry requires an id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry.Clone())
	if over := len(l.entries) - l.retention; over > 0 {
		l.entries = append([]*entity.AuditEntry(nil), l.entries[over:]...)
	}
	return nil
}

// AttachOutcome sets the execution outcome of an entry once.
func (l *MemoryAuditLog) AttachOutcome(ctx context.Context, entryID string, outcome entity.ExecutionOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.ID != entryID {
			continue
		}
		if e.Outcome != nil {
			return fmt.Errorf("%w: %s", port.ErrOutcomeRecorded, entryID)
		}
		o := outcome
		e.Outcome = &o
		return nil
	}
	return fmt.Errorf("%w: %s", port.ErrAuditEntryNotFound, entryID)
}

// List returns copies of the matching entries, oldest first.
func (l *MemoryAuditLog) List(ctx context.Context, filter port.AuditFilter) ([]*entity.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*entity.AuditEntry
	for _, e := range l.entries {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Len returns the number of retained entries.
func (l *MemoryAuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// AuditStats aggregates audit entries for compliance reporting.
type AuditStats struct {
	Total               int                          `json:"total"`
	ByDecision          map[entity.AuditDecision]int `json:"by_decision"`
	ApprovalRate        float64                      `json:"approval_rate"`
	Executed            int                          `json:"executed"`
	Succeeded           int                          `json:"succeeded"`
	SuccessRate         float64                      `json:"success_rate"`
	MeanDecisionLatency time.Duration                `json:"mean_decision_latency"`
	Violations          int                          `json:"violations"`
}

// ComputeAuditStats aggregates entries. The approval rate counts approvals
// among closed requests (approved, rejected, modified, cancelled, expired).
// Latency is averaged over human decisions only.
func ComputeAuditStats(entries []*entity.AuditEntry) AuditStats {
	stats := AuditStats{
		Total:      len(entries),
		ByDecision: make(map[entity.AuditDecision]int),
	}

	var (
		closed    int
		latency   time.Duration
		latencies int
	)
	for _, e := range entries {
		stats.ByDecision[e.Decision]++

		switch e.Decision {
		case entity.DecisionApproved, entity.DecisionRejected, entity.DecisionModified, entity.DecisionCancelled:
			closed++
			latency += e.DecisionLatency()
			latencies++
		case entity.DecisionExpired:
			closed++
		case entity.DecisionDenied:
			stats.Violations++
		}

		if e.Outcome != nil {
			stats.Executed++
			if e.Outcome.Success {
				stats.Succeeded++
			}
		}
	}

	if closed > 0 {
		stats.ApprovalRate = float64(stats.ByDecision[entity.DecisionApproved]) / float64(closed)
	}
	if stats.Executed > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Executed)
	}
	if latencies > 0 {
		stats.MeanDecisionLatency = latency / time.Duration(latencies)
	}
	return stats
}
