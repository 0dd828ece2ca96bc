package approval

import (
	"errors"
	"fmt"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
)

// ErrInvalidState is returned by Import for inconsistent gate state.
var ErrInvalidState = errors.New("invalid gate state")

// State is the serializable content of a gate. The audit log is not part of it.
type State struct {
	Requests        []*entity.ApprovalRequest `json:"requests" yaml:"requests"`
	Violations      []entity.SafetyViolation  `json:"violations,omitempty" yaml:"violations,omitempty"`
	ApprovalEntries map[string]string         `json:"approval_entries,omitempty" yaml:"approval_entries,omitempty"`
}

// Export returns a copy of every request and violation.
func (g *Gate) Export() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := State{
		Requests:        make([]*entity.ApprovalRequest, 0, len(g.order)),
		Violations:      append([]entity.SafetyViolation(nil), g.violations...),
		ApprovalEntries: make(map[string]string, len(g.approvalEntry)),
	}
	for _, id := range g.order {
		s.Requests = append(s.Requests, g.requests[id].Clone())
	}
	for k, v := range g.approvalEntry {
		s.ApprovalEntries[k] = v
	}
	return s
}

// Import replaces the gate content with s. Nothing changes when s is invalid.
// Pending requests are rescheduled for expiry.
func (g *Gate) Import(s State) error {
	requests := make(map[string]*entity.ApprovalRequest, len(s.Requests))
	order := make([]string, 0, len(s.Requests))
	pending := make(map[string]string)
	latest := make(map[string]string)
	var queue expiryQueue

	for _, r := range s.Requests {
		if r == nil || r.ID == "" {
			return fmt.Errorf("%w: request without id", ErrInvalidState)
		}
		if _, dup := requests[r.ID]; dup {
			return fmt.Errorf("%w: duplicate request %s", ErrInvalidState, r.ID)
		}
		if len(r.TaskIDs) == 0 {
			return fmt.Errorf("%w: request %s has no task", ErrInvalidState, r.ID)
		}
		if !workflow.State(r.Status).IsApprovalState() {
			return fmt.Errorf("%w: request %s has status %q", ErrInvalidState, r.ID, r.Status)
		}
		c := r.Clone()
		requests[c.ID] = c
		order = append(order, c.ID)
		for _, taskID := range c.TaskIDs {
			latest[taskID] = c.ID
			if c.Status == entity.ApprovalPending {
				if other, ok := pending[taskID]; ok {
					return fmt.Errorf("%w: task %s has pending requests %s and %s", ErrInvalidState, taskID, other, c.ID)
				}
				pending[taskID] = c.ID
			}
		}
		if c.Status == entity.ApprovalPending {
			queue.schedule(c.ID, c.ExpiresAt)
		}
	}

	entries := make(map[string]string, len(s.ApprovalEntries))
	for reqID, entryID := range s.ApprovalEntries {
		if _, ok := requests[reqID]; !ok {
			return fmt.Errorf("%w: audit link to unknown request %s", ErrInvalidState, reqID)
		}
		entries[reqID] = entryID
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = requests
	g.order = order
	g.pendingByTask = pending
	g.latestByTask = latest
	g.approvalEntry = entries
	g.expiry = queue
	g.violations = append([]entity.SafetyViolation(nil), s.Violations...)
	return nil
}
