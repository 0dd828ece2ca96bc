package flow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDuplicateBranch is returned when a branch id is registered twice
	ErrDuplicateBranch = errors.New("duplicate branch")

	// ErrInvalidBranch is returned for a branch without id or tasks
	ErrInvalidBranch = errors.New("invalid branch")
)

// BranchState is pending until the condition resolves, then fixed forever.
type BranchState string

const (
	BranchPending  BranchState = "pending"
	BranchActive   BranchState = "active"
	BranchInactive BranchState = "inactive"
)

// Branch is a condition-guarded subset of the plan.
type Branch struct {
	ID         string      `json:"id" yaml:"id"`
	Condition  Condition   `json:"condition" yaml:"condition"`
	TaskIDs    []string    `json:"task_ids" yaml:"task_ids"`
	State      BranchState `json:"state" yaml:"state,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// Resolver tracks the branches of one plan.
type Resolver struct {
	mu       sync.RWMutex
	branches map[string]*Branch
	order    []string
	now      func() time.Time
	logger   *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock sets the clock used for resolution timestamps.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates an empty resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		branches: make(map[string]*Branch),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddBranch registers a pending branch after validating its condition.
func (r *Resolver) AddBranch(b Branch) error {
	if b.ID == "" || len(b.TaskIDs) == 0 {
		return fmt.Errorf("%w: branch needs an id and at least one task", ErrInvalidBranch)
	}
	if err := b.Condition.Validate(); err != nil {
		return fmt.Errorf("branch %s: %w", b.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.branches[b.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBranch, b.ID)
	}
	stored := b
	stored.TaskIDs = append([]string(nil), b.TaskIDs...)
	stored.State = BranchPending
	stored.ResolvedAt = nil
	r.branches[b.ID] = &stored
	r.order = append(r.order, b.ID)
	return nil
}

// Resolve evaluates every pending branch once against ctx and returns the
// branches that resolved in this call. Resolved branches are never re-evaluated.
func (r *Resolver) Resolve(ctx EvalContext) []Branch {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resolved []Branch
	for _, id := range r.order {
		b := r.branches[id]
		if b.State != BranchPending {
			continue
		}
		switch Evaluate(b.Condition, ctx) {
		case True:
			b.State = BranchActive
		case False:
			b.State = BranchInactive
		default:
			continue
		}
		at := r.now()
		b.ResolvedAt = &at
		resolved = append(resolved, copyBranch(b))
		r.logger.Info("Branch resolved", zap.String("branch_id", id), zap.String("state", string(b.State)))
	}
	return resolved
}

// Branches returns copies of every branch in registration order.
func (r *Resolver) Branches() []Branch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Branch, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyBranch(r.branches[id]))
	}
	return out
}

// Pending reports how many branches are still unresolved.
func (r *Resolver) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, b := range r.branches {
		if b.State == BranchPending {
			n++
		}
	}
	return n
}

// Adjust prunes stages: tasks in any inactive branch are dropped, and tasks
// that belong to branches are kept only if at least one of them is active.
// Tasks outside every branch are unconditional. Empty stages are dropped.
func (r *Resolver) Adjust(stages [][]string) ([][]string, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inactive := make(map[string]bool)
	active := make(map[string]bool)
	branched := make(map[string]bool)
	for _, b := range r.branches {
		for _, id := range b.TaskIDs {
			branched[id] = true
			switch b.State {
			case BranchActive:
				active[id] = true
			case BranchInactive:
				inactive[id] = true
			}
		}
	}

	var kept [][]string
	var excluded []string
	for _, stage := range stages {
		var keep []string
		for _, id := range stage {
			if inactive[id] || (branched[id] && !active[id]) {
				excluded = append(excluded, id)
				continue
			}
			keep = append(keep, id)
		}
		if len(keep) > 0 {
			kept = append(kept, keep)
		}
	}
	sort.Strings(excluded)
	return kept, excluded
}

func copyBranch(b *Branch) Branch {
	c := *b
	c.TaskIDs = append([]string(nil), b.TaskIDs...)
	if b.ResolvedAt != nil {
		at := *b.ResolvedAt
		c.ResolvedAt = &at
	}
	return c
}
