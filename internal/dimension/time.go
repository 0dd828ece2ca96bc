package dimension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
)

var (
	// ErrTaskNotFound is returned when a lifecycle call names an unknown task
	ErrTaskNotFound = errors.New("task not found")

	// ErrSignalMismatch is returned when a signal token does not match the registered wait
	ErrSignalMismatch = errors.New("signal token mismatch")

	// ErrNoWait is returned when a task that does not wait for a signal receives one
	ErrNoWait = errors.New("task is not waiting for a signal")
)

// WaitState binds a task to the signal that releases it.
type WaitState struct {
	TaskID       string        `json:"task_id" yaml:"task_id"`
	Token        string        `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RegisteredAt time.Time     `json:"registered_at" yaml:"registered_at"`
	Received     bool          `json:"received" yaml:"received"`
}

// Deadline returns the time the wait lapses, or the zero time if it never does.
func (w WaitState) Deadline() time.Time {
	if w.Timeout <= 0 {
		return time.Time{}
	}
	return w.RegisteredAt.Add(w.Timeout)
}

// StatusChange records one lifecycle transition.
type StatusChange struct {
	TaskID string            `json:"task_id"`
	From   entity.TaskStatus `json:"from"`
	To     entity.TaskStatus `json:"to"`
	At     time.Time         `json:"at"`
}

// TimeLayer owns the task lifecycle and the wait registry. It holds no lock;
// the graph engine serializes every call.
type TimeLayer struct {
	lifecycle *workflow.Lifecycle
	waits     map[string]*WaitState
	now       func() time.Time
}

// NewTimeLayer creates a time layer using the given clock.
func NewTimeLayer(now func() time.Time) *TimeLayer {
	if now == nil {
		now = time.Now
	}
	return &TimeLayer{
		lifecycle: workflow.TaskLifecycle(),
		waits:     make(map[string]*WaitState),
		now:       now,
	}
}

// Name implements Layer.
func (l *TimeLayer) Name() entity.Dimension {
	return entity.DimensionTemporal
}

// Classify scores temporal pressure from depth and fan-in.
func (l *TimeLayer) Classify(t *entity.Task) Classification {
	score := float64(t.Temporal.Depth)*15 + float64(t.Temporal.FanIn)*10
	var notes []string
	if t.Temporal.WaitForSignal {
		score += 20
		notes = append(notes, "waits for external signal")
	}
	if t.Temporal.FanOut > 2 {
		notes = append(notes, fmt.Sprintf("unblocks %d tasks", t.Temporal.FanOut))
	}
	return Classification{
		TaskID:    t.ID,
		Dimension: entity.DimensionTemporal,
		Status:    string(t.Status),
		Score:     clamp(score),
		Notes:     notes,
	}
}

// Recompute moves a non-running task to the state its dependencies and wait
// dictate. EXECUTING, COMPLETED and FAILED tasks are left untouched.
func (l *TimeLayer) Recompute(tasks map[string]*entity.Task, id string) (StatusChange, bool) {
	t, ok := tasks[id]
	if !ok {
		return StatusChange{}, false
	}
	if t.Status == "" {
		t.Status = entity.TaskScheduled
	}
	if t.Status == entity.TaskExecuting || t.Status.IsTerminal() {
		return StatusChange{}, false
	}

	target := entity.TaskReady
	switch {
	case !l.dependenciesMet(tasks, t):
		target = entity.TaskWaitingDependencies
	case t.Temporal.WaitForSignal && !l.signalled(id):
		target = entity.TaskWaitingSignal
	}
	if target == t.Status {
		return StatusChange{}, false
	}

	trigger := workflow.TriggerUnblock
	switch target {
	case entity.TaskWaitingDependencies:
		trigger = workflow.TriggerBlock
	case entity.TaskWaitingSignal:
		trigger = workflow.TriggerAwaitSignal
	case entity.TaskReady:
		if t.Status == entity.TaskWaitingSignal {
			trigger = workflow.TriggerSignal
		}
	}

	change, err := l.fire(t, trigger)
	if err != nil {
		return StatusChange{}, false
	}
	return change, true
}

// RecomputeAll re-evaluates every task in id order.
func (l *TimeLayer) RecomputeAll(tasks map[string]*entity.Task) []StatusChange {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var changes []StatusChange
	for _, id := range ids {
		if c, ok := l.Recompute(tasks, id); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// Start moves a READY task to EXECUTING. It is never called automatically.
func (l *TimeLayer) Start(tasks map[string]*entity.Task, id string) (StatusChange, error) {
	t, ok := tasks[id]
	if !ok {
		return StatusChange{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	change, err := l.fire(t, workflow.TriggerStart)
	if err != nil {
		return StatusChange{}, err
	}
	started := change.At
	t.Temporal.StartedAt = &started
	return change, nil
}

// Complete marks an executing task completed, records its actual duration and
// re-evaluates its direct dependents.
func (l *TimeLayer) Complete(tasks map[string]*entity.Task, id, output string) ([]StatusChange, error) {
	t, ok := tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	change, err := l.fire(t, workflow.TriggerComplete)
	if err != nil {
		return nil, err
	}

	completed := change.At
	t.Temporal.CompletedAt = &completed
	if t.Temporal.StartedAt != nil {
		t.Temporal.ActualDuration = completed.Sub(*t.Temporal.StartedAt)
	}
	t.Output = output

	changes := []StatusChange{change}
	dependents := append([]string(nil), t.Temporal.Dependents...)
	sort.Strings(dependents)
	for _, dep := range dependents {
		if c, ok := l.Recompute(tasks, dep); ok {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

// Fail marks an executing task failed. Its dependents stay blocked.
func (l *TimeLayer) Fail(tasks map[string]*entity.Task, id, reason string) (StatusChange, error) {
	t, ok := tasks[id]
	if !ok {
		return StatusChange{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	change, err := l.fire(t, workflow.TriggerFail)
	if err != nil {
		return StatusChange{}, err
	}
	completed := change.At
	t.Temporal.CompletedAt = &completed
	if t.Temporal.StartedAt != nil {
		t.Temporal.ActualDuration = completed.Sub(*t.Temporal.StartedAt)
	}
	t.Error = reason
	return change, nil
}

// RegisterWait makes a task wait for a signal. An empty token accepts any signal;
// a zero timeout never lapses.
func (l *TimeLayer) RegisterWait(tasks map[string]*entity.Task, id, token string, timeout time.Duration) (StatusChange, bool, error) {
	t, ok := tasks[id]
	if !ok {
		return StatusChange{}, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status == entity.TaskExecuting || t.Status.IsTerminal() {
		return StatusChange{}, false, fmt.Errorf("%w: cannot wait on %s task %s", workflow.ErrInvalidTransition, t.Status, id)
	}
	t.Temporal.WaitForSignal = true
	l.waits[id] = &WaitState{
		TaskID:       id,
		Token:        token,
		Timeout:      timeout,
		RegisteredAt: l.now(),
	}
	change, changed := l.Recompute(tasks, id)
	return change, changed, nil
}

// Signal delivers a token to a waiting task. A mismatched token is rejected
// without any state change.
func (l *TimeLayer) Signal(tasks map[string]*entity.Task, id, token string) (StatusChange, bool, error) {
	t, ok := tasks[id]
	if !ok {
		return StatusChange{}, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Temporal.WaitForSignal {
		return StatusChange{}, false, fmt.Errorf("%w: %s", ErrNoWait, id)
	}

	w, exists := l.waits[id]
	if exists && w.Token != "" && w.Token != token {
		return StatusChange{}, false, fmt.Errorf("%w: task %s", ErrSignalMismatch, id)
	}
	if !exists {
		w = &WaitState{TaskID: id, Token: token, RegisteredAt: l.now()}
		l.waits[id] = w
	}
	w.Received = true

	change, changed := l.Recompute(tasks, id)
	return change, changed, nil
}

// ExpiredWaits lists unreleased waits whose timeout lapsed. They are reported,
// never resolved.
func (l *TimeLayer) ExpiredWaits(now time.Time) []WaitState {
	var out []WaitState
	for _, w := range l.waits {
		if w.Received || w.Timeout <= 0 {
			continue
		}
		if !now.Before(w.Deadline()) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Waits returns a copy of the wait registry, sorted by task id.
func (l *TimeLayer) Waits() []WaitState {
	out := make([]WaitState, 0, len(l.waits))
	for _, w := range l.waits {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// RestoreWaits replaces the wait registry.
func (l *TimeLayer) RestoreWaits(waits []WaitState) {
	l.waits = make(map[string]*WaitState, len(waits))
	for i := range waits {
		w := waits[i]
		l.waits[w.TaskID] = &w
	}
}

// Forget drops the wait of a removed task.
func (l *TimeLayer) Forget(id string) {
	delete(l.waits, id)
}

// Reset clears the wait registry.
func (l *TimeLayer) Reset() {
	l.waits = make(map[string]*WaitState)
}

// DetectConflicts reports cycles, contradictory same-order dependencies and
// tasks ordered before one of their dependencies.
func (l *TimeLayer) DetectConflicts(tasks []*entity.Task) []*entity.Conflict {
	index := make(map[string]*entity.Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}

	var conflicts []*entity.Conflict
	for _, cycle := range FindCycles(index) {
		conflicts = append(conflicts, entity.NewConflict(
			entity.DimensionTemporal,
			entity.SeverityCritical,
			cycle,
			"circular dependency: "+strings.Join(cycle, " -> ")+" -> "+cycle[0],
			"remove one of the dependency edges in the cycle",
		))
	}

	for _, t := range sortedTasks(tasks) {
		if t.Temporal.ExecutionOrder == 0 {
			continue
		}
		for _, depID := range t.Temporal.Dependencies {
			dep, ok := index[depID]
			if !ok || dep.Temporal.ExecutionOrder == 0 {
				continue
			}
			switch {
			case dep.Temporal.ExecutionOrder == t.Temporal.ExecutionOrder:
				conflicts = append(conflicts, entity.NewConflict(
					entity.DimensionTemporal,
					entity.SeverityMedium,
					[]string{t.ID, depID},
					fmt.Sprintf("contradictory ordering: %s depends on %s at the same execution order %d", t.ID, depID, t.Temporal.ExecutionOrder),
					"give the dependency a lower execution order",
				))
			case dep.Temporal.ExecutionOrder > t.Temporal.ExecutionOrder:
				conflicts = append(conflicts, entity.NewConflict(
					entity.DimensionTemporal,
					entity.SeverityLow,
					[]string{t.ID, depID},
					fmt.Sprintf("inverted ordering: %s (order %d) precedes its dependency %s (order %d)", t.ID, t.Temporal.ExecutionOrder, depID, dep.Temporal.ExecutionOrder),
					"dependency edges take precedence over execution order",
				))
			}
		}
	}
	return conflicts
}

func (l *TimeLayer) fire(t *entity.Task, trigger workflow.Trigger) (StatusChange, error) {
	from := t.Status
	if from == "" {
		from = entity.TaskScheduled
	}
	next, err := l.lifecycle.Next(context.Background(), workflow.State(from), trigger)
	if err != nil {
		return StatusChange{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Status = entity.TaskStatus(next)
	return StatusChange{TaskID: t.ID, From: from, To: t.Status, At: l.now()}, nil
}

func (l *TimeLayer) dependenciesMet(tasks map[string]*entity.Task, t *entity.Task) bool {
	for _, depID := range t.Temporal.Dependencies {
		dep, ok := tasks[depID]
		if !ok || dep.Status != entity.TaskCompleted {
			return false
		}
	}
	return true
}

func (l *TimeLayer) signalled(id string) bool {
	w, ok := l.waits[id]
	return ok && w.Received
}

// FindCycles sweeps the dependency edges of the given tasks with a DFS and a
// visiting set. Each cycle is reported as the path slice from the first
// occurrence of the revisited task to the task that closed it.
func FindCycles(tasks map[string]*entity.Task) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(tasks))
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		path = append(path, id)

		deps := append([]string(nil), tasks[id].Temporal.Dependencies...)
		sort.Strings(deps)
		for _, next := range deps {
			if _, ok := tasks[next]; !ok {
				continue
			}
			switch color[next] {
			case gray:
				for i, p := range path {
					if p == next {
						cycles = append(cycles, append([]string(nil), path[i:]...))
						break
					}
				}
			case white:
				visit(next)
			}
		}

		path = path[:len(path)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}
