package graph

import (
	"sort"

	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Snapshot is the full exportable state of a graph.
type Snapshot struct {
	Tasks []*entity.Task        `json:"tasks" yaml:"tasks"`
	Waits []dimension.WaitState `json:"waits,omitempty" yaml:"waits,omitempty"`
}

// Export copies the graph state. Importing the result yields the same nodes,
// edges, layers and statuses.
func (e *Engine) Export() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Snapshot{Tasks: make([]*entity.Task, 0, len(e.tasks))}
	for _, id := range e.sortedIDsLocked() {
		s.Tasks = append(s.Tasks, e.tasks[id].Clone())
	}
	s.Waits = e.layers.Time.Waits()
	return s
}

// Import replaces the graph with a snapshot. Statuses are restored as stored.
// Dependents are rebuilt from the dependency lists. A snapshot with duplicate
// ids, dangling edges or a cycle is rejected and the graph is left unchanged.
func (e *Engine) Import(s Snapshot) error {
	tasks := make(map[string]*entity.Task, len(s.Tasks))
	for _, t := range s.Tasks {
		if t == nil || t.ID == "" {
			return graphErrorf(ErrInvalidSnapshot, "task without id")
		}
		if _, dup := tasks[t.ID]; dup {
			return graphErrorf(ErrInvalidSnapshot, "duplicate task %s", t.ID)
		}
		c := t.Clone()
		c.Temporal.Dependents = nil
		if c.Status == "" {
			c.Status = entity.TaskScheduled
		}
		tasks[c.ID] = c
	}

	edges := 0
	for _, t := range tasks {
		deps := append([]string(nil), t.Temporal.Dependencies...)
		sort.Strings(deps)
		t.Temporal.Dependencies = nil
		for _, dep := range deps {
			target, ok := tasks[dep]
			if !ok {
				return graphErrorf(ErrInvalidSnapshot, "%s depends on unknown task %s", t.ID, dep)
			}
			if dep == t.ID {
				return cycleError([]string{t.ID, t.ID})
			}
			before := len(t.Temporal.Dependencies)
			t.Temporal.Dependencies = insertSorted(t.Temporal.Dependencies, dep)
			if len(t.Temporal.Dependencies) > before {
				target.Temporal.Dependents = insertSorted(target.Temporal.Dependents, t.ID)
				edges++
			}
		}
	}
	if cycles := dimension.FindCycles(tasks); len(cycles) > 0 {
		return cycleError(cycles[0])
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tasks = tasks
	e.edges = edges
	e.report = nil
	e.layers.Time.RestoreWaits(s.Waits)
	e.refreshLocked()
	return nil
}
