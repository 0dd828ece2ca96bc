package flow

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Stage is a set of tasks the executor may run concurrently.
type Stage struct {
	Index   int      `json:"index" yaml:"index"`
	TaskIDs []string `json:"task_ids" yaml:"task_ids"`
}

// ExecutionPlan is the ordered stage list handed to the executor.
type ExecutionPlan struct {
	ID        string    `json:"id" yaml:"id"`
	Stages    []Stage   `json:"stages" yaml:"stages"`
	Excluded  []string  `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// TaskIDs flattens the plan in execution order.
func (p *ExecutionPlan) TaskIDs() []string {
	var out []string
	for _, s := range p.Stages {
		out = append(out, s.TaskIDs...)
	}
	return out
}

// StageOf returns the stage index of a task, or -1.
func (p *ExecutionPlan) StageOf(taskID string) int {
	for _, s := range p.Stages {
		for _, id := range s.TaskIDs {
			if id == taskID {
				return s.Index
			}
		}
	}
	return -1
}

// TaskLookup returns a copy of a task.
type TaskLookup interface {
	Task(id string) (*entity.Task, bool)
}

// Planner turns topological layers into stages.
type Planner struct {
	tasks TaskLookup
	now   func() time.Time
}

// NewPlanner creates a planner reading priorities from tasks.
func NewPlanner(tasks TaskLookup, now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{tasks: tasks, now: now}
}

// Plan orders the layers into stages, pruned by the resolver when given.
// Within a stage tasks are ordered by priority, critical first, then by id.
func (p *Planner) Plan(layers [][]string, resolver *Resolver) *ExecutionPlan {
	kept := layers
	var excluded []string
	if resolver != nil {
		kept, excluded = resolver.Adjust(layers)
	}

	plan := &ExecutionPlan{
		ID:        uuid.New().String(),
		Excluded:  excluded,
		CreatedAt: p.now(),
	}
	for _, layer := range kept {
		ids := append([]string(nil), layer...)
		rank := make(map[string]int, len(ids))
		for _, id := range ids {
			if t, ok := p.tasks.Task(id); ok {
				rank[id] = t.Priority.Rank()
			}
		}
		sort.SliceStable(ids, func(i, j int) bool {
			if rank[ids[i]] != rank[ids[j]] {
				return rank[ids[i]] > rank[ids[j]]
			}
			return ids[i] < ids[j]
		})
		plan.Stages = append(plan.Stages, Stage{Index: len(plan.Stages), TaskIDs: ids})
	}
	return plan
}
