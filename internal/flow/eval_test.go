package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Leaves with fixed values: the decision map controls them.
var (
	leafTrue    = UserDecision("yes")
	leafFalse   = UserDecision("no")
	leafUnknown = UserDecision("unanswered")
)

func decisions() EvalContext {
	return EvalContext{Decisions: map[string]bool{"yes": true, "no": false}}
}

func TestEvaluate_TriStateTruthTable(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want Tri
	}{
		{"AND(unknown, false)", And(leafUnknown, leafFalse), False},
		{"AND(false, unknown)", And(leafFalse, leafUnknown), False},
		{"AND(unknown, true)", And(leafUnknown, leafTrue), Unknown},
		{"AND(true, true)", And(leafTrue, leafTrue), True},
		{"OR(unknown, true)", Or(leafUnknown, leafTrue), True},
		{"OR(unknown, false)", Or(leafUnknown, leafFalse), Unknown},
		{"OR(false, false)", Or(leafFalse, leafFalse), False},
		{"NOT(unknown)", Not(leafUnknown), Unknown},
		{"NOT(true)", Not(leafTrue), False},
		{"NOT(false)", Not(leafFalse), True},
		{"nested", Or(And(leafTrue, leafUnknown), Not(leafFalse)), True},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, decisions()))
		})
	}
}

func TestEvaluate_Leaves(t *testing.T) {
	ctx := EvalContext{
		Statuses: map[string]entity.TaskStatus{
			"done":    entity.TaskCompleted,
			"running": entity.TaskExecuting,
			"failed":  entity.TaskFailed,
			"ready":   entity.TaskReady,
			"queued":  entity.TaskScheduled,
		},
		Outputs: map[string]string{"done": "rows=42", "failed": ""},
		Risks:   map[string]float64{"done": 35},
	}

	tests := []struct {
		name string
		cond Condition
		want Tri
	}{
		{"status reached", TaskStatusIs("done", entity.TaskCompleted), True},
		{"terminal status pending", TaskStatusIs("running", entity.TaskCompleted), Unknown},
		{"terminal status missed", TaskStatusIs("failed", entity.TaskCompleted), False},
		{"later status still reachable", TaskStatusIs("ready", entity.TaskExecuting), Unknown},
		{"scheduled may still execute", TaskStatusIs("queued", entity.TaskExecuting), Unknown},
		{"earlier status passed", TaskStatusIs("running", entity.TaskReady), False},
		{"finished task never executes again", TaskStatusIs("done", entity.TaskExecuting), False},
		{"unknown task", TaskStatusIs("ghost", entity.TaskCompleted), Unknown},
		{"output matches", OutputMatches("done", `rows=\d+`), True},
		{"output does not match", OutputMatches("failed", `rows=\d+`), False},
		{"output not recorded", OutputMatches("running", "x"), Unknown},
		{"risk under threshold", RiskAtMost("done", 40), True},
		{"risk equal to threshold", RiskAtMost("done", 35), True},
		{"risk over threshold", RiskAtMost("done", 30), False},
		{"risk unknown", RiskAtMost("running", 30), Unknown},
		{"decision missing", UserDecision("deploy?"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, ctx))
		})
	}
}

type taskList []*entity.Task

func (l taskList) Tasks() []*entity.Task { return l }

func (l taskList) Task(id string) (*entity.Task, bool) {
	for _, t := range l {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func TestContextFrom(t *testing.T) {
	tasks := taskList{
		{ID: "A", Status: entity.TaskCompleted, Output: "ok", Impact: entity.ImpactDescriptor{RiskScore: 20}},
		{ID: "B", Status: entity.TaskReady, Output: "stale"},
	}

	ctx := ContextFrom(tasks, map[string]bool{"go?": true})

	assert.Equal(t, entity.TaskCompleted, ctx.Statuses["A"])
	assert.Equal(t, map[string]string{"A": "ok"}, ctx.Outputs)
	assert.Equal(t, 20.0, ctx.Risks["A"])
	assert.True(t, ctx.Decisions["go?"])
	assert.Equal(t, "unknown", Unknown.String())
	assert.True(t, True.Known())
}
