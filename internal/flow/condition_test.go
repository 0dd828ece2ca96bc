package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"task status", TaskStatusIs("A", entity.TaskCompleted), false},
		{"output regex", OutputMatches("A", `^rows=\d+$`), false},
		{"risk threshold", RiskAtMost("A", 40), false},
		{"user decision", UserDecision("migrate now?"), false},
		{"nested composite", And(Or(UserDecision("q"), RiskAtMost("A", 10)), Not(TaskStatusIs("B", entity.TaskFailed))), false},
		{"unknown kind", Condition{Kind: "weather"}, true},
		{"status without task", Condition{Kind: KindTaskStatus, Status: entity.TaskCompleted}, true},
		{"bad regex", OutputMatches("A", "("), true},
		{"risk out of range", RiskAtMost("A", 120), true},
		{"decision without question", UserDecision(""), true},
		{"empty AND", And(), true},
		{"NOT with two children", Condition{Kind: KindComposite, Operator: OpNot, Children: []Condition{UserDecision("a"), UserDecision("b")}}, true},
		{"unknown operator", Condition{Kind: KindComposite, Operator: "XOR", Children: []Condition{UserDecision("a")}}, true},
		{"malformed child", Or(UserDecision("a"), Condition{Kind: KindTaskOutput}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedCondition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCondition_TaskIDs(t *testing.T) {
	cond := And(TaskStatusIs("B", entity.TaskCompleted), Or(RiskAtMost("A", 10), OutputMatches("B", "ok")))
	assert.Equal(t, []string{"A", "B"}, cond.TaskIDs())
}
