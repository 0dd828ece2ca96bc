// Package flow resolves condition-guarded branches and turns topological
// layers into execution stages.
package flow

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// ErrMalformedCondition is returned when a condition tree fails validation
var ErrMalformedCondition = errors.New("malformed condition")

// Kind names a condition node type.
type Kind string

const (
	KindTaskStatus    Kind = "task-status"
	KindTaskOutput    Kind = "task-output"
	KindRiskThreshold Kind = "risk-threshold"
	KindUserDecision  Kind = "user-decision"
	KindComposite     Kind = "composite"
)

// Operator combines the children of a composite node.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
	OpNot Operator = "NOT"
)

// Condition is an immutable expression tree. Leaf inputs come from an
// EvalContext, never from the tree itself.
type Condition struct {
	Kind     Kind              `json:"kind" yaml:"kind"`
	TaskID   string            `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Status   entity.TaskStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Pattern  string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MaxRisk  float64           `json:"max_risk,omitempty" yaml:"max_risk,omitempty"`
	Question string            `json:"question,omitempty" yaml:"question,omitempty"`
	Operator Operator          `json:"operator,omitempty" yaml:"operator,omitempty"`
	Children []Condition       `json:"children,omitempty" yaml:"children,omitempty"`
}

// TaskStatusIs holds when the task reaches the given status.
func TaskStatusIs(taskID string, status entity.TaskStatus) Condition {
	return Condition{Kind: KindTaskStatus, TaskID: taskID, Status: status}
}

// OutputMatches holds when the recorded output of the task matches pattern.
func OutputMatches(taskID, pattern string) Condition {
	return Condition{Kind: KindTaskOutput, TaskID: taskID, Pattern: pattern}
}

// RiskAtMost holds when the task risk is at most max.
func RiskAtMost(taskID string, max float64) Condition {
	return Condition{Kind: KindRiskThreshold, TaskID: taskID, MaxRisk: max}
}

// UserDecision holds when the user answered yes to the question.
func UserDecision(question string) Condition {
	return Condition{Kind: KindUserDecision, Question: question}
}

// And combines children with AND.
func And(children ...Condition) Condition {
	return Condition{Kind: KindComposite, Operator: OpAnd, Children: children}
}

// Or combines children with OR.
func Or(children ...Condition) Condition {
	return Condition{Kind: KindComposite, Operator: OpOr, Children: children}
}

// Not negates a condition.
func Not(child Condition) Condition {
	return Condition{Kind: KindComposite, Operator: OpNot, Children: []Condition{child}}
}

// Validate checks the whole tree.
func (c Condition) Validate() error {
	return c.validate("$")
}

func (c Condition) validate(path string) error {
	switch c.Kind {
	case KindTaskStatus:
		if c.TaskID == "" || c.Status == "" {
			return fmt.Errorf("%w: %s: task-status needs task_id and status", ErrMalformedCondition, path)
		}
	case KindTaskOutput:
		if c.TaskID == "" {
			return fmt.Errorf("%w: %s: task-output needs task_id", ErrMalformedCondition, path)
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("%w: %s: bad pattern: %v", ErrMalformedCondition, path, err)
		}
	case KindRiskThreshold:
		if c.TaskID == "" {
			return fmt.Errorf("%w: %s: risk-threshold needs task_id", ErrMalformedCondition, path)
		}
		if c.MaxRisk < 0 || c.MaxRisk > 100 {
			return fmt.Errorf("%w: %s: max_risk %.1f outside 0-100", ErrMalformedCondition, path, c.MaxRisk)
		}
	case KindUserDecision:
		if c.Question == "" {
			return fmt.Errorf("%w: %s: user-decision needs a question", ErrMalformedCondition, path)
		}
	case KindComposite:
		switch c.Operator {
		case OpAnd, OpOr:
			if len(c.Children) == 0 {
				return fmt.Errorf("%w: %s: empty %s", ErrMalformedCondition, path, c.Operator)
			}
		case OpNot:
			if len(c.Children) != 1 {
				return fmt.Errorf("%w: %s: NOT takes exactly one child, got %d", ErrMalformedCondition, path, len(c.Children))
			}
		default:
			return fmt.Errorf("%w: %s: unknown operator %q", ErrMalformedCondition, path, c.Operator)
		}
		for i, child := range c.Children {
			if err := child.validate(fmt.Sprintf("%s.%s[%d]", path, c.Operator, i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrMalformedCondition, path, c.Kind)
	}
	return nil
}

// TaskIDs returns every task id the tree reads.
func (c Condition) TaskIDs() []string {
	set := make(map[string]struct{})
	c.collect(set)
	return entity.SortedIDs(set)
}

func (c Condition) collect(set map[string]struct{}) {
	if c.TaskID != "" {
		set[c.TaskID] = struct{}{}
	}
	for _, child := range c.Children {
		child.collect(set)
	}
}
