package flow

import (
	"regexp"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
)

// taskLifecycle decides whether a status a task has not reached yet still can be.
var taskLifecycle = workflow.TaskLifecycle()

// Tri is a three-valued truth value.
type Tri int8

const (
	Unknown Tri = iota
	False
	True
)

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Known reports whether the value is definite.
func (t Tri) Known() bool {
	return t != Unknown
}

// FromBool lifts a bool.
func FromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

// EvalContext carries every input a condition can read. A missing key means
// the input is not available yet.
type EvalContext struct {
	Statuses  map[string]entity.TaskStatus `json:"statuses"`
	Outputs   map[string]string            `json:"outputs"`
	Risks     map[string]float64           `json:"risks"`
	Decisions map[string]bool              `json:"decisions"`
}

// TaskLister is the read-only task view a context is built from.
type TaskLister interface {
	Tasks() []*entity.Task
}

// ContextFrom builds an evaluation context from the current tasks. Outputs are
// only recorded for tasks that finished.
func ContextFrom(src TaskLister, decisions map[string]bool) EvalContext {
	tasks := src.Tasks()
	ctx := EvalContext{
		Statuses:  make(map[string]entity.TaskStatus, len(tasks)),
		Outputs:   make(map[string]string),
		Risks:     make(map[string]float64, len(tasks)),
		Decisions: make(map[string]bool, len(decisions)),
	}
	for _, t := range tasks {
		ctx.Statuses[t.ID] = t.Status
		ctx.Risks[t.ID] = t.Impact.Risk()
		if t.Status.IsTerminal() {
			ctx.Outputs[t.ID] = t.Output
		}
	}
	for q, v := range decisions {
		ctx.Decisions[q] = v
	}
	return ctx
}

// Evaluate computes the tri-state value of a condition. It has no side effects.
// AND is false on any false child, OR is true on any true child; otherwise an
// unknown child makes the result unknown.
func Evaluate(c Condition, ctx EvalContext) Tri {
	switch c.Kind {
	case KindTaskStatus:
		current, ok := ctx.Statuses[c.TaskID]
		if !ok {
			return Unknown
		}
		if current == c.Status {
			return True
		}
		if taskLifecycle.Reachable(workflow.State(current), workflow.State(c.Status)) {
			return Unknown
		}
		return False

	case KindTaskOutput:
		out, ok := ctx.Outputs[c.TaskID]
		if !ok {
			return Unknown
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return Unknown
		}
		return FromBool(re.MatchString(out))

	case KindRiskThreshold:
		risk, ok := ctx.Risks[c.TaskID]
		if !ok {
			return Unknown
		}
		return FromBool(risk <= c.MaxRisk)

	case KindUserDecision:
		v, ok := ctx.Decisions[c.Question]
		if !ok {
			return Unknown
		}
		return FromBool(v)

	case KindComposite:
		switch c.Operator {
		case OpAnd:
			result := True
			for _, child := range c.Children {
				switch Evaluate(child, ctx) {
				case False:
					return False
				case Unknown:
					result = Unknown
				}
			}
			return result
		case OpOr:
			result := False
			for _, child := range c.Children {
				switch Evaluate(child, ctx) {
				case True:
					return True
				case Unknown:
					result = Unknown
				}
			}
			return result
		case OpNot:
			if len(c.Children) != 1 {
				return Unknown
			}
			switch Evaluate(c.Children[0], ctx) {
			case True:
				return False
			case False:
				return True
			}
			return Unknown
		}
	}
	return Unknown
}
