package workflow

import "github.com/garyjia/execution-gate/internal/domain/entity"

// State is a state in either the task lifecycle or the approval lifecycle.
type State string

// Task lifecycle states.
const (
	StateScheduled           = State(entity.TaskScheduled)
	StateWaitingDependencies = State(entity.TaskWaitingDependencies)
	StateWaitingSignal       = State(entity.TaskWaitingSignal)
	StateReady               = State(entity.TaskReady)
	StateExecuting           = State(entity.TaskExecuting)
	StateCompleted           = State(entity.TaskCompleted)
	StateFailed              = State(entity.TaskFailed)
)

// Approval lifecycle states.
const (
	StatePending  = State(entity.ApprovalPending)
	StateApproved = State(entity.ApprovalApproved)
	StateRejected = State(entity.ApprovalRejected)
	StateExpired  = State(entity.ApprovalExpired)
	StateModified = State(entity.ApprovalModified)
	StateRevoked  = State(entity.ApprovalRevoked)
)

var taskStates = map[State]bool{
	StateScheduled:           true,
	StateWaitingDependencies: true,
	StateWaitingSignal:       true,
	StateReady:               true,
	StateExecuting:           true,
	StateCompleted:           true,
	StateFailed:              true,
}

var approvalStates = map[State]bool{
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
	StateExpired:  true,
	StateModified: true,
	StateRevoked:  true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateRejected:  true,
	StateExpired:   true,
	StateModified:  true,
	StateRevoked:   true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to either lifecycle
func (s State) IsValid() bool {
	return taskStates[s] || approvalStates[s]
}

// IsTaskState reports whether the state belongs to the task lifecycle.
func (s State) IsTaskState() bool {
	return taskStates[s]
}

// IsApprovalState reports whether the state belongs to the approval lifecycle.
func (s State) IsApprovalState() bool {
	return approvalStates[s]
}
