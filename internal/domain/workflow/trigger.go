package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

// Task lifecycle triggers.
const (
	TriggerBlock       Trigger = "BLOCK"
	TriggerAwaitSignal Trigger = "AWAIT_SIGNAL"
	TriggerUnblock     Trigger = "UNBLOCK"
	TriggerSignal      Trigger = "SIGNAL"
	TriggerStart       Trigger = "START"
	TriggerComplete    Trigger = "COMPLETE"
	TriggerFail        Trigger = "FAIL"
)

// Approval lifecycle triggers.
const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerModify  Trigger = "MODIFY"
	TriggerExpire  Trigger = "EXPIRE"
	TriggerCancel  Trigger = "CANCEL"
	TriggerRevoke  Trigger = "REVOKE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
