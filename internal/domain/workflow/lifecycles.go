package workflow

// TaskLifecycle returns the transition table of the time layer:
// scheduled → waiting-dependencies → waiting-signal → ready → executing → completed|failed.
// Nothing leaves COMPLETED or FAILED.
func TaskLifecycle() *Lifecycle {
	b := NewBuilder()

	b.Configure(StateScheduled).
		Permit(TriggerBlock, StateWaitingDependencies).
		Permit(TriggerAwaitSignal, StateWaitingSignal).
		Permit(TriggerUnblock, StateReady)

	b.Configure(StateWaitingDependencies).
		Permit(TriggerAwaitSignal, StateWaitingSignal).
		Permit(TriggerUnblock, StateReady)

	// A dependency added after the fact pushes a task back to waiting.
	b.Configure(StateWaitingSignal).
		Permit(TriggerSignal, StateReady).
		Permit(TriggerBlock, StateWaitingDependencies)

	// A wait registered late parks a ready task until its signal arrives.
	b.Configure(StateReady).
		Permit(TriggerStart, StateExecuting).
		Permit(TriggerBlock, StateWaitingDependencies).
		Permit(TriggerAwaitSignal, StateWaitingSignal)

	b.Configure(StateExecuting).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerFail, StateFailed)

	return b.Freeze()
}

// ApprovalLifecycle returns the transition table of an approval request.
// Cancellation is an immediate rejection; only an approved request can be revoked.
func ApprovalLifecycle() *Lifecycle {
	b := NewBuilder()

	b.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateRejected).
		Permit(TriggerModify, StateModified).
		Permit(TriggerExpire, StateExpired)

	b.Configure(StateApproved).
		Permit(TriggerRevoke, StateRevoked)

	return b.Freeze()
}
