package workflow

import (
	"context"
	"fmt"
)

// StateMachine tracks the current state of one entity and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers configured in the current state
	PermittedTriggers() []Trigger
}

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine

	// Freeze returns an immutable transition table that can drive many entities
	Freeze() *Lifecycle
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

// transition represents a state transition with optional guard
type transition struct {
	toState State
	guard   GuardFunc
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	fromState   State
	transitions map[Trigger][]transition
}

// stateMachineBuilder implements StateMachineBuilder
type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

// stateMachine implements StateMachine
type stateMachine struct {
	currentState State
	lifecycle    *Lifecycle
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial state
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	return &stateMachine{
		currentState: initialState,
		lifecycle:    b.Freeze(),
	}
}

// Freeze deep-copies the configured transitions so later Configure calls do not leak in
func (b *stateMachineBuilder) Freeze() *Lifecycle {
	table := make(map[State]map[Trigger][]transition, len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[Trigger][]transition, len(config.transitions))
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition{}, transitions...)
		}
		table[state] = transitionsCopy
	}
	return &Lifecycle{table: table}
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}

// Lifecycle is a frozen transition table. It holds no current state, so one
// instance can validate transitions for every task or request in a plan.
type Lifecycle struct {
	table map[State]map[Trigger][]transition
}

// CanFire returns true if the trigger is configured for the given state
func (l *Lifecycle) CanFire(from State, trigger Trigger) bool {
	return len(l.table[from][trigger]) > 0
}

// Next returns the state reached by firing trigger from the given state
func (l *Lifecycle) Next(ctx context.Context, from State, trigger Trigger) (State, error) {
	transitions, exists := l.table[from]
	if !exists {
		return from, fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, from)
	}

	candidates := transitions[trigger]
	if len(candidates) == 0 {
		return from, fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, from)
	}

	// Try each transition in order until one succeeds
	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			return t.toState, nil
		}
	}

	// All guards failed
	return from, fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, from)
}

// Reachable reports whether to can be reached from from through zero or more
// configured transitions. Guards are not evaluated.
func (l *Lifecycle) Reachable(from, to State) bool {
	seen := map[State]bool{from: true}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, transitions := range l.table[cur] {
			for _, t := range transitions {
				if !seen[t.toState] {
					seen[t.toState] = true
					queue = append(queue, t.toState)
				}
			}
		}
	}
	return false
}

// Triggers returns all triggers configured for the given state
func (l *Lifecycle) Triggers(from State) []Trigger {
	transitions := l.table[from]
	triggers := make([]Trigger, 0, len(transitions))
	for trigger := range transitions {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the trigger is permitted in the current state
func (m *stateMachine) CanFire(trigger Trigger) bool {
	// Guards need a context, so this only reports whether a transition is configured
	return m.lifecycle.CanFire(m.currentState, trigger)
}

// Fire attempts to execute the trigger, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	next, err := m.lifecycle.Next(ctx, m.currentState, trigger)
	if err != nil {
		return err
	}
	m.currentState = next
	return nil
}

// PermittedTriggers returns all triggers that can be fired in the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	return m.lifecycle.Triggers(m.currentState)
}
