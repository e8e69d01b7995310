package pipeline

import "slices"

// State is a pipeline state.
type State string

const (
	StateIdle           State = "IDLE"
	StateDOFCheck       State = "DOF_CHECK"
	StateScaling        State = "SCALING"
	StateInitialization State = "INITIALIZATION"
	StatePreSolve       State = "PRE_SOLVE_DIAGNOSTICS"
	StateSolving        State = "SOLVING"
	StatePostSolve      State = "POST_SOLVE_DIAGNOSTICS"
	StateRelaxedSolve   State = "RELAXED_SOLVE"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Action names the work a transition performed.
type Action string

const (
	ActionStart      Action = "start"
	ActionResolveDOF Action = "resolve_dof"
	ActionScale      Action = "scale"
	ActionInitialize Action = "initialize"
	ActionPreSolve   Action = "pre_solve_diagnostics"
	ActionSolve      Action = "solve"
	ActionPostSolve  Action = "post_solve_diagnostics"
	ActionRecover    Action = "recover"
	ActionCancel     Action = "cancel"
)

// transitions lists the allowed successor states. FAILED is reachable from
// every non-terminal state (cancellation and systemic errors). SCALING and
// INITIALIZATION may run in either order depending on scaling_before_init.
var transitions = map[State][]State{
	StateIdle:           {StateDOFCheck, StateFailed},
	StateDOFCheck:       {StateScaling, StateInitialization, StateFailed},
	StateScaling:        {StateInitialization, StatePreSolve, StateFailed},
	StateInitialization: {StatePreSolve, StateScaling, StateFailed},
	StatePreSolve:       {StateSolving, StateFailed},
	StateSolving:        {StatePostSolve, StateRelaxedSolve, StateFailed},
	StatePostSolve:      {StateCompleted, StateRelaxedSolve, StateFailed},
	StateRelaxedSolve:   {StatePostSolve, StateFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
