package pipeline

import (
	"github.com/roach88/hygiene/internal/canon"
	"github.com/roach88/hygiene/internal/diagnostics"
	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/initializer"
	"github.com/roach88/hygiene/internal/recovery"
	"github.com/roach88/hygiene/internal/scaling"
	"github.com/roach88/hygiene/internal/status"
)

// Transition is one entry of a run's history.
//
// Details holds the structured payload produced by the stage, normalized
// to plain JSON values (maps, slices, strings, bools, float64) so that a
// stored history decodes to exactly the value that was recorded. Wall-clock
// values never appear in Details.
type Transition struct {
	Seq     int64          `json:"seq"`
	From    State          `json:"from"`
	To      State          `json:"to"`
	Action  Action         `json:"action"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Warning is a problem recorded during a stage that did not stop the run.
type Warning struct {
	Code    Code   `json:"code"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Run is one pipeline execution. It is mutated only by the driver that
// created it.
type Run struct {
	ID      string       `json:"id"`
	Config  Config       `json:"config"`
	State   State        `json:"state"`
	History []Transition `json:"history"`
	Failure *Error       `json:"failure,omitempty"`

	// Warnings collects non-fatal problems in the order they were met.
	Warnings []Warning `json:"warnings,omitempty"`

	// Stage results, set as stages complete.
	DOF       *dof.Result         `json:"dof,omitempty"`
	Scaling   *scaling.Report     `json:"scaling,omitempty"`
	Plan      *initializer.Plan   `json:"plan,omitempty"`
	Init      *initializer.Result `json:"init,omitempty"`
	PreSolve  *diagnostics.Report `json:"pre_solve,omitempty"`
	Solve     *eqsys.SolveOutcome `json:"solve,omitempty"`
	Recovery  *recovery.Result    `json:"recovery,omitempty"`
	PostSolve *diagnostics.Report `json:"post_solve,omitempty"`
}

// Done reports whether the run reached a terminal state.
func (r *Run) Done() bool { return r.State.Terminal() }

// Succeeded reports whether the run completed.
func (r *Run) Succeeded() bool { return r.State == StateCompleted }

// Last returns the most recent transition.
func (r *Run) Last() (Transition, bool) {
	if len(r.History) == 0 {
		return Transition{}, false
	}
	return r.History[len(r.History)-1], true
}

// States returns the sequence of states visited, starting with IDLE.
func (r *Run) States() []State {
	out := []State{StateIdle}
	for _, t := range r.History {
		out = append(out, t.To)
	}
	return out
}

// Snapshot returns the status snapshot of the run's latest transition.
func (r *Run) Snapshot() status.Snapshot {
	snap := status.Snapshot{
		RunID:   r.ID,
		State:   string(r.State),
		Done:    r.Done(),
		Success: r.Succeeded(),
	}
	if last, ok := r.Last(); ok {
		snap.Message = last.Message
		snap.Seq = last.Seq
	}
	return snap
}

// Digest returns the history digest of the run.
func (r *Run) Digest() (string, error) {
	return HistoryDigest(r.History)
}

// HistoryDigest hashes the canonical JSON form of a history.
func HistoryDigest(history []Transition) (string, error) {
	if history == nil {
		history = []Transition{}
	}
	return canon.Digest(canon.DomainHistory, history)
}
