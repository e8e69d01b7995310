// Package initializer orders units for sequential initialization, tears
// recycle streams, and walks the order propagating outlet state
// downstream.
//
// Ordering and tear selection are pure graph algorithms over unit and
// stream indices (see PlanOrder). Initialization itself talks to the
// equation system only through eqsys.Initialization.
package initializer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hygiene/internal/eqsys"
)

// System is the part of the equation system the initializer needs.
type System interface {
	eqsys.Topology
	eqsys.Initialization
}

// Status is the per-unit initialization status.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusFailed      Status = "failed"
	StatusUnreachable Status = "unreachable"
)

// UnitResult is the outcome for one unit. Failed units keep their DOF and
// solver outcome; they do not stop the walk.
type UnitResult struct {
	Unit        string            `json:"unit"`
	Status      Status            `json:"status"`
	Pass        int               `json:"pass"`
	DOF         int               `json:"dof"`
	Termination eqsys.Termination `json:"termination,omitempty"`
	Iterations  int               `json:"iterations"`
	Message     string            `json:"message,omitempty"`
}

// Result is the outcome of Initialize.
type Result struct {
	Units  []UnitResult `json:"units"`
	Passes int          `json:"passes"`
}

// With returns the names of units with the given status, in walk order.
func (r *Result) With(s Status) []string {
	var out []string
	for _, u := range r.Units {
		if u.Status == s {
			out = append(out, u.Unit)
		}
	}
	return out
}

// Initializer walks a Plan.
type Initializer struct {
	logger *slog.Logger
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Initializer) { in.logger = l }
}

// New creates an Initializer.
func New(opts ...Option) *Initializer {
	in := &Initializer{logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// walk holds the state of one Initialize call.
type walk struct {
	sys  System
	g    *graph
	plan *Plan
	args map[string]eqsys.StateArgs
	done map[string]bool
}

// Initialize visits plan.Order. A unit is ready when every inlet has
// state:
//   - an unconnected inlet needs caller state args or a fully fixed port;
//   - a torn inlet uses caller state args, else the source outlet's current
//     state as its assumed value;
//   - any other inlet needs its upstream unit to have been visited, even if
//     that unit failed.
//
// Units that are not ready are deferred to the next pass. A pass that
// makes no progress marks the remaining units unreachable. After each
// unit, its outlet state is propagated onto downstream inlets, except
// across torn streams.
func (in *Initializer) Initialize(ctx context.Context, sys System, plan *Plan, args map[string]eqsys.StateArgs) (*Result, error) {
	g, err := newGraph(sys)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	w := &walk{sys: sys, g: g, plan: plan, args: args, done: make(map[string]bool)}

	res := &Result{Units: []UnitResult{}}
	pending := plan.Order
	for len(pending) > 0 {
		res.Passes++
		var deferred []string
		for _, name := range pending {
			state, ready, err := w.inletState(name)
			if err != nil {
				return nil, fmt.Errorf("initialize %s: %w", name, err)
			}
			if !ready {
				in.logger.DebugContext(ctx, "deferring unit", "unit", name, "pass", res.Passes)
				deferred = append(deferred, name)
				continue
			}
			ur, err := in.initUnit(ctx, w, name, state, res.Passes)
			if err != nil {
				return nil, err
			}
			res.Units = append(res.Units, ur)
		}

		if len(deferred) == len(pending) {
			for _, name := range deferred {
				res.Units = append(res.Units, UnitResult{
					Unit:    name,
					Status:  StatusUnreachable,
					Pass:    res.Passes,
					Message: "inlet never received state",
				})
				in.logger.WarnContext(ctx, "unreachable inlet", "unit", name)
			}
			break
		}
		pending = deferred
	}
	return res, nil
}

// Reinitialize re-runs the named units in plan order, taking inlet state
// from whatever the upstream outlets currently hold. It is used by partial
// re-initialization during recovery.
func (in *Initializer) Reinitialize(ctx context.Context, sys System, plan *Plan, names []string) ([]UnitResult, error) {
	g, err := newGraph(sys)
	if err != nil {
		return nil, fmt.Errorf("reinitialize: %w", err)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	w := &walk{sys: sys, g: g, plan: plan, done: make(map[string]bool)}
	for _, u := range g.units {
		w.done[u.Name] = true
	}

	var out []UnitResult
	for _, name := range plan.Order {
		if !want[name] {
			continue
		}
		state, _, err := w.inletState(name)
		if err != nil {
			return nil, fmt.Errorf("reinitialize %s: %w", name, err)
		}
		ur, err := in.initUnit(ctx, w, name, state, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, nil
}

func (in *Initializer) initUnit(ctx context.Context, w *walk, name string, state eqsys.StateArgs, pass int) (UnitResult, error) {
	ur := UnitResult{Unit: name, Pass: pass}
	out, err := w.sys.InitializeUnit(ctx, name, state)
	w.done[name] = true
	switch {
	case err != nil:
		ur.Status = StatusFailed
		ur.Termination = eqsys.TerminationOther
		ur.Message = err.Error()
	case out.Termination != eqsys.TerminationOptimal:
		ur.Status = StatusFailed
		ur.DOF, ur.Termination, ur.Iterations, ur.Message = out.DOF, out.Termination, out.Iterations, out.Message
	default:
		ur.Status = StatusInitialized
		ur.DOF, ur.Termination, ur.Iterations = out.DOF, out.Termination, out.Iterations
	}
	if ur.Status == StatusFailed {
		in.logger.WarnContext(ctx, "unit initialization failed", "unit", name, "termination", ur.Termination, "message", ur.Message)
	} else {
		in.logger.DebugContext(ctx, "unit initialized", "unit", name, "iterations", ur.Iterations)
	}

	if err := w.propagate(name); err != nil {
		return UnitResult{}, fmt.Errorf("propagate %s: %w", name, err)
	}
	return ur, nil
}

// inletState assembles state args for a unit and reports whether every
// inlet has state.
func (w *walk) inletState(name string) (eqsys.StateArgs, bool, error) {
	u := w.g.units[w.g.index[name]]
	state := eqsys.StateArgs{}
	given := w.args[name]

	for _, port := range u.Inlets {
		p := eqsys.Port{Unit: name, Port: port}
		e, connected := w.g.feeds[p]

		switch {
		case !connected:
			if sv, ok := given[port]; ok {
				state[port] = sv
				continue
			}
			fixed, err := w.sys.PortFixed(name, port)
			if err != nil {
				return nil, false, err
			}
			if !fixed {
				return nil, false, nil
			}

		case w.plan.Torn(w.g.edges[e].name):
			if sv, ok := given[port]; ok {
				state[port] = sv
				continue
			}
			from := w.g.edges[e].stream.From
			sv, err := w.sys.PortState(from.Unit, from.Port)
			if err != nil {
				return nil, false, err
			}
			state[port] = sv

		default:
			from := w.g.edges[e].stream.From
			if !w.done[from.Unit] {
				return nil, false, nil
			}
			sv, err := w.sys.PortState(from.Unit, from.Port)
			if err != nil {
				return nil, false, err
			}
			state[port] = sv
		}
	}
	return state, true, nil
}

// propagate copies each outlet's state onto the downstream inlet unless
// the stream is torn.
func (w *walk) propagate(name string) error {
	for _, e := range w.g.out[w.g.index[name]] {
		ed := w.g.edges[e]
		if w.plan.Torn(ed.name) {
			continue
		}
		sv, err := w.sys.PortState(ed.stream.From.Unit, ed.stream.From.Port)
		if err != nil {
			return err
		}
		if _, err := w.sys.PropagateState(ed.stream.To.Unit, ed.stream.To.Port, sv); err != nil {
			return err
		}
	}
	return nil
}
