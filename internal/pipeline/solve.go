package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/hygiene/internal/eqsys"
)

// solveWorker runs one solve on its own goroutine and waits for it. The
// solve is shielded from cancellation of ctx so that a model is never left
// half-updated; only SolveTimeout interrupts it.
//
// Adapter errors and panics become a TerminationOther outcome, and a
// timeout becomes TerminationMaxIterations with TimedOut set.
func (d *driver) solveWorker(ctx context.Context, sys eqsys.Solver, opts eqsys.SolveOptions) eqsys.SolveOutcome {
	sctx := context.WithoutCancel(ctx)
	if d.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, d.cfg.SolveTimeout)
		defer cancel()
	}

	type result struct {
		out eqsys.SolveOutcome
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("solver panic: %v", r)}
			}
		}()
		out, err := sys.Solve(sctx, opts)
		done <- result{out: out, err: err}
	}()
	res := <-done
	d.p.metrics.ObserveSolve(time.Since(start))

	out := res.out
	switch {
	case res.err == nil && out.Termination == eqsys.TerminationOptimal:
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		out.Termination = eqsys.TerminationMaxIterations
		out.TimedOut = true
		out.Message = fmt.Sprintf("solve timed out after %s", d.cfg.SolveTimeout)
		d.logger.Warn("solve timed out", "timeout", d.cfg.SolveTimeout)
	case res.err != nil:
		out.Termination = eqsys.TerminationOther
		out.Message = res.err.Error()
		d.logger.Warn("solve failed", "error", res.err)
	}
	return out
}
