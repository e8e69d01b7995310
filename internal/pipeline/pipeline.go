// Package pipeline drives an equation system through the hygiene state
// machine: DOF resolution, scaling, initialization, pre-solve diagnostics,
// the solve itself, recovery, and post-solve diagnostics.
//
// A Pipeline is safe for concurrent use; each Run call gets its own driver,
// clock, and history. Every transition is validated against the state
// table, stamped by the run's logical clock, and published to the progress
// callback, the status store, and the metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/hygiene/internal/canon"
	"github.com/roach88/hygiene/internal/diagnostics"
	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/initializer"
	"github.com/roach88/hygiene/internal/metrics"
	"github.com/roach88/hygiene/internal/recovery"
	"github.com/roach88/hygiene/internal/scaling"
	"github.com/roach88/hygiene/internal/status"
)

// ProgressFunc observes each transition as it is recorded. It runs on the
// driver goroutine and must not block.
type ProgressFunc func(runID string, t Transition)

// Pipeline runs equation systems through the state machine.
type Pipeline struct {
	logger   *slog.Logger
	ids      RunIDGenerator
	status   status.Store
	metrics  *metrics.Metrics
	clock    func() Clock
	progress ProgressFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRunIDs replaces the UUIDv7 run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithStatusStore sets where per-transition snapshots are written.
func WithStatusStore(s status.Store) Option {
	return func(p *Pipeline) { p.status = s }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock sets the factory for per-run clocks.
func WithClock(fn func() Clock) Option {
	return func(p *Pipeline) { p.clock = fn }
}

// WithProgress registers a transition observer.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// New creates a Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		status: status.NewMemory(),
		clock:  NewClock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Status returns the latest snapshot of a run.
func (p *Pipeline) Status(ctx context.Context, runID string) (status.Snapshot, error) {
	return p.status.Get(ctx, runID)
}

// Run executes one pipeline run over sys under a generated id.
//
// A run that ends in FAILED for a domain reason (underspecified system,
// solve failure, exhausted recovery) is returned with a nil error; inspect
// Run.Failure. Systemic failures (no system, adapter errors, cancellation)
// return the run together with an *Error. An invalid cfg returns a nil run.
func (p *Pipeline) Run(ctx context.Context, sys eqsys.System, cfg Config) (*Run, error) {
	return p.RunWithID(ctx, p.ids.Generate(), sys, cfg)
}

// RunWithID is Run with a caller-chosen id.
func (p *Pipeline) RunWithID(ctx context.Context, id string, sys eqsys.System, cfg Config) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts, _ := cfg.SolveOptions()

	logger := p.logger.With("run_id", id)
	d := &driver{
		p:      p,
		sys:    sys,
		cfg:    cfg,
		opts:   opts,
		clock:  p.clock(),
		logger: logger,
		collector: diagnostics.New(
			diagnostics.WithTolerance(cfg.ResidualTolerance),
			diagnostics.WithMaxViolations(cfg.MaxBoundViolations),
			diagnostics.WithLogger(logger),
		),
		run: &Run{ID: id, Config: cfg, State: StateIdle, History: []Transition{}},
	}
	err := d.execute(ctx)
	return d.run, err
}

// stage does the work of the current state, records the outgoing
// transition, and returns the stage for the new state (nil once terminal).
type stage func(ctx context.Context) (stage, error)

// driver owns one run. Nothing in it is shared.
type driver struct {
	p         *Pipeline
	sys       eqsys.System
	cfg       Config
	opts      eqsys.SolveOptions
	clock     Clock
	logger    *slog.Logger
	collector *diagnostics.Collector
	run       *Run

	// bg outlives cancellation of the caller's context so that the
	// terminal snapshot is still written.
	bg context.Context

	scaled      bool
	initialized bool
	recovered   bool
}

func (d *driver) execute(ctx context.Context) error {
	d.bg = context.WithoutCancel(ctx)
	d.logger.Info("run started")

	if d.sys == nil {
		return d.fail(ActionStart, CodeNoSystem, "no equation system supplied", nil)
	}
	if err := ctx.Err(); err != nil {
		return d.cancel(err)
	}
	d.step(StateDOFCheck, ActionStart, true, "run started", nil)

	next := stage(d.resolveDOF)
	for next != nil {
		if err := ctx.Err(); err != nil {
			return d.cancel(err)
		}
		var err error
		if next, err = next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) resolveDOF(ctx context.Context) (stage, error) {
	res, err := dof.New(dof.WithLogger(d.logger)).Resolve(ctx, d.sys, d.cfg.Defaults)
	if err != nil {
		return d.abort(ctx, ActionResolveDOF, CodeDOFCheckError, err)
	}
	d.run.DOF = res

	var warnings []Warning
	for _, f := range res.Errors {
		warnings = append(warnings, Warning{
			Code:    CodePathNotFound,
			Subject: eqsys.Join(f.Unit, f.Variable),
			Message: f.Error,
		})
	}
	d.warn(warnings...)
	details := map[string]any{"dof": res, "warnings": warnings}

	switch res.Status {
	case dof.StatusUnderspecified:
		msg := fmt.Sprintf("system has %d degrees of freedom after defaults; underspecified: %s",
			res.Total, strings.Join(res.UnitsWith(dof.StatusUnderspecified), ", "))
		return nil, d.fail(ActionResolveDOF, CodeUnderspecified, msg, details)
	case dof.StatusOverspecified:
		msg := fmt.Sprintf("system has %d degrees of freedom; overspecified: %s",
			res.Total, strings.Join(res.UnitsWith(dof.StatusOverspecified), ", "))
		return nil, d.fail(ActionResolveDOF, CodeOverspecified, msg, details)
	}

	msg := fmt.Sprintf("resolved degrees of freedom with %d fixes", len(res.Fixes))
	if d.cfg.ScalingBeforeInit {
		d.step(StateScaling, ActionResolveDOF, true, msg, details)
		return d.scale, nil
	}
	d.step(StateInitialization, ActionResolveDOF, true, msg, details)
	return d.initialize, nil
}

func (d *driver) scale(ctx context.Context) (stage, error) {
	sc := scaling.New(d.sys, scaling.WithThreshold(d.cfg.ScalingThreshold), scaling.WithLogger(d.logger))

	var warnings []Warning
	for _, f := range d.cfg.ScalingFactors {
		if err := sc.SetFactor(f.Path, f.Factor); err != nil {
			if !eqsys.IsPathNotFound(err) {
				return d.abort(ctx, ActionScale, CodeSystemError, err)
			}
			warnings = append(warnings, Warning{Code: CodePathNotFound, Subject: f.Path, Message: err.Error()})
		}
	}
	d.warn(warnings...)

	if err := sc.ComputeFactors(); err != nil {
		return d.abort(ctx, ActionScale, CodeSystemError, err)
	}
	rep, err := sc.ReportIssues()
	if err != nil {
		return d.abort(ctx, ActionScale, CodeSystemError, err)
	}
	d.run.Scaling = rep
	d.scaled = true

	details := map[string]any{"scaling": rep, "manual": sc.Manual(), "warnings": warnings}
	msg := fmt.Sprintf("computed scaling factors; %d issues", rep.Total())
	if d.initialized {
		d.step(StatePreSolve, ActionScale, true, msg, details)
		return d.preSolve, nil
	}
	d.step(StateInitialization, ActionScale, true, msg, details)
	return d.initialize, nil
}

func (d *driver) initialize(ctx context.Context) (stage, error) {
	plan, err := initializer.PlanOrder(d.sys, d.cfg.TearStreams, d.cfg.MaxTears)
	if err != nil {
		var ce *initializer.CycleError
		if errors.As(err, &ce) {
			return nil, d.fail(ActionInitialize, CodeUnresolvableCycle, ce.Error(), map[string]any{
				"units":     ce.Units,
				"tears":     ce.Tears,
				"max_tears": ce.MaxTears,
			})
		}
		return d.abort(ctx, ActionInitialize, CodeSystemError, err)
	}
	d.run.Plan = plan

	res, err := initializer.New(initializer.WithLogger(d.logger)).Initialize(ctx, d.sys, plan, d.cfg.StateArgs)
	if err != nil {
		return d.abort(ctx, ActionInitialize, CodeSystemError, err)
	}
	d.run.Init = res
	d.initialized = true

	details := map[string]any{"plan": plan, "init": res}
	if unreachable := res.With(initializer.StatusUnreachable); len(unreachable) > 0 {
		msg := fmt.Sprintf("no inlet state reaches %s; supply state_args or a tear stream",
			strings.Join(unreachable, ", "))
		return nil, d.fail(ActionInitialize, CodeUnreachableInlet, msg, details)
	}

	var warnings []Warning
	for _, u := range res.Units {
		if u.Status == initializer.StatusFailed {
			warnings = append(warnings, Warning{Code: CodeInitializationFailed, Subject: u.Unit, Message: u.Message})
		}
	}
	d.warn(warnings...)
	details["warnings"] = warnings

	msg := fmt.Sprintf("initialized %d of %d units in %d passes",
		len(res.With(initializer.StatusInitialized)), len(res.Units), res.Passes)
	if !d.scaled {
		d.step(StateScaling, ActionInitialize, true, msg, details)
		return d.scale, nil
	}
	d.step(StatePreSolve, ActionInitialize, true, msg, details)
	return d.preSolve, nil
}

func (d *driver) preSolve(ctx context.Context) (stage, error) {
	rep, err := d.collector.PreSolve(ctx, d.sys)
	if err != nil {
		return d.abort(ctx, ActionPreSolve, CodeSystemError, err)
	}
	d.run.PreSolve = rep
	details := map[string]any{"report": rep}

	switch rep.DOF.Status {
	case dof.StatusUnderspecified:
		return nil, d.fail(ActionPreSolve, CodeUnderspecified,
			fmt.Sprintf("system has %d degrees of freedom before solve", rep.DOF.Total), details)
	case dof.StatusOverspecified:
		return nil, d.fail(ActionPreSolve, CodeOverspecified,
			fmt.Sprintf("system has %d degrees of freedom before solve", rep.DOF.Total), details)
	}

	d.step(StateSolving, ActionPreSolve, true, fmt.Sprintf("pre-solve diagnostics found %d issues", rep.Issues()), details)
	return d.solve, nil
}

func (d *driver) solve(ctx context.Context) (stage, error) {
	out := d.solveWorker(ctx, d.sys, d.opts)
	d.run.Solve = &out
	details := map[string]any{"outcome": out}
	msg := fmt.Sprintf("solver terminated %s after %d iterations", out.Termination, out.Iterations)

	if out.Termination == eqsys.TerminationOptimal {
		d.step(StatePostSolve, ActionSolve, true, msg, details)
		return d.postSolve, nil
	}
	if d.cfg.EnableRelaxedSolve {
		d.step(StateRelaxedSolve, ActionSolve, false, msg, details)
		return d.relax, nil
	}

	rep, err := d.collector.PostSolve(ctx, d.sys, out)
	if err != nil {
		return d.abort(ctx, ActionSolve, CodeSystemError, err)
	}
	d.run.PostSolve = rep
	details["report"] = rep
	return nil, d.fail(ActionSolve, CodeSolveFailed, msg, details)
}

// relax runs at most once per run.
func (d *driver) relax(ctx context.Context) (stage, error) {
	d.recovered = true
	ex := recovery.New(
		recovery.WithPlan(d.run.Plan),
		recovery.WithRelaxFraction(d.cfg.BoundRelaxFraction),
		recovery.WithTolerance(d.cfg.ResidualTolerance),
		recovery.WithSolver(d.solveWorker),
		recovery.WithConverged(d.converged),
		recovery.WithSolveOptions(d.opts),
		recovery.WithLogger(d.logger),
	)
	res, err := ex.Attempt(ctx, d.sys, d.run.Solve.Termination, d.cfg.MaxRecoveryAttempts)
	if err != nil {
		return d.abort(ctx, ActionRecover, CodeSystemError, err)
	}
	d.run.Recovery = res
	for _, a := range res.Attempts {
		d.p.metrics.RecoveryAttempt(string(a.Strategy), a.Success)
	}
	if res.Outcome != nil {
		d.run.Solve = res.Outcome
	}

	details := map[string]any{"recovery": res}
	if res.Success {
		d.step(StatePostSolve, ActionRecover, true, res.Message, details)
		return d.postSolve, nil
	}

	rep, err := d.collector.PostSolve(ctx, d.sys, *d.run.Solve)
	if err != nil {
		return d.abort(ctx, ActionRecover, CodeSystemError, err)
	}
	d.run.PostSolve = rep
	details["report"] = rep
	return nil, d.fail(ActionRecover, CodeRecoveryExhausted, res.Message, details)
}

// converged applies the post-solve diagnostics check to a recovery re-solve,
// so recovery stops only on outcomes postSolve will accept.
func (d *driver) converged(ctx context.Context, sys recovery.System, out eqsys.SolveOutcome) (bool, error) {
	rep, err := d.collector.PostSolve(ctx, d.sys, out)
	if err != nil {
		return false, err
	}
	return rep.Converged(), nil
}

func (d *driver) postSolve(ctx context.Context) (stage, error) {
	rep, err := d.collector.PostSolve(ctx, d.sys, *d.run.Solve)
	if err != nil {
		return d.abort(ctx, ActionPostSolve, CodeSystemError, err)
	}
	d.run.PostSolve = rep
	details := map[string]any{"report": rep}

	if rep.Converged() {
		msg := "converged"
		if d.run.Recovery != nil {
			details["actions"] = d.run.Recovery.Log
			msg = fmt.Sprintf("converged after %d recovery attempts", len(d.run.Recovery.Log))
		}
		d.step(StateCompleted, ActionPostSolve, true, msg, details)
		return nil, nil
	}

	msg := fmt.Sprintf("%d bound violations and %d residuals above %g remain",
		rep.TotalBoundViolations, rep.TotalResiduals, rep.Tolerance)
	if d.cfg.EnableRelaxedSolve && !d.recovered {
		d.step(StateRelaxedSolve, ActionPostSolve, false, msg, details)
		return d.relax, nil
	}
	code := CodeSolveFailed
	if d.recovered {
		code = CodeRecoveryExhausted
	}
	return nil, d.fail(ActionPostSolve, code, msg, details)
}

// abort fails the run after a stage error. Errors caused by the caller's
// context ending are reported as cancellation.
func (d *driver) abort(ctx context.Context, action Action, code Code, err error) (stage, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, d.cancel(ctxErr)
	}
	return nil, d.fail(action, code, err.Error(), nil)
}

func (d *driver) cancel(cause error) error {
	return d.fail(ActionCancel, CodeCancelled, "run cancelled: "+cause.Error(), nil)
}

// fail moves the run to FAILED. The *Error is returned only for systemic
// codes; domain failures are recorded on the run alone.
func (d *driver) fail(action Action, code Code, msg string, details map[string]any) error {
	e := &Error{Code: code, State: d.run.State, Message: msg}
	d.run.Failure = e
	if details == nil {
		details = map[string]any{}
	}
	details["code"] = code
	d.step(StateFailed, action, false, msg, details)
	if e.Systemic() {
		return e
	}
	return nil
}

func (d *driver) warn(ws ...Warning) {
	for _, w := range ws {
		d.logger.Warn(w.Message, "code", w.Code, "subject", w.Subject)
	}
	d.run.Warnings = append(d.run.Warnings, ws...)
}

// step records from -> to. An edge missing from the state table is a bug
// in the driver, not a runtime condition.
func (d *driver) step(to State, action Action, success bool, msg string, details map[string]any) {
	from := d.run.State
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", from, to))
	}

	t := Transition{
		Seq:     d.clock.Next(),
		From:    from,
		To:      to,
		Action:  action,
		Success: success,
		Message: msg,
		Details: d.normalize(details),
	}
	d.run.History = append(d.run.History, t)
	d.run.State = to

	d.logger.Info("transition",
		"state", to,
		"from", from,
		"action", action,
		"success", success,
		"seq", t.Seq)

	if d.p.progress != nil {
		d.p.progress(d.run.ID, t)
	}
	snap := status.Snapshot{
		RunID:   d.run.ID,
		State:   string(to),
		Message: msg,
		Seq:     t.Seq,
		Done:    to.Terminal(),
		Success: to == StateCompleted,
	}
	if err := d.p.status.Put(d.bg, snap); err != nil {
		d.logger.Error("status update failed", "state", to, "error", err)
	}

	d.p.metrics.Transition(string(from), string(to), success)
	if to.Terminal() {
		d.p.metrics.RunFinished(string(to))
		d.logger.Info("run finished", "state", to, "transitions", len(d.run.History))
	}
}

// normalize converts details to plain JSON values so the recorded history
// equals its decoded form. Empty warning lists are dropped.
func (d *driver) normalize(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	if ws, ok := details["warnings"].([]Warning); ok && len(ws) == 0 {
		delete(details, "warnings")
	}
	v, err := canon.Normalize(details)
	if err != nil {
		d.logger.Error("details not serializable", "error", err)
		return map[string]any{"error": err.Error()}
	}
	m, _ := v.(map[string]any)
	return m
}
