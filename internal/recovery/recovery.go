// Package recovery repairs a failed solve with a bounded sequence of
// strategies, re-solving after each one.
//
// Strategies are tried in priority order and rotate when the attempt budget
// exceeds their number:
//
//	bound_relaxation -> scaling_adjustment -> partial_reinitialization
//
// A strategy that finds nothing to act on is skipped without consuming an
// attempt. Every applied strategy is recorded in the attempt log, which is
// returned on success and failure alike.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/roach88/hygiene/internal/diagnostics"
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/initializer"
)

// Strategy names a repair strategy.
type Strategy string

const (
	StrategyBoundRelaxation   Strategy = "bound_relaxation"
	StrategyScalingAdjustment Strategy = "scaling_adjustment"
	StrategyPartialReinit     Strategy = "partial_reinitialization"
)

// Strategies lists the strategies in priority order.
var Strategies = []Strategy{
	StrategyBoundRelaxation,
	StrategyScalingAdjustment,
	StrategyPartialReinit,
}

// Defaults for an Executor.
const (
	DefaultMaxAttempts   = 3
	DefaultRelaxFraction = 0.2

	// ActiveBoundDistance is the relative distance to a bound below which a
	// variable counts as pinned against it.
	ActiveBoundDistance = 1e-2

	// residualTargets is how many of the worst constraints the scaling and
	// re-initialization strategies look at.
	residualTargets = 3
)

// ErrNoSystem is returned when Attempt is called without a system.
var ErrNoSystem = errors.New("recovery: no equation system")

// System is the part of the equation system recovery mutates and queries.
type System interface {
	eqsys.Topology
	eqsys.Fixer
	eqsys.Scaling
	eqsys.Initialization
	eqsys.Solver
	eqsys.Inspector
}

// SolveFunc runs one solve. Solver failures are part of the outcome, not
// errors. The pipeline substitutes its own worker so that re-solves get the
// same timeout handling as the first solve.
type SolveFunc func(ctx context.Context, sys eqsys.Solver, opts eqsys.SolveOptions) eqsys.SolveOutcome

// ConvergedFunc decides whether a re-solve recovered the system.
type ConvergedFunc func(ctx context.Context, sys System, out eqsys.SolveOutcome) (bool, error)

// Attempt is one applied strategy and the re-solve that followed it.
// Actions holds the individual mutations; Result.Log summarises them.
type Attempt struct {
	Number      int               `json:"number"`
	Strategy    Strategy          `json:"strategy"`
	Actions     []string          `json:"actions"`
	Termination eqsys.Termination `json:"termination"`
	Success     bool              `json:"success"`
}

// Result is the outcome of Attempt.
type Result struct {
	Success bool `json:"success"`

	// Strategy is the strategy that led to success.
	Strategy Strategy `json:"strategy,omitempty"`

	// Trigger is the termination that started recovery.
	Trigger eqsys.Termination `json:"trigger"`

	Attempts []Attempt           `json:"attempts"`
	Skipped  []Strategy          `json:"skipped,omitempty"`
	Outcome  *eqsys.SolveOutcome `json:"outcome,omitempty"`
	Message  string              `json:"message"`

	// Log has one entry per attempt, "Attempt N: <strategy>: <actions>".
	Log []string `json:"log"`
}

// Executor applies recovery strategies.
type Executor struct {
	fraction  float64
	tolerance float64
	plan      *initializer.Plan
	init      *initializer.Initializer
	solve     SolveFunc
	converged ConvergedFunc
	opts      eqsys.SolveOptions
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRelaxFraction sets how far bound relaxation widens a bound, as a
// fraction of the bound span. Values outside (0, 10] are ignored.
func WithRelaxFraction(f float64) Option {
	return func(e *Executor) {
		if f > 0 && f <= 10 {
			e.fraction = f
		}
	}
}

// WithTolerance sets the residual tolerance used to pick target constraints.
func WithTolerance(tol float64) Option {
	return func(e *Executor) {
		if tol > 0 {
			e.tolerance = tol
		}
	}
}

// WithPlan supplies the initialization plan. Without one, partial
// re-initialization is never applicable.
func WithPlan(p *initializer.Plan) Option {
	return func(e *Executor) { e.plan = p }
}

// WithInitializer sets the initializer used for partial re-initialization.
func WithInitializer(in *initializer.Initializer) Option {
	return func(e *Executor) { e.init = in }
}

// WithSolver replaces the re-solve function.
func WithSolver(fn SolveFunc) Option {
	return func(e *Executor) { e.solve = fn }
}

// WithConverged replaces the success check applied after each re-solve.
// The default accepts any optimal termination.
func WithConverged(fn ConvergedFunc) Option {
	return func(e *Executor) { e.converged = fn }
}

// WithSolveOptions sets the options passed to every re-solve.
func WithSolveOptions(o eqsys.SolveOptions) Option {
	return func(e *Executor) { e.opts = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		fraction:  DefaultRelaxFraction,
		tolerance: diagnostics.DefaultTolerance,
		solve:  solveOutcome,
		converged: func(_ context.Context, _ System, out eqsys.SolveOutcome) (bool, error) {
			return out.Termination == eqsys.TerminationOptimal, nil
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.init == nil {
		e.init = initializer.New(initializer.WithLogger(e.logger))
	}
	return e
}

// Attempt runs up to maxAttempts strategies, stopping at the first re-solve
// that passes the convergence check. Errors from the system are returned; a failed
// recovery is a Result with Success false.
func (e *Executor) Attempt(ctx context.Context, sys System, trigger eqsys.Termination, maxAttempts int) (*Result, error) {
	if sys == nil {
		return nil, ErrNoSystem
	}
	res := &Result{Trigger: trigger, Attempts: []Attempt{}, Log: []string{}}
	if maxAttempts <= 0 {
		res.Message = "recovery disabled: no attempts allowed"
		return res, nil
	}

	skippedInRow := 0
	for i := 0; len(res.Attempts) < maxAttempts; i++ {
		strategy := Strategies[i%len(Strategies)]

		actions, err := e.apply(ctx, sys, strategy)
		if err != nil {
			return nil, fmt.Errorf("recovery %s: %w", strategy, err)
		}
		if len(actions) == 0 {
			e.logger.Debug("recovery strategy not applicable", "strategy", strategy)
			res.Skipped = append(res.Skipped, strategy)
			skippedInRow++
			if skippedInRow == len(Strategies) {
				break
			}
			continue
		}
		skippedInRow = 0

		out := e.solve(ctx, sys, e.opts)
		ok, err := e.converged(ctx, sys, out)
		if err != nil {
			return nil, fmt.Errorf("recovery %s: convergence check: %w", strategy, err)
		}
		a := Attempt{
			Number:      len(res.Attempts) + 1,
			Strategy:    strategy,
			Actions:     actions,
			Termination: out.Termination,
			Success:     ok,
		}
		res.Attempts = append(res.Attempts, a)
		res.Log = append(res.Log, fmt.Sprintf("Attempt %d: %s: %s", a.Number, strategy, strings.Join(actions, "; ")))
		res.Outcome = &out

		e.logger.Info("recovery attempt",
			"attempt", a.Number,
			"strategy", strategy,
			"termination", out.Termination,
			"actions", len(actions))

		if a.Success {
			res.Success = true
			res.Strategy = strategy
			res.Message = fmt.Sprintf("recovered by %s on attempt %d", strategy, a.Number)
			return res, nil
		}
	}

	switch {
	case len(res.Attempts) == 0:
		res.Message = "no recovery strategy was applicable"
	default:
		res.Message = fmt.Sprintf("recovery exhausted after %d attempts", len(res.Attempts))
	}
	return res, nil
}

// solveOutcome is the default SolveFunc. Adapter errors end the solve with
// TerminationOther.
func solveOutcome(ctx context.Context, sys eqsys.Solver, opts eqsys.SolveOptions) eqsys.SolveOutcome {
	out, err := sys.Solve(ctx, opts)
	if err != nil {
		out.Termination = eqsys.TerminationOther
		out.Message = err.Error()
	}
	return out
}

func (e *Executor) apply(ctx context.Context, sys System, s Strategy) ([]string, error) {
	switch s {
	case StrategyBoundRelaxation:
		return e.relaxBound(sys)
	case StrategyScalingAdjustment:
		return e.adjustScaling(sys)
	case StrategyPartialReinit:
		return e.reinitialize(ctx, sys)
	}
	return nil, fmt.Errorf("unknown strategy %q", s)
}

// =============================================================================
// Bound relaxation
// =============================================================================

// relaxBound widens one bound: the most violated one if any variable is out
// of bounds, otherwise the bound a free variable is pinned against.
func (e *Executor) relaxBound(sys System) ([]string, error) {
	path, side, err := e.boundTarget(sys)
	if err != nil || path == "" {
		return nil, err
	}

	b, err := sys.Bounds(path)
	if err != nil {
		return nil, err
	}
	old, widened := widen(b, side, e.fraction)
	if err := sys.SetBounds(path, widened); err != nil {
		return nil, err
	}

	updated := *widened.Upper
	if side == "lower" {
		updated = *widened.Lower
	}
	return []string{fmt.Sprintf("relaxed %s bound on %s by %g%%: %g -> %g",
		side, path, e.fraction*100, old, updated)}, nil
}

func (e *Executor) boundTarget(sys System) (string, string, error) {
	violations, err := sys.BoundViolations()
	if err != nil {
		return "", "", err
	}
	if len(violations) > 0 {
		worst := violations[0]
		for _, v := range violations[1:] {
			if v.Magnitude > worst.Magnitude {
				worst = v
			}
		}
		return worst.Variable, worst.Side, nil
	}

	candidates, err := sys.BoundedVariables()
	if err != nil {
		return "", "", err
	}
	var (
		best     string
		bestSide string
		bestDist = math.Inf(1)
	)
	for _, path := range candidates {
		x, err := sys.Value(path)
		if err != nil {
			return "", "", err
		}
		b, err := sys.Bounds(path)
		if err != nil {
			return "", "", err
		}
		if b.Lower != nil {
			if d := relDistance(x, *b.Lower); d < bestDist {
				best, bestSide, bestDist = path, "lower", d
			}
		}
		if b.Upper != nil {
			if d := relDistance(x, *b.Upper); d < bestDist {
				best, bestSide, bestDist = path, "upper", d
			}
		}
	}
	if bestDist > ActiveBoundDistance {
		return "", "", nil
	}
	return best, bestSide, nil
}

func relDistance(x, b float64) float64 {
	return math.Abs(x-b) / math.Max(1, math.Abs(b))
}

// widen moves one side of b outwards by fraction of the span, or of the
// bound's own magnitude when the other side is open. It returns the old
// value of that side and the new bounds.
func widen(b eqsys.Bounds, side string, fraction float64) (float64, eqsys.Bounds) {
	var step float64
	if b.Lower != nil && b.Upper != nil {
		step = fraction * (*b.Upper - *b.Lower)
	}
	out := eqsys.Bounds{Lower: b.Lower, Upper: b.Upper}
	if side == "lower" {
		old := *b.Lower
		if step <= 0 {
			step = fraction * math.Max(math.Abs(old), 1)
		}
		lo := old - step
		out.Lower = &lo
		return old, out
	}
	old := *b.Upper
	if step <= 0 {
		step = fraction * math.Max(math.Abs(old), 1)
	}
	hi := old + step
	out.Upper = &hi
	return old, out
}

// =============================================================================
// Scaling adjustment
// =============================================================================

// adjustScaling recomputes scaling factors for the free variables of the
// worst residual constraints.
func (e *Executor) adjustScaling(sys System) ([]string, error) {
	worst, err := e.worstResiduals(sys)
	if err != nil || len(worst) == 0 {
		return nil, err
	}

	var (
		paths   []string
		actions []string
		seen    = map[string]bool{}
	)
	for _, r := range truncate(worst, residualTargets) {
		vars, err := sys.ConstraintVariables(r.Constraint)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, v := range vars {
			fixed, err := sys.IsFixed(v)
			if err != nil {
				return nil, err
			}
			if fixed || seen[v] {
				continue
			}
			seen[v] = true
			paths = append(paths, v)
			n++
		}
		if n > 0 {
			actions = append(actions, fmt.Sprintf("recomputed scaling for %d variables in %s (residual %.3g)", n, r.Constraint, r.Magnitude))
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	if err := sys.RecomputeScalingFactors(paths); err != nil {
		return nil, err
	}
	return actions, nil
}

// =============================================================================
// Partial re-initialization
// =============================================================================

// reinitialize re-runs initialization for the unit with the largest total
// residual.
func (e *Executor) reinitialize(ctx context.Context, sys System) ([]string, error) {
	if e.plan == nil {
		return nil, nil
	}
	worst, err := e.worstResiduals(sys)
	if err != nil || len(worst) == 0 {
		return nil, err
	}

	contribution := map[string]float64{}
	for _, r := range worst {
		if r.Unit != "" {
			contribution[r.Unit] += r.Magnitude
		}
	}
	target := ""
	for _, name := range e.plan.Order {
		if c, ok := contribution[name]; ok && (target == "" || c > contribution[target]) {
			target = name
		}
	}
	if target == "" {
		return nil, nil
	}

	results, err := e.init.Reinitialize(ctx, sys, e.plan, []string{target})
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(results))
	for _, r := range results {
		actions = append(actions, fmt.Sprintf("reinitialized %s (residual %.3g): %s", r.Unit, contribution[r.Unit], r.Status))
	}
	return actions, nil
}

func (e *Executor) worstResiduals(sys System) ([]eqsys.Residual, error) {
	all, err := sys.ConstraintResiduals()
	if err != nil {
		return nil, err
	}
	return diagnostics.Exceeding(all, e.tolerance), nil
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
