// Package diagnostics takes read-only health snapshots of an equation system
// before and after a solve.
//
// A Collector never mutates the system it inspects. Each call produces a new
// immutable Report; the pipeline attaches it to the transition that ran it.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/eqsys"
)

// Defaults for a Collector.
const (
	DefaultTolerance     = 1e-6
	DefaultMaxViolations = 20
	DefaultMaxResiduals  = 20

	// DefaultDivisorEpsilon is the magnitude below which a denominator is
	// reported as near zero.
	DefaultDivisorEpsilon = 1e-8
)

// Stage names the point in the pipeline a report was taken at.
type Stage string

const (
	StagePreSolve  Stage = "pre_solve"
	StagePostSolve Stage = "post_solve"
)

// System is the read-only view the collector needs.
type System interface {
	eqsys.DOFCounter
	eqsys.Inspector
}

// DOFSummary classifies the whole-system DOF.
type DOFSummary struct {
	Total  int        `json:"total"`
	Status dof.Status `json:"status"`
}

// Hint pairs a likely cause with a suggested fix.
type Hint struct {
	Cause string `json:"cause"`
	Fix   string `json:"fix"`
}

// Report is a point-in-time snapshot.
type Report struct {
	Stage Stage      `json:"stage"`
	DOF   DOFSummary `json:"dof"`

	// BoundViolations holds the largest violations, sorted by magnitude
	// descending. TotalBoundViolations counts all of them.
	BoundViolations      []eqsys.BoundViolation `json:"bound_violations"`
	TotalBoundViolations int                    `json:"total_bound_violations"`

	// Residuals holds constraints whose residual exceeds Tolerance, sorted
	// by magnitude descending.
	Residuals      []eqsys.Residual `json:"residuals"`
	TotalResiduals int              `json:"total_residuals"`
	Tolerance      float64          `json:"tolerance"`

	NearZeroDivisors []eqsys.Divisor `json:"near_zero_divisors"`

	// Termination is copied from the solve outcome (post-solve only).
	Termination eqsys.Termination `json:"termination,omitempty"`

	Hints []Hint `json:"hints,omitempty"`
}

// Issues counts the problems recorded in the report.
func (r *Report) Issues() int {
	n := r.TotalBoundViolations + r.TotalResiduals + len(r.NearZeroDivisors)
	if r.DOF.Status != dof.StatusReady {
		n++
	}
	return n
}

// Converged reports whether a post-solve snapshot shows an optimal
// termination with no bound violations and every residual within tolerance.
func (r *Report) Converged() bool {
	return r.Stage == StagePostSolve &&
		r.Termination == eqsys.TerminationOptimal &&
		r.TotalBoundViolations == 0 &&
		r.TotalResiduals == 0
}

// Collector produces Reports.
type Collector struct {
	tolerance     float64
	maxViolations int
	maxResiduals  int
	epsilon       float64
	logger        *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithTolerance sets the residual tolerance. Non-positive values are ignored.
func WithTolerance(tol float64) Option {
	return func(c *Collector) {
		if tol > 0 {
			c.tolerance = tol
		}
	}
}

// WithMaxViolations caps the number of bound violations and residuals kept
// in a report. Non-positive values are ignored.
func WithMaxViolations(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxViolations = n
			c.maxResiduals = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		tolerance:     DefaultTolerance,
		maxViolations: DefaultMaxViolations,
		maxResiduals:  DefaultMaxResiduals,
		epsilon:       DefaultDivisorEpsilon,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tolerance returns the residual tolerance in use.
func (c *Collector) Tolerance() float64 { return c.tolerance }

// PreSolve snapshots DOF, bound violations, residuals and near-zero
// divisors before the solve.
func (c *Collector) PreSolve(ctx context.Context, sys System) (*Report, error) {
	r, err := c.collect(ctx, sys, StagePreSolve)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pre-solve diagnostics",
		"dof", r.DOF.Total,
		"bound_violations", r.TotalBoundViolations,
		"residuals", r.TotalResiduals,
		"divisors", len(r.NearZeroDivisors))
	return r, nil
}

// PostSolve snapshots the system after a solve. The termination comes from
// outcome; it is never re-derived from the residuals.
func (c *Collector) PostSolve(ctx context.Context, sys System, outcome eqsys.SolveOutcome) (*Report, error) {
	r, err := c.collect(ctx, sys, StagePostSolve)
	if err != nil {
		return nil, err
	}
	r.Termination = outcome.Termination
	r.Hints = analyze(r)
	c.logger.Debug("post-solve diagnostics",
		"termination", r.Termination,
		"bound_violations", r.TotalBoundViolations,
		"residuals", r.TotalResiduals,
		"hints", len(r.Hints))
	return r, nil
}

func (c *Collector) collect(ctx context.Context, sys System, stage Stage) (*Report, error) {
	if sys == nil {
		return nil, fmt.Errorf("%s diagnostics: no equation system", stage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total, err := sys.DegreesOfFreedom("")
	if err != nil {
		return nil, fmt.Errorf("%s diagnostics: dof: %w", stage, err)
	}
	r := &Report{
		Stage:     stage,
		DOF:       DOFSummary{Total: total, Status: dof.Classify(total)},
		Tolerance: c.tolerance,
	}

	violations, err := sys.BoundViolations()
	if err != nil {
		return nil, fmt.Errorf("%s diagnostics: bound violations: %w", stage, err)
	}
	r.TotalBoundViolations = len(violations)
	r.BoundViolations = topViolations(violations, c.maxViolations)

	residuals, err := sys.ConstraintResiduals()
	if err != nil {
		return nil, fmt.Errorf("%s diagnostics: residuals: %w", stage, err)
	}
	over := Exceeding(residuals, c.tolerance)
	r.TotalResiduals = len(over)
	r.Residuals = truncate(over, c.maxResiduals)

	divisors, err := sys.NearZeroDivisors(c.epsilon)
	if err != nil {
		return nil, fmt.Errorf("%s diagnostics: divisors: %w", stage, err)
	}
	r.NearZeroDivisors = nonNil(divisors)
	return r, nil
}

// Exceeding returns residuals strictly above tol sorted by magnitude
// descending. Ties keep declaration order.
func Exceeding(residuals []eqsys.Residual, tol float64) []eqsys.Residual {
	out := []eqsys.Residual{}
	for _, r := range residuals {
		if r.Magnitude > tol {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Magnitude > out[j].Magnitude })
	return out
}

func topViolations(v []eqsys.BoundViolation, n int) []eqsys.BoundViolation {
	out := append([]eqsys.BoundViolation{}, v...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Magnitude > out[j].Magnitude })
	return truncate(out, n)
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// analyze derives hints from the termination and the worst residuals.
func analyze(r *Report) []Hint {
	var hints []Hint
	switch r.Termination {
	case eqsys.TerminationOptimal:
		if r.TotalBoundViolations > 0 {
			hints = append(hints, Hint{
				Cause: "solution sits outside declared bounds",
				Fix:   "review the bounds on " + r.BoundViolations[0].Variable,
			})
		}
	case eqsys.TerminationInfeasible:
		if worstMatching(r.Residuals, "pressure") != "" {
			hints = append(hints, Hint{
				Cause: "pressure balance cannot be met within bounds",
				Fix:   "check pump head and the outlet pressure bounds",
			})
		}
		if worstMatching(r.Residuals, "water_permeation") != "" {
			hints = append(hints, Hint{
				Cause: "membrane permeation cannot be met",
				Fix:   "check the feed pressure and the recovery specification",
			})
		}
		if len(r.BoundViolations) > 0 || len(hints) == 0 {
			hints = append(hints, Hint{
				Cause: "iterate blocked by variable bounds",
				Fix:   "relax the bounds or revisit the fixed specifications",
			})
		}
	case eqsys.TerminationMaxIterations:
		hints = append(hints,
			Hint{Cause: "solver hit the iteration limit", Fix: "raise max_iter in solver_options"},
			Hint{Cause: "poor scaling", Fix: "check scaling issues and set factors for badly scaled variables"},
			Hint{Cause: "poor starting point", Fix: "initialize units sequentially before solving"},
		)
	default:
		hints = append(hints, Hint{
			Cause: "solver failed without a recognised termination",
			Fix:   "check the degrees of freedom and the initial point",
		})
	}
	if len(r.NearZeroDivisors) > 0 {
		hints = append(hints, Hint{
			Cause: "near-zero denominator in " + r.NearZeroDivisors[0].Constraint,
			Fix:   "give the flows feeding that unit a nonzero initial value",
		})
	}
	return hints
}

func worstMatching(residuals []eqsys.Residual, substr string) string {
	for _, r := range residuals {
		if strings.Contains(r.Constraint, substr) {
			return r.Constraint
		}
	}
	return ""
}
