// Package scaling assigns and audits scaling factors.
//
// The three operations are independent and never bundled: manual factors
// first (SetFactor), then the system's own per-unit routines
// (ComputeFactors), then the audit (ReportIssues). No blanket transform is
// ever applied on top of factors the system already holds.
package scaling

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/hygiene/internal/eqsys"
)

// DefaultThreshold bounds acceptable scaled magnitudes to [1e-4, 1e4].
const DefaultThreshold = 1e-4

// MaxCondition is the scaled Jacobian condition estimate above which a
// report is flagged ill-conditioned.
const MaxCondition = 1e10

// System is the part of the equation system the scaler needs.
type System interface {
	eqsys.Fixer
	eqsys.Scaling
	Value(path string) (float64, error)
}

// IssueKind classifies a scaling issue.
type IssueKind string

const (
	UnscaledVariable      IssueKind = "unscaled_variable"
	UnscaledConstraint    IssueKind = "unscaled_constraint"
	BadlyScaledVariable   IssueKind = "badly_scaled_variable"
	BadlyScaledConstraint IssueKind = "badly_scaled_constraint"
)

// Issue is one concrete variable or constraint with a scaling problem.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Path      string    `json:"path"`
	Magnitude float64   `json:"magnitude,omitempty"`
	Scaled    float64   `json:"scaled,omitempty"`

	// Suggested is the power of ten that would bring the magnitude to
	// order one; zero when there is nothing to base it on.
	Suggested float64 `json:"suggested,omitempty"`
}

// Report is the audit produced by ReportIssues.
type Report struct {
	// Stale is set when ComputeFactors has not run yet; the lists are then
	// empty.
	Stale     bool    `json:"stale"`
	Threshold float64 `json:"threshold"`

	UnscaledVariables      []Issue `json:"unscaled_variables"`
	UnscaledConstraints    []Issue `json:"unscaled_constraints"`
	BadlyScaledVariables   []Issue `json:"badly_scaled_variables"`
	BadlyScaledConstraints []Issue `json:"badly_scaled_constraints"`

	// Condition is the system's Jacobian condition estimate, zero when the
	// system could not compute one.
	Condition      float64 `json:"condition,omitempty"`
	IllConditioned bool    `json:"ill_conditioned"`
}

// Total is the number of issues across all four lists.
func (r *Report) Total() int {
	return len(r.UnscaledVariables) + len(r.UnscaledConstraints) +
		len(r.BadlyScaledVariables) + len(r.BadlyScaledConstraints)
}

// Assignment is a manual factor recorded by SetFactor.
type Assignment struct {
	Pattern string   `json:"pattern"`
	Factor  float64  `json:"factor"`
	Paths   []string `json:"paths"`
}

// Scaler wraps one equation system. It is not safe for concurrent use.
type Scaler struct {
	sys       System
	threshold float64
	logger    *slog.Logger

	computed bool
	manual   []Assignment
}

// Option configures a Scaler.
type Option func(*Scaler)

// WithThreshold overrides DefaultThreshold. Values outside (0, 1) are
// ignored.
func WithThreshold(t float64) Option {
	return func(s *Scaler) {
		if t > 0 && t < 1 {
			s.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scaler) { s.logger = l }
}

// New creates a Scaler for sys.
func New(sys System, opts ...Option) *Scaler {
	s := &Scaler{sys: sys, threshold: DefaultThreshold, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFactor assigns factor to every concrete variable selected by path.
// Unresolvable paths fail with an error matching eqsys.ErrPathNotFound;
// non-positive or non-finite factors with eqsys.ErrInvalidFactor.
func (s *Scaler) SetFactor(path string, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("set factor %s: %w: %v", path, eqsys.ErrInvalidFactor, factor)
	}
	paths, err := s.sys.Resolve(path)
	if err != nil {
		return fmt.Errorf("set factor: %w", err)
	}
	if err := s.sys.SetScalingFactor(path, factor); err != nil {
		return fmt.Errorf("set factor: %w", err)
	}
	if s.computed {
		s.logger.Warn("scaling factor set after compute", "path", path)
	}
	s.manual = append(s.manual, Assignment{Pattern: path, Factor: factor, Paths: paths})
	return nil
}

// Manual returns the assignments made through SetFactor, in call order.
func (s *Scaler) Manual() []Assignment {
	out := make([]Assignment, len(s.manual))
	copy(out, s.manual)
	return out
}

// ComputeFactors delegates to the system's own scaling routines. Factors
// already present are preserved, so repeated calls are idempotent.
func (s *Scaler) ComputeFactors() error {
	if err := s.sys.ComputeScalingFactors(); err != nil {
		return fmt.Errorf("compute factors: %w", err)
	}
	s.computed = true
	return nil
}

// Computed reports whether ComputeFactors has run.
func (s *Scaler) Computed() bool { return s.computed }

// ReportIssues audits the current factors. Before ComputeFactors has run
// it returns an empty report with Stale set.
func (s *Scaler) ReportIssues() (*Report, error) {
	r := &Report{
		Threshold:              s.threshold,
		UnscaledVariables:      []Issue{},
		UnscaledConstraints:    []Issue{},
		BadlyScaledVariables:   []Issue{},
		BadlyScaledConstraints: []Issue{},
	}
	if !s.computed {
		r.Stale = true
		return r, nil
	}

	raw, err := s.sys.ScalingIssues(s.threshold)
	if err != nil {
		return nil, fmt.Errorf("report issues: %w", err)
	}

	r.Condition = raw.Condition
	r.IllConditioned = raw.Condition > MaxCondition
	if r.IllConditioned {
		s.logger.Warn("scaled jacobian is ill-conditioned", "condition", raw.Condition)
	}

	seen := make(map[string]bool)
	for _, p := range raw.UnscaledVariables {
		if add(seen, UnscaledVariable, p) {
			issue := Issue{Kind: UnscaledVariable, Path: p}
			if v, err := s.sys.Value(p); err == nil && v != 0 {
				issue.Magnitude = math.Abs(v)
				issue.Suggested = Suggest(v)
			}
			r.UnscaledVariables = append(r.UnscaledVariables, issue)
		}
	}
	for _, p := range raw.UnscaledConstraints {
		if add(seen, UnscaledConstraint, p) {
			r.UnscaledConstraints = append(r.UnscaledConstraints, Issue{Kind: UnscaledConstraint, Path: p})
		}
	}
	for _, sv := range raw.BadlyScaledVariables {
		if add(seen, BadlyScaledVariable, sv.Path) {
			r.BadlyScaledVariables = append(r.BadlyScaledVariables, badly(BadlyScaledVariable, sv))
		}
	}
	for _, sv := range raw.BadlyScaledConstraints {
		if add(seen, BadlyScaledConstraint, sv.Path) {
			r.BadlyScaledConstraints = append(r.BadlyScaledConstraints, badly(BadlyScaledConstraint, sv))
		}
	}
	return r, nil
}

func add(seen map[string]bool, kind IssueKind, path string) bool {
	key := string(kind) + "\x00" + path
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}

func badly(kind IssueKind, sv eqsys.ScaledValue) Issue {
	return Issue{
		Kind:      kind,
		Path:      sv.Path,
		Magnitude: math.Abs(sv.Value),
		Scaled:    sv.Scaled,
		Suggested: Suggest(sv.Value),
	}
}

// Suggest returns the power of ten that scales x to order one, or 0 for
// zero and non-finite x.
func Suggest(x float64) float64 {
	a := math.Abs(x)
	if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	return math.Pow(10, -math.Round(math.Log10(a)))
}
