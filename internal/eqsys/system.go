// Package eqsys defines the contract between the hygiene pipeline and an
// equation-oriented process model.
//
// A System is a mutable graph of units (each owning variables and
// constraints) joined by directed streams. Every pipeline component talks to
// the model only through the interfaces declared here, so a run's entire
// mutation history is attributable to whoever holds the System handle.
//
// Variables are addressed by dotted paths with an optional index suffix:
//
//	feed.outlet.pressure
//	ro.permeate.flow[NaCl]
//	ro.*.flow[*]          (wildcard segment and index element)
//	feed.outlet.flow      (family: every member of an indexed variable)
//
// See ParsePath for the grammar.
package eqsys

import "context"

// Termination is the categorical outcome of a solve attempt.
type Termination string

const (
	TerminationOptimal       Termination = "optimal"
	TerminationInfeasible    Termination = "infeasible"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationOther         Termination = "other"
)

// ParseTermination maps a solver status string onto the four known
// categories. Anything unrecognised is TerminationOther.
func ParseTermination(s string) Termination {
	switch Termination(s) {
	case TerminationOptimal, TerminationInfeasible, TerminationMaxIterations:
		return Termination(s)
	}
	switch s {
	case "locallyOptimal", "globallyOptimal", "converged":
		return TerminationOptimal
	case "locallyInfeasible", "infeasibleOrUnbounded":
		return TerminationInfeasible
	case "maxIterations", "maxTimeLimit", "timeout":
		return TerminationMaxIterations
	}
	return TerminationOther
}

// Unit describes one unit operation in declaration order.
type Unit struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Inlets  []string `json:"inlets"`
	Outlets []string `json:"outlets"`
}

// Port addresses one port of one unit.
type Port struct {
	Unit string `json:"unit"`
	Port string `json:"port"`
}

func (p Port) String() string {
	return p.Unit + "." + p.Port
}

// Stream is a directed connection from an outlet port to an inlet port.
type Stream struct {
	Name string `json:"name"`
	From Port   `json:"from"`
	To   Port   `json:"to"`
}

// StateVector holds port state keyed relative to the port, e.g.
// "flow[H2O]", "temperature", "pressure".
type StateVector map[string]float64

// StateArgs maps inlet port names to the initial state supplied for them.
type StateArgs map[string]StateVector

// UnitOutcome is the result of initializing a single unit.
type UnitOutcome struct {
	Termination Termination `json:"termination"`
	Iterations  int         `json:"iterations"`
	DOF         int         `json:"dof"`
	Message     string      `json:"message,omitempty"`
}

// ResidualSummary condenses the residual state after a solve.
type ResidualSummary struct {
	MaxResidual     float64 `json:"max_residual"`
	WorstConstraint string  `json:"worst_constraint,omitempty"`
}

// SolveOutcome is returned by Solver.Solve.
type SolveOutcome struct {
	Termination Termination     `json:"termination"`
	Iterations  int             `json:"iterations"`
	Residual    ResidualSummary `json:"residual"`
	Message     string          `json:"message,omitempty"`
	TimedOut    bool            `json:"timed_out,omitempty"`
}

// Bounds holds optional lower and upper bounds. Nil means unbounded.
type Bounds struct {
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

// BoundViolation reports a variable outside its declared bounds.
type BoundViolation struct {
	Variable  string  `json:"variable"`
	Value     float64 `json:"value"`
	Bound     float64 `json:"bound"`
	Side      string  `json:"side"` // "lower" or "upper"
	Magnitude float64 `json:"magnitude"`
}

// Residual is the absolute (unscaled) residual of one constraint.
type Residual struct {
	Constraint string  `json:"constraint"`
	Unit       string  `json:"unit,omitempty"`
	Magnitude  float64 `json:"magnitude"`
}

// Divisor reports a constraint whose denominator is close to zero.
type Divisor struct {
	Constraint string  `json:"constraint"`
	Unit       string  `json:"unit,omitempty"`
	Value      float64 `json:"value"`
}

// ScaledValue describes a variable or constraint whose scaled magnitude
// falls outside the acceptable band.
type ScaledValue struct {
	Path   string  `json:"path"`
	Factor float64 `json:"factor"`
	Value  float64 `json:"value"`
	Scaled float64 `json:"scaled"`
}

// ScalingIssues is the raw scaling state reported by a System.
type ScalingIssues struct {
	UnscaledVariables      []string      `json:"unscaled_variables"`
	UnscaledConstraints    []string      `json:"unscaled_constraints"`
	BadlyScaledVariables   []ScaledValue `json:"badly_scaled_variables"`
	BadlyScaledConstraints []ScaledValue `json:"badly_scaled_constraints"`

	// Condition estimates the condition number of the scaled Jacobian at
	// the current point; zero when it cannot be computed.
	Condition float64 `json:"condition,omitempty"`
}

// Topology exposes the unit/stream graph.
type Topology interface {
	Units() []Unit
	Streams() []Stream
}

// DOFCounter counts degrees of freedom.
//
// An empty scope means the whole system. A unit's count excludes inlet
// variables fed by a stream; those belong to the stream's equality
// constraints.
type DOFCounter interface {
	DegreesOfFreedom(scope string) (int, error)
	UnfixedVariables(unit string) ([]string, error)
}

// Fixer resolves paths and toggles fixed status.
type Fixer interface {
	Resolve(pattern string) ([]string, error)
	IsFixed(path string) (bool, error)
	Fix(path string, value float64) error
	Unfix(path string) error
}

// Scaling manages scaling factors.
type Scaling interface {
	SetScalingFactor(path string, factor float64) error
	ScalingFactor(path string) (float64, bool, error)
	ComputeScalingFactors() error
	RecomputeScalingFactors(paths []string) error
	ScalingIssues(threshold float64) (ScalingIssues, error)
}

// Initialization runs unit initialization and moves port state around.
type Initialization interface {
	InitializeUnit(ctx context.Context, unit string, args StateArgs) (UnitOutcome, error)
	PortState(unit, port string) (StateVector, error)
	PropagateState(unit, port string, state StateVector) (int, error)
	PortFixed(unit, port string) (bool, error)
}

// Solver solves the whole system.
type Solver interface {
	Solve(ctx context.Context, opts SolveOptions) (SolveOutcome, error)
}

// Inspector answers read-only numerical queries and exposes bounds.
type Inspector interface {
	BoundViolations() ([]BoundViolation, error)
	ConstraintResiduals() ([]Residual, error)
	NearZeroDivisors(eps float64) ([]Divisor, error)
	ConstraintVariables(constraint string) ([]string, error)
	BoundedVariables() ([]string, error)
	Value(path string) (float64, error)
	Bounds(path string) (Bounds, error)
	SetBounds(path string, b Bounds) error
}

// System is the full adapter consumed by the pipeline.
type System interface {
	Topology
	DOFCounter
	Fixer
	Scaling
	Initialization
	Solver
	Inspector
}
