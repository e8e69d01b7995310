package flowsheet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/numeric"
)

var _ eqsys.System = (*Model)(nil)

// Property-level default scaling factors for port state.
const (
	FlowScale        = 1.0
	TemperatureScale = 1e-2
	PressureScale    = 1e-5
)

// DefaultScalingThreshold bounds acceptable scaled magnitudes to
// [threshold, 1/threshold].
const DefaultScalingThreshold = 1e-4

// Units returns the units in declaration order.
func (m *Model) Units() []eqsys.Unit {
	out := make([]eqsys.Unit, 0, len(m.units))
	for _, u := range m.units {
		eu := eqsys.Unit{Name: u.name, Type: u.kind.Type()}
		for _, p := range u.ports {
			if p.inlet {
				eu.Inlets = append(eu.Inlets, p.name)
			} else {
				eu.Outlets = append(eu.Outlets, p.name)
			}
		}
		out = append(out, eu)
	}
	return out
}

// Streams returns the streams in declaration order.
func (m *Model) Streams() []eqsys.Stream {
	out := make([]eqsys.Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, eqsys.Stream{Name: s.name, From: s.from, To: s.to})
	}
	return out
}

// DegreesOfFreedom counts free variables minus constraints. For a unit,
// variables on stream-fed inlets and the stream equalities are left out.
func (m *Model) DegreesOfFreedom(scope string) (int, error) {
	if scope == "" {
		free := 0
		for _, v := range m.vars {
			if !v.fixed {
				free++
			}
		}
		return free - len(m.cons), nil
	}

	u, err := m.unit(scope)
	if err != nil {
		return 0, err
	}
	return len(m.unitFree(u)) - len(u.cons), nil
}

func (m *Model) unitFree(u *unit) []VarRef {
	var free []VarRef
	for _, ref := range u.vars {
		v := m.vars[ref]
		if v.fixed || m.connectedInlet(v) {
			continue
		}
		free = append(free, ref)
	}
	return free
}

// UnfixedVariables lists the unit's free variables in declaration order,
// excluding stream-fed inlet state.
func (m *Model) UnfixedVariables(unitName string) ([]string, error) {
	u, err := m.unit(unitName)
	if err != nil {
		return nil, err
	}
	free := m.unitFree(u)
	out := make([]string, 0, len(free))
	for _, ref := range free {
		out = append(out, m.vars[ref].path)
	}
	return out, nil
}

// Resolve expands a dotted, indexed, family or wildcard path into concrete
// variable paths in declaration order.
func (m *Model) Resolve(pattern string) ([]string, error) {
	refs, err := m.resolveVars("resolve", pattern)
	if err != nil {
		return nil, err
	}
	return m.paths(refs), nil
}

func (m *Model) resolveVars(op, pattern string) ([]VarRef, error) {
	if ref, ok := m.varIdx[pattern]; ok {
		return []VarRef{ref}, nil
	}
	p, err := eqsys.ParsePath(pattern)
	if err != nil {
		var pe *eqsys.PathError
		if errors.As(err, &pe) {
			return nil, &eqsys.PathError{Op: op, Path: pattern, Reason: pe.Reason}
		}
		return nil, err
	}
	if !p.HasWildcard() {
		if ref, ok := m.varIdx[p.String()]; ok {
			return []VarRef{ref}, nil
		}
	}

	var refs []VarRef
	for i, v := range m.vars {
		if p.Match(v.parsed) {
			refs = append(refs, VarRef(i))
		}
	}
	if len(refs) == 0 {
		return nil, eqsys.NotFound(op, pattern)
	}
	return refs, nil
}

func (m *Model) resolveOne(op, path string) (*variable, error) {
	refs, err := m.resolveVars(op, path)
	if err != nil {
		return nil, err
	}
	if len(refs) != 1 {
		return nil, fmt.Errorf("%s %s: path selects %d variables, want 1", op, path, len(refs))
	}
	return m.vars[refs[0]], nil
}

func (m *Model) paths(refs []VarRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, m.vars[ref].path)
	}
	return out
}

// IsFixed reports whether every variable selected by path is fixed.
func (m *Model) IsFixed(path string) (bool, error) {
	refs, err := m.resolveVars("is-fixed", path)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		if !m.vars[ref].fixed {
			return false, nil
		}
	}
	return true, nil
}

// Fix fixes every variable selected by path at value.
func (m *Model) Fix(path string, value float64) error {
	refs, err := m.resolveVars("fix", path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		v := m.vars[ref]
		v.fixed = true
		v.value = value
	}
	return nil
}

// Unfix frees every variable selected by path.
func (m *Model) Unfix(path string) error {
	refs, err := m.resolveVars("unfix", path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		m.vars[ref].fixed = false
	}
	return nil
}

// SetScalingFactor assigns factor to every variable selected by path.
func (m *Model) SetScalingFactor(path string, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("set scaling factor %s: %w: %v", path, eqsys.ErrInvalidFactor, factor)
	}
	refs, err := m.resolveVars("set-scaling-factor", path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		v := m.vars[ref]
		v.scale, v.scaled = factor, true
	}
	return nil
}

// ScalingFactor returns the factor of a single variable.
func (m *Model) ScalingFactor(path string) (float64, bool, error) {
	v, err := m.resolveOne("scaling-factor", path)
	if err != nil {
		return 0, false, err
	}
	return v.scale, v.scaled, nil
}

// ComputeScalingFactors runs the property-level defaults for port state,
// then each Scalable kind, then stream equalities (which inherit the factor
// of their inlet variable). Only unscaled entries are touched.
func (m *Model) ComputeScalingFactors() error {
	for _, v := range m.vars {
		if v.port == "" || v.scaled {
			continue
		}
		v.scale, v.scaled = propertyScale(v.key), true
	}

	for _, u := range m.units {
		if sc, ok := u.kind.(Scalable); ok {
			sc.Scale(&UnitScaling{m: m, u: u})
		}
	}

	for _, c := range m.cons {
		if !c.arc || c.scaled {
			continue
		}
		if in := m.vars[c.vars[0]]; in.scaled {
			c.scale, c.scaled = in.scale, true
		}
	}
	return nil
}

func propertyScale(key string) float64 {
	switch {
	case strings.HasPrefix(key, KeyFlow):
		return FlowScale
	case key == KeyTemperature:
		return TemperatureScale
	case key == KeyPressure:
		return PressureScale
	}
	return 1
}

// RecomputeScalingFactors resets the factor of each selected variable to
// the inverse order of magnitude of its current value. Zero-valued
// variables keep their factor.
func (m *Model) RecomputeScalingFactors(paths []string) error {
	for _, path := range paths {
		refs, err := m.resolveVars("recompute-scaling", path)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			v := m.vars[ref]
			if math.Abs(v.value) < 1e-12 {
				continue
			}
			v.scale = math.Pow(10, -math.Round(math.Log10(math.Abs(v.value))))
			v.scaled = true
		}
	}
	return nil
}

// ScalingIssues lists unscaled entries and entries whose scaled magnitude
// falls outside [threshold, 1/threshold]. A constraint's magnitude is the
// largest absolute value among the variables it references.
func (m *Model) ScalingIssues(threshold float64) (eqsys.ScalingIssues, error) {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultScalingThreshold
	}
	lo, hi := threshold, 1/threshold

	var out eqsys.ScalingIssues
	for _, v := range m.vars {
		if !v.scaled {
			out.UnscaledVariables = append(out.UnscaledVariables, v.path)
			continue
		}
		if v.value == 0 {
			continue
		}
		if s := math.Abs(v.value * v.scale); s < lo || s > hi {
			out.BadlyScaledVariables = append(out.BadlyScaledVariables, eqsys.ScaledValue{
				Path: v.path, Factor: v.scale, Value: v.value, Scaled: s,
			})
		}
	}

	for _, c := range m.cons {
		if !c.scaled {
			out.UnscaledConstraints = append(out.UnscaledConstraints, c.name)
			continue
		}
		var mag float64
		for _, ref := range c.vars {
			mag = math.Max(mag, math.Abs(m.vars[ref].value))
		}
		if mag == 0 {
			continue
		}
		if s := mag * c.scale; s < lo || s > hi {
			out.BadlyScaledConstraints = append(out.BadlyScaledConstraints, eqsys.ScaledValue{
				Path: c.name, Factor: c.scale, Value: mag, Scaled: s,
			})
		}
	}
	if cond, ok := numeric.Condition(m.wholeProblem()); ok {
		out.Condition = cond
	}
	return out, nil
}

// InitializeUnit writes state args onto the unit's inlets, lets an
// Initializable kind compute its guess, then solves the unit block with all
// inlet state held fixed.
func (m *Model) InitializeUnit(ctx context.Context, unitName string, args eqsys.StateArgs) (eqsys.UnitOutcome, error) {
	u, err := m.unit(unitName)
	if err != nil {
		return eqsys.UnitOutcome{}, err
	}
	for portName, sv := range args {
		p, ok := u.byPort[portName]
		if !ok || !p.inlet {
			return eqsys.UnitOutcome{}, eqsys.NotFound("initialize", unitName+"."+portName)
		}
		m.applyState(p, sv)
	}

	dof, _ := m.DegreesOfFreedom(unitName)
	out := eqsys.UnitOutcome{DOF: dof}

	if init, ok := u.kind.(Initializable); ok {
		if err := init.Initialize(&UnitState{m: m, u: u}); err != nil {
			out.Termination = eqsys.TerminationOther
			out.Message = err.Error()
			return out, nil
		}
	}

	var free []VarRef
	for _, ref := range u.vars {
		v := m.vars[ref]
		if v.fixed {
			continue
		}
		if v.port != "" && u.byPort[v.port].inlet {
			continue
		}
		free = append(free, ref)
	}

	res := numeric.Solve(ctx, m.newProblem(free, u.cons), numeric.Options{})
	out.Termination = terminationOf(res.Status)
	out.Iterations = res.Iterations
	switch res.Status {
	case numeric.Converged:
	case numeric.NotSquare:
		out.Message = fmt.Sprintf("unit block is not square: %d free variables, %d constraints", len(free), len(u.cons))
	default:
		out.Message = fmt.Sprintf("unit block %s after %d iterations (max residual %.3g)", res.Status, res.Iterations, res.MaxResidual)
	}
	return out, nil
}

func (m *Model) applyState(p *port, sv eqsys.StateVector) int {
	n := 0
	for _, key := range p.keys {
		x, ok := sv[key]
		if !ok {
			continue
		}
		v := m.vars[p.vars[key]]
		if v.fixed {
			continue
		}
		v.value = x
		n++
	}
	return n
}

// PortState returns the current state of a port.
func (m *Model) PortState(unitName, portName string) (eqsys.StateVector, error) {
	p, err := m.port(eqsys.Port{Unit: unitName, Port: portName})
	if err != nil {
		return nil, err
	}
	sv := make(eqsys.StateVector, len(p.keys))
	for _, key := range p.keys {
		sv[key] = m.vars[p.vars[key]].value
	}
	return sv, nil
}

// PropagateState writes state onto the non-fixed variables of a port and
// returns how many were written.
func (m *Model) PropagateState(unitName, portName string, state eqsys.StateVector) (int, error) {
	p, err := m.port(eqsys.Port{Unit: unitName, Port: portName})
	if err != nil {
		return 0, err
	}
	return m.applyState(p, state), nil
}

// PortFixed reports whether every state variable of the port is fixed.
func (m *Model) PortFixed(unitName, portName string) (bool, error) {
	p, err := m.port(eqsys.Port{Unit: unitName, Port: portName})
	if err != nil {
		return false, err
	}
	for _, key := range p.keys {
		if !m.vars[p.vars[key]].fixed {
			return false, nil
		}
	}
	return true, nil
}

// Solve solves the whole system over all free variables.
func (m *Model) Solve(ctx context.Context, opts eqsys.SolveOptions) (eqsys.SolveOutcome, error) {
	opts = opts.WithDefaults()

	p := m.wholeProblem()
	res := numeric.Solve(ctx, p, numeric.Options{
		MaxIterations: opts.MaxIterations,
		Tolerance:     opts.Tolerance,
		AbsTolerance:  opts.AbsTolerance,
	})

	out := eqsys.SolveOutcome{
		Termination: terminationOf(res.Status),
		Iterations:  res.Iterations,
		Residual:    eqsys.ResidualSummary{MaxResidual: finiteOr(res.MaxResidual)},
		Message:     res.Status.String(),
	}
	if res.Worst >= 0 {
		out.Residual.WorstConstraint = m.cons[res.Worst].name
	}
	if res.Status == numeric.NotSquare {
		out.Message = fmt.Sprintf("system is not square: %d free variables, %d constraints", len(p.free), len(p.cons))
	}
	return out, nil
}

func terminationOf(s numeric.Status) eqsys.Termination {
	switch s {
	case numeric.Converged:
		return eqsys.TerminationOptimal
	case numeric.MaxIterations, numeric.Cancelled:
		return eqsys.TerminationMaxIterations
	case numeric.Stalled:
		return eqsys.TerminationInfeasible
	}
	return eqsys.TerminationOther
}

// BoundViolations lists variables outside their bounds in declaration
// order.
func (m *Model) BoundViolations() ([]eqsys.BoundViolation, error) {
	var out []eqsys.BoundViolation
	for _, v := range m.vars {
		if math.IsNaN(v.value) {
			continue
		}
		if v.lower != nil && v.value < *v.lower-boundTolerance(*v.lower) {
			out = append(out, eqsys.BoundViolation{
				Variable: v.path, Value: v.value, Bound: *v.lower, Side: "lower", Magnitude: *v.lower - v.value,
			})
		}
		if v.upper != nil && v.value > *v.upper+boundTolerance(*v.upper) {
			out = append(out, eqsys.BoundViolation{
				Variable: v.path, Value: v.value, Bound: *v.upper, Side: "upper", Magnitude: v.value - *v.upper,
			})
		}
	}
	return out, nil
}

func boundTolerance(b float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(b))
}

// ConstraintResiduals returns the absolute residual of every constraint in
// declaration order. Non-finite residuals are reported as MaxFloat64.
func (m *Model) ConstraintResiduals() ([]eqsys.Residual, error) {
	eval := m.evalAt(m.currentValues())
	out := make([]eqsys.Residual, 0, len(m.cons))
	for _, c := range m.cons {
		out = append(out, eqsys.Residual{
			Constraint: c.name,
			Unit:       m.units[c.unit].name,
			Magnitude:  finiteOr(math.Abs(c.fn(eval))),
		})
	}
	return out, nil
}

func finiteOr(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return math.MaxFloat64
	}
	return x
}

// NearZeroDivisors lists constraints whose denominator magnitude is below
// eps.
func (m *Model) NearZeroDivisors(eps float64) ([]eqsys.Divisor, error) {
	var out []eqsys.Divisor
	for _, c := range m.cons {
		if len(c.divisors) == 0 {
			continue
		}
		var sum float64
		for _, ref := range c.divisors {
			sum += m.vars[ref].value
		}
		if math.Abs(sum) < eps {
			out = append(out, eqsys.Divisor{Constraint: c.name, Unit: m.units[c.unit].name, Value: sum})
		}
	}
	return out, nil
}

// ConstraintVariables returns the variables referenced by a constraint.
func (m *Model) ConstraintVariables(name string) ([]string, error) {
	ref, ok := m.conIdx[name]
	if !ok {
		return nil, eqsys.NotFound("constraint", name)
	}
	return m.paths(m.cons[ref].vars), nil
}

// BoundedVariables lists free variables with at least one bound.
func (m *Model) BoundedVariables() ([]string, error) {
	var out []string
	for _, v := range m.vars {
		if !v.fixed && (v.lower != nil || v.upper != nil) {
			out = append(out, v.path)
		}
	}
	return out, nil
}

// Value returns the current value of a single variable.
func (m *Model) Value(path string) (float64, error) {
	v, err := m.resolveOne("value", path)
	if err != nil {
		return 0, err
	}
	return v.value, nil
}

// SetValue overwrites the value of every variable selected by path,
// regardless of fixed status.
func (m *Model) SetValue(path string, value float64) error {
	refs, err := m.resolveVars("set-value", path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		m.vars[ref].value = value
	}
	return nil
}

// Bounds returns the bounds of a single variable.
func (m *Model) Bounds(path string) (eqsys.Bounds, error) {
	v, err := m.resolveOne("bounds", path)
	if err != nil {
		return eqsys.Bounds{}, err
	}
	return eqsys.Bounds{Lower: copyFloat(v.lower), Upper: copyFloat(v.upper)}, nil
}

// SetBounds replaces the bounds of every variable selected by path.
func (m *Model) SetBounds(path string, b eqsys.Bounds) error {
	refs, err := m.resolveVars("set-bounds", path)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		m.vars[ref].lower = copyFloat(b.Lower)
		m.vars[ref].upper = copyFloat(b.Upper)
	}
	return nil
}
