package flowsheet

import (
	"fmt"

	"github.com/roach88/hygiene/internal/eqsys"
)

// Kind describes a unit operation type.
type Kind interface {
	// Type is the registry key, e.g. "pump".
	Type() string

	// Ports returns inlet and outlet port names in declaration order.
	Ports() (inlets, outlets []string)

	// Build declares the unit's own variables and constraints. Port state
	// variables already exist when Build is called.
	Build(b *Builder) error
}

// Initializable kinds compute an initial guess for their outlet state from
// their inlet state before the unit block is solved.
type Initializable interface {
	Initialize(u *UnitState) error
}

// Scalable kinds supply scaling factors for their own variables and
// constraints.
type Scalable interface {
	Scale(s *UnitScaling)
}

// PortVars are the state variables of one port.
type PortVars struct {
	Flow        map[string]VarRef
	Flows       []VarRef // component order
	Temperature VarRef
	Pressure    VarRef
}

// TotalFlow sums the component flows of the port in component order.
func (p PortVars) TotalFlow(v Eval) float64 {
	var total float64
	for _, ref := range p.Flows {
		total += v(ref)
	}
	return total
}

// All returns every state variable of the port.
func (p PortVars) All() []VarRef {
	refs := append([]VarRef(nil), p.Flows...)
	return append(refs, p.Temperature, p.Pressure)
}

// VarOption configures a unit variable.
type VarOption func(*variable)

// Value sets the initial value.
func Value(x float64) VarOption {
	return func(v *variable) { v.value = x }
}

// Lower sets the lower bound.
func Lower(x float64) VarOption {
	return func(v *variable) { v.lower = &x }
}

// Upper sets the upper bound.
func Upper(x float64) VarOption {
	return func(v *variable) { v.upper = &x }
}

// ConstraintOption configures a unit constraint.
type ConstraintOption func(*constraintSpec)

type constraintSpec struct {
	divisors []VarRef
}

// Divisors marks variables whose sum appears as a denominator in the
// constraint's physical form.
func Divisors(refs ...VarRef) ConstraintOption {
	return func(c *constraintSpec) { c.divisors = append(c.divisors, refs...) }
}

// Builder is handed to Kind.Build.
type Builder struct {
	m    *Model
	unit int
	err  error
}

// Name returns the unit name.
func (b *Builder) Name() string { return b.m.units[b.unit].name }

// Components returns the flowsheet components.
func (b *Builder) Components() []string { return b.m.Components() }

// Port returns the state variables of a declared port.
func (b *Builder) Port(name string) PortVars {
	p, ok := b.m.units[b.unit].byPort[name]
	if !ok {
		b.fail(fmt.Errorf("unknown port %q", name))
		return PortVars{Flow: map[string]VarRef{}}
	}
	pv := PortVars{Flow: make(map[string]VarRef, len(b.m.components))}
	for _, c := range b.m.components {
		ref := p.vars[eqsys.FormatPath(KeyFlow, c)]
		pv.Flow[c] = ref
		pv.Flows = append(pv.Flows, ref)
	}
	pv.Temperature = p.vars[KeyTemperature]
	pv.Pressure = p.vars[KeyPressure]
	return pv
}

// Var declares a unit-level variable.
func (b *Builder) Var(name string, opts ...VarOption) VarRef {
	if _, err := eqsys.ParsePath(name); err != nil {
		b.fail(err)
	}
	ref := b.m.newVar(b.unit, "", name, 0, nil, nil)
	for _, opt := range opts {
		opt(b.m.vars[ref])
	}
	return ref
}

// Constraint declares a unit constraint named "<unit>.<name>".
func (b *Builder) Constraint(name string, vars []VarRef, fn ResidualFunc, opts ...ConstraintOption) {
	spec := &constraintSpec{}
	for _, opt := range opts {
		opt(spec)
	}
	full := b.Name() + "." + name
	if _, err := b.m.newConstraint(b.unit, full, false, vars, fn, spec.divisors); err != nil {
		b.fail(err)
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = fmt.Errorf("build %s: %w", b.Name(), err)
	}
}
