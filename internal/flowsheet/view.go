package flowsheet

import (
	"math"

	"github.com/roach88/hygiene/internal/eqsys"
)

// UnitState gives a Kind read/write access to its own variables by local
// path ("outlet.flow[H2O]", "deltaP") during initialization. Writes to
// fixed variables are ignored.
type UnitState struct {
	m *Model
	u *unit
}

// Components returns the flowsheet components.
func (s *UnitState) Components() []string { return s.m.Components() }

// Get returns the value of a local variable, or NaN if it does not exist.
func (s *UnitState) Get(local string) float64 {
	ref, ok := s.m.varIdx[eqsys.Join(s.u.name, local)]
	if !ok {
		return math.NaN()
	}
	return s.m.vars[ref].value
}

// Set writes a local variable unless it is fixed. It reports whether the
// value was written.
func (s *UnitState) Set(local string, x float64) bool {
	ref, ok := s.m.varIdx[eqsys.Join(s.u.name, local)]
	if !ok || s.m.vars[ref].fixed {
		return false
	}
	s.m.vars[ref].value = x
	return true
}

// Flow returns the flow of component c at the named port.
func (s *UnitState) Flow(port, c string) float64 {
	return s.Get(port + "." + eqsys.FormatPath(KeyFlow, c))
}

// SetFlow writes the flow of component c at the named port.
func (s *UnitState) SetFlow(port, c string, x float64) bool {
	return s.Set(port+"."+eqsys.FormatPath(KeyFlow, c), x)
}

// TotalFlow sums component flows at the named port.
func (s *UnitState) TotalFlow(port string) float64 {
	var total float64
	for _, c := range s.m.components {
		total += s.Flow(port, c)
	}
	return total
}

// UnitScaling lets a Scalable kind assign default factors. Factors that are
// already set (manually or by an earlier pass) are left alone, which is what
// makes repeated computation idempotent.
type UnitScaling struct {
	m *Model
	u *unit
}

// Var assigns factor to every unscaled unit variable matching the local
// pattern.
func (s *UnitScaling) Var(localPattern string, factor float64) {
	pat, err := eqsys.ParsePath(eqsys.Join(s.u.name, localPattern))
	if err != nil {
		return
	}
	for _, ref := range s.u.vars {
		v := s.m.vars[ref]
		if !v.scaled && pat.Match(v.parsed) {
			v.scale, v.scaled = factor, true
		}
	}
}

// Constraint assigns factor to every unscaled unit constraint matching the
// local pattern.
func (s *UnitScaling) Constraint(localPattern string, factor float64) {
	pat, err := eqsys.ParsePath(eqsys.Join(s.u.name, localPattern))
	if err != nil {
		return
	}
	for _, ref := range s.u.cons {
		c := s.m.cons[ref]
		if c.scaled {
			continue
		}
		if cp, err := eqsys.ParsePath(c.name); err == nil && pat.Match(cp) {
			c.scale, c.scaled = factor, true
		}
	}
}
