package flowsheet

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/eqsys"
)

// pipeKind copies inlet state to its outlet with an optional pressure drop.
type pipeKind struct{}

func (pipeKind) Type() string { return "pipe" }

func (pipeKind) Ports() ([]string, []string) { return []string{"inlet"}, []string{"outlet"} }

func (pipeKind) Build(b *Builder) error {
	in, out := b.Port("inlet"), b.Port("outlet")
	drop := b.Var("drop", Value(0), Lower(0))
	for _, c := range b.Components() {
		fi, fo := in.Flow[c], out.Flow[c]
		b.Constraint(eqsys.FormatPath("flow_balance", c), []VarRef{fi, fo}, func(v Eval) float64 {
			return v(fo) - v(fi)
		})
	}
	b.Constraint("temperature_balance", []VarRef{in.Temperature, out.Temperature}, func(v Eval) float64 {
		return v(out.Temperature) - v(in.Temperature)
	})
	b.Constraint("pressure_balance", []VarRef{in.Pressure, out.Pressure, drop}, func(v Eval) float64 {
		return v(out.Pressure) - v(in.Pressure) + v(drop)
	})
	return nil
}

func (pipeKind) Scale(s *UnitScaling) {
	s.Var("drop", 1e-4)
	s.Constraint("pressure_balance", 1e-5)
}

// sourceKind has a single outlet and no constraints.
type sourceKind struct{}

func (sourceKind) Type() string { return "source" }

func (sourceKind) Ports() ([]string, []string) { return nil, []string{"outlet"} }

func (sourceKind) Build(*Builder) error { return nil }

func newPipeModel(t *testing.T) *Model {
	t.Helper()
	m := New("test", []string{"H2O", "NaCl"})
	require.NoError(t, m.AddUnit("src", sourceKind{}))
	require.NoError(t, m.AddUnit("p1", pipeKind{}))
	require.NoError(t, m.Connect("s1",
		eqsys.Port{Unit: "src", Port: "outlet"},
		eqsys.Port{Unit: "p1", Port: "inlet"}))
	return m
}

func TestTopology(t *testing.T) {
	m := newPipeModel(t)

	units := m.Units()
	require.Len(t, units, 2)
	assert.Equal(t, eqsys.Unit{Name: "src", Type: "source", Outlets: []string{"outlet"}}, units[0])
	assert.Equal(t, []string{"inlet"}, units[1].Inlets)

	streams := m.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, "src.outlet", streams[0].From.String())
}

func TestConnectValidation(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.AddUnit("p2", pipeKind{}))

	err := m.Connect("s1", eqsys.Port{Unit: "p1", Port: "outlet"}, eqsys.Port{Unit: "p2", Port: "inlet"})
	assert.ErrorContains(t, err, "duplicate stream")

	err = m.Connect("s2", eqsys.Port{Unit: "p1", Port: "inlet"}, eqsys.Port{Unit: "p2", Port: "inlet"})
	assert.ErrorContains(t, err, "not an outlet")

	err = m.Connect("s2", eqsys.Port{Unit: "src", Port: "outlet"}, eqsys.Port{Unit: "p2", Port: "inlet"})
	assert.ErrorContains(t, err, "already connected")

	err = m.Connect("s2", eqsys.Port{Unit: "p1", Port: "outlet"}, eqsys.Port{Unit: "nope", Port: "inlet"})
	assert.True(t, eqsys.IsPathNotFound(err))
}

func TestAddUnitDuplicate(t *testing.T) {
	m := newPipeModel(t)
	assert.ErrorContains(t, m.AddUnit("p1", pipeKind{}), "duplicate unit")
}

func TestDegreesOfFreedom(t *testing.T) {
	m := newPipeModel(t)

	// src: 4 free state vars, no constraints.
	dof, err := m.DegreesOfFreedom("src")
	require.NoError(t, err)
	assert.Equal(t, 4, dof)

	// p1: outlet 4 + drop, inlet excluded; 4 constraints.
	dof, err = m.DegreesOfFreedom("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, dof)

	// whole: 13 vars, 4 unit + 4 arc constraints.
	dof, err = m.DegreesOfFreedom("")
	require.NoError(t, err)
	assert.Equal(t, 5, dof)

	free, err := m.UnfixedVariables("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"p1.outlet.flow[H2O]", "p1.outlet.flow[NaCl]", "p1.outlet.temperature",
		"p1.outlet.pressure", "p1.drop",
	}, free)

	_, err = m.DegreesOfFreedom("ghost")
	assert.True(t, eqsys.IsPathNotFound(err))
}

func TestResolveAndFix(t *testing.T) {
	m := newPipeModel(t)

	paths, err := m.Resolve("src.outlet.flow")
	require.NoError(t, err)
	assert.Equal(t, []string{"src.outlet.flow[H2O]", "src.outlet.flow[NaCl]"}, paths)

	paths, err = m.Resolve("*.outlet.flow['NaCl']")
	require.NoError(t, err)
	assert.Equal(t, []string{"src.outlet.flow[NaCl]", "p1.outlet.flow[NaCl]"}, paths)

	_, err = m.Resolve("src.outlet.enthalpy")
	assert.True(t, eqsys.IsPathNotFound(err))

	require.NoError(t, m.Fix("src.outlet.flow", 2))
	fixed, err := m.IsFixed("src.outlet.flow")
	require.NoError(t, err)
	assert.True(t, fixed)

	v, err := m.Value("src.outlet.flow[NaCl]")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	dof, _ := m.DegreesOfFreedom("")
	assert.Equal(t, 3, dof)

	require.NoError(t, m.Unfix("src.outlet.flow[H2O]"))
	fixed, _ = m.IsFixed("src.outlet.flow")
	assert.False(t, fixed)
}

func TestScalingFactors(t *testing.T) {
	m := newPipeModel(t)

	require.NoError(t, m.SetScalingFactor("p1.drop", 0.5))
	err := m.SetScalingFactor("p1.drop", 0)
	assert.ErrorIs(t, err, eqsys.ErrInvalidFactor)
	err = m.SetScalingFactor("p1.ghost", 1)
	assert.True(t, eqsys.IsPathNotFound(err))

	require.NoError(t, m.ComputeScalingFactors())

	f, ok, err := m.ScalingFactor("p1.drop")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.5, f, "manual factor is preserved")

	f, _, _ = m.ScalingFactor("src.outlet.pressure")
	assert.Equal(t, PressureScale, f)
	f, _, _ = m.ScalingFactor("src.outlet.temperature")
	assert.Equal(t, TemperatureScale, f)

	issues, err := m.ScalingIssues(DefaultScalingThreshold)
	require.NoError(t, err)
	assert.Empty(t, issues.UnscaledVariables)
	// flow_balance and temperature_balance have no factor.
	assert.Contains(t, issues.UnscaledConstraints, "p1.flow_balance[H2O]")
	assert.Contains(t, issues.UnscaledConstraints, "p1.temperature_balance")
	assert.NotContains(t, issues.UnscaledConstraints, "s1.pressure")
}

func TestRecomputeScalingFactors(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.SetValue("p1.outlet.pressure", 2.4e5))
	require.NoError(t, m.RecomputeScalingFactors([]string{"p1.outlet.pressure", "p1.drop"}))

	f, ok, _ := m.ScalingFactor("p1.outlet.pressure")
	assert.True(t, ok)
	assert.InDelta(t, 1e-5, f, 1e-15)

	_, ok, _ = m.ScalingFactor("p1.drop")
	assert.False(t, ok, "zero-valued variable keeps no factor")
}

func TestBadlyScaled(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.ComputeScalingFactors())
	require.NoError(t, m.SetValue("src.outlet.flow[NaCl]", 1e-6))

	issues, err := m.ScalingIssues(0)
	require.NoError(t, err)
	require.Len(t, issues.BadlyScaledVariables, 1)
	assert.Equal(t, "src.outlet.flow[NaCl]", issues.BadlyScaledVariables[0].Path)
}

func TestInitializeUnit(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.Fix("p1.drop", 1000))

	out, err := m.InitializeUnit(context.Background(), "p1", eqsys.StateArgs{
		"inlet": {"flow[H2O]": 3, "pressure": 2e5},
	})
	require.NoError(t, err)
	assert.Equal(t, eqsys.TerminationOptimal, out.Termination)
	assert.Equal(t, 0, out.DOF)

	v, _ := m.Value("p1.outlet.flow[H2O]")
	assert.InDelta(t, 3, v, 1e-9)
	v, _ = m.Value("p1.outlet.pressure")
	assert.InDelta(t, 199000, v, 1e-6)

	_, err = m.InitializeUnit(context.Background(), "p1", eqsys.StateArgs{"outlet": {}})
	assert.True(t, eqsys.IsPathNotFound(err))
}

func TestInitializeUnitNotSquare(t *testing.T) {
	m := newPipeModel(t)

	out, err := m.InitializeUnit(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, eqsys.TerminationOther, out.Termination)
	assert.Equal(t, 1, out.DOF)
	assert.Contains(t, out.Message, "not square")
}

func TestPortStateAndPropagate(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.Fix("p1.inlet.temperature", 300))

	n, err := m.PropagateState("p1", "inlet", eqsys.StateVector{"temperature": 310, "pressure": 5e5})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "fixed temperature is not overwritten")

	sv, err := m.PortState("p1", "inlet")
	require.NoError(t, err)
	assert.Equal(t, 300.0, sv["temperature"])
	assert.Equal(t, 5e5, sv["pressure"])
	assert.Equal(t, DefaultFlow, sv["flow[NaCl]"])

	fixed, err := m.PortFixed("p1", "inlet")
	require.NoError(t, err)
	assert.False(t, fixed)
}

func TestSolve(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.Fix("src.outlet.flow[H2O]", 10))
	require.NoError(t, m.Fix("src.outlet.flow[NaCl]", 0.1))
	require.NoError(t, m.Fix("src.outlet.temperature", 310))
	require.NoError(t, m.Fix("src.outlet.pressure", 3e5))
	require.NoError(t, m.Fix("p1.drop", 5e4))
	require.NoError(t, m.ComputeScalingFactors())

	out, err := m.Solve(context.Background(), eqsys.SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, eqsys.TerminationOptimal, out.Termination)
	assert.LessOrEqual(t, out.Residual.MaxResidual, 1e-8)

	v, _ := m.Value("p1.outlet.pressure")
	assert.InDelta(t, 2.5e5, v, 1e-6)

	res, err := m.ConstraintResiduals()
	require.NoError(t, err)
	require.Len(t, res, 8)
	for _, r := range res {
		assert.LessOrEqual(t, r.Magnitude, 1e-8, r.Constraint)
	}
	assert.Equal(t, "p1.flow_balance[H2O]", res[0].Constraint)
	assert.Equal(t, "s1.flow[H2O]", res[4].Constraint)
	assert.Equal(t, "p1", res[4].Unit)
}

func TestSolveNotSquare(t *testing.T) {
	m := newPipeModel(t)
	out, err := m.Solve(context.Background(), eqsys.SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, eqsys.TerminationOther, out.Termination)
	assert.Contains(t, out.Message, "not square")
}

func TestSolveInfeasibleAgainstBound(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.Fix("src.outlet.flow", 1))
	require.NoError(t, m.Fix("src.outlet.temperature", 300))
	require.NoError(t, m.Fix("src.outlet.pressure", 1e5))
	require.NoError(t, m.Fix("p1.drop", 0))
	hi := 5e4
	require.NoError(t, m.SetBounds("p1.outlet.pressure", eqsys.Bounds{Upper: &hi}))
	require.NoError(t, m.ComputeScalingFactors())

	out, err := m.Solve(context.Background(), eqsys.SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, eqsys.TerminationInfeasible, out.Termination)
	assert.Equal(t, "p1.pressure_balance", out.Residual.WorstConstraint)
}

func TestBoundViolations(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.SetValue("src.outlet.temperature", 400))
	require.NoError(t, m.SetValue("p1.outlet.flow[H2O]", -1))

	v, err := m.BoundViolations()
	require.NoError(t, err)
	require.Len(t, v, 2)
	assert.Equal(t, "src.outlet.temperature", v[0].Variable)
	assert.Equal(t, "upper", v[0].Side)
	assert.InDelta(t, 400-MaxTemperature, v[0].Magnitude, 1e-9)
	assert.Equal(t, "lower", v[1].Side)
	assert.InDelta(t, 1, v[1].Magnitude, 1e-12)
}

func TestBoundsRoundTrip(t *testing.T) {
	m := newPipeModel(t)
	b, err := m.Bounds("p1.drop")
	require.NoError(t, err)
	require.NotNil(t, b.Lower)
	assert.Nil(t, b.Upper)

	*b.Lower = -5
	again, _ := m.Bounds("p1.drop")
	assert.Equal(t, 0.0, *again.Lower, "returned bounds are copies")

	_, err = m.Bounds("src.outlet.flow")
	assert.ErrorContains(t, err, "want 1")

	bounded, err := m.BoundedVariables()
	require.NoError(t, err)
	assert.Contains(t, bounded, "p1.drop")
}

func TestConstraintVariables(t *testing.T) {
	m := newPipeModel(t)
	vars, err := m.ConstraintVariables("p1.pressure_balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1.inlet.pressure", "p1.outlet.pressure", "p1.drop"}, vars)

	_, err = m.ConstraintVariables("p1.nothing")
	assert.True(t, eqsys.IsPathNotFound(err))
}

func TestResidualsNonFinite(t *testing.T) {
	m := newPipeModel(t)
	require.NoError(t, m.SetValue("p1.outlet.temperature", math.Inf(1)))
	res, err := m.ConstraintResiduals()
	require.NoError(t, err)
	for _, r := range res {
		if r.Constraint == "p1.temperature_balance" {
			assert.Equal(t, math.MaxFloat64, r.Magnitude)
		}
	}
}
