package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
)

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"feed", "heater", "mixer", "product", "pump", "ro", "splitter"}, Types())

	k, ok := Lookup("pump")
	require.True(t, ok)
	assert.Equal(t, "pump", k.Type())

	_, ok = Lookup("crystallizer")
	assert.False(t, ok)

	m := flowsheet.New("t", []string{"H2O"})
	assert.ErrorContains(t, Add(m, "c1", "crystallizer"), `unknown unit type "crystallizer"`)
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	require.Len(t, table, 10)

	assert.Equal(t, "feed", table[0].UnitType)
	assert.Equal(t, "outlet.flow", table[0].Variable)

	ro := table.For("ro")
	require.Len(t, ro, 4)
	assert.Equal(t, "recovery", ro[0].Variable)
	assert.Equal(t, flowsheet.DefaultPressure, ro[3].Value)

	assert.Empty(t, table.For("product"))
	assert.Empty(t, table.For("mixer"))
}

// withFeeds builds a model where every inlet of the unit under test is fed
// by its own feed with default state.
func withFeeds(t *testing.T, typ string) *flowsheet.Model {
	t.Helper()
	m := flowsheet.New("t", []string{"H2O", "NaCl"})
	require.NoError(t, Add(m, "u", typ))

	kind, _ := Lookup(typ)
	inlets, _ := kind.Ports()
	for i, in := range inlets {
		feed := "f" + string(rune('1'+i))
		require.NoError(t, Add(m, feed, "feed"))
		require.NoError(t, m.Connect("s"+feed,
			eqsys.Port{Unit: feed, Port: "outlet"},
			eqsys.Port{Unit: "u", Port: in}))
	}
	return m
}

func TestUnitDOF(t *testing.T) {
	tests := []struct {
		typ  string
		want int
	}{
		{"feed", 4},
		{"product", 0},
		{"pump", 1},
		{"heater", 1},
		{"mixer", 0},
		{"splitter", 1},
		{"ro", 4},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			m := withFeeds(t, tt.typ)
			dof, err := m.DegreesOfFreedom("u")
			require.NoError(t, err)
			assert.Equal(t, tt.want, dof)
		})
	}
}

func TestRequiredFixesZeroDOF(t *testing.T) {
	for _, typ := range []string{"pump", "heater", "splitter", "ro"} {
		t.Run(typ, func(t *testing.T) {
			m := withFeeds(t, typ)
			for _, d := range DefaultTable().For(typ) {
				require.NoError(t, m.Fix(eqsys.Join("u", d.Variable), d.Value))
			}
			dof, err := m.DegreesOfFreedom("u")
			require.NoError(t, err)
			assert.Equal(t, 0, dof)
		})
	}
}

func TestInitializeConverges(t *testing.T) {
	ctx := context.Background()
	inlet := eqsys.StateVector{"flow[H2O]": 2, "flow[NaCl]": 0.05, "temperature": 300, "pressure": 2e5}

	tests := []struct {
		typ   string
		fixes map[string]float64
		args  eqsys.StateArgs
		check func(t *testing.T, m *flowsheet.Model)
	}{
		{
			typ:   "pump",
			fixes: map[string]float64{"u.deltaP": 3e5},
			args:  eqsys.StateArgs{"inlet": inlet},
			check: func(t *testing.T, m *flowsheet.Model) {
				assertValue(t, m, "u.outlet.pressure", 5e5)
				assertValue(t, m, "u.work", 3e5*2.05/1000)
			},
		},
		{
			typ:   "heater",
			fixes: map[string]float64{"u.heat_duty": 4184 * 2.05 * 10},
			args:  eqsys.StateArgs{"inlet": inlet},
			check: func(t *testing.T, m *flowsheet.Model) {
				assertValue(t, m, "u.outlet.temperature", 310)
			},
		},
		{
			typ: "mixer",
			args: eqsys.StateArgs{
				"inlet_1": inlet,
				"inlet_2": {"flow[H2O]": 1, "flow[NaCl]": 0, "temperature": 330, "pressure": 1e5},
			},
			check: func(t *testing.T, m *flowsheet.Model) {
				assertValue(t, m, "u.outlet.flow[H2O]", 3)
				assertValue(t, m, "u.outlet.pressure", 2e5)
				assertValue(t, m, "u.outlet.temperature", (300*2.05+330*1)/3.05)
			},
		},
		{
			typ:   "splitter",
			fixes: map[string]float64{"u.split_fraction": 0.25},
			args:  eqsys.StateArgs{"inlet": inlet},
			check: func(t *testing.T, m *flowsheet.Model) {
				assertValue(t, m, "u.outlet_1.flow[H2O]", 0.5)
				assertValue(t, m, "u.outlet_2.flow[H2O]", 1.5)
				assertValue(t, m, "u.outlet_2.temperature", 300)
			},
		},
		{
			typ: "ro",
			fixes: map[string]float64{
				"u.recovery": 0.4, "u.rejection": 0.9, "u.pressure_drop": 5e4, "u.permeate_pressure": 101325,
			},
			args: eqsys.StateArgs{"inlet": inlet},
			check: func(t *testing.T, m *flowsheet.Model) {
				assertValue(t, m, "u.permeate.flow[H2O]", 0.8)
				assertValue(t, m, "u.permeate.flow[NaCl]", 0.1*0.4*0.05)
				assertValue(t, m, "u.retentate.flow[H2O]", 1.2)
				assertValue(t, m, "u.retentate.pressure", 1.5e5)
				assertValue(t, m, "u.permeate.pressure", 101325)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			m := withFeeds(t, tt.typ)
			for p, v := range tt.fixes {
				require.NoError(t, m.Fix(p, v))
			}
			require.NoError(t, m.ComputeScalingFactors())

			out, err := m.InitializeUnit(ctx, "u", tt.args)
			require.NoError(t, err)
			assert.Equal(t, eqsys.TerminationOptimal, out.Termination, out.Message)
			assert.Equal(t, 0, out.DOF)
			tt.check(t, m)
		})
	}
}

func TestMixerNearZeroDivisor(t *testing.T) {
	m := withFeeds(t, "mixer")
	require.NoError(t, m.SetValue("u.outlet.flow", 0))

	divs, err := m.NearZeroDivisors(1e-8)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, "u.energy_balance", divs[0].Constraint)
	assert.Equal(t, "u", divs[0].Unit)
}

func TestScalingCoversUnitEntries(t *testing.T) {
	for _, typ := range Types() {
		t.Run(typ, func(t *testing.T) {
			m := withFeeds(t, typ)
			require.NoError(t, m.ComputeScalingFactors())

			issues, err := m.ScalingIssues(0)
			require.NoError(t, err)
			assert.Empty(t, issues.UnscaledConstraints)
			assert.Empty(t, issues.UnscaledVariables)
		})
	}
}

func assertValue(t *testing.T, m *flowsheet.Model, path string, want float64) {
	t.Helper()
	got, err := m.Value(path)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-6*max(1, want), path)
}
