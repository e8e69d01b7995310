package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
	"github.com/roach88/hygiene/internal/units"
)

// Components used by every fixture. H2O is the solvent.
var Components = []string{"H2O", "NaCl"}

// Builder is a small fluent helper for fixture flowsheets. The first error
// fails the test.
type Builder struct {
	t testing.TB
	m *flowsheet.Model
}

// NewModel starts a fixture flowsheet.
func NewModel(t testing.TB, name string) *Builder {
	t.Helper()
	return &Builder{t: t, m: flowsheet.New(name, Components)}
}

// Unit adds a registered unit type.
func (b *Builder) Unit(name, typ string) *Builder {
	b.t.Helper()
	require.NoError(b.t, units.Add(b.m, name, typ))
	return b
}

// Connect adds a stream between "unit.port" endpoints.
func (b *Builder) Connect(name, from, to string) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.m.Connect(name, port(b.t, from), port(b.t, to)))
	return b
}

// Fix fixes a path (family paths fix every member).
func (b *Builder) Fix(path string, value float64) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.m.Fix(path, value))
	return b
}

// Upper replaces the upper bound of a path, keeping its lower bound.
func (b *Builder) Upper(path string, hi float64) *Builder {
	b.t.Helper()
	bounds, err := b.m.Bounds(path)
	require.NoError(b.t, err)
	bounds.Upper = &hi
	require.NoError(b.t, b.m.SetBounds(path, bounds))
	return b
}

// Model returns the built flowsheet.
func (b *Builder) Model() *flowsheet.Model { return b.m }

func port(t testing.TB, s string) eqsys.Port {
	t.Helper()
	p, err := eqsys.ParsePath(s)
	require.NoError(t, err)
	require.Len(t, p.Segments, 2, "port reference %q", s)
	return eqsys.Port{Unit: p.Segments[0], Port: p.Segments[1]}
}

// FixFeed fixes every outlet state variable of a feed unit.
func (b *Builder) FixFeed(unit string, water, salt, temperature, pressure float64) *Builder {
	return b.
		Fix(unit+".outlet.flow[H2O]", water).
		Fix(unit+".outlet.flow[NaCl]", salt).
		Fix(unit+".outlet.temperature", temperature).
		Fix(unit+".outlet.pressure", pressure)
}

// TwoUnitModel is feed -> pump with one free required variable per unit:
// the feed pressure and the pump head.
func TwoUnitModel(t testing.TB) *flowsheet.Model {
	t.Helper()
	return NewModel(t, "two-unit").
		Unit("feed", "feed").
		Unit("pump", "pump").
		Connect("s1", "feed.outlet", "pump.inlet").
		Fix("feed.outlet.flow[H2O]", 1.0).
		Fix("feed.outlet.flow[NaCl]", 0.035).
		Fix("feed.outlet.temperature", 298.15).
		Model()
}

// PumpTrain is a fully specified feed -> pump -> product line.
func PumpTrain(t testing.TB) *flowsheet.Model {
	t.Helper()
	return pumpTrain(t, 2e5).Model()
}

func pumpTrain(t testing.TB, head float64) *Builder {
	t.Helper()
	return NewModel(t, "pump-train").
		Unit("feed", "feed").
		Unit("pump", "pump").
		Unit("product", "product").
		Connect("s1", "feed.outlet", "pump.inlet").
		Connect("s2", "pump.outlet", "product.inlet").
		FixFeed("feed", 1.0, 0.035, 298.15, 101325).
		Fix("pump.deltaP", head)
}

// BoundedPumpTrain is a pump train whose required outlet pressure
// (601325 Pa) lies above the outlet's upper bound of 5.5e5 Pa, so the
// first solve stalls against the bound.
func BoundedPumpTrain(t testing.TB) *flowsheet.Model {
	t.Helper()
	return pumpTrain(t, 5e5).Upper("pump.outlet.pressure", 5.5e5).Model()
}

// NarrowFeedTrain is a pump train whose fixed feed pressure (101325 Pa)
// sits above an upper bound of 8e4 Pa. One 20% widening of the bound is
// not enough to clear the violation; two are.
func NarrowFeedTrain(t testing.TB) *flowsheet.Model {
	t.Helper()
	return pumpTrain(t, 2e5).Upper("feed.outlet.pressure", 8e4).Model()
}

// RecycleLoop is mixer -> heater -> splitter with splitter.outlet_1 fed
// back into mixer.inlet_2. The recycle stream is declared last. The
// mixer's fresh inlet is fixed; the loop is square once heat duty and
// split fraction are fixed.
func RecycleLoop(t testing.TB) *flowsheet.Model {
	t.Helper()
	return NewModel(t, "recycle").
		Unit("mixer", "mixer").
		Unit("heater", "heater").
		Unit("splitter", "splitter").
		Connect("s1", "mixer.outlet", "heater.inlet").
		Connect("s2", "heater.outlet", "splitter.inlet").
		Connect("recycle", "splitter.outlet_1", "mixer.inlet_2").
		Fix("mixer.inlet_1.flow[H2O]", 1.0).
		Fix("mixer.inlet_1.flow[NaCl]", 0.01).
		Fix("mixer.inlet_1.temperature", 300).
		Fix("mixer.inlet_1.pressure", 2e5).
		Fix("heater.heat_duty", 0).
		Fix("splitter.split_fraction", 0.5).
		Model()
}

// ROTrain is feed -> pump -> ro with product sinks on both ro outlets. The
// feed is fully specified; pump and ro are left to the defaults table.
func ROTrain(t testing.TB) *flowsheet.Model {
	t.Helper()
	return NewModel(t, "ro-train").
		Unit("feed", "feed").
		Unit("pump", "pump").
		Unit("ro", "ro").
		Unit("permeate", "product").
		Unit("brine", "product").
		Connect("s1", "feed.outlet", "pump.inlet").
		Connect("s2", "pump.outlet", "ro.inlet").
		Connect("s3", "ro.permeate", "permeate.inlet").
		Connect("s4", "ro.retentate", "brine.inlet").
		FixFeed("feed", 1.0, 0.035, 298.15, 101325).
		Model()
}
