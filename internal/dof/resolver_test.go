package dof_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/testutil"
	"github.com/roach88/hygiene/internal/units"
)

func TestResolve_TwoUnits(t *testing.T) {
	m := testutil.TwoUnitModel(t)

	res, err := dof.New().Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)

	assert.Equal(t, []dof.Fix{
		{Unit: "feed", Path: "feed.outlet.pressure", Value: 101325},
		{Unit: "pump", Path: "pump.deltaP", Value: 1e5},
	}, res.Fixes)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, dof.StatusReady, res.Status)
	assert.Empty(t, res.Errors)

	feed, ok := res.Unit("feed")
	require.True(t, ok)
	assert.Equal(t, 1, feed.Before)
	assert.Equal(t, 0, feed.After)
	assert.Equal(t, dof.StatusReady, feed.Status)

	total, err := m.DegreesOfFreedom("")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestResolve_KeepsCallerFixes(t *testing.T) {
	m := testutil.TwoUnitModel(t)
	require.NoError(t, m.Fix("pump.deltaP", 4e5))

	res, err := dof.New().Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, "feed.outlet.pressure", res.Fixes[0].Path)

	v, err := m.Value("pump.deltaP")
	require.NoError(t, err)
	assert.Equal(t, 4e5, v)
}

func TestResolve_Idempotent(t *testing.T) {
	m := testutil.TwoUnitModel(t)
	r := dof.New()

	_, err := r.Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)

	again, err := r.Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)
	assert.Empty(t, again.Fixes)
	assert.Equal(t, dof.StatusReady, again.Status)
}

func TestResolve_FamilyFixesOneMemberAtATime(t *testing.T) {
	m := testutil.NewModel(t, "feed-only").
		Unit("feed", "feed").
		Fix("feed.outlet.flow[NaCl]", 0.02).
		Model()

	res, err := dof.New().Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)

	paths := make([]string, 0, len(res.Fixes))
	for _, f := range res.Fixes {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"feed.outlet.flow[H2O]", "feed.outlet.temperature", "feed.outlet.pressure"}, paths)
	assert.Equal(t, dof.StatusReady, res.Status)
}

func TestResolve_Underspecified(t *testing.T) {
	m := testutil.TwoUnitModel(t)
	table := dof.Table{{UnitType: "feed", Variable: "outlet.pressure", Value: 101325}}

	res, err := dof.New().Resolve(context.Background(), m, table)
	require.NoError(t, err)

	assert.Equal(t, dof.StatusUnderspecified, res.Status)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"pump"}, res.UnitsWith(dof.StatusUnderspecified))

	pump, _ := res.Unit("pump")
	assert.Equal(t, 1, pump.After)
	assert.Contains(t, pump.Remaining, "pump.deltaP")
}

func TestResolve_Overspecified(t *testing.T) {
	m := testutil.PumpTrain(t)
	require.NoError(t, m.Fix("pump.work", 40))

	res, err := dof.New().Resolve(context.Background(), m, units.DefaultTable())
	require.NoError(t, err)

	assert.Equal(t, dof.StatusOverspecified, res.Status)
	assert.Equal(t, -1, res.Total)
	assert.Empty(t, res.Fixes)

	fixed, err := m.IsFixed("pump.work")
	require.NoError(t, err)
	assert.True(t, fixed, "overspecification is reported, not corrected")
}

func TestResolve_UnresolvablePathCaptured(t *testing.T) {
	m := testutil.TwoUnitModel(t)
	table := append(dof.Table{{UnitType: "pump", Variable: "efficiency", Value: 0.8}}, units.DefaultTable()...)

	res, err := dof.New().Resolve(context.Background(), m, table)
	require.NoError(t, err)

	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "pump.efficiency", res.Errors[0].Variable)
	assert.Contains(t, res.Errors[0].Error, "path not found")
	assert.Equal(t, dof.StatusReady, res.Status)
}

func TestResolve_NilSystem(t *testing.T) {
	_, err := dof.New().Resolve(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "no equation system")
}

func TestTableMerge(t *testing.T) {
	base := dof.Table{
		{UnitType: "pump", Variable: "deltaP", Value: 1e5},
		{UnitType: "feed", Variable: "outlet.pressure", Value: 101325},
	}
	merged := base.Merge(dof.Table{
		{UnitType: "feed", Variable: "outlet.pressure", Value: 2e5},
		{UnitType: "heater", Variable: "heat_duty", Value: 10},
	})

	assert.Equal(t, dof.Table{
		{UnitType: "pump", Variable: "deltaP", Value: 1e5},
		{UnitType: "feed", Variable: "outlet.pressure", Value: 2e5},
		{UnitType: "heater", Variable: "heat_duty", Value: 10},
	}, merged)
	assert.Equal(t, 101325.0, base[1].Value, "merge does not mutate the receiver")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, dof.StatusReady, dof.Classify(0))
	assert.Equal(t, dof.StatusUnderspecified, dof.Classify(3))
	assert.Equal(t, dof.StatusOverspecified, dof.Classify(-1))
}
