package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/flowsheet"
)

func TestFixturesDOF(t *testing.T) {
	tests := []struct {
		name  string
		build func(testing.TB) *flowsheet.Model
		want  int
	}{
		{"two unit", TwoUnitModel, 2},
		{"pump train", PumpTrain, 0},
		{"bounded pump train", BoundedPumpTrain, 0},
		{"recycle", RecycleLoop, 0},
		{"ro train", ROTrain, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dof, err := tt.build(t).DegreesOfFreedom("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, dof)
		})
	}
}

func TestBoundedPumpTrainUpper(t *testing.T) {
	m := BoundedPumpTrain(t)
	b, err := m.Bounds("pump.outlet.pressure")
	require.NoError(t, err)
	require.NotNil(t, b.Lower)
	require.NotNil(t, b.Upper)
	assert.Equal(t, flowsheet.MinPressure, *b.Lower)
	assert.Equal(t, 5.5e5, *b.Upper)
}
