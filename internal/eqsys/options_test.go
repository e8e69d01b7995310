package eqsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSolveOptions_Empty(t *testing.T) {
	opts, err := DecodeSolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSolveOptions(), opts)
}

func TestDecodeSolveOptions_WeakTypes(t *testing.T) {
	opts, err := DecodeSolveOptions(map[string]any{
		"max_iter":  "500",
		"tolerance": 1e-10,
	})
	require.NoError(t, err)
	assert.Equal(t, 500, opts.MaxIterations)
	assert.Equal(t, 1e-10, opts.Tolerance)
	assert.Equal(t, DefaultTolerance, opts.AbsTolerance)
}

func TestDecodeSolveOptions_RejectsUnknownKeys(t *testing.T) {
	_, err := DecodeSolveOptions(map[string]any{"max_iters": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iters")
}

func TestSolveOptions_WithDefaults(t *testing.T) {
	opts := SolveOptions{MaxIterations: 7}.WithDefaults()
	assert.Equal(t, 7, opts.MaxIterations)
	assert.Equal(t, DefaultTolerance, opts.Tolerance)
}
