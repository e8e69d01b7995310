package numeric

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcProblem adapts closures to Problem for tests.
type funcProblem struct {
	x      []float64
	m      int
	f      func(x, dst []float64)
	lo, hi []float64
}

func (p *funcProblem) Size() (int, int)         { return len(p.x), p.m }
func (p *funcProblem) Point(dst []float64)      { copy(dst, p.x) }
func (p *funcProblem) SetPoint(x []float64)     { copy(p.x, x) }
func (p *funcProblem) Residuals(x, d []float64) { p.f(x, d) }
func (p *funcProblem) VarScale(int) float64     { return 1 }
func (p *funcProblem) ConScale(int) float64     { return 1 }

func (p *funcProblem) Bounds(i int) (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	if p.lo != nil {
		lo = p.lo[i]
	}
	if p.hi != nil {
		hi = p.hi[i]
	}
	return lo, hi
}

func TestSolve_Linear(t *testing.T) {
	// x + y = 3, x - y = 1
	p := &funcProblem{
		x: []float64{0, 0},
		m: 2,
		f: func(x, d []float64) {
			d[0] = x[0] + x[1] - 3
			d[1] = x[0] - x[1] - 1
		},
	}

	res := Solve(context.Background(), p, Options{})
	require.Equal(t, Converged, res.Status)
	assert.InDelta(t, 2.0, p.x[0], 1e-9)
	assert.InDelta(t, 1.0, p.x[1], 1e-9)
	assert.LessOrEqual(t, res.Iterations, 3)
}

func TestSolve_AlreadyConverged(t *testing.T) {
	p := &funcProblem{
		x: []float64{5},
		m: 1,
		f: func(x, d []float64) { d[0] = x[0] - 5 },
	}
	res := Solve(context.Background(), p, Options{})
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, 0, res.Iterations)
}

func TestSolve_Nonlinear(t *testing.T) {
	// x^2 = 4 on x >= 0
	p := &funcProblem{
		x:  []float64{1},
		m:  1,
		lo: []float64{0},
		f:  func(x, d []float64) { d[0] = x[0]*x[0] - 4 },
	}
	res := Solve(context.Background(), p, Options{})
	require.Equal(t, Converged, res.Status)
	assert.InDelta(t, 2.0, p.x[0], 1e-8)
}

func TestSolve_StalledAgainstBound(t *testing.T) {
	// Solution x = 10 lies outside x <= 5.
	p := &funcProblem{
		x:  []float64{1},
		m:  1,
		hi: []float64{5},
		f:  func(x, d []float64) { d[0] = x[0] - 10 },
	}
	res := Solve(context.Background(), p, Options{})
	assert.Equal(t, Stalled, res.Status)
	assert.Equal(t, 5.0, p.x[0], "last accepted iterate sits on the bound")
	assert.InDelta(t, 5.0, res.MaxResidual, 1e-12)
	assert.Equal(t, 0, res.Worst)
}

func TestSolve_InitialPointProjected(t *testing.T) {
	p := &funcProblem{
		x:  []float64{50},
		m:  1,
		hi: []float64{5},
		f:  func(x, d []float64) { d[0] = x[0] - 3 },
	}
	res := Solve(context.Background(), p, Options{})
	require.Equal(t, Converged, res.Status)
	assert.InDelta(t, 3.0, p.x[0], 1e-9)
}

func TestSolve_NotSquare(t *testing.T) {
	p := &funcProblem{
		x: []float64{0, 0},
		m: 1,
		f: func(x, d []float64) { d[0] = x[0] },
	}
	assert.Equal(t, NotSquare, Solve(context.Background(), p, Options{}).Status)
}

func TestSolve_Empty(t *testing.T) {
	p := &funcProblem{f: func(x, d []float64) {}}
	assert.Equal(t, Converged, Solve(context.Background(), p, Options{}).Status)
}

func TestSolve_Singular(t *testing.T) {
	// y never appears.
	p := &funcProblem{
		x: []float64{0, 0},
		m: 2,
		f: func(x, d []float64) {
			d[0] = x[0] - 1
			d[1] = 2*x[0] - 3
		},
	}
	assert.Equal(t, Singular, Solve(context.Background(), p, Options{}).Status)
}

func TestSolve_MaxIterations(t *testing.T) {
	p := &funcProblem{
		x: []float64{100},
		m: 1,
		f: func(x, d []float64) { d[0] = math.Exp(x[0]/50) - 1 },
	}
	res := Solve(context.Background(), p, Options{MaxIterations: 1})
	assert.Equal(t, MaxIterations, res.Status)
	assert.Equal(t, 1, res.Iterations)
}

func TestSolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &funcProblem{
		x: []float64{0},
		m: 1,
		f: func(x, d []float64) { d[0] = x[0] - 1 },
	}
	assert.Equal(t, Cancelled, Solve(ctx, p, Options{}).Status)
	assert.Equal(t, 0.0, p.x[0])
}

func TestSolveDense_Pivoting(t *testing.T) {
	a := [][]float64{{0, 1}, {1, 0}}
	x, ok := solveDense(a, []float64{2, 3})
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{3, 2}, x, 1e-12)
}

func TestSolveDense_Singular(t *testing.T) {
	a := [][]float64{{1, 2}, {2, 4}}
	_, ok := solveDense(a, []float64{1, 2})
	assert.False(t, ok)
}

func TestSolveDense_IllConditioned(t *testing.T) {
	a := [][]float64{{1, 1}, {1, 1 + 1e-15}}
	_, ok := solveDense(a, []float64{1, 1})
	assert.False(t, ok)
}

func TestSolveDense_Ragged(t *testing.T) {
	_, ok := solveDense([][]float64{{1, 2}, {3}}, []float64{1, 1})
	assert.False(t, ok)
}

func TestCondition(t *testing.T) {
	wellPosed := &funcProblem{
		x: []float64{1, 1},
		m: 2,
		f: func(x, d []float64) {
			d[0] = x[0] - 1
			d[1] = x[1] - 2
		},
	}
	c, ok := Condition(wellPosed)
	require.True(t, ok)
	assert.InDelta(t, 1, c, 1e-3)

	// Two residuals in x only: the Jacobian column for y is zero.
	singular := &funcProblem{
		x: []float64{0, 0},
		m: 2,
		f: func(x, d []float64) {
			d[0] = x[0] - 1
			d[1] = 2*x[0] - 3
		},
	}
	c, ok = Condition(singular)
	require.True(t, ok)
	assert.Greater(t, c, MaxCondition)

	_, ok = Condition(&funcProblem{f: func(x, d []float64) {}})
	assert.False(t, ok)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "stalled", Stalled.String())
	assert.Equal(t, "unknown", Status(99).String())
}
