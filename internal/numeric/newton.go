// Package numeric provides the damped Newton solver used by the in-memory
// flowsheet model.
package numeric

import (
	"context"
	"math"
)

// Problem is a square nonlinear system F(x) = 0 over bounded variables.
type Problem interface {
	// Size returns the number of variables and constraints.
	Size() (vars, cons int)

	// Point copies the current iterate into dst.
	Point(dst []float64)

	// SetPoint stores x as the current iterate.
	SetPoint(x []float64)

	// Residuals evaluates unscaled residuals at x without storing x.
	Residuals(x, dst []float64)

	// Bounds returns the bounds of variable i (±Inf when absent).
	Bounds(i int) (lo, hi float64)

	// VarScale and ConScale return scaling factors (1 when unscaled).
	VarScale(i int) float64
	ConScale(j int) float64
}

// Status is the solver's own termination code.
type Status int

const (
	Converged Status = iota
	MaxIterations
	Stalled
	Singular
	NotSquare
	Diverged
	Cancelled
)

var statusNames = map[Status]string{
	Converged:     "converged",
	MaxIterations: "max_iterations",
	Stalled:       "stalled",
	Singular:      "singular",
	NotSquare:     "not_square",
	Diverged:      "diverged",
	Cancelled:     "cancelled",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Options configures Solve.
type Options struct {
	MaxIterations int
	Tolerance     float64 // on scaled residuals
	AbsTolerance  float64 // on unscaled residuals
	MaxBacktracks int
}

// Result summarises a Solve call.
type Result struct {
	Status      Status
	Iterations  int
	MaxResidual float64 // unscaled infinity norm at the final iterate
	Worst       int     // index of the constraint with MaxResidual, -1 if none
}

// Solve runs Newton's method with a backtracking line search. Iterates are
// projected onto the variable bounds, starting with the initial point.
//
// The context is checked once per iteration; a cancelled context stops the
// iteration and leaves the last accepted iterate in place.
func Solve(ctx context.Context, p Problem, opts Options) Result {
	opts = withDefaults(opts)
	n, m := p.Size()
	if n != m {
		return Result{Status: NotSquare, Worst: -1}
	}
	if n == 0 {
		return Result{Status: Converged, Worst: -1}
	}

	x := make([]float64, n)
	p.Point(x)
	project(p, x)

	raw := make([]float64, m)
	r := make([]float64, m)
	p.Residuals(x, raw)
	scaleInto(p, raw, r)

	res := Result{Worst: -1}
	for iter := 0; ; iter++ {
		res.Iterations = iter
		res.MaxResidual, res.Worst = maxAbs(raw)

		if !finite(raw) {
			res.Status = Diverged
			break
		}
		if scaledMax, _ := maxAbs(r); scaledMax <= opts.Tolerance && res.MaxResidual <= opts.AbsTolerance {
			res.Status = Converged
			break
		}
		if iter >= opts.MaxIterations {
			res.Status = MaxIterations
			break
		}
		if ctx.Err() != nil {
			res.Status = Cancelled
			break
		}

		jac := jacobian(p, x, r)
		rhs := make([]float64, m)
		for i := range r {
			rhs[i] = -r[i]
		}
		dx, ok := solveDense(jac, rhs)
		if !ok {
			res.Status = Singular
			break
		}

		xn, rawn, rn, ok := lineSearch(p, x, dx, norm2(r), opts.MaxBacktracks)
		if !ok {
			res.Status = Stalled
			break
		}
		x, raw, r = xn, rawn, rn
	}

	p.SetPoint(x)
	return res
}

func withDefaults(o Options) Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 100
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-8
	}
	if o.AbsTolerance <= 0 {
		o.AbsTolerance = 1e-8
	}
	if o.MaxBacktracks <= 0 {
		o.MaxBacktracks = 20
	}
	return o
}

func lineSearch(p Problem, x, dx []float64, base float64, maxBacktracks int) (xn, raw, r []float64, ok bool) {
	n := len(x)
	_, m := p.Size()
	alpha := 1.0
	for k := 0; k <= maxBacktracks; k++ {
		xn = make([]float64, n)
		for i := range x {
			xn[i] = x[i] + alpha*dx[i]
		}
		project(p, xn)

		raw = make([]float64, m)
		r = make([]float64, m)
		p.Residuals(xn, raw)
		scaleInto(p, raw, r)
		if finite(raw) && norm2(r) < base {
			return xn, raw, r, true
		}
		alpha /= 2
	}
	return nil, nil, nil, false
}

// jacobian builds the forward-difference Jacobian of the scaled residuals.
// The step for variable i follows its typical magnitude (1/scale).
func jacobian(p Problem, x, r []float64) [][]float64 {
	n := len(x)
	m := len(r)
	jac := make([][]float64, m)
	for j := range jac {
		jac[j] = make([]float64, n)
	}

	xp := make([]float64, n)
	copy(xp, x)
	raw := make([]float64, m)
	for i := 0; i < n; i++ {
		typical := 1.0
		if s := p.VarScale(i); s > 0 {
			typical = 1 / s
		}
		h := 1e-7 * math.Max(math.Abs(x[i]), typical)
		xp[i] = x[i] + h
		p.Residuals(xp, raw)
		for j := 0; j < m; j++ {
			jac[j][i] = (raw[j]*p.ConScale(j) - r[j]) / h
		}
		xp[i] = x[i]
	}
	return jac
}

func project(p Problem, x []float64) {
	for i := range x {
		lo, hi := p.Bounds(i)
		if x[i] < lo {
			x[i] = lo
		}
		if x[i] > hi {
			x[i] = hi
		}
	}
}

func scaleInto(p Problem, raw, dst []float64) {
	for j := range raw {
		dst[j] = raw[j] * p.ConScale(j)
	}
}

func maxAbs(v []float64) (float64, int) {
	best, at := 0.0, -1
	for i, x := range v {
		if a := math.Abs(x); a > best || at < 0 {
			best, at = a, i
		}
	}
	return best, at
}

func norm2(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
