package numeric

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxCondition is the LU condition estimate above which a Newton step is
// not trusted and the Jacobian is reported singular.
const MaxCondition = 1e14

// factorize LU-factorizes a square matrix given by rows. It returns nil for
// empty or ragged input.
func factorize(a [][]float64) *mat.LU {
	n := len(a)
	if n == 0 {
		return nil
	}
	data := make([]float64, 0, n*n)
	for _, row := range a {
		if len(row) != n {
			return nil
		}
		data = append(data, row...)
	}
	var lu mat.LU
	lu.Factorize(mat.NewDense(n, n, data))
	return &lu
}

// solveDense solves a·x = b by LU with partial pivoting. It returns false
// when a is singular or its condition estimate exceeds MaxCondition.
func solveDense(a [][]float64, b []float64) ([]float64, bool) {
	lu := factorize(a)
	if lu == nil || len(b) != len(a) {
		return nil, false
	}
	if c := lu.Cond(); math.IsNaN(c) || c > MaxCondition {
		return nil, false
	}
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, mat.NewVecDense(len(b), b)); err != nil {
		return nil, false
	}
	return x.RawVector().Data, true
}

// Condition estimates the 1-norm condition number of the scaled Jacobian
// at p's current point. It reports false when p is empty, not square, or
// its residuals are not finite there.
func Condition(p Problem) (float64, bool) {
	n, m := p.Size()
	if n != m || n == 0 {
		return 0, false
	}
	x := make([]float64, n)
	p.Point(x)
	raw := make([]float64, m)
	p.Residuals(x, raw)
	if !finite(raw) {
		return 0, false
	}
	r := make([]float64, m)
	scaleInto(p, raw, r)

	lu := factorize(jacobian(p, x, r))
	if lu == nil {
		return 0, false
	}
	return lu.Cond(), true
}
