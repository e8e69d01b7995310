package flowsheet

// problem exposes a subset of the model (free variables and constraints)
// as a numeric.Problem. Fixed variables keep their model values.
type problem struct {
	m    *Model
	free []VarRef
	cons []ConRef
	vals []float64
}

func (m *Model) newProblem(free []VarRef, cons []ConRef) *problem {
	return &problem{m: m, free: free, cons: cons, vals: m.currentValues()}
}

// wholeProblem covers every free variable and every constraint.
func (m *Model) wholeProblem() *problem {
	var free []VarRef
	for i, v := range m.vars {
		if !v.fixed {
			free = append(free, VarRef(i))
		}
	}
	all := make([]ConRef, len(m.cons))
	for i := range m.cons {
		all[i] = ConRef(i)
	}
	return m.newProblem(free, all)
}

func (p *problem) Size() (int, int) { return len(p.free), len(p.cons) }

func (p *problem) Point(dst []float64) {
	for i, ref := range p.free {
		dst[i] = p.m.vars[ref].value
	}
}

func (p *problem) SetPoint(x []float64) {
	for i, ref := range p.free {
		p.m.vars[ref].value = x[i]
		p.vals[ref] = x[i]
	}
}

func (p *problem) Residuals(x, dst []float64) {
	for i, ref := range p.free {
		p.vals[ref] = x[i]
	}
	eval := p.m.evalAt(p.vals)
	for j, ref := range p.cons {
		dst[j] = p.m.cons[ref].fn(eval)
	}
}

func (p *problem) Bounds(i int) (float64, float64) {
	v := p.m.vars[p.free[i]]
	return lowerOf(v), upperOf(v)
}

func (p *problem) VarScale(i int) float64 {
	if v := p.m.vars[p.free[i]]; v.scaled {
		return v.scale
	}
	return 1
}

func (p *problem) ConScale(j int) float64 {
	if c := p.m.cons[p.cons[j]]; c.scaled {
		return c.scale
	}
	return 1
}
