package units

import (
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
)

// Splitter divides its inlet between two outlets by split_fraction (the
// share sent to outlet_1).
type Splitter struct{}

func (Splitter) Type() string { return "splitter" }

func (Splitter) Ports() ([]string, []string) {
	return []string{"inlet"}, []string{"outlet_1", "outlet_2"}
}

func (Splitter) Build(b *flowsheet.Builder) error {
	in, o1, o2 := b.Port("inlet"), b.Port("outlet_1"), b.Port("outlet_2")
	sf := b.Var("split_fraction", flowsheet.Value(0.5), flowsheet.Lower(0), flowsheet.Upper(1))

	for _, c := range b.Components() {
		fi, f1, f2 := in.Flow[c], o1.Flow[c], o2.Flow[c]
		b.Constraint(eqsys.FormatPath("split", c), []flowsheet.VarRef{fi, f1, sf}, func(v flowsheet.Eval) float64 {
			return v(f1) - v(sf)*v(fi)
		})
		b.Constraint(eqsys.FormatPath("balance", c), []flowsheet.VarRef{fi, f1, f2}, func(v flowsheet.Eval) float64 {
			return v(fi) - v(f1) - v(f2)
		})
	}
	for i, out := range []flowsheet.PortVars{o1, o2} {
		suffix := []string{"_1", "_2"}[i]
		b.Constraint("temperature"+suffix, []flowsheet.VarRef{in.Temperature, out.Temperature}, func(v flowsheet.Eval) float64 {
			return v(out.Temperature) - v(in.Temperature)
		})
		b.Constraint("pressure"+suffix, []flowsheet.VarRef{in.Pressure, out.Pressure}, func(v flowsheet.Eval) float64 {
			return v(out.Pressure) - v(in.Pressure)
		})
	}
	return nil
}

func (Splitter) RequiredFixes() []Fix {
	return []Fix{{Variable: "split_fraction", Value: 0.5}}
}

func (Splitter) Initialize(u *flowsheet.UnitState) error {
	sf := u.Get("split_fraction")
	for _, c := range u.Components() {
		f := u.Flow("inlet", c)
		u.SetFlow("outlet_1", c, sf*f)
		u.SetFlow("outlet_2", c, (1-sf)*f)
	}
	for _, out := range []string{"outlet_1", "outlet_2"} {
		u.Set(out+".temperature", u.Get("inlet.temperature"))
		u.Set(out+".pressure", u.Get("inlet.pressure"))
	}
	return nil
}

func (Splitter) Scale(s *flowsheet.UnitScaling) {
	s.Var("split_fraction", 1)
	s.Constraint("split", 1)
	s.Constraint("balance", 1)
	s.Constraint("temperature_1", 1e-2)
	s.Constraint("temperature_2", 1e-2)
	s.Constraint("pressure_1", 1e-5)
	s.Constraint("pressure_2", 1e-5)
}
