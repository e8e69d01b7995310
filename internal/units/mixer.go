package units

import (
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
)

// Mixer combines two inlets. Outlet pressure follows inlet_1 and outlet
// temperature is the flow-weighted mean.
type Mixer struct{}

func (Mixer) Type() string { return "mixer" }

func (Mixer) Ports() ([]string, []string) {
	return []string{"inlet_1", "inlet_2"}, []string{"outlet"}
}

func (Mixer) Build(b *flowsheet.Builder) error {
	in1, in2, out := b.Port("inlet_1"), b.Port("inlet_2"), b.Port("outlet")

	for _, c := range b.Components() {
		f1, f2, fo := in1.Flow[c], in2.Flow[c], out.Flow[c]
		b.Constraint(eqsys.FormatPath("flow_balance", c), []flowsheet.VarRef{f1, f2, fo}, func(v flowsheet.Eval) float64 {
			return v(fo) - v(f1) - v(f2)
		})
	}
	b.Constraint("pressure_balance", []flowsheet.VarRef{in1.Pressure, out.Pressure}, func(v flowsheet.Eval) float64 {
		return v(out.Pressure) - v(in1.Pressure)
	})

	vars := []flowsheet.VarRef{in1.Temperature, in2.Temperature, out.Temperature}
	vars = append(vars, in1.Flows...)
	vars = append(vars, in2.Flows...)
	vars = append(vars, out.Flows...)
	b.Constraint("energy_balance", vars, func(v flowsheet.Eval) float64 {
		return v(out.Temperature)*out.TotalFlow(v) -
			v(in1.Temperature)*in1.TotalFlow(v) - v(in2.Temperature)*in2.TotalFlow(v)
	}, flowsheet.Divisors(out.Flows...))
	return nil
}

func (Mixer) Initialize(u *flowsheet.UnitState) error {
	for _, c := range u.Components() {
		u.SetFlow("outlet", c, u.Flow("inlet_1", c)+u.Flow("inlet_2", c))
	}
	u.Set("outlet.pressure", u.Get("inlet_1.pressure"))

	f1, f2 := u.TotalFlow("inlet_1"), u.TotalFlow("inlet_2")
	if f1+f2 > 0 {
		u.Set("outlet.temperature", (u.Get("inlet_1.temperature")*f1+u.Get("inlet_2.temperature")*f2)/(f1+f2))
	} else {
		u.Set("outlet.temperature", u.Get("inlet_1.temperature"))
	}
	return nil
}

func (Mixer) Scale(s *flowsheet.UnitScaling) {
	s.Constraint("flow_balance", 1)
	s.Constraint("energy_balance", 1e-2)
	s.Constraint("pressure_balance", 1e-5)
}
