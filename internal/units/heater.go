package units

import "github.com/roach88/hygiene/internal/flowsheet"

// HeatCapacity is the liquid heat capacity used by energy balances, J/(kg K).
const HeatCapacity = 4184.0

// Heater adds heat_duty to the stream at constant pressure.
type Heater struct{}

func (Heater) Type() string { return "heater" }

func (Heater) Ports() ([]string, []string) { return []string{"inlet"}, []string{"outlet"} }

func (Heater) Build(b *flowsheet.Builder) error {
	in, out := b.Port("inlet"), b.Port("outlet")
	q := b.Var("heat_duty", flowsheet.Value(0))

	flowBalance(b, in, out)
	b.Constraint("pressure_balance", []flowsheet.VarRef{in.Pressure, out.Pressure}, func(v flowsheet.Eval) float64 {
		return v(out.Pressure) - v(in.Pressure)
	})
	vars := append([]flowsheet.VarRef{q, in.Temperature, out.Temperature}, in.Flows...)
	b.Constraint("energy_balance", vars, func(v flowsheet.Eval) float64 {
		return v(q) - HeatCapacity*in.TotalFlow(v)*(v(out.Temperature)-v(in.Temperature))
	})
	return nil
}

func (Heater) RequiredFixes() []Fix {
	return []Fix{{Variable: "heat_duty", Value: 0}}
}

func (Heater) Initialize(u *flowsheet.UnitState) error {
	copyFlows(u, "inlet", "outlet")
	u.Set("outlet.pressure", u.Get("inlet.pressure"))
	t := u.Get("inlet.temperature")
	if f := u.TotalFlow("inlet"); f > 0 {
		t += u.Get("heat_duty") / (HeatCapacity * f)
	}
	u.Set("outlet.temperature", t)
	return nil
}

func (Heater) Scale(s *flowsheet.UnitScaling) {
	s.Var("heat_duty", 1e-4)
	s.Constraint("flow_balance", 1)
	s.Constraint("energy_balance", 1e-4)
	s.Constraint("pressure_balance", 1e-5)
}
