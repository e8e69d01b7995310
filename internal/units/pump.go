package units

import (
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
)

// Pump raises pressure by deltaP. Work is deltaP times total flow, in kW
// for flows in kg/s of water.
type Pump struct{}

func (Pump) Type() string { return "pump" }

func (Pump) Ports() ([]string, []string) { return []string{"inlet"}, []string{"outlet"} }

func (Pump) Build(b *flowsheet.Builder) error {
	in, out := b.Port("inlet"), b.Port("outlet")
	dp := b.Var("deltaP", flowsheet.Value(1e5), flowsheet.Lower(0), flowsheet.Upper(1e8))
	work := b.Var("work", flowsheet.Value(0))

	flowBalance(b, in, out)
	b.Constraint("temperature_balance", []flowsheet.VarRef{in.Temperature, out.Temperature}, func(v flowsheet.Eval) float64 {
		return v(out.Temperature) - v(in.Temperature)
	})
	b.Constraint("pressure_balance", []flowsheet.VarRef{in.Pressure, out.Pressure, dp}, func(v flowsheet.Eval) float64 {
		return v(out.Pressure) - v(in.Pressure) - v(dp)
	})
	b.Constraint("work_balance", append([]flowsheet.VarRef{work, dp}, in.Flows...), func(v flowsheet.Eval) float64 {
		return v(work) - v(dp)*in.TotalFlow(v)/1000
	})
	return nil
}

func (Pump) RequiredFixes() []Fix {
	return []Fix{{Variable: "deltaP", Value: 1e5}}
}

func (Pump) Initialize(u *flowsheet.UnitState) error {
	copyFlows(u, "inlet", "outlet")
	u.Set("outlet.temperature", u.Get("inlet.temperature"))
	dp := u.Get("deltaP")
	u.Set("outlet.pressure", u.Get("inlet.pressure")+dp)
	u.Set("work", dp*u.TotalFlow("inlet")/1000)
	return nil
}

func (Pump) Scale(s *flowsheet.UnitScaling) {
	s.Var("deltaP", 1e-5)
	s.Var("work", 1e-3)
	s.Constraint("flow_balance", 1)
	s.Constraint("temperature_balance", 1e-2)
	s.Constraint("pressure_balance", 1e-5)
	s.Constraint("work_balance", 1e-3)
}

// flowBalance declares flow_balance[c]: outlet flow equals inlet flow.
func flowBalance(b *flowsheet.Builder, in, out flowsheet.PortVars) {
	for _, c := range b.Components() {
		fi, fo := in.Flow[c], out.Flow[c]
		b.Constraint(eqsys.FormatPath("flow_balance", c), []flowsheet.VarRef{fi, fo}, func(v flowsheet.Eval) float64 {
			return v(fo) - v(fi)
		})
	}
}

func copyFlows(u *flowsheet.UnitState, from, to string) {
	for _, c := range u.Components() {
		u.SetFlow(to, c, u.Flow(from, c))
	}
}
