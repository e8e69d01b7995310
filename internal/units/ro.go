package units

import (
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
)

// RO is a zero-dimensional reverse osmosis stage. recovery is the solvent
// fraction passing to permeate; rejection the solute fraction held back
// relative to that recovery.
type RO struct{}

func (RO) Type() string { return "ro" }

func (RO) Ports() ([]string, []string) {
	return []string{"inlet"}, []string{"permeate", "retentate"}
}

func (RO) Build(b *flowsheet.Builder) error {
	in, perm, ret := b.Port("inlet"), b.Port("permeate"), b.Port("retentate")
	recovery := b.Var("recovery", flowsheet.Value(0.5), flowsheet.Lower(0), flowsheet.Upper(1))
	rejection := b.Var("rejection", flowsheet.Value(0.99), flowsheet.Lower(0), flowsheet.Upper(1))
	drop := b.Var("pressure_drop", flowsheet.Value(0), flowsheet.Lower(0))
	pp := b.Var("permeate_pressure", flowsheet.Value(flowsheet.DefaultPressure),
		flowsheet.Lower(flowsheet.MinPressure), flowsheet.Upper(flowsheet.MaxPressure))

	comps := b.Components()
	solvent := comps[0]
	wi, wp := in.Flow[solvent], perm.Flow[solvent]
	b.Constraint("water_permeation", []flowsheet.VarRef{wi, wp, recovery}, func(v flowsheet.Eval) float64 {
		return v(wp) - v(recovery)*v(wi)
	})
	for _, c := range comps[1:] {
		si, sp := in.Flow[c], perm.Flow[c]
		b.Constraint(eqsys.FormatPath("solute_passage", c), []flowsheet.VarRef{si, sp, recovery, rejection}, func(v flowsheet.Eval) float64 {
			return v(sp) - (1-v(rejection))*v(recovery)*v(si)
		})
	}
	for _, c := range comps {
		fi, fp, fr := in.Flow[c], perm.Flow[c], ret.Flow[c]
		b.Constraint(eqsys.FormatPath("mass_balance", c), []flowsheet.VarRef{fi, fp, fr}, func(v flowsheet.Eval) float64 {
			return v(fi) - v(fp) - v(fr)
		})
	}
	b.Constraint("permeate_temperature", []flowsheet.VarRef{in.Temperature, perm.Temperature}, func(v flowsheet.Eval) float64 {
		return v(perm.Temperature) - v(in.Temperature)
	})
	b.Constraint("retentate_temperature", []flowsheet.VarRef{in.Temperature, ret.Temperature}, func(v flowsheet.Eval) float64 {
		return v(ret.Temperature) - v(in.Temperature)
	})
	b.Constraint("retentate_pressure", []flowsheet.VarRef{in.Pressure, ret.Pressure, drop}, func(v flowsheet.Eval) float64 {
		return v(ret.Pressure) - v(in.Pressure) + v(drop)
	})
	b.Constraint("permeate_pressure_balance", []flowsheet.VarRef{perm.Pressure, pp}, func(v flowsheet.Eval) float64 {
		return v(perm.Pressure) - v(pp)
	})
	return nil
}

func (RO) RequiredFixes() []Fix {
	return []Fix{
		{Variable: "recovery", Value: 0.5},
		{Variable: "rejection", Value: 0.99},
		{Variable: "pressure_drop", Value: 0},
		{Variable: "permeate_pressure", Value: flowsheet.DefaultPressure},
	}
}

func (RO) Initialize(u *flowsheet.UnitState) error {
	comps := u.Components()
	r, rej := u.Get("recovery"), u.Get("rejection")
	for i, c := range comps {
		f := u.Flow("inlet", c)
		p := r * f
		if i > 0 {
			p = (1 - rej) * r * f
		}
		u.SetFlow("permeate", c, p)
		u.SetFlow("retentate", c, f-p)
	}
	t := u.Get("inlet.temperature")
	u.Set("permeate.temperature", t)
	u.Set("retentate.temperature", t)
	u.Set("retentate.pressure", u.Get("inlet.pressure")-u.Get("pressure_drop"))
	u.Set("permeate.pressure", u.Get("permeate_pressure"))
	return nil
}

func (RO) Scale(s *flowsheet.UnitScaling) {
	s.Var("recovery", 1)
	s.Var("rejection", 1)
	s.Var("pressure_drop", 1e-5)
	s.Var("permeate_pressure", 1e-5)
	s.Constraint("water_permeation", 1)
	s.Constraint("solute_passage", 1)
	s.Constraint("mass_balance", 1)
	s.Constraint("permeate_temperature", 1e-2)
	s.Constraint("retentate_temperature", 1e-2)
	s.Constraint("retentate_pressure", 1e-5)
	s.Constraint("permeate_pressure_balance", 1e-5)
}
