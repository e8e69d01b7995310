package dof

// Default is one entry of the defaults table: when a unit of UnitType is
// underspecified, Variable (unit-local, may be a family or wildcard path)
// is fixed to Value.
type Default struct {
	UnitType string  `json:"unit_type" yaml:"unit_type"`
	Variable string  `json:"variable" yaml:"variable"`
	Value    float64 `json:"value" yaml:"value"`
}

// Table is an ordered defaults table. Entry order is the order in which
// the resolver tries fixes for a unit.
type Table []Default

// For returns the entries for a unit type in table order.
func (t Table) For(unitType string) []Default {
	var out []Default
	for _, d := range t {
		if d.UnitType == unitType {
			out = append(out, d)
		}
	}
	return out
}

// Merge returns a new table where overrides replace entries with the same
// unit type and variable in place. Overrides that match nothing are
// appended in their own order.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t))
	copy(out, t)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].UnitType == o.UnitType && out[i].Variable == o.Variable {
				out[i].Value = o.Value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
