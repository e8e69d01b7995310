// Package units provides the unit operation kinds of the reference
// flowsheet model and the registry that maps declared unit types to them.
//
// components[0] of a flowsheet is the solvent; kinds that distinguish
// solvent from solutes (ro) rely on that ordering.
package units

import (
	"fmt"
	"sort"

	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/flowsheet"
)

// Fix is a required-fix entry: a unit-local variable path and the typical
// value it is fixed to when the caller leaves it free.
type Fix struct {
	Variable string
	Value    float64
}

// Specified kinds declare the variables the DOF resolver may fix, in the
// order they should be tried.
type Specified interface {
	RequiredFixes() []Fix
}

// Factory creates a fresh kind value.
type Factory func() flowsheet.Kind

var registry = map[string]Factory{
	"feed":     func() flowsheet.Kind { return Feed{} },
	"product":  func() flowsheet.Kind { return Product{} },
	"pump":     func() flowsheet.Kind { return Pump{} },
	"heater":   func() flowsheet.Kind { return Heater{} },
	"mixer":    func() flowsheet.Kind { return Mixer{} },
	"splitter": func() flowsheet.Kind { return Splitter{} },
	"ro":       func() flowsheet.Kind { return RO{} },
}

// Lookup returns the kind registered for typ.
func Lookup(typ string) (flowsheet.Kind, bool) {
	f, ok := registry[typ]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Add declares a unit of the registered type typ on m.
func Add(m *flowsheet.Model, name, typ string) error {
	kind, ok := Lookup(typ)
	if !ok {
		return fmt.Errorf("add unit %s: unknown unit type %q", name, typ)
	}
	return m.AddUnit(name, kind)
}

// Types returns the registered type names in sorted order.
func Types() []string {
	out := make([]string, 0, len(registry))
	for typ := range registry {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// DefaultTable builds the DOF defaults table from the required fixes of
// every registered kind. Types are visited in sorted order and each kind's
// fixes keep their declared order.
func DefaultTable() dof.Table {
	var table dof.Table
	for _, typ := range Types() {
		spec, ok := registry[typ]().(Specified)
		if !ok {
			continue
		}
		for _, fix := range spec.RequiredFixes() {
			table = append(table, dof.Default{UnitType: typ, Variable: fix.Variable, Value: fix.Value})
		}
	}
	return table
}
