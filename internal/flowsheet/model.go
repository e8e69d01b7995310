// Package flowsheet is an in-memory equation-oriented process model that
// implements eqsys.System.
//
// Units are kept in arena slices and addressed by index; variables and
// constraints likewise. Unit behaviour comes from a Kind, which declares
// ports, variables and constraints and may additionally implement
// Initializable and Scalable.
package flowsheet

import (
	"fmt"
	"math"

	"github.com/roach88/hygiene/internal/eqsys"
)

// Port state keys. Component flows are indexed: "flow[H2O]".
const (
	KeyFlow        = "flow"
	KeyTemperature = "temperature"
	KeyPressure    = "pressure"
)

// Typical port values and bounds.
const (
	DefaultFlow        = 1.0
	DefaultTemperature = 298.15
	DefaultPressure    = 101325.0

	MinTemperature = 273.15
	MaxTemperature = 373.15
	MinPressure    = 1e3
	MaxPressure    = 1e8
)

// VarRef and ConRef are arena indices.
type (
	VarRef int
	ConRef int
)

// Eval reads the value of a variable during residual evaluation.
type Eval func(VarRef) float64

// ResidualFunc computes a constraint residual; zero means satisfied.
type ResidualFunc func(v Eval) float64

type variable struct {
	path   string
	unit   int // owning unit index
	port   string
	key    string // port-relative key for port variables
	value  float64
	fixed  bool
	lower  *float64
	upper  *float64
	scale  float64
	scaled bool
	parsed eqsys.Path
}

type constraint struct {
	name     string
	unit     int
	arc      bool // stream equality, not counted in the unit's DOF
	vars     []VarRef
	divisors []VarRef
	fn       ResidualFunc
	scale    float64
	scaled   bool
}

type port struct {
	name   string
	inlet  bool
	keys   []string
	vars   map[string]VarRef
	stream int // -1 when unconnected
}

type unit struct {
	name   string
	kind   Kind
	ports  []*port
	byPort map[string]*port
	vars   []VarRef
	cons   []ConRef
}

type stream struct {
	name     string
	from, to eqsys.Port
}

// Model is a flowsheet instance. It is not safe for concurrent use; each
// pipeline run owns its own Model.
type Model struct {
	name       string
	components []string

	units   []*unit
	unitIdx map[string]int

	vars   []*variable
	varIdx map[string]VarRef

	cons   []*constraint
	conIdx map[string]ConRef

	streams   []stream
	streamIdx map[string]int
}

// New creates an empty model. The first component is treated as the
// solvent by kinds that care.
func New(name string, components []string) *Model {
	comps := make([]string, len(components))
	copy(comps, components)
	return &Model{
		name:       name,
		components: comps,
		unitIdx:    make(map[string]int),
		varIdx:     make(map[string]VarRef),
		conIdx:     make(map[string]ConRef),
		streamIdx:  make(map[string]int),
	}
}

// Name returns the flowsheet name.
func (m *Model) Name() string { return m.name }

// Components returns a copy of the component list.
func (m *Model) Components() []string {
	out := make([]string, len(m.components))
	copy(out, m.components)
	return out
}

// AddUnit declares a unit of the given kind and lets the kind build its
// variables and constraints.
func (m *Model) AddUnit(name string, kind Kind) error {
	if _, dup := m.unitIdx[name]; dup {
		return fmt.Errorf("add unit %s: duplicate unit name", name)
	}
	if len(m.components) == 0 {
		return fmt.Errorf("add unit %s: flowsheet has no components", name)
	}

	u := &unit{name: name, kind: kind, byPort: make(map[string]*port)}
	idx := len(m.units)
	m.units = append(m.units, u)
	m.unitIdx[name] = idx

	inlets, outlets := kind.Ports()
	for _, p := range inlets {
		m.addPort(idx, p, true)
	}
	for _, p := range outlets {
		m.addPort(idx, p, false)
	}

	b := &Builder{m: m, unit: idx}
	if err := kind.Build(b); err != nil {
		return fmt.Errorf("add unit %s: %w", name, err)
	}
	return b.err
}

func (m *Model) addPort(unitIdx int, name string, inlet bool) {
	u := m.units[unitIdx]
	p := &port{name: name, inlet: inlet, vars: make(map[string]VarRef), stream: -1}
	u.ports = append(u.ports, p)
	u.byPort[name] = p

	pressureLo, pressureHi := MinPressure, MaxPressure
	tempLo, tempHi := MinTemperature, MaxTemperature
	flowLo := 0.0

	for _, c := range m.components {
		key := eqsys.FormatPath(KeyFlow, c)
		p.add(key, m.newVar(unitIdx, name, key, DefaultFlow, &flowLo, nil))
	}
	p.add(KeyTemperature, m.newVar(unitIdx, name, KeyTemperature, DefaultTemperature, &tempLo, &tempHi))
	p.add(KeyPressure, m.newVar(unitIdx, name, KeyPressure, DefaultPressure, &pressureLo, &pressureHi))
}

func (p *port) add(key string, ref VarRef) {
	p.keys = append(p.keys, key)
	p.vars[key] = ref
}

func (m *Model) newVar(unitIdx int, portName, local string, value float64, lo, hi *float64) VarRef {
	u := m.units[unitIdx]
	full := u.name + "."
	if portName != "" {
		full += portName + "."
	}
	full += local

	ref := VarRef(len(m.vars))
	v := &variable{
		path:   full,
		unit:   unitIdx,
		port:   portName,
		value:  value,
		lower:  copyFloat(lo),
		upper:  copyFloat(hi),
		parsed: eqsys.MustParsePath(full),
	}
	if portName != "" {
		v.key = local
	}
	m.vars = append(m.vars, v)
	m.varIdx[full] = ref
	u.vars = append(u.vars, ref)
	return ref
}

func (m *Model) newConstraint(unitIdx int, name string, arc bool, vars []VarRef, fn ResidualFunc, divisors []VarRef) (ConRef, error) {
	if _, dup := m.conIdx[name]; dup {
		return 0, fmt.Errorf("duplicate constraint %s", name)
	}
	ref := ConRef(len(m.cons))
	m.cons = append(m.cons, &constraint{
		name:     name,
		unit:     unitIdx,
		arc:      arc,
		vars:     append([]VarRef(nil), vars...),
		divisors: append([]VarRef(nil), divisors...),
		fn:       fn,
	})
	m.conIdx[name] = ref
	if !arc {
		m.units[unitIdx].cons = append(m.units[unitIdx].cons, ref)
	}
	return ref, nil
}

// Connect adds a stream from an outlet port to an inlet port together with
// one equality constraint per state key.
func (m *Model) Connect(name string, from, to eqsys.Port) error {
	if _, dup := m.streamIdx[name]; dup {
		return fmt.Errorf("connect %s: duplicate stream name", name)
	}
	src, err := m.port(from)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	dst, err := m.port(to)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	if src.inlet {
		return fmt.Errorf("connect %s: %s is not an outlet", name, from)
	}
	if !dst.inlet {
		return fmt.Errorf("connect %s: %s is not an inlet", name, to)
	}
	if src.stream >= 0 {
		return fmt.Errorf("connect %s: outlet %s already connected", name, from)
	}
	if dst.stream >= 0 {
		return fmt.Errorf("connect %s: inlet %s already connected", name, to)
	}

	idx := len(m.streams)
	dstUnit := m.unitIdx[to.Unit]
	for _, key := range dst.keys {
		in, out := dst.vars[key], src.vars[key]
		conName := name + "." + key
		fn := func(v Eval) float64 { return v(in) - v(out) }
		if _, err := m.newConstraint(dstUnit, conName, true, []VarRef{in, out}, fn, nil); err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}
	}

	m.streams = append(m.streams, stream{name: name, from: from, to: to})
	m.streamIdx[name] = idx
	src.stream = idx
	dst.stream = idx
	return nil
}

func (m *Model) unit(name string) (*unit, error) {
	idx, ok := m.unitIdx[name]
	if !ok {
		return nil, eqsys.NotFound("unit", name)
	}
	return m.units[idx], nil
}

func (m *Model) port(ref eqsys.Port) (*port, error) {
	u, err := m.unit(ref.Unit)
	if err != nil {
		return nil, err
	}
	p, ok := u.byPort[ref.Port]
	if !ok {
		return nil, eqsys.NotFound("port", ref.String())
	}
	return p, nil
}

// connectedInlet reports whether the variable sits on an inlet fed by a
// stream.
func (m *Model) connectedInlet(v *variable) bool {
	if v.port == "" {
		return false
	}
	p := m.units[v.unit].byPort[v.port]
	return p.inlet && p.stream >= 0
}

func (m *Model) evalAt(values []float64) Eval {
	return func(r VarRef) float64 { return values[r] }
}

func (m *Model) currentValues() []float64 {
	vals := make([]float64, len(m.vars))
	for i, v := range m.vars {
		vals[i] = v.value
	}
	return vals
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func lowerOf(v *variable) float64 {
	if v.lower == nil {
		return math.Inf(-1)
	}
	return *v.lower
}

func upperOf(v *variable) float64 {
	if v.upper == nil {
		return math.Inf(1)
	}
	return *v.upper
}
