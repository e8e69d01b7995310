package flowspec

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/units"
)

// Error code constants, shared with the CLI's JSON output.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeFormat        = "E002" // Unsupported file format
	ErrCodeParse         = "E003" // YAML/JSON decode failed
	ErrCodeCUE           = "E004" // CUE build failed
	ErrCodeNotFound      = "E005" // File not found
	ErrCodeEmpty         = "E006" // No units declared
	ErrCodeUnknownType   = "E007" // Unregistered unit type
	ErrCodeDuplicateName = "E008" // Duplicate unit, stream or component name
	ErrCodeBadPort       = "E009" // Malformed or unknown port reference
	ErrCodeInletFedTwice = "E010" // Inlet or outlet used by two streams
	ErrCodeBadPath       = "E011" // Fix, bound or scaling path did not resolve
	ErrCodeBadPipeline   = "E012" // Invalid pipeline section
)

// LoadError is a problem with a flowsheet description.
type LoadError struct {
	Code    string
	Message string

	// Field locates the problem inside the document, e.g. "units[2].type".
	Field string

	// Pos is set for CUE errors.
	Pos token.Pos
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Errors returns the LoadErrors carried by err, which may be a single
// *LoadError or the joined errors of Build and Apply.
func Errors(err error) []*LoadError {
	var flat []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		flat = joined.Unwrap()
	} else if err != nil {
		flat = []error{err}
	}
	var out []*LoadError
	for _, e := range flat {
		var le *LoadError
		if errors.As(e, &le) {
			out = append(out, le)
		}
	}
	return out
}

// Validate checks the document's structure against the unit registry.
// Returns all errors found (does not fail-fast), in document order.
func (d *Document) Validate() []*LoadError {
	var errs []*LoadError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, &LoadError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	seenComp := make(map[string]bool)
	for i, c := range d.Components {
		field := fmt.Sprintf("components[%d]", i)
		switch {
		case !validName(c):
			add(ErrCodeGeneric, field, "invalid component name %q", c)
		case seenComp[c]:
			add(ErrCodeDuplicateName, field, "duplicate component %q", c)
		}
		seenComp[c] = true
	}

	if len(d.Units) == 0 {
		add(ErrCodeEmpty, "units", "flowsheet declares no units")
	}

	// Port names per declared unit; nil for units with an unknown type.
	inlets := make(map[string][]string)
	outlets := make(map[string][]string)
	for i, u := range d.Units {
		field := fmt.Sprintf("units[%d]", i)
		if !validName(u.Name) {
			add(ErrCodeGeneric, field+".name", "invalid unit name %q", u.Name)
			continue
		}
		if _, dup := inlets[u.Name]; dup {
			add(ErrCodeDuplicateName, field+".name", "duplicate unit %q", u.Name)
			continue
		}
		kind, ok := units.Lookup(u.Type)
		if !ok {
			add(ErrCodeUnknownType, field+".type", "unknown unit type %q (known: %s)", u.Type, strings.Join(units.Types(), ", "))
			inlets[u.Name] = nil
			continue
		}
		inlets[u.Name], outlets[u.Name] = kind.Ports()
		for _, path := range sortedKeys(u.Scaling) {
			if f := u.Scaling[path]; f <= 0 {
				add(ErrCodeBadPath, field+".scaling", "factor for %s must be > 0, got %g", path, f)
			}
		}
	}

	seenStream := make(map[string]bool)
	usedPort := make(map[string]string)
	for i, s := range d.Streams {
		field := fmt.Sprintf("streams[%d]", i)
		name := d.StreamName(i)
		if seenStream[name] {
			add(ErrCodeDuplicateName, field+".name", "duplicate stream %q", name)
		}
		seenStream[name] = true

		for _, end := range []struct {
			ref   string
			field string
			ports map[string][]string
			want  string
		}{
			{s.From, field + ".from", outlets, "outlet"},
			{s.To, field + ".to", inlets, "inlet"},
		} {
			p, err := parsePort(end.ref)
			if err != nil {
				add(ErrCodeBadPort, end.field, "%v", err)
				continue
			}
			names, declared := inlets[p.Unit]
			if !declared {
				add(ErrCodeBadPort, end.field, "unknown unit %q", p.Unit)
				continue
			}
			if names == nil && outlets[p.Unit] == nil {
				// Unknown type, already reported.
				continue
			}
			if !slices.Contains(end.ports[p.Unit], p.Port) {
				add(ErrCodeBadPort, end.field, "%s is not an %s of a %s unit", p, end.want, d.unitType(p.Unit))
				continue
			}
			if prev, used := usedPort[p.String()]; used {
				add(ErrCodeInletFedTwice, end.field, "%s %s is already connected by stream %q", end.want, p, prev)
				continue
			}
			usedPort[p.String()] = name
		}
	}
	return errs
}

func (d *Document) unitType(name string) string {
	for _, u := range d.Units {
		if u.Name == name {
			return u.Type
		}
	}
	return ""
}

// parsePort splits "unit.port".
func parsePort(ref string) (eqsys.Port, error) {
	unit, port, ok := strings.Cut(ref, ".")
	if !ok || !validName(unit) || !validName(port) {
		return eqsys.Port{}, fmt.Errorf("port reference %q must be unit.port", ref)
	}
	return eqsys.Port{Unit: unit, Port: port}, nil
}

// validName accepts non-empty names that cannot be mistaken for path
// syntax.
func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".[]*, \t\n")
}
