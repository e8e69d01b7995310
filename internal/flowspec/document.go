// Package flowspec loads flowsheet description files.
//
// A description names the components, the units (type plus optional manual
// fixes, bounds and scaling factors), the streams joining them, overrides
// for the DOF defaults table, and an optional pipeline section that
// overrides run configuration. The same document can be written as YAML,
// JSON or CUE:
//
//	name: pump-train
//	components: [H2O, NaCl]
//	units:
//	  - name: feed
//	    type: feed
//	    fix:
//	      outlet.flow[H2O]: 1.0
//	      outlet.flow[NaCl]: 0.035
//	  - {name: pump, type: pump}
//	streams:
//	  - {name: s1, from: feed.outlet, to: pump.inlet}
//	pipeline:
//	  max_recovery_attempts: 2
//	  solve_timeout: 30s
package flowspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hygiene/internal/dof"
)

// DefaultComponents is used when a document lists none. The first entry
// is the solvent.
var DefaultComponents = []string{"H2O", "NaCl"}

// Document is a parsed flowsheet description.
type Document struct {
	Name       string    `json:"name" yaml:"name"`
	Components []string  `json:"components,omitempty" yaml:"components,omitempty"`
	Units      []Unit    `json:"units" yaml:"units"`
	Streams    []Stream  `json:"streams,omitempty" yaml:"streams,omitempty"`
	Defaults   dof.Table `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Pipeline holds run configuration overrides keyed like
	// pipeline.Config's JSON tags. See Apply.
	Pipeline map[string]any `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
}

// Unit declares one unit. Paths in Fix, Bounds and Scaling are local to
// the unit ("deltaP", "outlet.flow[H2O]", "outlet.flow").
type Unit struct {
	Name    string             `json:"name" yaml:"name"`
	Type    string             `json:"type" yaml:"type"`
	Fix     map[string]float64 `json:"fix,omitempty" yaml:"fix,omitempty"`
	Bounds  map[string]Bounds  `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Scaling map[string]float64 `json:"scaling,omitempty" yaml:"scaling,omitempty"`
}

// Bounds replaces a variable's bounds. A missing side keeps the model's
// declared bound.
type Bounds struct {
	Lower *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// Stream connects an outlet to an inlet, both written "unit.port". An
// empty name becomes "s<n>" by position.
type Stream struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// StreamName returns the declared or positional name of Streams[i].
func (d *Document) StreamName(i int) string {
	if n := d.Streams[i].Name; n != "" {
		return n
	}
	return fmt.Sprintf("s%d", i+1)
}

// ComponentList returns Components or DefaultComponents.
func (d *Document) ComponentList() []string {
	if len(d.Components) == 0 {
		return append([]string(nil), DefaultComponents...)
	}
	return append([]string(nil), d.Components...)
}

// Format is a description file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf maps a file extension onto a Format.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported file extension %q (want .yaml, .yml, .json or .cue)", filepath.Ext(path))}
}

// Load reads and parses a description file. It does not validate the
// document; see Validate.
func Load(path string) (*Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading flowsheet: %v", err)}
	}
	doc, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// Parse decodes data in the given format. filename is used only in error
// positions. Unknown fields are rejected.
func Parse(data []byte, format Format, filename string) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing YAML: %v", err)}
		}
	case FormatJSON:
		if err := decodeJSON(data, &doc); err != nil {
			return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing JSON: %v", err)}
		}
	case FormatCUE:
		if err := decodeCUE(data, filename, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported format %q", format)}
	}
	return &doc, nil
}

func decodeJSON(data []byte, doc *Document) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(doc)
}

// decodeCUE evaluates the file, requires a concrete result, and decodes
// its JSON form so that CUE and JSON documents share one decoder.
func decodeCUE(data []byte, filename string, doc *Document) error {
	v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cueLoadError(ErrCodeCUE, "building CUE value", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cueLoadError(ErrCodeCUE, "CUE value is not concrete", err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return cueLoadError(ErrCodeCUE, "exporting CUE value", err)
	}
	if err := decodeJSON(raw, doc); err != nil {
		return &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("decoding CUE value: %v", err)}
	}
	return nil
}

func cueLoadError(code, what string, err error) *LoadError {
	le := &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", what, err)}
	if pos := cueerrors.Positions(err); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}
