package flowspec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/flowsheet"
	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/units"
)

// Build validates the document and constructs a fresh model from it.
// Every call returns an independent model, so one document can back many
// concurrent runs.
func (d *Document) Build() (*flowsheet.Model, error) {
	if errs := d.Validate(); len(errs) > 0 {
		return nil, joinLoadErrors(errs)
	}

	m := flowsheet.New(d.Name, d.ComponentList())
	for i, u := range d.Units {
		if err := units.Add(m, u.Name, u.Type); err != nil {
			return nil, &LoadError{Code: ErrCodeGeneric, Field: fmt.Sprintf("units[%d]", i), Message: err.Error()}
		}
	}
	for i, s := range d.Streams {
		from, _ := parsePort(s.From)
		to, _ := parsePort(s.To)
		if err := m.Connect(d.StreamName(i), from, to); err != nil {
			return nil, &LoadError{Code: ErrCodeBadPort, Field: fmt.Sprintf("streams[%d]", i), Message: err.Error()}
		}
	}

	var errs []*LoadError
	for i, u := range d.Units {
		field := fmt.Sprintf("units[%d]", i)
		for _, local := range sortedKeys(u.Fix) {
			if err := m.Fix(eqsys.Join(u.Name, local), u.Fix[local]); err != nil {
				errs = append(errs, &LoadError{Code: ErrCodeBadPath, Field: field + ".fix", Message: err.Error()})
			}
		}
		for _, local := range sortedKeys(u.Bounds) {
			if err := applyBounds(m, eqsys.Join(u.Name, local), u.Bounds[local]); err != nil {
				errs = append(errs, &LoadError{Code: ErrCodeBadPath, Field: field + ".bounds", Message: err.Error()})
			}
		}
	}
	if len(errs) > 0 {
		return nil, joinLoadErrors(errs)
	}
	return m, nil
}

// applyBounds overlays b on the current bounds of every variable the path
// selects. A family path resolves to each member separately.
func applyBounds(m *flowsheet.Model, path string, b Bounds) error {
	paths, err := m.Resolve(path)
	if err != nil {
		return err
	}
	for _, p := range paths {
		cur, err := m.Bounds(p)
		if err != nil {
			return err
		}
		if b.Lower != nil {
			cur.Lower = b.Lower
		}
		if b.Upper != nil {
			cur.Upper = b.Upper
		}
		if cur.Lower != nil && cur.Upper != nil && *cur.Lower > *cur.Upper {
			return fmt.Errorf("bounds for %s: lower %g exceeds upper %g", p, *cur.Lower, *cur.Upper)
		}
		if err := m.SetBounds(p, cur); err != nil {
			return err
		}
	}
	return nil
}

// Table returns the registry's defaults table with the document's
// overrides merged in.
func (d *Document) Table() dof.Table {
	return units.DefaultTable().Merge(d.Defaults)
}

// Apply overlays the document's pipeline section on cfg, installs the
// merged defaults table and appends per-unit scaling factors. The result
// is validated.
func (d *Document) Apply(cfg pipeline.Config) (pipeline.Config, error) {
	if _, ok := d.Pipeline["defaults"]; ok {
		return cfg, &LoadError{Code: ErrCodeBadPipeline, Field: "pipeline.defaults", Message: "defaults belong in the top-level defaults section"}
	}
	if len(d.Pipeline) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			TagName:          "json",
			Result:           &cfg,
		})
		if err != nil {
			return cfg, fmt.Errorf("pipeline decoder: %w", err)
		}
		if err := dec.Decode(d.Pipeline); err != nil {
			return cfg, &LoadError{Code: ErrCodeBadPipeline, Field: "pipeline", Message: err.Error()}
		}
	}

	cfg.Defaults = d.Table()
	for _, u := range d.Units {
		for _, local := range sortedKeys(u.Scaling) {
			cfg.ScalingFactors = append(cfg.ScalingFactors, pipeline.FactorSpec{
				Path:   eqsys.Join(u.Name, local),
				Factor: u.Scaling[local],
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, &LoadError{Code: ErrCodeBadPipeline, Field: "pipeline", Message: err.Error()}
	}
	return cfg, nil
}

func joinLoadErrors(errs []*LoadError) error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return errors.Join(out...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
