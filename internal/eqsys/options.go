package eqsys

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Solver defaults.
const (
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-8
)

// SolveOptions configures a solve. Zero fields take the defaults.
type SolveOptions struct {
	// MaxIterations bounds Newton iterations.
	MaxIterations int `mapstructure:"max_iter" json:"max_iter" yaml:"max_iter"`

	// Tolerance applies to scaled residuals.
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance" yaml:"tolerance"`

	// AbsTolerance applies to unscaled residuals.
	AbsTolerance float64 `mapstructure:"abs_tolerance" json:"abs_tolerance" yaml:"abs_tolerance"`
}

// DefaultSolveOptions returns the solver defaults.
func DefaultSolveOptions() SolveOptions {
	return SolveOptions{
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		AbsTolerance:  DefaultTolerance,
	}
}

// WithDefaults fills zero fields from DefaultSolveOptions.
func (o SolveOptions) WithDefaults() SolveOptions {
	d := DefaultSolveOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.AbsTolerance <= 0 {
		o.AbsTolerance = d.AbsTolerance
	}
	return o
}

// DecodeSolveOptions decodes a free-form option map (as found in config
// files) on top of the defaults. Unknown keys are rejected so a typo such as
// "max_iters" does not silently fall back to the default.
func DecodeSolveOptions(raw map[string]any) (SolveOptions, error) {
	opts := DefaultSolveOptions()
	if len(raw) == 0 {
		return opts, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, fmt.Errorf("solver options: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("solver options: %w", err)
	}
	return opts.WithDefaults(), nil
}
