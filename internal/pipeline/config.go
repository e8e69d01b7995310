package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/hygiene/internal/diagnostics"
	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/eqsys"
	"github.com/roach88/hygiene/internal/recovery"
	"github.com/roach88/hygiene/internal/scaling"
)

// FactorSpec is a manual scaling factor applied before computed factors.
type FactorSpec struct {
	Path   string  `json:"path" yaml:"path"`
	Factor float64 `json:"factor" yaml:"factor"`
}

// Config controls one run.
type Config struct {
	EnableRelaxedSolve  bool    `json:"enable_relaxed_solve" yaml:"enable_relaxed_solve"`
	MaxRecoveryAttempts int     `json:"max_recovery_attempts" yaml:"max_recovery_attempts"`
	ResidualTolerance   float64 `json:"residual_tolerance" yaml:"residual_tolerance"`
	ScalingBeforeInit   bool    `json:"scaling_before_init" yaml:"scaling_before_init"`

	// SolveTimeout bounds each solve call. Zero means no limit. A timed
	// out solve is treated as max_iterations.
	SolveTimeout time.Duration `json:"solve_timeout" yaml:"solve_timeout"`

	// TearStreams are torn before any heuristic selection. MaxTears caps
	// the number of heuristic tears; zero means unlimited.
	TearStreams []string `json:"tear_streams,omitempty" yaml:"tear_streams,omitempty"`
	MaxTears    int      `json:"max_tears" yaml:"max_tears"`

	BoundRelaxFraction float64 `json:"bound_relax_fraction" yaml:"bound_relax_fraction"`
	MaxBoundViolations int     `json:"max_bound_violations" yaml:"max_bound_violations"`
	ScalingThreshold   float64 `json:"scaling_threshold" yaml:"scaling_threshold"`

	// SolverOptions is decoded into eqsys.SolveOptions; unknown keys are
	// rejected by Validate.
	SolverOptions map[string]any `json:"solver_options,omitempty" yaml:"solver_options,omitempty"`

	ScalingFactors []FactorSpec `json:"scaling_factors,omitempty" yaml:"scaling_factors,omitempty"`

	// Defaults is the DOF defaults table.
	Defaults dof.Table `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// StateArgs supplies inlet state per unit for unconnected or torn
	// inlets.
	StateArgs map[string]eqsys.StateArgs `json:"state_args,omitempty" yaml:"state_args,omitempty"`
}

// DefaultConfig returns the default configuration with an empty defaults
// table.
func DefaultConfig() Config {
	return Config{
		EnableRelaxedSolve:  true,
		MaxRecoveryAttempts: recovery.DefaultMaxAttempts,
		ResidualTolerance:   diagnostics.DefaultTolerance,
		ScalingBeforeInit:   true,
		BoundRelaxFraction:  recovery.DefaultRelaxFraction,
		MaxBoundViolations:  diagnostics.DefaultMaxViolations,
		ScalingThreshold:    scaling.DefaultThreshold,
	}
}

// Validate checks ranges and decodes SolverOptions.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRecoveryAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_recovery_attempts must be >= 0, got %d", c.MaxRecoveryAttempts))
	}
	if c.ResidualTolerance <= 0 {
		errs = append(errs, fmt.Errorf("residual_tolerance must be > 0, got %g", c.ResidualTolerance))
	}
	if c.SolveTimeout < 0 {
		errs = append(errs, fmt.Errorf("solve_timeout must be >= 0, got %s", c.SolveTimeout))
	}
	if c.MaxTears < 0 {
		errs = append(errs, fmt.Errorf("max_tears must be >= 0, got %d", c.MaxTears))
	}
	if c.BoundRelaxFraction <= 0 || c.BoundRelaxFraction > 10 {
		errs = append(errs, fmt.Errorf("bound_relax_fraction must be in (0, 10], got %g", c.BoundRelaxFraction))
	}
	if c.MaxBoundViolations <= 0 {
		errs = append(errs, fmt.Errorf("max_bound_violations must be > 0, got %d", c.MaxBoundViolations))
	}
	if c.ScalingThreshold <= 0 || c.ScalingThreshold >= 1 {
		errs = append(errs, fmt.Errorf("scaling_threshold must be in (0, 1), got %g", c.ScalingThreshold))
	}
	for _, f := range c.ScalingFactors {
		if f.Factor <= 0 {
			errs = append(errs, fmt.Errorf("scaling factor for %s must be > 0, got %g", f.Path, f.Factor))
		}
	}
	if _, err := c.SolveOptions(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SolveOptions decodes SolverOptions on top of the solver defaults.
func (c Config) SolveOptions() (eqsys.SolveOptions, error) {
	return eqsys.DecodeSolveOptions(c.SolverOptions)
}
