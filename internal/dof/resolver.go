// Package dof brings each unit of an equation system to zero degrees of
// freedom by fixing variables from an ordered defaults table.
//
// The resolver only ever fixes variables that are currently free in the
// unit's own scope. Variables fixed by the caller are never touched, and an
// overspecified unit is reported, not corrected.
package dof

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hygiene/internal/eqsys"
)

// Status classifies a DOF count.
type Status string

const (
	StatusReady          Status = "ready"
	StatusUnderspecified Status = "underspecified"
	StatusOverspecified  Status = "overspecified"
)

// Classify maps a DOF count onto a Status.
func Classify(n int) Status {
	switch {
	case n > 0:
		return StatusUnderspecified
	case n < 0:
		return StatusOverspecified
	}
	return StatusReady
}

// System is the part of the equation system the resolver needs.
type System interface {
	eqsys.Topology
	eqsys.DOFCounter
	eqsys.Fixer
}

// Fix records one variable fixed by the resolver.
type Fix struct {
	Unit  string  `json:"unit"`
	Path  string  `json:"path"`
	Value float64 `json:"value"`
}

// PathFailure records a defaults entry whose path could not be resolved or
// fixed. It is captured, not returned.
type PathFailure struct {
	Unit     string `json:"unit"`
	Variable string `json:"variable"`
	Error    string `json:"error"`
}

// UnitDOF is the per-unit outcome.
type UnitDOF struct {
	Unit   string `json:"unit"`
	Type   string `json:"type"`
	Before int    `json:"before"`
	After  int    `json:"after"`
	Status Status `json:"status"`

	// Remaining lists the unit's free variables when it is still
	// underspecified; these are the candidates for a manual fix.
	Remaining []string `json:"remaining,omitempty"`
}

// Result is the outcome of Resolve.
type Result struct {
	Units  []UnitDOF     `json:"units"`
	Fixes  []Fix         `json:"fixes"`
	Errors []PathFailure `json:"errors,omitempty"`
	Total  int           `json:"total"`
	Status Status        `json:"status"`
}

// Unit returns the outcome for a named unit.
func (r *Result) Unit(name string) (UnitDOF, bool) {
	for _, u := range r.Units {
		if u.Unit == name {
			return u, true
		}
	}
	return UnitDOF{}, false
}

// UnitsWith returns the names of units with the given status.
func (r *Result) UnitsWith(s Status) []string {
	var out []string
	for _, u := range r.Units {
		if u.Status == s {
			out = append(out, u.Unit)
		}
	}
	return out
}

// Resolver fixes variables from a defaults table.
type Resolver struct {
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for per-fix debug output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve visits units in declaration order. For each unit with DOF > 0 it
// walks the unit type's table entries in order, expanding each entry to
// concrete paths and fixing free members one at a time until the unit's DOF
// reaches zero.
//
// Unresolvable entries are collected in Result.Errors. An error is returned
// only when DOF itself cannot be computed.
func (r *Resolver) Resolve(ctx context.Context, sys System, table Table) (*Result, error) {
	if sys == nil {
		return nil, fmt.Errorf("resolve dof: no equation system")
	}

	res := &Result{Fixes: []Fix{}}
	for _, u := range sys.Units() {
		before, err := sys.DegreesOfFreedom(u.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve dof: unit %s: %w", u.Name, err)
		}

		after := before
		if after > 0 {
			after, err = r.resolveUnit(ctx, sys, u, table, after, res)
			if err != nil {
				return nil, err
			}
		}

		ud := UnitDOF{Unit: u.Name, Type: u.Type, Before: before, After: after, Status: Classify(after)}
		if after > 0 {
			ud.Remaining, err = sys.UnfixedVariables(u.Name)
			if err != nil {
				return nil, fmt.Errorf("resolve dof: unit %s: %w", u.Name, err)
			}
		}
		res.Units = append(res.Units, ud)
	}

	total, err := sys.DegreesOfFreedom("")
	if err != nil {
		return nil, fmt.Errorf("resolve dof: system: %w", err)
	}
	res.Total = total
	res.Status = overall(res.Units, total)
	return res, nil
}

func (r *Resolver) resolveUnit(ctx context.Context, sys System, u eqsys.Unit, table Table, dof int, res *Result) (int, error) {
	for _, d := range table.For(u.Type) {
		if dof <= 0 {
			break
		}
		pattern := eqsys.Join(u.Name, d.Variable)
		paths, err := sys.Resolve(pattern)
		if err != nil {
			res.Errors = append(res.Errors, PathFailure{Unit: u.Name, Variable: pattern, Error: err.Error()})
			r.logger.DebugContext(ctx, "default not resolvable", "unit", u.Name, "path", pattern, "error", err)
			continue
		}

		free, err := sys.UnfixedVariables(u.Name)
		if err != nil {
			return 0, fmt.Errorf("resolve dof: unit %s: %w", u.Name, err)
		}
		isFree := make(map[string]bool, len(free))
		for _, p := range free {
			isFree[p] = true
		}

		for _, p := range paths {
			if dof <= 0 {
				break
			}
			if !isFree[p] {
				continue
			}
			if err := sys.Fix(p, d.Value); err != nil {
				res.Errors = append(res.Errors, PathFailure{Unit: u.Name, Variable: p, Error: err.Error()})
				continue
			}
			res.Fixes = append(res.Fixes, Fix{Unit: u.Name, Path: p, Value: d.Value})
			r.logger.DebugContext(ctx, "fixed default", "unit", u.Name, "path", p, "value", d.Value)

			dof, err = sys.DegreesOfFreedom(u.Name)
			if err != nil {
				return 0, fmt.Errorf("resolve dof: unit %s: %w", u.Name, err)
			}
		}
	}
	return dof, nil
}

// overall is Overspecified if any unit (or the system) is overspecified,
// else Underspecified if any is underspecified, else Ready.
func overall(units []UnitDOF, total int) Status {
	under := total > 0
	for _, u := range units {
		switch u.Status {
		case StatusOverspecified:
			return StatusOverspecified
		case StatusUnderspecified:
			under = true
		}
	}
	if total < 0 {
		return StatusOverspecified
	}
	if under {
		return StatusUnderspecified
	}
	return StatusReady
}
