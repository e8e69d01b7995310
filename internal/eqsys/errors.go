package eqsys

import (
	"errors"
	"fmt"
)

// ErrPathNotFound is matched (via errors.Is) by every failure to resolve a
// variable, constraint, unit, port or stream path.
var ErrPathNotFound = errors.New("path not found")

// ErrInvalidFactor is returned for non-positive or non-finite scaling factors.
var ErrInvalidFactor = errors.New("invalid scaling factor")

// PathError records the operation and path that failed to resolve.
type PathError struct {
	Op     string
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: path not found (%s)", e.Op, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s %s: path not found", e.Op, e.Path)
}

// Is makes errors.Is(err, ErrPathNotFound) true for any *PathError.
func (e *PathError) Is(target error) bool {
	return target == ErrPathNotFound
}

// NotFound builds a PathError.
func NotFound(op, path string) *PathError {
	return &PathError{Op: op, Path: path}
}

// IsPathNotFound reports whether err (or anything it wraps) is a path
// resolution failure.
func IsPathNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound)
}
