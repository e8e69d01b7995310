package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/testutil"
	"github.com/roach88/hygiene/internal/units"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// completedRun runs the two-unit fixture to completion.
func completedRun(t *testing.T, id string) *pipeline.Run {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Defaults = units.DefaultTable()
	run, err := pipeline.New().RunWithID(context.Background(), id, testutil.TwoUnitModel(t), cfg)
	if err != nil {
		t.Fatalf("RunWithID() failed: %v", err)
	}
	if run.State != pipeline.StateCompleted {
		t.Fatalf("run ended in %s: %v", run.State, run.Failure)
	}
	return run
}

// failedRun runs the two-unit fixture without defaults, which fails the
// DOF check.
func failedRun(t *testing.T, id string) *pipeline.Run {
	t.Helper()
	run, err := pipeline.New().RunWithID(context.Background(), id, testutil.TwoUnitModel(t), pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("RunWithID() failed: %v", err)
	}
	if run.State != pipeline.StateFailed {
		t.Fatalf("run ended in %s, want FAILED", run.State)
	}
	return run
}
