package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/pipeline"
)

// =============================================================================
// SaveRun / LoadRun
// =============================================================================

func TestSaveRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := completedRun(t, "run-1")

	require.NoError(t, s.SaveRun(ctx, "two-unit", run))

	rec, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "two-unit", rec.Flowsheet)
	assert.Equal(t, pipeline.StateCompleted, rec.Run.State)
	assert.Equal(t, run.History, rec.Run.History)
	assert.Equal(t, run.Config, rec.Run.Config)
	require.NotNil(t, rec.Run.DOF)
	assert.Equal(t, run.DOF.Fixes, rec.Run.DOF.Fixes)

	want, err := run.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, rec.Digest)

	got, err := rec.Run.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got, "history read back must hash to the stored digest")
}

func TestSaveRun_Failed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, "two-unit", failedRun(t, "run-f")))

	rec, err := s.LoadRun(ctx, "run-f")
	require.NoError(t, err)
	require.NotNil(t, rec.Run.Failure)
	assert.Equal(t, pipeline.CodeUnderspecified, rec.Run.Failure.Code)
	assert.Len(t, rec.Run.History, 2)
}

func TestSaveRun_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := completedRun(t, "dup")

	require.NoError(t, s.SaveRun(ctx, "a", run))
	err := s.SaveRun(ctx, "a", run)
	assert.ErrorIs(t, err, ErrRunExists)

	history, err := s.History(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, history, len(run.History))
}

func TestSaveRun_NotDone(t *testing.T) {
	s := createTestStore(t)
	run := &pipeline.Run{ID: "busy", State: pipeline.StateSolving}

	err := s.SaveRun(context.Background(), "x", run)
	assert.ErrorIs(t, err, ErrRunNotDone)
}

func TestLoadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.History(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHistory_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, "two-unit", completedRun(t, "r")))

	history, err := s.History(ctx, "r")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
	}
	assert.Nil(t, history[0].Details)
}

// =============================================================================
// ListRuns
// =============================================================================

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, "two-unit", completedRun(t, "b")))
	require.NoError(t, s.SaveRun(ctx, "two-unit", failedRun(t, "a")))

	all, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "b", all[0].ID)
	assert.True(t, all[0].Success)
	assert.Empty(t, all[0].FailureCode)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, pipeline.StateFailed, all[1].State)
	assert.Equal(t, pipeline.CodeUnderspecified, all[1].FailureCode)
	assert.Equal(t, 2, all[1].Transitions)

	one, err := s.ListRuns(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestListRuns_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, "two-unit", completedRun(t, "a")))
	require.NoError(t, s.SaveRun(ctx, "two-unit", failedRun(t, "b")))
	require.NoError(t, s.SaveRun(ctx, "other", completedRun(t, "c")))

	ids := func(runs []Summary) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"flowsheet", Filter{Flowsheet: "two-unit"}, []string{"a", "b"}},
		{"state", Filter{State: pipeline.StateCompleted}, []string{"a", "c"}},
		{"both", Filter{Flowsheet: "two-unit", State: pipeline.StateFailed}, []string{"b"}},
		{"both with limit", Filter{State: pipeline.StateCompleted, Limit: 1}, []string{"a"}},
		{"no match", Filter{Flowsheet: "missing"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(runs))
		})
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)

	runs, err := s.ListRuns(context.Background(), Filter{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

// =============================================================================
// Replay
// =============================================================================

func TestReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := completedRun(t, "r")
	require.NoError(t, s.SaveRun(ctx, "two-unit", run))

	res, err := s.Replay(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCompleted, res.State)
	assert.Equal(t, len(run.History), res.Transitions)

	again, err := s.Replay(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestReplay_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper string
	}{
		{"edited message", `UPDATE transitions SET message = 'edited' WHERE run_id = 'r' AND seq = 3`},
		{"edited final state", `UPDATE runs SET state = 'FAILED' WHERE id = 'r'`},
		{"dropped transition", `DELETE FROM transitions WHERE run_id = 'r' AND seq = 4`},
		{"edited digest", `UPDATE runs SET digest = 'abc' WHERE id = 'r'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			ctx := context.Background()
			require.NoError(t, s.SaveRun(ctx, "two-unit", completedRun(t, "r")))

			_, err := s.db.Exec(tt.tamper)
			require.NoError(t, err)

			_, err = s.Replay(ctx, "r")
			require.Error(t, err)
			assert.True(t, errors.Is(err, pipeline.ErrHistoryMismatch), err)
		})
	}
}

func TestReplay_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Replay(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
