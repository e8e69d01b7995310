package cli

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordRuns(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := execute(t, "run", "--db", db, "--run-id", "run-a", "testdata/two-unit.yaml")
	require.NoError(t, err)
	_, err = execute(t, "run", "--db", db, "--run-id", "run-b", "testdata/bounded-pump.yaml")
	require.NoError(t, err)
	return db
}

func TestReplay_AllRuns(t *testing.T) {
	db := recordRuns(t)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 2 run(s)")
	assert.Contains(t, out, "✓ run-a: COMPLETED after 7 transitions")
	assert.Contains(t, out, "✓ run-b: COMPLETED after 8 transitions")
	assert.Contains(t, out, "✓ All runs verified")
}

func TestReplay_SingleRunJSON(t *testing.T) {
	db := recordRuns(t)

	out, err := execute(t, "--format", "json", "replay", "--db", db, "run-b")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllVerified)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, "run-b", resp.Data.Runs[0].RunID)
	assert.Equal(t, 8, resp.Data.Runs[0].Transitions)
	assert.Len(t, resp.Data.Runs[0].Digest, 64)
}

func TestReplay_DetectsTampering(t *testing.T) {
	db := recordRuns(t)

	raw, err := sql.Open("sqlite3", db)
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE transitions SET to_state = 'FAILED' WHERE run_id = 'run-a' AND seq = 7`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	out, err := execute(t, "replay", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ run-a")
	assert.Contains(t, out, "✓ run-b")
	assert.Contains(t, out, "✗ Replay verification failed")
}

func TestReplay_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found in database.")
}

func TestReplay_UnknownRun(t *testing.T) {
	db := recordRuns(t)
	_, err := execute(t, "replay", "--db", db, "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_Filters(t *testing.T) {
	db := recordRuns(t)

	out, err := execute(t, "replay", "--db", db, "--flowsheet", "bounded-pump")
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 run(s)")
	assert.Contains(t, out, "✓ run-b")
	assert.NotContains(t, out, "run-a")

	out, err = execute(t, "replay", "--db", db, "--state", "FAILED")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found in database.")
}

func TestReplay_FilterErrors(t *testing.T) {
	db := recordRuns(t)

	_, err := execute(t, "replay", "--db", db, "--state", "SOLVING")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "replay", "--db", db, "--flowsheet", "two-unit", "run-a")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_RequiresDB(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
}
