package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hygiene/internal/pipeline"
)

// ErrRunExists is returned by SaveRun when the id is already stored.
var ErrRunExists = errors.New("run already stored")

// ErrRunNotDone is returned by SaveRun for a run that has not reached a
// terminal state.
var ErrRunNotDone = errors.New("run not finished")

// SaveRun stores a finished run and its history in one transaction.
//
// The history digest is computed here and stored alongside the run; Replay
// recomputes it from the stored transitions.
func (s *Store) SaveRun(ctx context.Context, flowsheet string, run *pipeline.Run) error {
	if !run.Done() {
		return fmt.Errorf("save run %s: %w (state %s)", run.ID, ErrRunNotDone, run.State)
	}

	digest, err := run.Digest()
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	configJSON, err := marshalCanonical("config", run.Config)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	doc := *run
	doc.History = nil
	docJSON, err := marshalCanonical("run", doc)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	var failureCode string
	if run.Failure != nil {
		failureCode = string(run.Failure.Code)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run %s: begin tx: %w", run.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, flowsheet, state, success, failure_code, config, document, digest, transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		flowsheet,
		string(run.State),
		boolInt(run.Succeeded()),
		failureCode,
		configJSON,
		docJSON,
		digest,
		len(run.History),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save run %s: rows affected: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("save run %s: %w", run.ID, ErrRunExists)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transitions
		(run_id, seq, from_state, to_state, action, success, message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run %s: prepare: %w", run.ID, err)
	}
	defer stmt.Close()

	for _, t := range run.History {
		details, err := marshalDetails(t.Details)
		if err != nil {
			return fmt.Errorf("save run %s: seq %d: %w", run.ID, t.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			t.Seq,
			string(t.From),
			string(t.To),
			string(t.Action),
			boolInt(t.Success),
			t.Message,
			details,
		); err != nil {
			return fmt.Errorf("save run %s: seq %d: %w", run.ID, t.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run %s: commit: %w", run.ID, err)
	}
	return nil
}
