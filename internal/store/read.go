package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hygiene/internal/pipeline"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Record is a stored run.
type Record struct {
	Flowsheet string
	Digest    string

	// Run carries the stage results, config and failure as stored, with
	// History read back from the transitions table.
	Run *pipeline.Run
}

// Summary is one row of ListRuns.
type Summary struct {
	ID          string         `json:"id"`
	Flowsheet   string         `json:"flowsheet"`
	State       pipeline.State `json:"state"`
	Success     bool           `json:"success"`
	FailureCode pipeline.Code  `json:"failure_code,omitempty"`
	Transitions int            `json:"transitions"`
	Digest      string         `json:"digest"`
}

// LoadRun returns the stored run with the given id.
func (s *Store) LoadRun(ctx context.Context, id string) (*Record, error) {
	var (
		rec   Record
		state string
		doc   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT flowsheet, state, document, digest
		FROM runs
		WHERE id = ?
	`, id).Scan(&rec.Flowsheet, &state, &doc, &rec.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}

	var run pipeline.Run
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return nil, fmt.Errorf("load run %s: decode document: %w", id, err)
	}
	// The column is what listing and replay compare against.
	run.State = pipeline.State(state)

	history, err := s.readHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	run.History = history
	rec.Run = &run
	return &rec, nil
}

// History returns the transitions of a stored run ordered by seq.
func (s *Store) History(ctx context.Context, id string) ([]pipeline.Transition, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	history, err := s.readHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return history, nil
}

func (s *Store) readHistory(ctx context.Context, id string) ([]pipeline.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, from_state, to_state, action, success, message, details
		FROM transitions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	history := []pipeline.Transition{}
	for rows.Next() {
		var (
			t                pipeline.Transition
			from, to, action string
			success          int
			details          string
		)
		if err := rows.Scan(&t.Seq, &from, &to, &action, &success, &t.Message, &details); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To, t.Action = pipeline.State(from), pipeline.State(to), pipeline.Action(action)
		t.Success = success != 0
		if t.Details, err = unmarshalDetails(details); err != nil {
			return nil, fmt.Errorf("seq %d: %w", t.Seq, err)
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return history, nil
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	Flowsheet string
	State     pipeline.State

	// Limit caps the number of rows; zero or negative means no limit.
	Limit int
}

// ListRuns returns stored runs matching f in the order they were saved.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]Summary, error) {
	var (
		where []string
		args  []any
	)
	if f.Flowsheet != "" {
		where = append(where, "flowsheet = ?")
		args = append(args, f.Flowsheet)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	query := "SELECT id, flowsheet, state, success, failure_code, transitions, digest FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum         Summary
			state, code string
			success     int
		)
		if err := rows.Scan(&sum.ID, &sum.Flowsheet, &state, &success, &code, &sum.Transitions, &sum.Digest); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		sum.State = pipeline.State(state)
		sum.Success = success != 0
		sum.FailureCode = pipeline.Code(code)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}
