package store

import (
	"context"
	"fmt"

	"github.com/roach88/hygiene/internal/pipeline"
)

// ReplayResult summarizes a successful replay.
type ReplayResult struct {
	RunID       string         `json:"run_id"`
	State       pipeline.State `json:"state"`
	Digest      string         `json:"digest"`
	Transitions int            `json:"transitions"`
}

// Replay rebuilds the final state of a stored run from its transitions
// alone and checks it against the stored state and digest. A mismatch
// wraps pipeline.ErrHistoryMismatch.
//
// Replay never touches an equation system; it re-walks the recorded
// decisions, so it is deterministic and safe to run any number of times.
func (s *Store) Replay(ctx context.Context, id string) (*ReplayResult, error) {
	rec, err := s.LoadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Verify(rec.Run.History, rec.Run.State, rec.Digest); err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}
	return &ReplayResult{
		RunID:       id,
		State:       rec.Run.State,
		Digest:      rec.Digest,
		Transitions: len(rec.Run.History),
	}, nil
}
