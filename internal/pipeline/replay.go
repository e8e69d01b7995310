package pipeline

import (
	"errors"
	"fmt"
)

// ErrHistoryMismatch is wrapped by every Verify failure.
var ErrHistoryMismatch = errors.New("history mismatch")

// Replay walks history from IDLE through the state table and returns the
// state it ends in. Each transition must start where the previous one
// ended, follow an allowed edge, and carry a larger Seq than the last.
func Replay(history []Transition) (State, error) {
	state := StateIdle
	var last int64
	for i, t := range history {
		switch {
		case state.Terminal():
			return state, fmt.Errorf("transition %d: run already ended in %s", i, state)
		case t.From != state:
			return state, fmt.Errorf("transition %d: from %s, but run is in %s", i, t.From, state)
		case !CanTransition(t.From, t.To):
			return state, fmt.Errorf("transition %d: %s -> %s is not allowed", i, t.From, t.To)
		case t.Seq <= last:
			return state, fmt.Errorf("transition %d: seq %d does not follow %d", i, t.Seq, last)
		}
		last = t.Seq
		state = t.To
	}
	return state, nil
}

// Verify replays history and checks that it ends in want and, when digest
// is not empty, that it still hashes to digest.
func Verify(history []Transition, want State, digest string) error {
	got, err := Replay(history)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryMismatch, err)
	}
	if got != want {
		return fmt.Errorf("%w: replay ends in %s, recorded state is %s", ErrHistoryMismatch, got, want)
	}
	if digest == "" {
		return nil
	}
	sum, err := HistoryDigest(history)
	if err != nil {
		return err
	}
	if sum != digest {
		return fmt.Errorf("%w: digest %s, recorded %s", ErrHistoryMismatch, sum, digest)
	}
	return nil
}
