// Package status holds the latest state of each pipeline run for polling
// callers.
//
// The pipeline writes a Snapshot after every transition. Two backends are
// provided: Memory for a single process and Redis for callers that poll
// from another process.
package status

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no snapshot exists for a run.
var ErrNotFound = errors.New("run status not found")

// Snapshot is the current state of one run.
type Snapshot struct {
	RunID   string `json:"run_id"`
	State   string `json:"state"`
	Message string `json:"message"`
	Seq     int64  `json:"seq"`
	Done    bool   `json:"done"`
	Success bool   `json:"success"`
}

// Store reads and writes snapshots.
type Store interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, runID string) (Snapshot, error)
}

// DefaultCapacity is the number of finished runs Memory keeps.
const DefaultCapacity = 1024

// Memory is an in-process Store. Finished runs beyond its capacity are
// evicted oldest first; runs still in progress are never evicted.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]Snapshot
	done     []string
	capacity int
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithCapacity sets how many finished runs are kept. Zero or less keeps
// them all.
func WithCapacity(n int) MemoryOption {
	return func(m *Memory) { m.capacity = n }
}

// NewMemory creates an empty Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{runs: make(map[string]Snapshot), capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put replaces the snapshot for s.RunID. Older sequence numbers never
// overwrite newer ones.
func (m *Memory) Put(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[s.RunID]
	if ok && cur.Seq > s.Seq {
		return nil
	}
	m.runs[s.RunID] = s
	if s.Done && !cur.Done {
		m.done = append(m.done, s.RunID)
		m.evict()
	}
	return nil
}

func (m *Memory) evict() {
	if m.capacity <= 0 {
		return
	}
	for len(m.done) > m.capacity {
		delete(m.runs, m.done[0])
		m.done = m.done[1:]
	}
}

// Len returns the number of runs held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Get returns the snapshot for runID.
func (m *Memory) Get(_ context.Context, runID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[runID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}
