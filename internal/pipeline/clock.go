package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Clock stamps transitions with a strictly increasing sequence number.
// Each run gets a fresh clock, so identical runs carry identical stamps and
// history never depends on wall time.
type Clock interface {
	Next() int64
	Current() int64
}

type logicalClock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() Clock {
	return &logicalClock{}
}

func (c *logicalClock) Next() int64    { return c.seq.Add(1) }
func (c *logicalClock) Current() int64 { return c.seq.Load() }

// RunIDGenerator produces run identities.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-sortable UUIDv7 run ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order and panics when they
// run out.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator over ids.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids used")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
