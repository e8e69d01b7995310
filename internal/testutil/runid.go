package testutil

import (
	"fmt"
	"sync"
)

// RunIDs hands out predictable run identifiers ("test-run-0001", ...) so
// golden output and stored histories do not depend on UUID generation.
type RunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewRunIDs creates a generator. An empty prefix means "test-run".
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &RunIDs{prefix: prefix}
}

// Generate returns the next identifier. Implements pipeline.RunIDGenerator.
func (g *RunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
