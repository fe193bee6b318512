package testutil

import (
	"context"
	"sync"
	"time"
)

// Checkpoints is an in-memory scan watermark store.
type Checkpoints struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewCheckpoints creates an empty checkpoint store.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{seen: make(map[string]time.Time)}
}

// LastScan implements producer.CheckpointStore.
func (c *Checkpoints) LastScan(_ context.Context, resolverKey string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.seen[resolverKey]
	return at, ok, nil
}

// SetLastScan implements producer.CheckpointStore.
func (c *Checkpoints) SetLastScan(_ context.Context, resolverKey string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[resolverKey] = at
	return nil
}
