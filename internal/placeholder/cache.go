package placeholder

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache keeps hydrated group instances per identity so that one processing
// batch referencing the same entity many times hits the database once. It is
// process-local; clearing it affects performance only, never correctness.
type Cache struct {
	inner *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{inner: gocache.New(ttl, 2*ttl)}
}

// Key builds a stable identity key from group name and identifying ids.
func Key(group string, ids ...int64) string {
	parts := make([]string, 0, len(ids)+1)
	parts = append(parts, group)
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, "|")
}

// GetOrLoad returns the cached group for key, loading and storing it on miss.
func (c *Cache) GetOrLoad(key string, load func() (Group, error)) (Group, error) {
	if v, ok := c.inner.Get(key); ok {
		return v.(Group), nil
	}
	g, err := load()
	if err != nil {
		return nil, err
	}
	c.inner.SetDefault(key, g)
	return g, nil
}

// Clear drops all cached instances. Tests reset state between cases with it.
func (c *Cache) Clear() {
	c.inner.Flush()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.inner.ItemCount()
}
