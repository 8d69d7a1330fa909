// Package cache provides the lookup key generator and the bounded cache that
// sits in front of the record store.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize is the default maximum number of entries.
	DefaultSize = 100000
	// DefaultTTL is how long an entry stays valid after it was set.
	DefaultTTL = 60 * time.Second
)

// Cache is a size and time bounded LRU cache. It is safe for concurrent use.
type Cache[V any] struct {
	lru   *expirable.LRU[string, V]
	clone func(V) V
	ttl   time.Duration
}

// New creates a cache holding at most size entries for at most ttl each.
// clone is applied on the way in and out so callers never share cached state;
// a nil clone stores values as-is.
func New[V any](size int, ttl time.Duration, clone func(V) V) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Cache[V]{
		lru:   expirable.NewLRU[string, V](size, nil, ttl),
		clone: clone,
		ttl:   ttl,
	}
}

// Get returns a copy of the entry for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return c.clone(v), true
}

// Set stores a copy of v under key, evicting the least recently used entry
// when the cache is full.
func (c *Cache[V]) Set(key string, v V) {
	c.lru.Add(key, c.clone(v))
}

// Size returns the current number of entries, expired ones included until
// they are swept.
func (c *Cache[V]) Size() int {
	return c.lru.Len()
}

// TTL returns the entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Clear removes all entries from the cache
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}
