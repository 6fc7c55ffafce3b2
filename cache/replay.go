// Package cache holds the provider's replay cache and the client's cache of
// payment proofs. Both expire entries after a fixed TTL and run a background
// janitor that purges expired entries.
package cache

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vitwit/x402/types"
)

// ReplayCache remembers redeemed transaction hashes so a proof can unlock at
// most one request within the TTL.
type ReplayCache struct {
	mu    sync.Mutex
	items *gocache.Cache
	ttl   time.Duration
}

// NewReplayCache creates a cache whose entries live for ttl and are swept
// every sweepInterval. Zero values select the defaults.
func NewReplayCache(ttl, sweepInterval time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = types.DefaultReplayTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = types.DefaultSweepInterval
	}
	return &ReplayCache{
		items: gocache.New(ttl, sweepInterval),
		ttl:   ttl,
	}
}

func key(txHash string) string {
	return strings.ToLower(strings.TrimSpace(txHash))
}

// TTL returns the lifetime of an entry.
func (c *ReplayCache) TTL() time.Duration {
	return c.ttl
}

// Has reports whether txHash was redeemed within the TTL. An expired entry is
// evicted and reported as absent.
func (c *ReplayCache) Has(txHash string) bool {
	k := key(txHash)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items.Get(k); ok {
		return true
	}
	c.items.Delete(k)
	return false
}

// Add records txHash as redeemed now, overwriting any previous entry.
func (c *ReplayCache) Add(txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key(txHash), time.Now(), gocache.DefaultExpiration)
}

// Reserve atomically records txHash unless a live entry exists. It returns
// false when the hash is already taken.
func (c *ReplayCache) Reserve(txHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Add(key(txHash), time.Now(), gocache.DefaultExpiration) == nil
}

// Release drops a reservation whose verification failed.
func (c *ReplayCache) Release(txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key(txHash))
}

// RedeemedAt returns when txHash was recorded.
func (c *ReplayCache) RedeemedAt(txHash string) (time.Time, bool) {
	v, ok := c.items.Get(key(txHash))
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len returns the number of live entries.
func (c *ReplayCache) Len() int {
	return len(c.items.Items())
}

// Sweep removes every expired entry immediately.
func (c *ReplayCache) Sweep() {
	c.items.DeleteExpired()
}
