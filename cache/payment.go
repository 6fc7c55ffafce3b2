package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vitwit/x402/types"
)

// PaymentCache remembers the proof that unlocked a URL so the client can
// present it again without paying.
type PaymentCache struct {
	items *gocache.Cache
}

func NewPaymentCache(ttl time.Duration) *PaymentCache {
	if ttl <= 0 {
		ttl = types.DefaultReplayTTL
	}
	return &PaymentCache{items: gocache.New(ttl, types.DefaultSweepInterval)}
}

func (c *PaymentCache) Get(url string) (*types.PaymentProof, bool) {
	v, ok := c.items.Get(url)
	if !ok {
		return nil, false
	}
	proof := v.(types.PaymentProof)
	return &proof, true
}

func (c *PaymentCache) Put(url string, proof *types.PaymentProof) {
	if proof == nil {
		return
	}
	c.items.Set(url, *proof, gocache.DefaultExpiration)
}

func (c *PaymentCache) Delete(url string) {
	c.items.Delete(url)
}

func (c *PaymentCache) Len() int {
	return c.items.ItemCount()
}
