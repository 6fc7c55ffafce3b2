package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/types"
)

const hash = "0xAbC0000000000000000000000000000000000000000000000000000000000001"

func TestReplayCacheAddHas(t *testing.T) {
	c := NewReplayCache(time.Minute, time.Minute)

	assert.False(t, c.Has(hash))
	c.Add(hash)
	assert.True(t, c.Has(hash))
	assert.True(t, c.Has(strings.ToLower(hash)))
	assert.Equal(t, 1, c.Len())

	at, ok := c.RedeemedAt(hash)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), at, time.Second)
}

func TestReplayCacheExpiry(t *testing.T) {
	c := NewReplayCache(50*time.Millisecond, time.Hour)
	c.Add(hash)
	require.True(t, c.Has(hash))

	time.Sleep(80 * time.Millisecond)

	assert.False(t, c.Has(hash))
	assert.Zero(t, c.Len())
	assert.Zero(t, c.items.ItemCount())
	assert.True(t, c.Reserve(hash))
}

func TestReplayCacheSweep(t *testing.T) {
	c := NewReplayCache(20*time.Millisecond, time.Hour)
	c.Add(hash)
	c.Add("0x" + strings.Repeat("2", 64))

	time.Sleep(40 * time.Millisecond)
	c.Sweep()

	assert.Zero(t, c.items.ItemCount())
}

func TestReplayCacheReserveIsExclusive(t *testing.T) {
	c := NewReplayCache(time.Minute, time.Minute)

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Reserve(hash) {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.True(t, c.Has(hash))
}

func TestReplayCacheRelease(t *testing.T) {
	c := NewReplayCache(time.Minute, time.Minute)

	require.True(t, c.Reserve(hash))
	assert.False(t, c.Reserve(hash))

	c.Release(hash)
	assert.False(t, c.Has(hash))
	assert.True(t, c.Reserve(hash))
}

func TestReplayCacheDefaults(t *testing.T) {
	c := NewReplayCache(0, 0)
	assert.Equal(t, types.DefaultReplayTTL, c.TTL())
}

func TestPaymentCache(t *testing.T) {
	c := NewPaymentCache(50 * time.Millisecond)
	url := "http://provider/api/data"

	_, ok := c.Get(url)
	assert.False(t, ok)

	c.Put(url, &types.PaymentProof{TxHash: hash, ChainID: 8453})
	proof, ok := c.Get(url)
	require.True(t, ok)
	assert.Equal(t, hash, proof.TxHash)
	assert.Equal(t, int64(8453), proof.ChainID)

	c.Delete(url)
	_, ok = c.Get(url)
	assert.False(t, ok)

	c.Put(url, &types.PaymentProof{TxHash: hash, ChainID: 8453})
	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(url)
	assert.False(t, ok)
}
