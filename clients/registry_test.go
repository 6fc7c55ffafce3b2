package clients

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/internal/chaintest"
	"github.com/vitwit/x402/types"
)

type closeCounter struct {
	*EVMClient
	closed int
}

func (c *closeCounter) Close() { c.closed++ }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	chain := chaintest.New(types.ChainBase)
	cfg := types.ChainConfig{ChainID: types.ChainBase, RPCUrl: "https://mainnet.base.org"}
	first := &closeCounter{EVMClient: NewEVMClientWithBackend(cfg, chain)}

	require.NoError(t, r.Add(cfg, first))
	require.NoError(t, r.Add(types.ChainConfig{ChainID: types.ChainLocal}, NewEVMClientWithBackend(cfg, chain)))

	c, ok := r.Lookup(types.ChainBase)
	require.True(t, ok)
	assert.Equal(t, int64(types.ChainBase), c.GetChainID())

	_, ok = r.Reader(types.ChainBase)
	assert.True(t, ok)
	_, ok = r.Writer(types.ChainBase)
	assert.True(t, ok)
	_, ok = r.Reader(types.ChainPolygon)
	assert.False(t, ok)

	stored, ok := r.Config(types.ChainBase)
	require.True(t, ok)
	assert.Equal(t, "Base", stored.Name)
	assert.Equal(t, "X-Base-Address", stored.AddressHeader())

	assert.Equal(t, []int64{types.ChainLocal, types.ChainBase}, r.ChainIDs())

	described := r.Describe(types.ChainBase)
	assert.Equal(t, "https://mainnet.base.org", described.RPCUrl)
	described = r.Describe(types.ChainSepolia)
	assert.Equal(t, "Sepolia", described.Name)
	assert.Empty(t, described.RPCUrl)

	// replacing a client closes the old one
	require.NoError(t, r.Add(cfg, NewEVMClientWithBackend(cfg, chain)))
	assert.Equal(t, 1, first.closed)

	r.Close()
	assert.Empty(t, r.ChainIDs())
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	err := r.Add(types.ChainConfig{ChainID: 0}, NewEVMClientWithBackend(types.ChainConfig{}, chaintest.New(1)))
	assert.True(t, types.IsKind(err, types.ErrConfig))

	err = r.Add(types.ChainConfig{ChainID: 1}, nil)
	assert.True(t, types.IsKind(err, types.ErrConfig))
}

func TestEVMClientDelegates(t *testing.T) {
	chain := chaintest.New(types.ChainLocal)
	c := NewEVMClientWithBackend(types.ChainConfig{ChainID: types.ChainLocal, RPCUrl: "http://localhost:8545"}, chain)
	ctx := context.Background()

	head, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, chain.Head(), head)

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(types.ChainLocal), id.Int64())

	_, _, err = c.TransactionByHash(ctx, common.Hash{})
	assert.Error(t, err)

	assert.Equal(t, "http://localhost:8545", c.RPCUrl())
	assert.NotPanics(t, c.Close)
}

func TestEVMClientRateLimit(t *testing.T) {
	chain := chaintest.New(types.ChainLocal)
	c := NewEVMClientWithBackend(types.ChainConfig{ChainID: types.ChainLocal, RPCRateLimit: 1, RPCBurst: 1}, chain)

	_, err := c.BlockNumber(context.Background())
	require.NoError(t, err)

	// the next token is a second away, beyond the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.BlockNumber(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, chain.Calls("BlockNumber"))
}
