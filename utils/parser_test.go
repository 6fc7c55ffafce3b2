package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/types"
)

func TestParseX402Config(t *testing.T) {
	cfg, err := ParseX402Config([]byte(`{
		"retryCount": 2,
		"logBackend": "logrus",
		"chains": [{"chainId": 8453, "rpcUrl": "https://mainnet.base.org"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RetryCount)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, types.ChainBase, cfg.Chains[0].ChainID)

	_, err = ParseX402Config([]byte(`{"retryCount": 50}`))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrConfig))

	_, err = ParseX402Config([]byte(`{"chains": [{"chainId": 1}]}`))
	require.Error(t, err, "rpcUrl is required")

	_, err = ParseX402Config([]byte(`{`))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrConfig))
}

func TestParseChainConfig(t *testing.T) {
	cfg, err := ParseChainConfig([]byte(`{"chainId": 84532, "rpcUrl": "https://sepolia.base.org", "rpcRateLimit": 10}`))
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.RPCRateLimit)

	_, err = ParseChainConfig([]byte(`{"chainId": -1, "rpcUrl": "x"}`))
	require.Error(t, err)
}
