package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/verification"
)

const sampleConfig = `
x402:
  rpc_timeout: 4s
  retry_count: 2
  log_backend: logrus
  chains:
    - chain_id: 84532
      rpc_url: https://sepolia.base.org
      rpc_rate_limit: 5
server:
  port: 9000
endpoints:
  - path: /api/premium
    recipient: "0x742d35cc6634c0532925a3b844bc9e7595f0beb0"
    price: "0.01"
    chain_id: 84532
    additional_chains: "8453, 1"
    max_age: 10m
    description: Premium data
  - path: /api/token
    method: post
    recipient: "0x742d35cc6634c0532925a3b844bc9e7595f0beb0"
    price: 1.5
    chain_id: 8453
    additional_chains: [84532]
    asset_type: fungible-token
    token_address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
    amount_policy: tolerance
    min_confirmations: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.X402.RPCTimeout)
	assert.Equal(t, 2, cfg.X402.RetryCount)
	assert.Equal(t, "logrus", cfg.X402.LogBackend)
	assert.Equal(t, "info", cfg.X402.LogLevel)
	assert.Equal(t, types.DefaultReplayTTL, cfg.X402.ReplayTTL)
	require.Len(t, cfg.X402.Chains, 1)
	assert.Equal(t, int64(84532), cfg.X402.Chains[0].ChainID)
	assert.Equal(t, 5.0, cfg.X402.Chains[0].RPCRateLimit)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)
	assert.True(t, cfg.Server.Gzip)

	require.Len(t, cfg.Endpoints, 2)

	premium := cfg.Endpoints[0]
	assert.Equal(t, "GET", premium.Method)
	assert.Equal(t, []int64{8453, 1}, premium.AdditionalChains)
	assert.Equal(t, 10*time.Minute, premium.MaxAge)
	assert.Equal(t, 18, premium.Decimals)

	token := cfg.Endpoints[1]
	assert.Equal(t, "POST", token.Method)
	assert.Equal(t, []int64{84532}, token.AdditionalChains)
	assert.Equal(t, 6, token.Decimals)
	assert.Equal(t, uint64(3), token.MinConfirmations)
	assert.Equal(t, "POST /api/token", token.String())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("X402_SERVER_PORT", "9191")
	t.Setenv("X402_X402_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.X402.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrConfig))
	})

	t.Run("bad chain list", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
endpoints:
  - path: /x
    recipient: "0x742d35cc6634c0532925a3b844bc9e7595f0beb0"
    price: "1"
    chain_id: 1
    additional_chains: "8453,base"
`))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrConfig))
	})

	t.Run("endpoint without path", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
endpoints:
  - recipient: "0x742d35cc6634c0532925a3b844bc9e7595f0beb0"
    price: "1"
    chain_id: 1
`))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrConfig))
	})

	t.Run("unknown log level", func(t *testing.T) {
		_, err := Load(writeConfig(t, "x402:\n  log_level: loud\n"))
		require.Error(t, err)
	})
}

func TestEndpointGateConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	gate, err := cfg.Endpoints[0].GateConfig()
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", gate.Price.String())
	assert.Equal(t, int64(84532), gate.ChainID)
	require.NoError(t, gate.Validate())

	terms, err := gate.Terms()
	require.NoError(t, err)
	assert.Equal(t, []int64{84532, 8453, 1}, terms.SupportedChains)

	gate, err = cfg.Endpoints[1].GateConfig()
	require.NoError(t, err)
	assert.Equal(t, "1500000", gate.Price.String())
	assert.Equal(t, verification.AmountTolerance, gate.AmountPolicy)
	assert.Equal(t, types.AssetFungibleToken, gate.AssetType)

	_, err = EndpointConfig{Path: "/bad", Price: "abc", Decimals: 18}.GateConfig()
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrConfig))
}
