package types

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTerms() *PaymentTerms {
	return &PaymentTerms{
		Recipient:       "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Amount:          big.NewInt(1000),
		ChainID:         ChainBaseSepolia,
		SupportedChains: []int64{ChainBaseSepolia, ChainBase},
		AssetType:       AssetNative,
	}
}

func TestPaymentTermsValidate(t *testing.T) {
	require.NoError(t, validTerms().Validate())

	tests := []struct {
		name   string
		mutate func(*PaymentTerms)
	}{
		{"no recipient", func(p *PaymentTerms) { p.Recipient = "" }},
		{"nil amount", func(p *PaymentTerms) { p.Amount = nil }},
		{"zero amount", func(p *PaymentTerms) { p.Amount = big.NewInt(0) }},
		{"unknown asset", func(p *PaymentTerms) { p.AssetType = "gold" }},
		{"token without address", func(p *PaymentTerms) { p.AssetType = AssetFungibleToken }},
		{"chain not supported", func(p *PaymentTerms) { p.SupportedChains = []int64{ChainBase} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := validTerms()
			tt.mutate(terms)
			assert.Error(t, terms.Validate())
		})
	}
}

func TestPaymentTermsDecimals(t *testing.T) {
	terms := validTerms()
	assert.Equal(t, 18, terms.Decimals())

	terms.TokenDecimals = 6
	assert.Equal(t, 6, terms.Decimals())

	terms = validTerms()
	terms.AssetType = AssetNonFungibleToken
	assert.Equal(t, 0, terms.Decimals())
}

func TestAddressHeader(t *testing.T) {
	tests := []struct {
		chain ChainConfig
		want  string
	}{
		{ChainConfig{ChainID: ChainBase}.WithDefaults(), "X-Base-Address"},
		{ChainConfig{ChainID: ChainBaseSepolia}.WithDefaults(), "X-BaseSepolia-Address"},
		{ChainConfig{ChainID: ChainLocal}.WithDefaults(), "X-Localnet-Address"},
		{ChainConfig{ChainID: 999}.WithDefaults(), "X-Chain999-Address"},
		{ChainConfig{ChainID: 5, Name: "--"}, "X-Chain-Address"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.chain.AddressHeader())
		assert.True(t, IsAddressHeader(tt.want), tt.want)
	}

	assert.False(t, IsAddressHeader(HeaderTokenAddress))
	assert.False(t, IsAddressHeader("X-Cost"))
	assert.False(t, IsAddressHeader("X--Address"))
}

func TestChainConfigWithDefaults(t *testing.T) {
	c := ChainConfig{ChainID: ChainPolygon}.WithDefaults()
	assert.Equal(t, "Polygon", c.Name)
	assert.Equal(t, "POL", c.NativeSymbol)
	assert.Equal(t, 18, c.NativeDecimals)

	c = ChainConfig{ChainID: 4242, Name: "Custom", NativeSymbol: "CST", NativeDecimals: 9}.WithDefaults()
	assert.Equal(t, "Custom", c.Name)
	assert.Equal(t, "CST", c.NativeSymbol)
	assert.Equal(t, 9, c.NativeDecimals)

	_, ok := KnownChain(4242)
	assert.False(t, ok)
}

func TestParseChainList(t *testing.T) {
	ids, err := ParseChainList("1, 8453,,84532 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 8453, 84532}, ids)

	ids, err = ParseChainList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseChainList("1,base")
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	for _, kind := range []ErrorKind{ErrNotConfirmed, ErrInsufficientConfirmations, ErrRPC, ErrVerificationTimeout, ErrInsufficientAmount, ErrExpired} {
		assert.True(t, IsRetryable(kind), kind)
	}
	for _, kind := range []ErrorKind{ErrTransactionNotFound, ErrWrongRecipient, ErrTransactionFailed, ErrWrongToken, ErrMalformedProof, ErrUnsupportedChain} {
		assert.False(t, IsRetryable(kind), kind)
	}
}

func TestX402Error(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrRPC, cause, "call %s failed", "eth_blockNumber")

	assert.Equal(t, "RPCError: call eth_blockNumber failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ErrRPC, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrRPC))
	assert.Equal(t, ErrorKind(""), KindOf(cause))

	assert.Equal(t, "ConfigError: bad", NewError(ErrConfig, nil, "bad").Error())
}

func TestFailAndDefaults(t *testing.T) {
	res := Fail(ErrExpired, "payment is %ds old", 90)
	assert.False(t, res.IsValid)
	assert.Equal(t, ErrExpired, res.InvalidReason)
	assert.Equal(t, "payment is 90s old", res.Error)

	cfg := X402Config{}.WithDefaults()
	assert.Equal(t, DefaultReplayTTL, cfg.ReplayTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRPCTimeout, cfg.RPCTimeout)
	assert.Equal(t, "zap", cfg.LogBackend)
	assert.Equal(t, 0, cfg.RetryCount)

	assert.Equal(t, "0xabc:8453", PaymentProof{TxHash: "0xabc", ChainID: 8453}.String())
}
