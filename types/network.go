package types

import (
	"fmt"
	"regexp"
	"strings"
)

// ChainConfig contains configuration for one EVM chain.
type ChainConfig struct {
	ChainID        int64   `json:"chainId" mapstructure:"chain_id" validate:"required,gt=0"`
	Name           string  `json:"name,omitempty" mapstructure:"name"`
	RPCUrl         string  `json:"rpcUrl" mapstructure:"rpc_url" validate:"required"`
	NativeSymbol   string  `json:"nativeSymbol,omitempty" mapstructure:"native_symbol"`
	NativeDecimals int     `json:"nativeDecimals,omitempty" mapstructure:"native_decimals" validate:"gte=0,lte=36"`
	RPCRateLimit   float64 `json:"rpcRateLimit,omitempty" mapstructure:"rpc_rate_limit" validate:"gte=0"`
	RPCBurst       int     `json:"rpcBurst,omitempty" mapstructure:"rpc_burst" validate:"gte=0"`
}

// Well-known chain ids
const (
	ChainEthereum    int64 = 1
	ChainPolygon     int64 = 137
	ChainBase        int64 = 8453
	ChainPolygonAmoy int64 = 80002
	ChainBaseSepolia int64 = 84532
	ChainSepolia     int64 = 11155111
	ChainAnvil       int64 = 31337
	ChainLocal       int64 = 1337
)

var knownChains = map[int64]ChainConfig{
	ChainEthereum:    {ChainID: ChainEthereum, Name: "Ethereum", NativeSymbol: "ETH", NativeDecimals: 18},
	ChainPolygon:     {ChainID: ChainPolygon, Name: "Polygon", NativeSymbol: "POL", NativeDecimals: 18},
	ChainBase:        {ChainID: ChainBase, Name: "Base", NativeSymbol: "ETH", NativeDecimals: 18},
	ChainPolygonAmoy: {ChainID: ChainPolygonAmoy, Name: "Polygon Amoy", NativeSymbol: "POL", NativeDecimals: 18},
	ChainBaseSepolia: {ChainID: ChainBaseSepolia, Name: "Base Sepolia", NativeSymbol: "ETH", NativeDecimals: 18},
	ChainSepolia:     {ChainID: ChainSepolia, Name: "Sepolia", NativeSymbol: "ETH", NativeDecimals: 18},
	ChainAnvil:       {ChainID: ChainAnvil, Name: "Anvil", NativeSymbol: "ETH", NativeDecimals: 18},
	ChainLocal:       {ChainID: ChainLocal, Name: "Localnet", NativeSymbol: "ETH", NativeDecimals: 18},
}

// KnownChain returns the built-in metadata for chainID.
func KnownChain(chainID int64) (ChainConfig, bool) {
	c, ok := knownChains[chainID]
	return c, ok
}

// WithDefaults fills Name, NativeSymbol and NativeDecimals from the known
// chain table.
func (c ChainConfig) WithDefaults() ChainConfig {
	known, ok := knownChains[c.ChainID]
	if c.Name == "" {
		if ok {
			c.Name = known.Name
		} else {
			c.Name = fmt.Sprintf("Chain %d", c.ChainID)
		}
	}
	if c.NativeSymbol == "" {
		c.NativeSymbol = "ETH"
		if ok {
			c.NativeSymbol = known.NativeSymbol
		}
	}
	if c.NativeDecimals == 0 {
		c.NativeDecimals = 18
	}
	return c
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// AddressHeader returns the X-<Chain>-Address header name for the chain.
func (c ChainConfig) AddressHeader() string {
	name := nonAlnum.ReplaceAllString(c.Name, "")
	if name == "" {
		name = "Chain"
	}
	return "X-" + name + "-Address"
}

// IsAddressHeader reports whether a canonical header key has the
// X-<Chain>-Address form.
func IsAddressHeader(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "x-") && strings.HasSuffix(k, "-address") &&
		len(k) > len("x--address") && k != strings.ToLower(HeaderTokenAddress)
}
