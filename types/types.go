package types

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentFormat is advertised in the X-Payment-Format header.
const PaymentFormat = "txHash:chainId"

// Protocol headers
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderCost            = "X-Cost"
	HeaderAssetType       = "X-Asset-Type"
	HeaderChainID         = "X-Chain-Id"
	HeaderSupportedChains = "X-Supported-Chains"
	HeaderPaymentFormat   = "X-Payment-Format"
	HeaderTokenAddress    = "X-Token-Address"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// AssetType represents what kind of asset a payment is made in
type AssetType string

const (
	AssetNative           AssetType = "native"
	AssetFungibleToken    AssetType = "fungible-token"
	AssetNonFungibleToken AssetType = "non-fungible-token"
)

// IsValid reports whether a is one of the known asset types.
func (a AssetType) IsValid() bool {
	switch a {
	case AssetNative, AssetFungibleToken, AssetNonFungibleToken:
		return true
	}
	return false
}

func (a AssetType) String() string {
	return string(a)
}

// PaymentTerms defines what a protected resource demands.
type PaymentTerms struct {
	// Address that must receive funds, EIP-55 checksummed.
	Recipient string `json:"recipient"`

	// Minimum amount in the smallest unit of the asset.
	Amount *big.Int `json:"amount"`

	// Canonical chain on which payment should be sent.
	ChainID int64 `json:"chainId"`

	// Chains on which a proof will be accepted. Always contains ChainID.
	SupportedChains []int64 `json:"supportedChains"`

	AssetType AssetType `json:"assetType"`

	// Contract address, present when AssetType is not native.
	TokenAddress string `json:"tokenAddress,omitempty"`

	// Decimals used to format Amount for humans. 18 when unset.
	TokenDecimals int `json:"tokenDecimals,omitempty"`

	Description string `json:"description,omitempty"`
}

// Validate checks the invariants of the terms.
func (t *PaymentTerms) Validate() error {
	if t.Recipient == "" {
		return fmt.Errorf("terms.recipient is required")
	}

	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return fmt.Errorf("terms.amount must be greater than 0")
	}

	if !t.AssetType.IsValid() {
		return fmt.Errorf("terms.assetType %q is not supported", t.AssetType)
	}

	if t.AssetType != AssetNative && t.TokenAddress == "" {
		return fmt.Errorf("terms.tokenAddress is required for %s payments", t.AssetType)
	}

	if !t.AcceptsChain(t.ChainID) {
		return fmt.Errorf("terms.chainId %d is not in supportedChains", t.ChainID)
	}

	return nil
}

// AcceptsChain reports whether a proof on chainID can satisfy the terms.
func (t *PaymentTerms) AcceptsChain(chainID int64) bool {
	for _, id := range t.SupportedChains {
		if id == chainID {
			return true
		}
	}
	return false
}

// Decimals returns the decimals used to format the amount.
func (t *PaymentTerms) Decimals() int {
	if t.TokenDecimals > 0 {
		return t.TokenDecimals
	}
	if t.AssetType == AssetNonFungibleToken {
		return 0
	}
	return 18
}

// PaymentProof is a caller's claim of payment.
type PaymentProof struct {
	TxHash  string `json:"txHash"`
	ChainID int64  `json:"chainId"`
}

func (p PaymentProof) String() string {
	return fmt.Sprintf("%s:%d", p.TxHash, p.ChainID)
}

// TransactionDetails echoes the on-chain transaction that satisfied the terms.
type TransactionDetails struct {
	Hash          string     `json:"hash"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Value         string     `json:"value"`
	BlockNumber   uint64     `json:"blockNumber"`
	Confirmations uint64     `json:"confirmations"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid       bool                `json:"isValid"`
	InvalidReason ErrorKind           `json:"invalidReason,omitempty"`
	Error         string              `json:"error,omitempty"`
	Transaction   *TransactionDetails `json:"transaction,omitempty"`
}

// Fail builds an invalid result of the given kind.
func Fail(kind ErrorKind, format string, args ...any) *VerificationResult {
	return &VerificationResult{
		IsValid:       false,
		InvalidReason: kind,
		Error:         fmt.Sprintf(format, args...),
	}
}

// PaymentContext is attached to a request once its payment is verified.
type PaymentContext struct {
	TxHash      string              `json:"txHash"`
	ChainID     int64               `json:"chainId"`
	Verified    bool                `json:"verified"`
	Transaction *TransactionDetails `json:"transaction,omitempty"`
}

// SupportedChain is one entry of the 402 body's supportedChains list.
type SupportedChain struct {
	ChainID int64  `json:"chainId"`
	Name    string `json:"name"`
	RPCUrl  string `json:"rpcUrl"`
}

// PaymentDetails is the "payment" object of a 402 body.
type PaymentDetails struct {
	Recipient       string           `json:"recipient"`
	Amount          string           `json:"amount"`
	AmountFormatted string           `json:"amountFormatted"`
	AssetType       AssetType        `json:"assetType"`
	TokenAddress    string           `json:"tokenAddress,omitempty"`
	ChainID         int64            `json:"chainId,omitempty"`
	SupportedChains []SupportedChain `json:"supportedChains"`
	Instructions    string           `json:"instructions"`
}

// PaymentRequiredResponse is the body emitted with a 402.
type PaymentRequiredResponse struct {
	Error    string         `json:"error"`
	Message  string         `json:"message"`
	Reason   ErrorKind      `json:"reason,omitempty"`
	Endpoint string         `json:"endpoint"`
	Payment  PaymentDetails `json:"payment"`
}

// PaymentUsedResponse is the body emitted with a 409.
type PaymentUsedResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	TxHash  string `json:"txHash"`
}

// X402Config contains global configuration for the x402 library
type X402Config struct {
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty" mapstructure:"default_timeout"`
	RPCTimeout     time.Duration `json:"rpcTimeout,omitempty" mapstructure:"rpc_timeout"`
	RetryCount     int           `json:"retryCount,omitempty" mapstructure:"retry_count" validate:"gte=0,lte=10"`
	RetryDelay     time.Duration `json:"retryDelay,omitempty" mapstructure:"retry_delay"`
	ReplayTTL      time.Duration `json:"replayTTL,omitempty" mapstructure:"replay_ttl"`
	SweepInterval  time.Duration `json:"sweepInterval,omitempty" mapstructure:"sweep_interval"`
	LogLevel       string        `json:"logLevel,omitempty" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogBackend     string        `json:"logBackend,omitempty" mapstructure:"log_backend" validate:"omitempty,oneof=zap logrus"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty" mapstructure:"enable_metrics"`
	Chains         []ChainConfig `json:"chains,omitempty" mapstructure:"chains" validate:"dive"`
}

// Defaults used when X402Config leaves a field unset.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultRPCTimeout       = 10 * time.Second
	DefaultRetryCount       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultReplayTTL        = 5 * time.Minute
	DefaultSweepInterval    = 60 * time.Second
	DefaultMinConfirmations = 1
)

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c X402Config) WithDefaults() X402Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.ReplayTTL <= 0 {
		c.ReplayTTL = DefaultReplayTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogBackend == "" {
		c.LogBackend = "zap"
	}
	return c
}

// ParseChainList parses "1,8453, 84532" into chain ids.
func ParseChainList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
