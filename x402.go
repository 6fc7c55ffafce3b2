// Package x402 gates HTTP resources behind on-chain payments. A provider
// answers 402 Payment Required with its terms; the caller pays on an EVM chain
// and retries with an X-PAYMENT: <txHash>:<chainId> header, which the
// provider verifies against the chain and redeems at most once.
package x402

import (
	"context"
	"math/big"
	"time"

	"github.com/vitwit/x402/cache"
	"github.com/vitwit/x402/clients"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/metrics"
	"github.com/vitwit/x402/middleware"
	"github.com/vitwit/x402/settlement"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
	"github.com/vitwit/x402/verification"
)

// X402 is the main struct that provides all x402 functionality
type X402 struct {
	registry *clients.Registry
	verifier *verification.VerificationService
	replay   *cache.ReplayCache
	config   types.X402Config
	logger   logger.Logger
	metrics  metrics.Recorder
	timeout  time.Duration
}

// New creates a new X402 instance with the given configuration and dials
// every configured chain.
func New(config *types.X402Config, opts ...Option) (*X402, error) {
	var cfg types.X402Config
	if config != nil {
		cfg = *config
	}
	cfg = cfg.WithDefaults()
	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}

	x := &X402{
		registry: clients.NewRegistry(),
		config:   cfg,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		timeout:  cfg.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(x)
	}

	x.verifier = verification.NewVerificationService(x.registry,
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
		verification.WithRPCTimeout(cfg.RPCTimeout),
	)
	x.replay = cache.NewReplayCache(cfg.ReplayTTL, cfg.SweepInterval)

	for _, chain := range cfg.Chains {
		if err := x.AddChain(chain); err != nil {
			x.Close()
			return nil, err
		}
	}

	return x, nil
}

// NewWithDefaults creates a new X402 instance with default configuration
func NewWithDefaults(opts ...Option) (*X402, error) {
	return New(&types.X402Config{
		RetryCount: types.DefaultRetryCount,
	}, opts...)
}

// AddChain dials cfg.RPCUrl and accepts payments on the chain.
func (x *X402) AddChain(cfg types.ChainConfig) error {
	if err := utils.ValidateStruct(cfg); err != nil {
		return err
	}
	if err := x.registry.Dial(cfg); err != nil {
		return types.NewError(types.ErrConfig, err, "failed to add chain %d", cfg.ChainID)
	}
	x.logger.Info("chain added", map[string]any{"chainId": cfg.ChainID, "rpcUrl": cfg.RPCUrl})
	return nil
}

// AddClient registers an existing client, e.g. one over a simulated backend.
func (x *X402) AddClient(cfg types.ChainConfig, client clients.Client) error {
	return x.registry.Add(cfg, client)
}

// Gate returns middleware enforcing cfg, sharing this instance's chains,
// verifier and replay cache.
func (x *X402) Gate(cfg middleware.GateConfig, opts ...middleware.Option) (*middleware.PaymentGate, error) {
	var v verification.Verifier = x.verifier
	if x.config.RetryCount > 1 {
		v = verification.Retrying(v, x.config.RetryCount, x.config.RetryDelay)
	}

	base := []middleware.Option{
		middleware.WithChains(x.registry),
		middleware.WithLogger(x.logger),
		middleware.WithMetrics(x.metrics),
		middleware.WithTimeout(x.timeout),
	}
	return middleware.NewPaymentGate(cfg, v, x.replay, append(base, opts...)...)
}

// NewSender creates a payer-side sender using this instance's chains.
func (x *X402) NewSender(hexKey string, opts ...settlement.Option) (*settlement.EVMSender, error) {
	base := []settlement.Option{settlement.WithLogger(x.logger)}
	return settlement.NewEVMSenderFromHex(hexKey, x.registry, append(base, opts...)...)
}

// Verify checks a proof against terms once.
func (x *X402) Verify(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts verification.Options,
) *types.VerificationResult {
	return x.verifier.Verify(ctx, proof, terms, opts)
}

// VerifyWithRetry checks a proof using the configured retry count and delay.
func (x *X402) VerifyWithRetry(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts verification.Options,
) *types.VerificationResult {
	return x.verifier.VerifyWithRetry(ctx, proof, terms, opts, x.config.RetryCount, x.config.RetryDelay)
}

// SupportedChains describes every chain with a configured client.
func (x *X402) SupportedChains() []types.SupportedChain {
	ids := x.registry.ChainIDs()
	chains := make([]types.SupportedChain, 0, len(ids))
	for _, id := range ids {
		chains = append(chains, x.registry.Describe(id))
	}
	return chains
}

// IsChainSupported checks if a chain has a configured client
func (x *X402) IsChainSupported(chainID int64) bool {
	_, ok := x.registry.Lookup(chainID)
	return ok
}

func (x *X402) Registry() *clients.Registry {
	return x.registry
}

func (x *X402) ReplayCache() *cache.ReplayCache {
	return x.replay
}

func (x *X402) Config() types.X402Config {
	return x.config
}

// Close closes all client connections
func (x *X402) Close() {
	x.registry.Close()
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = types.X402Version1
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": int(ProtocolVersion),
		"payment_format":   types.PaymentFormat,
		"asset_types": []string{
			types.AssetNative.String(),
			types.AssetFungibleToken.String(),
			types.AssetNonFungibleToken.String(),
		},
	}
}

// ParsePrice converts a human amount such as "0.01" to the smallest unit.
func ParsePrice(amount string, decimals int) (*big.Int, error) {
	v, err := utils.ParseAmountWithDecimals(amount, decimals)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, err, "invalid price %q", amount)
	}
	return v, nil
}
