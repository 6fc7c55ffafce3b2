// Package middleware implements the provider side of the protocol: an HTTP
// gate that answers 402 until the caller presents a valid, unused payment.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vitwit/x402/cache"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/metrics"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
	"github.com/vitwit/x402/verification"
)

const paymentInstructions = "Send payment to the recipient address, then retry with header: X-PAYMENT: <txHash>:<chainId>"

// ChainDescriber supplies chain metadata for 402 responses.
type ChainDescriber interface {
	Config(chainID int64) (types.ChainConfig, bool)
}

type knownChains struct{}

func (knownChains) Config(chainID int64) (types.ChainConfig, bool) {
	return types.KnownChain(chainID)
}

// PaymentGate guards handlers behind a payment proof.
type PaymentGate struct {
	cfg       GateConfig
	terms     *types.PaymentTerms
	verifier  verification.Verifier
	replay    *cache.ReplayCache
	chains    ChainDescriber
	responder Responder
	logger    logger.Logger
	metrics   metrics.Recorder
	timeout   time.Duration
}

// Option configures a PaymentGate.
type Option func(*PaymentGate)

// WithResponder replaces the default response bodies.
func WithResponder(r Responder) Option {
	return func(g *PaymentGate) {
		g.responder = r
	}
}

// WithChains sets the source of chain names and RPC URLs.
func WithChains(c ChainDescriber) Option {
	return func(g *PaymentGate) {
		g.chains = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(g *PaymentGate) {
		g.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *PaymentGate) {
		g.metrics = r
	}
}

// WithTimeout bounds the whole verification of one request.
func WithTimeout(d time.Duration) Option {
	return func(g *PaymentGate) {
		g.timeout = d
	}
}

// NewPaymentGate creates a gate enforcing cfg. The replay cache is owned by
// the caller and may be shared between gates.
func NewPaymentGate(cfg GateConfig, verifier verification.Verifier, replay *cache.ReplayCache, opts ...Option) (*PaymentGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil || replay == nil {
		return nil, types.NewError(types.ErrConfig, nil, "payment gate requires a verifier and a replay cache")
	}

	terms, err := cfg.Terms()
	if err != nil {
		return nil, err
	}

	g := &PaymentGate{
		cfg:       cfg,
		terms:     terms,
		verifier:  verifier,
		replay:    replay,
		chains:    knownChains{},
		responder: DefaultResponder{},
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Terms returns the payment terms the gate enforces.
func (g *PaymentGate) Terms() types.PaymentTerms {
	return *g.terms
}

// Handler wraps next so that it only runs for paid requests.
func (g *PaymentGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payment, ok := g.Check(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPayment(r.Context(), payment)))
	})
}

// Gin adapts the gate to a gin middleware. The payment is available through
// c.Get(PaymentContextKey) and PaymentFromContext(c.Request.Context()).
func (g *PaymentGate) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		payment, ok := g.Check(c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(WithPayment(c.Request.Context(), payment))
		c.Set(PaymentContextKey, payment)
		c.Next()
	}
}

// Check runs the gate for one request. When it returns false the response
// has already been written.
func (g *PaymentGate) Check(w http.ResponseWriter, r *http.Request) (*types.PaymentContext, bool) {
	requestID := uuid.NewString()
	fields := map[string]any{
		"requestId": requestID,
		"path":      r.URL.Path,
	}

	header := r.Header.Get(types.HeaderPayment)
	if header == "" {
		g.record("no_proof", g.cfg.ChainID)
		g.logger.Debug("payment required", fields)
		g.paymentRequired(w, r, "", "Payment required to access this resource")
		return nil, false
	}

	proof := utils.DecodeProof(header)
	if proof == nil {
		g.record("malformed_proof", g.cfg.ChainID)
		fields["header"] = header
		g.logger.Info("malformed payment proof", fields)
		g.paymentRequired(w, r, types.ErrMalformedProof,
			"Invalid X-PAYMENT header, expected format "+types.PaymentFormat)
		return nil, false
	}
	fields["txHash"] = proof.TxHash
	fields["chainId"] = proof.ChainID

	if !g.terms.AcceptsChain(proof.ChainID) {
		g.record("unsupported_chain", proof.ChainID)
		g.logger.Info("payment on unsupported chain", fields)
		g.paymentRequired(w, r, types.ErrUnsupportedChain,
			fmt.Sprintf("Chain %d is not accepted, supported chains: %s", proof.ChainID, joinChains(g.terms.SupportedChains)))
		return nil, false
	}

	if !g.replay.Reserve(proof.TxHash) {
		g.record("replay", proof.ChainID)
		g.logger.Warn("payment replay rejected", fields)
		g.responder.AlreadyUsed(w, r, &types.PaymentUsedResponse{
			Error:   "Payment already used",
			Message: "This payment has already been redeemed, submit a new payment",
			TxHash:  proof.TxHash,
		})
		return nil, false
	}

	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	result := g.verifier.Verify(ctx, proof, g.terms, g.cfg.verifyOptions())
	if result == nil {
		result = types.Fail(types.ErrRPC, "verifier returned no result")
	}
	g.metrics.ObserveLatency("gate_verify", time.Since(start), metrics.Network(proof.ChainID))

	if !result.IsValid {
		g.replay.Release(proof.TxHash)
		g.record("invalid", proof.ChainID)
		fields["reason"] = string(result.InvalidReason)
		fields["error"] = result.Error
		g.logger.Info("payment verification failed", fields)
		g.paymentRequired(w, r, result.InvalidReason, failureMessage(result))
		return nil, false
	}

	g.replay.Add(proof.TxHash)
	g.record("accepted", proof.ChainID)
	g.logger.Info("payment accepted", fields)

	payment := &types.PaymentContext{
		TxHash:      proof.TxHash,
		ChainID:     proof.ChainID,
		Verified:    true,
		Transaction: result.Transaction,
	}
	g.responder.Verified(w, r, payment)
	return payment, true
}

func failureMessage(result *types.VerificationResult) string {
	switch result.InvalidReason {
	case types.ErrVerificationTimeout, types.ErrRPC:
		return "Payment could not be verified right now, please retry"
	default:
		return "Payment verification failed: " + result.Error
	}
}

func (g *PaymentGate) paymentRequired(w http.ResponseWriter, r *http.Request, reason types.ErrorKind, message string) {
	t := g.terms
	primary := g.chainConfig(t.ChainID)

	h := w.Header()
	h.Set(primary.AddressHeader(), t.Recipient)
	h.Set(types.HeaderCost, t.Amount.String())
	h.Set(types.HeaderAssetType, t.AssetType.String())
	h.Set(types.HeaderChainID, strconv.FormatInt(t.ChainID, 10))
	h.Set(types.HeaderSupportedChains, joinChains(t.SupportedChains))
	h.Set(types.HeaderPaymentFormat, types.PaymentFormat)
	if t.TokenAddress != "" {
		h.Set(types.HeaderTokenAddress, t.TokenAddress)
	}

	supported := make([]types.SupportedChain, 0, len(t.SupportedChains))
	for _, id := range t.SupportedChains {
		cfg := g.chainConfig(id)
		supported = append(supported, types.SupportedChain{
			ChainID: id,
			Name:    cfg.Name,
			RPCUrl:  cfg.RPCUrl,
		})
	}

	formatted := utils.FormatAmountFromBigInt(t.Amount, t.Decimals())
	if t.AssetType == types.AssetNative {
		formatted += " " + primary.NativeSymbol
	}

	g.responder.PaymentRequired(w, r, &types.PaymentRequiredResponse{
		Error:    "Payment Required",
		Message:  message,
		Reason:   reason,
		Endpoint: r.URL.Path,
		Payment: types.PaymentDetails{
			Recipient:       t.Recipient,
			Amount:          t.Amount.String(),
			AmountFormatted: formatted,
			AssetType:       t.AssetType,
			TokenAddress:    t.TokenAddress,
			ChainID:         t.ChainID,
			SupportedChains: supported,
			Instructions:    paymentInstructions,
		},
	})
}

func (g *PaymentGate) chainConfig(chainID int64) types.ChainConfig {
	cfg, ok := g.chains.Config(chainID)
	if !ok {
		cfg = types.ChainConfig{ChainID: chainID}
	}
	return cfg.WithDefaults()
}

func (g *PaymentGate) record(outcome string, chainID int64) {
	g.metrics.IncCounter("gate_"+outcome, metrics.Network(chainID))
}

func joinChains(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
