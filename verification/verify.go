package verification

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vitwit/x402/clients"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/metrics"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
)

// Verifier checks a payment proof against payment terms. Failures are always
// returned as a classified, invalid result rather than an error.
type Verifier interface {
	Verify(ctx context.Context, proof *types.PaymentProof, terms *types.PaymentTerms, opts Options) *types.VerificationResult
}

// ReaderSource resolves the RPC reader for a chain.
type ReaderSource interface {
	Reader(chainID int64) (clients.ChainReader, bool)
}

// StaticReaders is a fixed chain id to reader mapping.
type StaticReaders map[int64]clients.ChainReader

func (s StaticReaders) Reader(chainID int64) (clients.ChainReader, bool) {
	r, ok := s[chainID]
	return r, ok
}

// Options tunes a single verification.
type Options struct {
	// Minimum number of blocks mined after the payment's block. Defaults to 1.
	MinConfirmations uint64

	// Maximum age of the payment's block relative to the latest block.
	// Zero disables the check.
	MaxAge time.Duration

	// AmountPolicy defaults to AmountExact.
	AmountPolicy AmountPolicy
}

func (o Options) withDefaults() Options {
	if o.MinConfirmations == 0 {
		o.MinConfirmations = types.DefaultMinConfirmations
	}
	if o.AmountPolicy == "" {
		o.AmountPolicy = AmountExact
	}
	return o
}

// VerificationService verifies payments against chain RPC endpoints.
type VerificationService struct {
	source     ReaderSource
	rpcTimeout time.Duration
	logger     logger.Logger
	metrics    metrics.Recorder
}

// Option configures a VerificationService.
type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = r
	}
}

// WithRPCTimeout bounds each individual RPC call.
func WithRPCTimeout(d time.Duration) Option {
	return func(s *VerificationService) {
		s.rpcTimeout = d
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(source ReaderSource, opts ...Option) *VerificationService {
	s := &VerificationService{
		source:     source,
		rpcTimeout: types.DefaultRPCTimeout,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs the on-chain checks in order and stops at the first failure.
func (s *VerificationService) Verify(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts Options,
) *types.VerificationResult {
	start := time.Now()
	result := s.verify(ctx, proof, terms, opts.withDefaults())

	labels := metrics.Network(0)
	if proof != nil {
		labels = metrics.Network(proof.ChainID)
	}
	s.metrics.ObserveLatency("verify", time.Since(start), labels)

	if result.IsValid {
		s.metrics.IncCounter("verify_valid", labels)
		s.logger.Debug("payment verified", map[string]any{
			"txHash":  proof.TxHash,
			"chainId": proof.ChainID,
		})
	} else {
		s.metrics.IncCounter("verify_invalid", labels)
		s.logger.Info("payment rejected", map[string]any{
			"reason": string(result.InvalidReason),
			"error":  result.Error,
		})
	}

	return result
}

func (s *VerificationService) verify(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts Options,
) *types.VerificationResult {
	if proof == nil || utils.ValidateTransactionHash(proof.TxHash) != nil {
		return types.Fail(types.ErrMalformedProof, "payment proof is malformed")
	}
	if terms == nil {
		return types.Fail(types.ErrInvalidInput, "payment terms are required")
	}

	// 1. resolve RPC endpoint
	reader, ok := s.source.Reader(proof.ChainID)
	if !ok {
		return types.Fail(types.ErrUnsupportedChain, "no RPC endpoint configured for chain %d", proof.ChainID)
	}

	hash := common.HexToHash(proof.TxHash)

	// 2. transaction
	tx, err := call(ctx, s.rpcTimeout, func(ctx context.Context) (*ethtypes.Transaction, error) {
		tx, _, err := reader.TransactionByHash(ctx, hash)
		return tx, err
	})
	if err != nil || tx == nil {
		return classify(err, types.ErrTransactionNotFound, "transaction %s not found on chain %d", proof.TxHash, proof.ChainID)
	}

	// 3. receipt
	receipt, err := call(ctx, s.rpcTimeout, func(ctx context.Context) (*ethtypes.Receipt, error) {
		return reader.TransactionReceipt(ctx, hash)
	})
	if err != nil || receipt == nil {
		return classify(err, types.ErrNotConfirmed, "transaction %s is not confirmed yet", proof.TxHash)
	}

	// 4. status
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Fail(types.ErrTransactionFailed, "transaction %s failed on-chain", proof.TxHash)
	}

	// 5. confirmations
	current, err := call(ctx, s.rpcTimeout, reader.BlockNumber)
	if err != nil {
		return classify(err, types.ErrRPC, "failed to fetch current block")
	}
	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	var confirmations uint64
	if current > blockNumber {
		confirmations = current - blockNumber
	}
	if confirmations < opts.MinConfirmations {
		return types.Fail(types.ErrInsufficientConfirmations,
			"transaction has %d confirmations, %d required", confirmations, opts.MinConfirmations)
	}

	details := &types.TransactionDetails{
		Hash:          hash.Hex(),
		From:          senderOf(tx),
		BlockNumber:   blockNumber,
		Confirmations: confirmations,
	}

	// 6. age
	if opts.MaxAge > 0 {
		txHeader, err := call(ctx, s.rpcTimeout, func(ctx context.Context) (*ethtypes.Header, error) {
			return reader.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		})
		if err != nil || txHeader == nil {
			return classify(err, types.ErrRPC, "failed to fetch block %d", blockNumber)
		}
		latest, err := call(ctx, s.rpcTimeout, func(ctx context.Context) (*ethtypes.Header, error) {
			return reader.HeaderByNumber(ctx, nil)
		})
		if err != nil || latest == nil {
			return classify(err, types.ErrRPC, "failed to fetch latest block")
		}

		ts := time.Unix(int64(txHeader.Time), 0).UTC()
		details.Timestamp = &ts

		var elapsed uint64
		if latest.Time > txHeader.Time {
			elapsed = latest.Time - txHeader.Time
		}
		if time.Duration(elapsed)*time.Second > opts.MaxAge {
			return types.Fail(types.ErrExpired,
				"payment is %ds old, maximum is %ds", elapsed, int64(opts.MaxAge/time.Second))
		}
	}

	// 7. recipient, 8. amount
	transfer, failure := extractTransfer(tx, receipt, terms)
	if failure != nil {
		return failure
	}
	details.To = transfer.to
	details.Value = transfer.value.String()

	if !opts.AmountPolicy.Satisfied(transfer.value, terms.Amount) {
		return types.Fail(types.ErrInsufficientAmount,
			"payment of %s is below the required %s", transfer.value, terms.Amount)
	}

	// 9.
	return &types.VerificationResult{
		IsValid:     true,
		Transaction: details,
	}
}

// VerifyWithRetry verifies a payment with retry logic
func (s *VerificationService) VerifyWithRetry(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts Options,
	maxAttempts int,
	retryDelay time.Duration,
) *types.VerificationResult {
	return VerifyWithRetry(ctx, s, proof, terms, opts, maxAttempts, retryDelay)
}

// VerifyWithRetry repeats v.Verify up to maxAttempts times with retryDelay
// between attempts. Failures that are permanent for a hash are not retried.
func VerifyWithRetry(
	ctx context.Context,
	v Verifier,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts Options,
	maxAttempts int,
	retryDelay time.Duration,
) *types.VerificationResult {
	if maxAttempts <= 0 {
		maxAttempts = types.DefaultRetryCount
	}

	var result *types.VerificationResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(retryDelay):
			}
		}

		result = v.Verify(ctx, proof, terms, opts)
		if result.IsValid || !types.IsRetryable(result.InvalidReason) {
			return result
		}
	}

	return result
}

// Retrying wraps v so that every Verify goes through VerifyWithRetry.
func Retrying(v Verifier, maxAttempts int, retryDelay time.Duration) Verifier {
	return &retryingVerifier{next: v, attempts: maxAttempts, delay: retryDelay}
}

type retryingVerifier struct {
	next     Verifier
	attempts int
	delay    time.Duration
}

func (r *retryingVerifier) Verify(
	ctx context.Context,
	proof *types.PaymentProof,
	terms *types.PaymentTerms,
	opts Options,
) *types.VerificationResult {
	return VerifyWithRetry(ctx, r.next, proof, terms, opts, r.attempts, r.delay)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// classify maps an RPC error to a result. A nil error or ethereum.NotFound
// means the object is absent and yields notFound.
func classify(err error, notFound types.ErrorKind, format string, args ...any) *types.VerificationResult {
	switch {
	case err == nil, errors.Is(err, ethereum.NotFound):
		return types.Fail(notFound, format, args...)
	case errors.Is(err, context.DeadlineExceeded):
		return types.Fail(types.ErrVerificationTimeout, "RPC call timed out")
	default:
		return types.Fail(types.ErrRPC, "RPC error: %v", err)
	}
}

func senderOf(tx *ethtypes.Transaction) string {
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ""
	}
	return from.Hex()
}
