// Package settlement submits on-chain payments on behalf of a client.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402/clients"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/types"
)

// Sender pays the given terms and returns the proof of payment once the
// transaction is mined.
type Sender interface {
	Pay(ctx context.Context, terms *types.PaymentTerms) (*types.PaymentProof, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, terms *types.PaymentTerms) (*types.PaymentProof, error)

func (f SenderFunc) Pay(ctx context.Context, terms *types.PaymentTerms) (*types.PaymentProof, error) {
	return f(ctx, terms)
}

// WriterSource resolves the RPC connection used to submit on a chain.
type WriterSource interface {
	Writer(chainID int64) (clients.ChainWriter, bool)
}

// StaticWriters is a fixed chain id to writer mapping.
type StaticWriters map[int64]clients.ChainWriter

func (s StaticWriters) Writer(chainID int64) (clients.ChainWriter, bool) {
	w, ok := s[chainID]
	return w, ok
}

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EVMSender signs and submits native or ERC-20 transfers with a local key.
type EVMSender struct {
	key           *ecdsa.PrivateKey
	from          common.Address
	writers       WriterSource
	pollInterval  time.Duration
	timeout       time.Duration
	confirmations uint64
	logger        logger.Logger
}

type Option func(*EVMSender)

// WithPollInterval sets how often the receipt is polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *EVMSender) {
		s.pollInterval = d
	}
}

// WithTimeout bounds submission plus mining.
func WithTimeout(d time.Duration) Option {
	return func(s *EVMSender) {
		s.timeout = d
	}
}

// WithConfirmations waits until n blocks are mined on top of the payment.
func WithConfirmations(n uint64) Option {
	return func(s *EVMSender) {
		s.confirmations = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *EVMSender) {
		s.logger = l
	}
}

// NewEVMSender creates a sender paying from key.
func NewEVMSender(key *ecdsa.PrivateKey, writers WriterSource, opts ...Option) *EVMSender {
	s := &EVMSender{
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		writers:      writers,
		pollInterval: time.Second,
		timeout:      2 * time.Minute,
		logger:       logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEVMSenderFromHex parses a hex private key, with or without 0x.
func NewEVMSenderFromHex(hexKey string, writers WriterSource, opts ...Option) (*EVMSender, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, types.NewError(types.ErrConfig, err, "invalid private key")
	}
	return NewEVMSender(key, writers, opts...), nil
}

// Address returns the paying account.
func (s *EVMSender) Address() common.Address {
	return s.from
}

// Pay implements Sender.
func (s *EVMSender) Pay(ctx context.Context, terms *types.PaymentTerms) (*types.PaymentProof, error) {
	if terms == nil || terms.Amount == nil || terms.Amount.Sign() <= 0 {
		return nil, failed(nil, "invalid payment terms")
	}

	writer, ok := s.writers.Writer(terms.ChainID)
	if !ok {
		return nil, failed(nil, "no RPC endpoint configured for chain %d", terms.ChainID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	to, value, data, err := s.buildCall(terms)
	if err != nil {
		return nil, err
	}

	chainID, err := writer.ChainID(ctx)
	if err != nil {
		return nil, failed(err, "failed to get chain id")
	}
	nonce, err := writer.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, failed(err, "failed to get nonce")
	}
	gasPrice, err := writer.SuggestGasPrice(ctx)
	if err != nil {
		return nil, failed(err, "failed to get gas price")
	}
	gas, err := writer.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return nil, failed(err, "failed to estimate gas")
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, failed(err, "failed to sign transaction")
	}

	if err := writer.SendTransaction(ctx, signed); err != nil {
		return nil, failed(err, "failed to send transaction")
	}

	fields := map[string]any{
		"txHash":  signed.Hash().Hex(),
		"chainId": terms.ChainID,
		"amount":  terms.Amount.String(),
	}
	s.logger.Info("payment submitted", fields)

	if err := s.waitMined(ctx, writer, signed.Hash()); err != nil {
		s.logger.Error("payment did not confirm", fields)
		return nil, err
	}

	return &types.PaymentProof{TxHash: signed.Hash().Hex(), ChainID: terms.ChainID}, nil
}

func (s *EVMSender) buildCall(terms *types.PaymentTerms) (common.Address, *big.Int, []byte, error) {
	recipient := common.HexToAddress(terms.Recipient)

	switch terms.AssetType {
	case types.AssetNative, "":
		return recipient, new(big.Int).Set(terms.Amount), nil, nil
	case types.AssetFungibleToken:
		if !common.IsHexAddress(terms.TokenAddress) {
			return common.Address{}, nil, nil, failed(nil, "invalid token address %q", terms.TokenAddress)
		}
		data, err := erc20ABI.Pack("transfer", recipient, terms.Amount)
		if err != nil {
			return common.Address{}, nil, nil, failed(err, "failed to encode token transfer")
		}
		return common.HexToAddress(terms.TokenAddress), big.NewInt(0), data, nil
	default:
		return common.Address{}, nil, nil, failed(nil, "%s payments are not supported", terms.AssetType)
	}
}

func (s *EVMSender) waitMined(ctx context.Context, writer clients.ChainWriter, hash common.Hash) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var receipt *ethtypes.Receipt
	for {
		if receipt == nil {
			r, err := writer.TransactionReceipt(ctx, hash)
			switch {
			case err == nil:
				if r.Status != ethtypes.ReceiptStatusSuccessful {
					return failed(nil, "transaction %s reverted", hash.Hex())
				}
				receipt = r
			case !errors.Is(err, ethereum.NotFound):
				s.logger.Debug("receipt lookup failed", map[string]any{"txHash": hash.Hex(), "error": err.Error()})
			}
		}

		if receipt != nil {
			if s.confirmations == 0 {
				return nil
			}
			head, err := writer.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+s.confirmations {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return failed(ctx.Err(), "transaction %s not confirmed", hash.Hex())
		case <-ticker.C:
		}
	}
}

func failed(cause error, format string, args ...any) error {
	return types.NewError(types.ErrPaymentTransactionFailed, cause, format, args...)
}
