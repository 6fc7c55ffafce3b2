package clients

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	x402types "github.com/vitwit/x402/types"
)

var _ Client = (*EVMClient)(nil)

// EVMClient is a JSON-RPC connection to one EVM chain. Every call waits on the
// chain's rate limiter when one is configured.
type EVMClient struct {
	chainID int64
	rpcURL  string
	backend ChainWriter
	closer  func()
	limiter *rate.Limiter
}

// NewEVMClient dials the chain's RPC endpoint.
func NewEVMClient(cfg x402types.ChainConfig) (*EVMClient, error) {
	eth, err := ethclient.Dial(cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d RPC: %w", cfg.ChainID, err)
	}

	c := NewEVMClientWithBackend(cfg, eth)
	c.closer = eth.Close
	return c, nil
}

// NewEVMClientWithBackend wraps an existing backend, e.g. a simulated chain.
func NewEVMClientWithBackend(cfg x402types.ChainConfig, backend ChainWriter) *EVMClient {
	c := &EVMClient{
		chainID: cfg.ChainID,
		rpcURL:  cfg.RPCUrl,
		backend: backend,
	}

	if cfg.RPCRateLimit > 0 {
		burst := cfg.RPCBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPCRateLimit), burst)
	}

	return c
}

// GetChainID implements Client.
func (e *EVMClient) GetChainID() int64 {
	return e.chainID
}

// RPCUrl returns the endpoint this client was created with.
func (e *EVMClient) RPCUrl() string {
	return e.rpcURL
}

// Close implements Client.
func (e *EVMClient) Close() {
	if e.closer != nil {
		e.closer()
	}
}

func (e *EVMClient) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *EVMClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	if err := e.wait(ctx); err != nil {
		return nil, false, err
	}
	return e.backend.TransactionByHash(ctx, hash)
}

func (e *EVMClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.backend.TransactionReceipt(ctx, hash)
}

func (e *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := e.wait(ctx); err != nil {
		return 0, err
	}
	return e.backend.BlockNumber(ctx)
}

func (e *EVMClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.backend.HeaderByNumber(ctx, number)
}

func (e *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.backend.ChainID(ctx)
}

func (e *EVMClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := e.wait(ctx); err != nil {
		return 0, err
	}
	return e.backend.PendingNonceAt(ctx, account)
}

func (e *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.backend.SuggestGasPrice(ctx)
}

func (e *EVMClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := e.wait(ctx); err != nil {
		return 0, err
	}
	return e.backend.EstimateGas(ctx, msg)
}

func (e *EVMClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	return e.backend.SendTransaction(ctx, tx)
}
