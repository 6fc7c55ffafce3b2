// Package chaintest provides an in-memory EVM chain backend for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// BlockTime is the number of seconds between synthetic blocks.
const BlockTime = 12

// TransferTopic is the ERC-20/ERC-721 Transfer event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Chain implements clients.ChainWriter over in-memory state. Block n has
// timestamp n*BlockTime.
type Chain struct {
	mu sync.Mutex

	id       *big.Int
	head     uint64
	txs      map[common.Hash]*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	nonces   map[common.Address]uint64
	calls    map[string]int

	// Err is returned from every read call when set.
	Err error

	// SendErr is returned from SendTransaction when set.
	SendErr error

	// SendStatus is the receipt status given to sent transactions.
	SendStatus uint64

	// SendLogs builds the logs of a sent transaction's receipt.
	SendLogs func(tx *ethtypes.Transaction) []*ethtypes.Log

	// ConfirmOnSend is the number of blocks mined on top of a sent transaction.
	ConfirmOnSend uint64
}

// New creates a chain at block 100.
func New(chainID int64) *Chain {
	return &Chain{
		id:         big.NewInt(chainID),
		head:       100,
		txs:        make(map[common.Hash]*ethtypes.Transaction),
		receipts:   make(map[common.Hash]*ethtypes.Receipt),
		nonces:     make(map[common.Address]uint64),
		calls:      make(map[string]int),
		SendStatus: ethtypes.ReceiptStatusSuccessful,
	}
}

// Calls returns how many times method was invoked.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.Err
}

// Head returns the current block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Advance mines n empty blocks.
func (c *Chain) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// AddPending makes tx visible without a receipt.
func (c *Chain) AddPending(tx *ethtypes.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Hash()] = tx
}

// Mine includes tx in a new block with the given status and logs.
func (c *Chain) Mine(tx *ethtypes.Transaction, status uint64, logs ...*ethtypes.Log) *ethtypes.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mine(tx, status, logs)
}

func (c *Chain) mine(tx *ethtypes.Transaction, status uint64, logs []*ethtypes.Log) *ethtypes.Receipt {
	c.head++
	receipt := &ethtypes.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.head),
		Logs:        logs,
	}
	c.txs[tx.Hash()] = tx
	c.receipts[tx.Hash()] = receipt
	return receipt
}

func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	if err := c.record("TransactionByHash"); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := c.receipts[hash]
	return tx, !mined, nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if err := c.record("TransactionReceipt"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.record("BlockNumber"); err != nil {
		return 0, err
	}
	return c.Head(), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	if err := c.record("HeaderByNumber"); err != nil {
		return nil, err
	}
	n := c.Head()
	if number != nil {
		if number.Uint64() > n {
			return nil, ethereum.NotFound
		}
		n = number.Uint64()
	}
	return &ethtypes.Header{
		Number: new(big.Int).SetUint64(n),
		Time:   n * BlockTime,
	}, nil
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.record("ChainID")
	return new(big.Int).Set(c.id), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.record("PendingNonceAt")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.record("SuggestGasPrice")
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.record("EstimateGas")
	if len(msg.Data) > 0 {
		return 65_000, nil
	}
	return 21_000, nil
}

// SendTransaction mines tx immediately with SendStatus.
func (c *Chain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	c.record("SendTransaction")
	if c.SendErr != nil {
		return c.SendErr
	}

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(c.id), tx)
	if err != nil {
		return err
	}

	var logs []*ethtypes.Log
	if c.SendLogs != nil {
		logs = c.SendLogs(tx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[from] = tx.Nonce() + 1
	c.mine(tx, c.SendStatus, logs)
	c.head += c.ConfirmOnSend
	return nil
}

// NewKey generates a fresh account key.
func NewKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// Address returns the account address of key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// SignTransfer signs a legacy value transfer on this chain.
func (c *Chain) SignTransfer(t testing.TB, key *ecdsa.PrivateKey, nonce uint64, to common.Address, value *big.Int, data []byte) *ethtypes.Transaction {
	t.Helper()
	tx, err := ethtypes.SignNewTx(key, ethtypes.LatestSignerForChainID(c.id), &ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      21_000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     data,
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

// TokenTransferLog is an ERC-20 Transfer event.
func TokenTransferLog(token, from, to common.Address, value *big.Int) *ethtypes.Log {
	return &ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

// NFTTransferLog is an ERC-721 Transfer event.
func NFTTransferLog(token, from, to common.Address, tokenID *big.Int) *ethtypes.Log {
	return &ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(tokenID),
		},
	}
}
