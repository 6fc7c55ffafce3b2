package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/internal/chaintest"
	"github.com/vitwit/x402/types"
)

const chainID = 1337

func setup(t *testing.T, opts ...Option) (*EVMSender, *chaintest.Chain, common.Address) {
	t.Helper()
	chain := chaintest.New(chainID)
	opts = append([]Option{WithPollInterval(time.Millisecond), WithTimeout(time.Second)}, opts...)
	sender := NewEVMSender(chaintest.NewKey(t), StaticWriters{chainID: chain}, opts...)
	return sender, chain, chaintest.Address(chaintest.NewKey(t))
}

func nativeTerms(to common.Address, amount int64) *types.PaymentTerms {
	return &types.PaymentTerms{
		Recipient:       to.Hex(),
		Amount:          big.NewInt(amount),
		ChainID:         chainID,
		SupportedChains: []int64{chainID},
		AssetType:       types.AssetNative,
	}
}

func TestPayNative(t *testing.T) {
	sender, chain, recipient := setup(t)

	proof, err := sender.Pay(context.Background(), nativeTerms(recipient, 5000))

	require.NoError(t, err)
	assert.Equal(t, int64(chainID), proof.ChainID)

	tx, pending, err := chain.TransactionByHash(context.Background(), common.HexToHash(proof.TxHash))
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, recipient, *tx.To())
	assert.Equal(t, int64(5000), tx.Value().Int64())
	assert.Equal(t, uint64(21_000), tx.Gas())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(chainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, sender.Address(), from)

	// the next payment uses the next nonce
	second, err := sender.Pay(context.Background(), nativeTerms(recipient, 5000))
	require.NoError(t, err)
	assert.NotEqual(t, proof.TxHash, second.TxHash)
}

func TestPayFungibleToken(t *testing.T) {
	sender, chain, recipient := setup(t)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	terms := nativeTerms(recipient, 2_500_000)
	terms.AssetType = types.AssetFungibleToken
	terms.TokenAddress = token.Hex()

	proof, err := sender.Pay(context.Background(), terms)
	require.NoError(t, err)

	tx, _, err := chain.TransactionByHash(context.Background(), common.HexToHash(proof.TxHash))
	require.NoError(t, err)
	assert.Equal(t, token, *tx.To())
	assert.Zero(t, tx.Value().Sign())

	args, err := erc20ABI.Methods["transfer"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Data()[:4])
	assert.Equal(t, recipient, args[0].(common.Address))
	assert.Equal(t, big.NewInt(2_500_000), args[1].(*big.Int))
}

func TestPayRejectsNonFungibleToken(t *testing.T) {
	sender, chain, recipient := setup(t)
	terms := nativeTerms(recipient, 1)
	terms.AssetType = types.AssetNonFungibleToken
	terms.TokenAddress = recipient.Hex()

	_, err := sender.Pay(context.Background(), terms)

	assert.True(t, types.IsKind(err, types.ErrPaymentTransactionFailed))
	assert.Zero(t, chain.Calls("SendTransaction"))
}

func TestPayReverted(t *testing.T) {
	sender, chain, recipient := setup(t)
	chain.SendStatus = ethtypes.ReceiptStatusFailed

	_, err := sender.Pay(context.Background(), nativeTerms(recipient, 1))

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrPaymentTransactionFailed))
	assert.Contains(t, err.Error(), "reverted")
}

func TestPaySendError(t *testing.T) {
	sender, chain, recipient := setup(t)
	chain.SendErr = errors.New("insufficient funds for gas * price + value")

	_, err := sender.Pay(context.Background(), nativeTerms(recipient, 1))

	assert.True(t, types.IsKind(err, types.ErrPaymentTransactionFailed))
	assert.ErrorIs(t, err, chain.SendErr)
}

func TestPayUnknownChain(t *testing.T) {
	sender, _, recipient := setup(t)
	terms := nativeTerms(recipient, 1)
	terms.ChainID = 8453

	_, err := sender.Pay(context.Background(), terms)

	assert.True(t, types.IsKind(err, types.ErrPaymentTransactionFailed))
}

func TestPayWaitsForConfirmations(t *testing.T) {
	sender, chain, recipient := setup(t, WithConfirmations(2))

	done := make(chan error, 1)
	go func() {
		_, err := sender.Pay(context.Background(), nativeTerms(recipient, 1))
		done <- err
	}()

	require.Eventually(t, func() bool { return chain.Calls("BlockNumber") > 0 }, time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("returned before confirmations: %v", err)
	default:
	}

	chain.Advance(2)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("payment never confirmed")
	}
}

func TestNewEVMSenderFromHex(t *testing.T) {
	_, err := NewEVMSenderFromHex("0xnothex", StaticWriters{})
	assert.True(t, types.IsKind(err, types.ErrConfig))

	s, err := NewEVMSenderFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", StaticWriters{})
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())
}
