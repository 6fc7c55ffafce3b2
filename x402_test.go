package x402

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402/clients"
	"github.com/vitwit/x402/internal/chaintest"
	"github.com/vitwit/x402/middleware"
	"github.com/vitwit/x402/payer"
	"github.com/vitwit/x402/settlement"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/verification"
)

func newLocal(t *testing.T) (*X402, *chaintest.Chain) {
	t.Helper()
	x, err := New(&types.X402Config{RetryCount: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(x.Close)

	chain := chaintest.New(types.ChainLocal)
	cfg := types.ChainConfig{ChainID: types.ChainLocal, RPCUrl: "http://127.0.0.1:8545"}
	require.NoError(t, x.AddClient(cfg, clients.NewEVMClientWithBackend(cfg, chain)))
	return x, chain
}

func TestEndToEnd(t *testing.T) {
	x, chain := newLocal(t)
	chain.ConfirmOnSend = 1
	recipient := chaintest.Address(chaintest.NewKey(t))

	price, err := ParsePrice("0.01", 18)
	require.NoError(t, err)
	gate, err := x.Gate(middleware.GateConfig{
		Recipient: recipient.Hex(),
		Price:     price,
		ChainID:   types.ChainLocal,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payment, ok := middleware.PaymentFromContext(r.Context())
		if !ok {
			http.Error(w, "unpaid", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, payment.Transaction.From)
	})))
	defer srv.Close()

	key := chaintest.NewKey(t)
	sender := settlement.NewEVMSender(key, x.Registry(), settlement.WithPollInterval(time.Millisecond))
	client := payer.New(sender, payer.WithMaxPrice(decimal.RequireFromString("0.05"), 18))

	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chaintest.Address(key).Hex(), string(body))
	assert.Equal(t, 1, chain.Calls("SendTransaction"))

	// the same proof presented by someone else
	proof := resp.Request.Header.Get(types.HeaderPayment)
	require.NotEmpty(t, proof)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set(types.HeaderPayment, proof)
	replay, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	replay.Body.Close()
	assert.Equal(t, http.StatusConflict, replay.StatusCode)
}

func TestVerifyThroughFacade(t *testing.T) {
	x, chain := newLocal(t)
	payerKey := chaintest.NewKey(t)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	tx := chain.SignTransfer(t, payerKey, 0, recipient, big.NewInt(1000), nil)
	chain.Mine(tx, 1)
	chain.Advance(3)

	terms := &types.PaymentTerms{
		Recipient:       recipient.Hex(),
		Amount:          big.NewInt(1000),
		ChainID:         types.ChainLocal,
		SupportedChains: []int64{types.ChainLocal},
		AssetType:       types.AssetNative,
	}
	proof := &types.PaymentProof{TxHash: tx.Hash().Hex(), ChainID: types.ChainLocal}

	result := x.Verify(context.Background(), proof, terms, verification.Options{MinConfirmations: 3})
	require.True(t, result.IsValid, result.Error)
	assert.Equal(t, uint64(3), result.Transaction.Confirmations)

	missing := &types.PaymentProof{TxHash: common.HexToHash("0x99").Hex(), ChainID: types.ChainLocal}
	result = x.VerifyWithRetry(context.Background(), missing, terms, verification.Options{})
	assert.Equal(t, types.ErrTransactionNotFound, result.InvalidReason)
	// not found is permanent, so no second attempt
	assert.Equal(t, 2, chain.Calls("TransactionByHash"))
}

func TestSupportedChains(t *testing.T) {
	x, _ := newLocal(t)

	chains := x.SupportedChains()

	require.Len(t, chains, 1)
	assert.Equal(t, types.ChainLocal, chains[0].ChainID)
	assert.Equal(t, "Localnet", chains[0].Name)
	assert.Equal(t, "http://127.0.0.1:8545", chains[0].RPCUrl)
	assert.True(t, x.IsChainSupported(types.ChainLocal))
	assert.False(t, x.IsChainSupported(types.ChainBase))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&types.X402Config{LogLevel: "loud"})
	assert.Equal(t, types.ErrConfig, types.KindOf(err))

	_, err = New(&types.X402Config{Chains: []types.ChainConfig{{ChainID: 8453}}})
	assert.Equal(t, types.ErrConfig, types.KindOf(err))
}

func TestNewDefaults(t *testing.T) {
	x, err := NewWithDefaults()
	require.NoError(t, err)
	defer x.Close()

	cfg := x.Config()
	assert.Equal(t, types.DefaultReplayTTL, cfg.ReplayTTL)
	assert.Equal(t, types.DefaultRetryCount, cfg.RetryCount)
	assert.Equal(t, types.DefaultReplayTTL, x.ReplayCache().TTL())
	assert.Empty(t, x.SupportedChains())
}

func TestParsePrice(t *testing.T) {
	v, err := ParsePrice("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", v.String())

	_, err = ParsePrice("abc", 6)
	assert.Equal(t, types.ErrConfig, types.KindOf(err))
}
