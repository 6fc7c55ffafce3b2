// Package payer is an HTTP client that pays for 402-gated resources and
// retries the request with the resulting proof.
package payer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vitwit/x402/cache"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/settlement"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
)

// BeforePaymentFunc may veto a payment by returning an error.
type BeforePaymentFunc func(ctx context.Context, url string, terms *types.PaymentTerms) error

// AfterPaymentFunc observes a completed payment.
type AfterPaymentFunc func(ctx context.Context, url string, terms *types.PaymentTerms, proof *types.PaymentProof)

// Client pays at most once per Do call.
type Client struct {
	http      *http.Client
	sender    settlement.Sender
	maxAmount *big.Int
	cache     *cache.PaymentCache
	before    BeforePaymentFunc
	after     AfterPaymentFunc
	logger    logger.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithMaxPrice refuses to pay more than max human units of an asset with the
// given decimals.
func WithMaxPrice(max decimal.Decimal, decimals int) Option {
	return func(c *Client) {
		c.maxAmount = utils.DecimalToBigInt(max, decimals)
	}
}

// WithMaxAmount refuses to pay more than max in the asset's smallest unit.
func WithMaxAmount(max *big.Int) Option {
	return func(c *Client) {
		c.maxAmount = max
	}
}

// WithPaymentCache reuses proofs per URL.
func WithPaymentCache(pc *cache.PaymentCache) Option {
	return func(c *Client) {
		c.cache = pc
	}
}

func WithBeforePayment(fn BeforePaymentFunc) Option {
	return func(c *Client) {
		c.before = fn
	}
}

func WithAfterPayment(fn AfterPaymentFunc) Option {
	return func(c *Client) {
		c.after = fn
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client that pays through sender.
func New(sender settlement.Sender, opts ...Option) *Client {
	c := &Client{
		http:   http.DefaultClient,
		sender: sender,
		logger: logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET for url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrRequestFailed, err, "failed to build request")
	}
	return c.Do(req)
}

// Do sends req, paying and retrying once if the server answers 402. Any
// status other than 200 or 402 on the first attempt is returned as is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	url := req.URL.String()

	body, err := readBody(req)
	if err != nil {
		return nil, types.NewError(types.ErrRequestFailed, err, "failed to read request body")
	}

	var cached *types.PaymentProof
	if c.cache != nil {
		cached, _ = c.cache.Get(url)
	}

	resp, err := c.send(req, body, cached)
	if err != nil {
		return nil, types.NewError(types.ErrRequestFailed, err, "request failed")
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	if cached != nil && (resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict) {
		c.logger.Debug("cached payment rejected", map[string]any{"url": url, "status": resp.StatusCode})
		c.cache.Delete(url)
		if resp.StatusCode == http.StatusConflict {
			drain(resp)
			if resp, err = c.send(req, body, nil); err != nil {
				return nil, types.NewError(types.ErrRequestFailed, err, "request failed")
			}
			if resp.StatusCode == http.StatusOK {
				return resp, nil
			}
		}
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	terms, err := c.readTerms(resp)
	if err != nil {
		return nil, err
	}

	proof, err := c.pay(ctx, url, terms)
	if err != nil {
		return nil, err
	}

	retry, err := c.send(req, body, proof)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrPaymentAcceptedButRequestFailed,
			Message: "retry after payment failed",
			Data:    proof,
			Cause:   err,
		}
	}
	if retry.StatusCode != http.StatusOK {
		drain(retry)
		return nil, &types.X402Error{
			Code:    types.ErrPaymentAcceptedButRequestFailed,
			Message: fmt.Sprintf("server answered %d after payment %s", retry.StatusCode, proof),
			Data:    proof,
		}
	}

	return retry, nil
}

func (c *Client) readTerms(resp *http.Response) (*types.PaymentTerms, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrPaymentParse, err, "failed to read 402 response")
	}

	terms := utils.ParsePaymentTerms(resp.Header, raw)
	if terms == nil {
		return nil, types.NewError(types.ErrPaymentParse, nil, "402 response carries no usable payment terms")
	}
	return terms, nil
}

func (c *Client) pay(ctx context.Context, url string, terms *types.PaymentTerms) (*types.PaymentProof, error) {
	if c.maxAmount != nil && terms.Amount.Cmp(c.maxAmount) > 0 {
		return nil, &types.X402Error{
			Code: types.ErrPriceExceeded,
			Message: fmt.Sprintf("price %s exceeds maximum %s",
				utils.FormatAmountFromBigInt(terms.Amount, terms.Decimals()),
				utils.FormatAmountFromBigInt(c.maxAmount, terms.Decimals())),
			Data: terms,
		}
	}

	if c.before != nil {
		if err := c.before(ctx, url, terms); err != nil {
			return nil, types.NewError(types.ErrPaymentCancelled, err, "payment vetoed")
		}
	}

	fields := map[string]any{
		"url":       url,
		"amount":    terms.Amount.String(),
		"recipient": terms.Recipient,
		"chainId":   terms.ChainID,
	}
	c.logger.Info("paying for resource", fields)

	proof, err := c.sender.Pay(ctx, terms)
	if err != nil {
		if types.IsKind(err, types.ErrPaymentTransactionFailed) {
			return nil, err
		}
		return nil, types.NewError(types.ErrPaymentTransactionFailed, err, "payment failed")
	}
	if proof == nil {
		return nil, types.NewError(types.ErrPaymentTransactionFailed, nil, "sender returned no proof")
	}

	fields["txHash"] = proof.TxHash
	c.logger.Info("payment confirmed", fields)

	if c.after != nil {
		c.after(ctx, url, terms, proof)
	}
	if c.cache != nil {
		c.cache.Put(url, proof)
	}
	return proof, nil
}

func (c *Client) send(req *http.Request, body []byte, proof *types.PaymentProof) (*http.Response, error) {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}
	r.Header.Del(types.HeaderPayment)
	if proof != nil {
		value, err := utils.EncodeProof(proof.TxHash, proof.ChainID)
		if err != nil {
			return nil, err
		}
		r.Header.Set(types.HeaderPayment, value)
	}
	return c.http.Do(r)
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
