package utils

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitwit/x402/types"
)

// EncodeProof renders the X-PAYMENT header value for a transaction.
func EncodeProof(txHash string, chainID int64) (string, error) {
	if err := ValidateTransactionHash(txHash); err != nil {
		return "", types.NewError(types.ErrInvalidInput, err, "cannot encode proof")
	}
	return txHash + ":" + strconv.FormatInt(chainID, 10), nil
}

// DecodeProof parses an X-PAYMENT header value. Malformed input yields nil.
func DecodeProof(header string) *types.PaymentProof {
	parts := strings.Split(strings.TrimSpace(header), ":")
	if len(parts) != 2 {
		return nil
	}

	txHash := strings.TrimSpace(parts[0])
	if ValidateTransactionHash(txHash) != nil {
		return nil
	}

	chainID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return nil
	}

	return &types.PaymentProof{TxHash: txHash, ChainID: chainID}
}

// ParsePaymentTerms reads the terms of a 402 response, preferring the
// dedicated headers and falling back to the JSON body field by field.
// Returns nil when recipient or amount cannot be determined.
func ParsePaymentTerms(header http.Header, body []byte) *types.PaymentTerms {
	var parsed types.PaymentRequiredResponse
	hasBody := len(body) > 0 && json.Unmarshal(body, &parsed) == nil
	p := parsed.Payment

	terms := &types.PaymentTerms{}

	recipient := addressFromHeaders(header)
	if recipient == "" && hasBody {
		recipient = p.Recipient
	}
	if recipient = NormalizeAddress(recipient); recipient == "" {
		return nil
	}
	terms.Recipient = recipient

	amount := header.Get(types.HeaderCost)
	if amount == "" && hasBody {
		amount = p.Amount
	}
	value, err := ValidateBigInt(amount)
	if err != nil || value.Sign() <= 0 {
		return nil
	}
	terms.Amount = value

	if chains, err := types.ParseChainList(header.Get(types.HeaderSupportedChains)); err == nil && len(chains) > 0 {
		terms.SupportedChains = chains
	} else if hasBody {
		for _, c := range p.SupportedChains {
			terms.SupportedChains = append(terms.SupportedChains, c.ChainID)
		}
	}

	if id, err := strconv.ParseInt(strings.TrimSpace(header.Get(types.HeaderChainID)), 10, 64); err == nil {
		terms.ChainID = id
	} else if hasBody && p.ChainID != 0 {
		terms.ChainID = p.ChainID
	} else if len(terms.SupportedChains) > 0 {
		terms.ChainID = terms.SupportedChains[0]
	}
	if terms.ChainID != 0 && !terms.AcceptsChain(terms.ChainID) {
		terms.SupportedChains = append([]int64{terms.ChainID}, terms.SupportedChains...)
	}

	terms.AssetType = types.AssetType(header.Get(types.HeaderAssetType))
	if terms.AssetType == "" && hasBody {
		terms.AssetType = p.AssetType
	}
	if !terms.AssetType.IsValid() {
		terms.AssetType = types.AssetNative
	}

	token := header.Get(types.HeaderTokenAddress)
	if token == "" && hasBody {
		token = p.TokenAddress
	}
	terms.TokenAddress = NormalizeAddress(token)

	return terms
}

func addressFromHeaders(header http.Header) string {
	for key, values := range header {
		if types.IsAddressHeader(key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// ProofFromRequest is a convenience for handlers that want the raw proof.
func ProofFromRequest(r *http.Request) *types.PaymentProof {
	return DecodeProof(r.Header.Get(types.HeaderPayment))
}

// AmountString renders a nil-safe decimal string.
func AmountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
