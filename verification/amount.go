package verification

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
)

// AmountPolicy decides whether a paid value satisfies a required amount.
type AmountPolicy string

const (
	// AmountExact requires value >= amount. The gate default.
	AmountExact AmountPolicy = "exact"

	// AmountTolerance accepts values down to 1% below amount, absorbing
	// rounding from human-formatted inputs.
	AmountTolerance AmountPolicy = "tolerance"
)

// ToleranceBasisPoints is the shortfall AmountTolerance accepts.
const ToleranceBasisPoints = 100

// Minimum returns the smallest value the policy accepts for amount.
func (p AmountPolicy) Minimum(amount *big.Int) *big.Int {
	if p != AmountTolerance {
		return new(big.Int).Set(amount)
	}
	min := new(big.Int).Mul(amount, big.NewInt(10_000-ToleranceBasisPoints))
	// round up so the accepted shortfall never exceeds the tolerance
	return min.Add(min, big.NewInt(9_999)).Div(min, big.NewInt(10_000))
}

// Satisfied reports whether value pays for amount under the policy.
func (p AmountPolicy) Satisfied(value, amount *big.Int) bool {
	if value == nil || amount == nil {
		return false
	}
	return value.Cmp(p.Minimum(amount)) >= 0
}

// transferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC-20 and ERC-721.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type transfer struct {
	to    string
	value *big.Int
}

// extractTransfer finds what the transaction paid to terms.Recipient.
func extractTransfer(tx *ethtypes.Transaction, receipt *ethtypes.Receipt, terms *types.PaymentTerms) (*transfer, *types.VerificationResult) {
	if terms.AssetType == types.AssetNative || terms.AssetType == "" {
		if tx.To() == nil {
			return nil, types.Fail(types.ErrWrongRecipient, "transaction is a contract creation")
		}
		to := tx.To().Hex()
		if !utils.SameAddress(to, terms.Recipient) {
			return nil, types.Fail(types.ErrWrongRecipient, "payment sent to %s, expected %s", to, terms.Recipient)
		}
		return &transfer{to: to, value: new(big.Int).Set(tx.Value())}, nil
	}

	token := common.HexToAddress(terms.TokenAddress)
	recipient := common.HexToAddress(terms.Recipient)
	nft := terms.AssetType == types.AssetNonFungibleToken

	var (
		sawToken bool
		lastTo   string
		total    = new(big.Int)
	)
	for _, log := range receipt.Logs {
		if log == nil || log.Address != token || len(log.Topics) == 0 || log.Topics[0] != transferTopic {
			continue
		}
		sawToken = true

		var value *big.Int
		switch {
		case nft && len(log.Topics) == 4:
			value = big.NewInt(1)
		case !nft && len(log.Topics) == 3:
			value = new(big.Int).SetBytes(log.Data)
		default:
			continue
		}

		to := common.BytesToAddress(log.Topics[2].Bytes())
		lastTo = to.Hex()
		if to == recipient {
			total.Add(total, value)
		}
	}

	if !sawToken {
		return nil, types.Fail(types.ErrWrongToken, "no %s transfer of token %s in transaction", terms.AssetType, token.Hex())
	}
	if total.Sign() == 0 {
		return nil, types.Fail(types.ErrWrongRecipient, "token sent to %s, expected %s", lastTo, recipient.Hex())
	}

	return &transfer{to: recipient.Hex(), value: total}, nil
}
