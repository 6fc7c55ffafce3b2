package middleware

import (
	"fmt"
	"math/big"
	"time"

	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
	"github.com/vitwit/x402/verification"
)

// GateConfig describes what a protected endpoint charges.
type GateConfig struct {
	// Address that must receive the payment.
	Recipient string `validate:"required"`

	// Price in the smallest unit of the asset (wei for native payments).
	Price *big.Int `validate:"required"`

	// Primary chain advertised in the 402 response.
	ChainID int64 `validate:"required,gt=0"`

	// Other chains on which a proof is accepted.
	AdditionalChains []int64 `validate:"dive,gt=0"`

	AssetType     types.AssetType
	TokenAddress  string
	TokenDecimals int `validate:"gte=0,lte=36"`

	// Defaults to 1.
	MinConfirmations uint64

	// Zero accepts payments of any age.
	MaxAge time.Duration

	// Defaults to verification.AmountExact.
	AmountPolicy verification.AmountPolicy `validate:"omitempty,oneof=exact tolerance"`

	Description string
}

// Validate checks the configuration.
func (c GateConfig) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	_, err := c.Terms()
	return err
}

// Terms builds the payment terms the gate enforces.
func (c GateConfig) Terms() (*types.PaymentTerms, error) {
	recipient := utils.NormalizeAddress(c.Recipient)
	if recipient == "" {
		return nil, types.NewError(types.ErrConfig, nil, "invalid recipient address %q", c.Recipient)
	}

	assetType := c.AssetType
	if assetType == "" {
		assetType = types.AssetNative
	}

	chains := []int64{c.ChainID}
	for _, id := range c.AdditionalChains {
		if id != c.ChainID {
			chains = append(chains, id)
		}
	}

	terms := &types.PaymentTerms{
		Recipient:       recipient,
		Amount:          c.Price,
		ChainID:         c.ChainID,
		SupportedChains: chains,
		AssetType:       assetType,
		TokenDecimals:   c.TokenDecimals,
		Description:     c.Description,
	}
	if c.TokenAddress != "" {
		if terms.TokenAddress = utils.NormalizeAddress(c.TokenAddress); terms.TokenAddress == "" {
			return nil, types.NewError(types.ErrConfig, nil, "invalid token address %q", c.TokenAddress)
		}
	}

	if err := terms.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfig, err, "invalid gate configuration")
	}
	return terms, nil
}

func (c GateConfig) verifyOptions() verification.Options {
	return verification.Options{
		MinConfirmations: c.MinConfirmations,
		MaxAge:           c.MaxAge,
		AmountPolicy:     c.AmountPolicy,
	}
}

func (c GateConfig) String() string {
	return fmt.Sprintf("%s %s on chain %d", utils.AmountString(c.Price), c.AssetType, c.ChainID)
}
