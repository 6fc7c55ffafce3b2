package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct runs struct tag validation and wraps failures as config errors.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("validation failed: %v", err),
			Cause:   err,
		}
	}
	return nil
}

// ParseX402Config parses X402Config from JSON
func ParseX402Config(data []byte) (*types.X402Config, error) {
	var config types.X402Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("failed to parse x402 config: %v", err),
			Cause:   err,
		}
	}

	if err := ValidateStruct(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseChainConfig parses ChainConfig from JSON
func ParseChainConfig(data []byte) (*types.ChainConfig, error) {
	var config types.ChainConfig

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("failed to parse chain config: %v", err),
			Cause:   err,
		}
	}

	if err := ValidateStruct(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
