// Package config loads the provider configuration from a YAML or JSON file,
// with X402_* environment variables overriding file values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/vitwit/x402/middleware"
	"github.com/vitwit/x402/types"
	"github.com/vitwit/x402/utils"
	"github.com/vitwit/x402/verification"
)

const envPrefix = "X402"

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Gzip            bool          `mapstructure:"gzip"`
}

// EndpointConfig is one gated route.
type EndpointConfig struct {
	Path             string          `validate:"required,startswith=/"`
	Method           string          `validate:"oneof=GET POST PUT PATCH DELETE"`
	Recipient        string          `validate:"required"`
	Price            string          `validate:"required"`
	Decimals         int             `validate:"gte=0,lte=36"`
	ChainID          int64           `validate:"required,gt=0"`
	AdditionalChains []int64         `validate:"dive,gt=0"`
	AssetType        types.AssetType `validate:"omitempty,oneof=native fungible-token non-fungible-token"`
	TokenAddress     string
	MinConfirmations uint64
	MaxAge           time.Duration
	AmountPolicy     string `validate:"omitempty,oneof=exact tolerance"`
	Description      string
	Response         string
}

type Config struct {
	X402      types.X402Config `mapstructure:"x402"`
	Server    ServerConfig     `mapstructure:"server"`
	Endpoints []EndpointConfig `mapstructure:"-" validate:"dive"`
}

// Load reads path and applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, types.NewError(types.ErrConfig, err, "error reading config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, err, "error loading config to struct")
	}

	endpoints, err := parseEndpoints(v.Get("endpoints"))
	if err != nil {
		return nil, err
	}
	cfg.Endpoints = endpoints

	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("x402.default_timeout", types.DefaultTimeout)
	v.SetDefault("x402.rpc_timeout", types.DefaultRPCTimeout)
	v.SetDefault("x402.retry_count", types.DefaultRetryCount)
	v.SetDefault("x402.retry_delay", types.DefaultRetryDelay)
	v.SetDefault("x402.replay_ttl", types.DefaultReplayTTL)
	v.SetDefault("x402.sweep_interval", types.DefaultSweepInterval)
	v.SetDefault("x402.log_level", "info")
	v.SetDefault("x402.log_backend", "zap")
	v.SetDefault("x402.enable_metrics", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.gzip", true)
}

// parseEndpoints decodes the endpoint list by hand so that chain lists may
// be written either as YAML sequences or as "8453,84532" strings.
func parseEndpoints(raw interface{}) ([]EndpointConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, err, "endpoints must be a list")
	}

	endpoints := make([]EndpointConfig, 0, len(items))
	for i, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, types.NewError(types.ErrConfig, err, "endpoint %d is not a mapping", i)
		}

		e := EndpointConfig{
			Path:             cast.ToString(m["path"]),
			Method:           strings.ToUpper(cast.ToString(m["method"])),
			Recipient:        cast.ToString(m["recipient"]),
			Price:            cast.ToString(m["price"]),
			Decimals:         cast.ToInt(m["decimals"]),
			ChainID:          cast.ToInt64(m["chain_id"]),
			AssetType:        types.AssetType(cast.ToString(m["asset_type"])),
			TokenAddress:     cast.ToString(m["token_address"]),
			MinConfirmations: cast.ToUint64(m["min_confirmations"]),
			AmountPolicy:     cast.ToString(m["amount_policy"]),
			Description:      cast.ToString(m["description"]),
			Response:         cast.ToString(m["response"]),
		}
		if e.Method == "" {
			e.Method = "GET"
		}
		if _, ok := m["decimals"]; !ok {
			e.Decimals = -1
		}
		if age, ok := m["max_age"]; ok {
			if e.MaxAge, err = cast.ToDurationE(age); err != nil {
				return nil, types.NewError(types.ErrConfig, err, "endpoint %s: invalid max_age", e.Path)
			}
		}
		if e.AdditionalChains, err = chainList(m["additional_chains"]); err != nil {
			return nil, types.NewError(types.ErrConfig, err, "endpoint %s: invalid additional_chains", e.Path)
		}

		e = e.withDefaults()
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

func (e EndpointConfig) withDefaults() EndpointConfig {
	if e.Decimals < 0 {
		switch e.AssetType {
		case types.AssetNonFungibleToken:
			e.Decimals = 0
		case types.AssetFungibleToken:
			e.Decimals = 6
		default:
			e.Decimals = 18
		}
	}
	return e
}

func chainList(raw interface{}) ([]int64, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return types.ParseChainList(val)
	default:
		items, err := cast.ToSliceE(val)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			id, err := cast.ToInt64E(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
}

// GateConfig converts the endpoint into gate settings. Price is read in
// human units scaled by Decimals.
func (e EndpointConfig) GateConfig() (middleware.GateConfig, error) {
	price, err := utils.ParseAmountWithDecimals(e.Price, e.Decimals)
	if err != nil {
		return middleware.GateConfig{}, types.NewError(types.ErrConfig, err, "endpoint %s: invalid price %q", e.Path, e.Price)
	}

	return middleware.GateConfig{
		Recipient:        e.Recipient,
		Price:            price,
		ChainID:          e.ChainID,
		AdditionalChains: e.AdditionalChains,
		AssetType:        e.AssetType,
		TokenAddress:     e.TokenAddress,
		TokenDecimals:    e.Decimals,
		MinConfirmations: e.MinConfirmations,
		MaxAge:           e.MaxAge,
		AmountPolicy:     verification.AmountPolicy(e.AmountPolicy),
		Description:      e.Description,
	}, nil
}

func (e EndpointConfig) String() string {
	return fmt.Sprintf("%s %s", e.Method, e.Path)
}
