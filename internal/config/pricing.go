package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentRail selects which on-chain evidence proves a payment.
type PaymentRail string

const (
	// RailNative checks the transaction's own recipient and value.
	RailNative PaymentRail = "native"
	// RailGatewayEvent checks a Paid event emitted by the gateway contract.
	RailGatewayEvent PaymentRail = "gateway_event"
)

// PriceEntry is the server-side price for a usage tag. Clients never supply
// amounts; the table is the only source of what a tag costs and grants.
type PriceEntry struct {
	MinAmount string      `mapstructure:"minAmount"`
	Credits   int64       `mapstructure:"credits"`
	ProDays   int         `mapstructure:"proDays"`
	Rail      PaymentRail `mapstructure:"rail"`
}

// MinAmountInt parses MinAmount into the smallest on-chain unit.
func (e PriceEntry) MinAmountInt() (*big.Int, bool) {
	if strings.TrimSpace(e.MinAmount) == "" {
		return nil, true
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(e.MinAmount), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

type PricingConfig struct {
	Tags        map[string]PriceEntry `mapstructure:"tags"`
	LaunchCosts map[string]int64      `mapstructure:"launchCosts"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Tags: map[string]PriceEntry{
			"SEC_AUDIT":     {MinAmount: "1000000000000000", Credits: 5, Rail: RailNative},
			"TOKEN_LAUNCH":  {MinAmount: "5000000000000000", Credits: 20, Rail: RailNative},
			"BOT_STUB":      {MinAmount: "500000000000000", Credits: 2, Rail: RailNative},
			"BUSINESS_PLAN": {MinAmount: "500000000000000", Credits: 2, Rail: RailNative},
			"PRO_SUB":       {MinAmount: "10000000000000000", ProDays: 30, Rail: RailNative},
			"USDT_TOPUP":    {MinAmount: "5000000", Credits: 10, Rail: RailGatewayEvent},
		},
		LaunchCosts: map[string]int64{
			"sec_audit":     5,
			"token_launch":  20,
			"bot_stub":      2,
			"business_plan": 2,
		},
	}
}

// PricingHolder serves the current pricing table and hot reloads it when the
// backing file changes. Lookups are lock free.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	log = log.Named("config.pricing")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditgate/config")
	v.AddConfigPath("/etc/creditgate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultPricingConfig()
	if fileFound {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PricingConfig
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Warn("pricing reload failed", zap.String("file", e.Name), zap.Error(err))
				return
			}
			if err := validatePricingConfig(updated); err != nil {
				log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pricing reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed table, bypassing file discovery.
func NewStaticPricingHolder(cfg PricingConfig) (*PricingHolder, error) {
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Entry resolves a usage tag; the second return is false for unknown tags.
func (h *PricingHolder) Entry(tag string) (PriceEntry, bool) {
	entry, ok := h.Get().Tags[strings.ToUpper(strings.TrimSpace(tag))]
	return entry, ok
}

// LaunchCost resolves the credit cost of a launch kind.
func (h *PricingHolder) LaunchCost(kind string) (int64, bool) {
	cost, ok := h.Get().LaunchCosts[strings.ToLower(strings.TrimSpace(kind))]
	return cost, ok
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Tags) == 0 {
		return errors.New("pricing.tags cannot be empty")
	}
	for tag, entry := range cfg.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New("pricing tag name cannot be empty")
		}
		if _, ok := entry.MinAmountInt(); !ok {
			return fmt.Errorf("pricing tag %s: minAmount %q is not a non-negative integer", tag, entry.MinAmount)
		}
		if entry.Credits < 0 {
			return fmt.Errorf("pricing tag %s: credits cannot be negative", tag)
		}
		if entry.ProDays < 0 {
			return fmt.Errorf("pricing tag %s: proDays cannot be negative", tag)
		}
		if entry.Credits == 0 && entry.ProDays == 0 {
			return fmt.Errorf("pricing tag %s: must grant credits or pro days", tag)
		}
		switch entry.Rail {
		case RailNative, RailGatewayEvent, "":
		default:
			return fmt.Errorf("pricing tag %s: unknown rail %q", tag, entry.Rail)
		}
	}
	for kind, cost := range cfg.LaunchCosts {
		if cost < 0 {
			return fmt.Errorf("launch cost %s cannot be negative", kind)
		}
	}
	return nil
}
