// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/policy"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Fee policy names accepted in FEE_POLICY.
const (
	FeeNone    = "none"
	FeeFlat    = "flat"
	FeePercent = "percent"
	FeeTiered  = "tiered"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisAddr   string
	LockTTL     time.Duration

	Fee  FeeConfig
	Risk RiskConfig

	MaxAccountsPerCustomer int

	BigQueryProject string
	BigQueryDataset string
	BigQueryTable   string
	GCSBucket       string
}

type FeeConfig struct {
	Policy        string
	Flat          domain.Money
	Percent       decimal.Decimal
	TierThreshold domain.Money
	TierLow       domain.Money
	TierHigh      domain.Money
	// Cap bounds the fee when positive.
	Cap domain.Money
}

// RiskConfig holds the risk thresholds. A zero value disables that rule.
type RiskConfig struct {
	MaxAmount      domain.Money
	VelocityMax    int
	VelocityWindow time.Duration
	DailyLimit     domain.Money
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		Port:        e.str("PORT", "8080"),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "console"),
		DatabaseURL: e.str("DATABASE_URL", ""),
		RedisAddr:   e.str("REDIS_ADDR", ""),
		LockTTL:     e.duration("LOCK_TTL", 10*time.Second),
		Fee: FeeConfig{
			Policy:        strings.ToLower(e.str("FEE_POLICY", FeeNone)),
			Flat:          e.money("FEE_FLAT", "0"),
			Percent:       e.decimal("FEE_PERCENT", "0"),
			TierThreshold: e.money("FEE_TIER_THRESHOLD", "0"),
			TierLow:       e.money("FEE_TIER_LOW", "0"),
			TierHigh:      e.money("FEE_TIER_HIGH", "0"),
			Cap:           e.money("FEE_CAP", "0"),
		},
		Risk: RiskConfig{
			MaxAmount:      e.money("RISK_MAX_AMOUNT", "10000.00"),
			VelocityMax:    e.int("RISK_VELOCITY_MAX", 5),
			VelocityWindow: e.duration("RISK_VELOCITY_WINDOW", ledger.DefaultVelocityWindow),
			DailyLimit:     e.money("RISK_DAILY_LIMIT", "20000.00"),
		},
		MaxAccountsPerCustomer: e.int("MAX_ACCOUNTS_PER_CUSTOMER", 5),
		BigQueryProject:        e.str("BQ_PROJECT", ""),
		BigQueryDataset:        e.str("BQ_DATASET", "ledger"),
		BigQueryTable:          e.str("BQ_TABLE", "ledger_entries"),
		GCSBucket:              e.str("GCS_BUCKET", ""),
	}
	if e.err != nil {
		return nil, e.err
	}
	if _, err := cfg.FeePolicy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FeePolicy builds the configured fee policy.
func (c *Config) FeePolicy() (policy.FeePolicy, error) {
	var p policy.FeePolicy
	switch c.Fee.Policy {
	case FeeNone, "":
		p = policy.NoFee{}
	case FeeFlat:
		p = policy.FlatFee{Fee: c.Fee.Flat}
	case FeePercent:
		if c.Fee.Percent.IsNegative() {
			return nil, fmt.Errorf("config: FEE_PERCENT must not be negative, got %s", c.Fee.Percent)
		}
		p = policy.PercentFee{Rate: c.Fee.Percent}
	case FeeTiered:
		p = policy.TieredFee{Threshold: c.Fee.TierThreshold, Low: c.Fee.TierLow, High: c.Fee.TierHigh}
	default:
		return nil, fmt.Errorf("config: unknown FEE_POLICY %q", c.Fee.Policy)
	}
	if c.Fee.Cap > 0 {
		p = policy.CappedFee{Policy: p, Max: c.Fee.Cap}
	}
	return p, nil
}

// RiskRules returns the enabled rules in evaluation order.
func (c *Config) RiskRules() []policy.RiskRule {
	var rules []policy.RiskRule
	if c.Risk.MaxAmount > 0 {
		rules = append(rules, policy.MaxAmount{Max: c.Risk.MaxAmount})
	}
	if c.Risk.VelocityMax > 0 {
		rules = append(rules, policy.Velocity{MaxTransactions: c.Risk.VelocityMax})
	}
	if c.Risk.DailyLimit > 0 {
		rules = append(rules, policy.DailyLimit{Limit: c.Risk.DailyLimit})
	}
	return rules
}

// env collects the first parse error so Load can report it once.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s=%q: %w", key, value, err)
	}
}

func (e *env) money(key, fallback string) domain.Money {
	v := e.str(key, fallback)
	m, err := domain.ParseMoney(v)
	if err != nil {
		e.fail(key, v, err)
		return 0
	}
	if m < 0 {
		e.fail(key, v, domain.ErrInvalidAmount)
	}
	return m
}

func (e *env) decimal(key, fallback string) decimal.Decimal {
	v := e.str(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.fail(key, v, err)
	}
	return d
}

func (e *env) int(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
	}
	return n
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
	}
	return d
}
