package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/copier/terminal"
)

// Config is the complete copier configuration. It is validated once at load
// and treated as immutable afterwards; the engine receives it by value.
type Config struct {
	Source  Credentials             `json:"source" yaml:"source"`
	Targets map[string]TargetConfig `json:"targets" yaml:"targets"`
	State   StateConfig             `json:"state" yaml:"state"`
	System  SystemConfig            `json:"system" yaml:"system"`
}

// Credentials identify one terminal session. Values support ${VAR} expansion
// so secrets can live in the environment (or a .env file) instead of the
// config file.
type Credentials struct {
	Account string `json:"account" yaml:"account"`
	Server  string `json:"server" yaml:"server"`
	Secret  string `json:"secret" yaml:"secret"`
}

// TargetConfig is the per-target copy policy.
type TargetConfig struct {
	Credentials `yaml:",inline"`

	LotMultiplier     float64           `json:"lot_multiplier" yaml:"lot_multiplier"`
	MinLot            float64           `json:"min_lot" yaml:"min_lot"`
	MaxLot            float64           `json:"max_lot" yaml:"max_lot"`
	AllowedOrderTypes []string          `json:"allowed_order_types" yaml:"allowed_order_types"`
	SymbolMapping     map[string]string `json:"symbol_mapping,omitempty" yaml:"symbol_mapping,omitempty"`
	OrphanPolicy      OrphanPolicy      `json:"orphan_policy" yaml:"orphan_policy"`
	MaxPendingOrders  MaxPendingOrders  `json:"max_pending_orders" yaml:"max_pending_orders"`
}

// OrphanPolicy controls cleanup of target entities whose source counterpart
// has disappeared. ThresholdRuns is the number of consecutive missing polls
// required before any action; with Act false orphans are only reported.
type OrphanPolicy struct {
	Act           bool `json:"act" yaml:"act"`
	ThresholdRuns int  `json:"threshold_runs" yaml:"threshold_runs"`
}

type MaxPendingOrders struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Limit   int  `json:"limit" yaml:"limit"`
}

type StateConfig struct {
	Path string `json:"path" yaml:"path"`
}

type SystemConfig struct {
	MaxRetries   int    `json:"max_retries" yaml:"max_retries"`
	RetryBackoff string `json:"retry_backoff" yaml:"retry_backoff"` // e.g. "2s"
	PollInterval string `json:"poll_interval" yaml:"poll_interval"` // e.g. "60s", watch mode
	LogLevel     string `json:"log_level" yaml:"log_level"`
}

func (s SystemConfig) ParseRetryBackoff() (time.Duration, error) {
	if s.RetryBackoff == "" {
		return time.Second, nil
	}
	return time.ParseDuration(s.RetryBackoff)
}

func (s SystemConfig) ParsePollInterval() (time.Duration, error) {
	if s.PollInterval == "" {
		return time.Minute, nil
	}
	return time.ParseDuration(s.PollInterval)
}

// AllowsType reports whether the target accepts the pending order type.
func (t TargetConfig) AllowsType(ot terminal.OrderType) bool {
	for _, name := range t.AllowedOrderTypes {
		if name == ot.String() {
			return true
		}
	}
	return false
}

// MapSymbol translates a source instrument to the target's name. When no
// mapping entry exists the source name passes through unchanged and mapped is
// false; the gateway's symbol check is the backstop for passthrough names.
func (t TargetConfig) MapSymbol(symbol string) (name string, mapped bool) {
	if mappedName, ok := t.SymbolMapping[symbol]; ok {
		return mappedName, true
	}
	return symbol, false
}

// LoadFromFile loads configuration from a YAML or JSON file. ${VAR} references
// are expanded from the environment before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal([]byte(expanded), cfg)
	if err != nil {
		err = json.Unmarshal([]byte(expanded), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the whole configuration; validation failures are startup
// errors, never runtime surprises.
func (c *Config) Validate() error {
	if c.Source.Account == "" || c.Source.Server == "" {
		return fmt.Errorf("source account and server are required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be configured")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	for name, t := range c.Targets {
		if err := t.validate(); err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
	}
	if c.System.MaxRetries < 0 {
		return fmt.Errorf("system.max_retries must be non-negative")
	}
	if _, err := c.System.ParseRetryBackoff(); err != nil {
		return fmt.Errorf("system.retry_backoff: %w", err)
	}
	if _, err := c.System.ParsePollInterval(); err != nil {
		return fmt.Errorf("system.poll_interval: %w", err)
	}
	return nil
}

func (t TargetConfig) validate() error {
	if t.Account == "" || t.Server == "" {
		return fmt.Errorf("account and server are required")
	}
	if t.LotMultiplier <= 0 {
		return fmt.Errorf("lot_multiplier must be positive")
	}
	if t.MinLot <= 0 {
		return fmt.Errorf("min_lot must be positive")
	}
	if t.MinLot > t.MaxLot {
		return fmt.Errorf("min_lot must not exceed max_lot")
	}
	if len(t.AllowedOrderTypes) == 0 {
		return fmt.Errorf("allowed_order_types must not be empty")
	}
	for _, name := range t.AllowedOrderTypes {
		if _, err := terminal.ParseOrderType(name); err != nil {
			return err
		}
	}
	if t.OrphanPolicy.ThresholdRuns < 1 {
		return fmt.Errorf("orphan_policy.threshold_runs must be at least 1")
	}
	if t.MaxPendingOrders.Enabled && t.MaxPendingOrders.Limit < 0 {
		return fmt.Errorf("max_pending_orders.limit must be non-negative")
	}
	return nil
}

// Default returns a configuration with sensible defaults; loaded files
// override it field by field.
func Default() *Config {
	return &Config{
		State: StateConfig{Path: "./copier.sqlite"},
		System: SystemConfig{
			MaxRetries:   3,
			RetryBackoff: "1s",
			PollInterval: "60s",
			LogLevel:     "info",
		},
	}
}

// DefaultTarget returns the baseline per-target policy used by examples and
// the demo command.
func DefaultTarget() TargetConfig {
	return TargetConfig{
		LotMultiplier: 1.0,
		MinLot:        0.01,
		MaxLot:        100.0,
		AllowedOrderTypes: []string{
			"BUY_LIMIT", "SELL_LIMIT", "BUY_STOP", "SELL_STOP",
			"BUY_STOP_LIMIT", "SELL_STOP_LIMIT",
		},
		OrphanPolicy:     OrphanPolicy{Act: false, ThresholdRuns: 3},
		MaxPendingOrders: MaxPendingOrders{Enabled: false, Limit: 50},
	}
}
