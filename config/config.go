// Package config loads the engine configuration from YAML or JSON with
// environment variable overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gridmesh/vpp/core/market"
	"github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/model"
	infracontrol "github.com/gridmesh/vpp/infra/control"
)

// Config is the root configuration.
type Config struct {
	API     APIConfig      `json:"api"`
	Engine  EngineConfig   `json:"engine"`
	Market  market.Config  `json:"market"`
	Markets []MarketConfig `json:"markets"`
	Control ControlConfig  `json:"control"`
	Metrics metrics.Config `json:"metrics"`
	Ledger  LedgerConfig   `json:"ledger"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Addr string `json:"addr"`
	// Token enables bearer authentication when non-empty.
	Token string `json:"token"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// EngineConfig tunes fees, defaults and simulated timing.
type EngineConfig struct {
	// DefaultContributionKW maps device type wire names to their default
	// committed capacity when a device carries no capacity setting.
	DefaultContributionKW map[string]float64 `json:"default_contribution_kw"`
	PlatformFeePct        float64            `json:"platform_fee_pct"`
	OperatorFeePct        float64            `json:"operator_fee_pct"`
	EnergySplitPct        float64            `json:"energy_split_pct"`
	CapacitySplitPct      float64            `json:"capacity_split_pct"`
	AncillarySplitPct     float64            `json:"ancillary_split_pct"`
	// CompletionDelayCapSeconds bounds how long the engine waits before
	// simulating activation and completion of far-out dispatch windows.
	CompletionDelayCapSeconds int `json:"completion_delay_cap_seconds"`
	AckTimeoutSeconds         int `json:"ack_timeout_seconds"`
	PayoutDelaySeconds        int `json:"payout_delay_seconds"`
}

// SetDefaults applies sane defaults.
func (c *EngineConfig) SetDefaults() {
	if c.DefaultContributionKW == nil {
		c.DefaultContributionKW = map[string]float64{}
	}
	defaults := map[string]float64{
		model.DeviceBattery.String():     10,
		model.DeviceEVCharger.String():   7,
		model.DeviceThermostat.String():  2,
		model.DeviceWaterHeater.String(): 4,
	}
	for name, kw := range defaults {
		if _, ok := c.DefaultContributionKW[name]; !ok {
			c.DefaultContributionKW[name] = kw
		}
	}
	if c.PlatformFeePct == 0 {
		c.PlatformFeePct = 15
	}
	if c.OperatorFeePct == 0 {
		c.OperatorFeePct = 5
	}
	if c.EnergySplitPct == 0 && c.CapacitySplitPct == 0 && c.AncillarySplitPct == 0 {
		c.EnergySplitPct, c.CapacitySplitPct, c.AncillarySplitPct = 70, 20, 10
	}
	if c.CompletionDelayCapSeconds == 0 {
		c.CompletionDelayCapSeconds = 3
	}
	if c.AckTimeoutSeconds == 0 {
		c.AckTimeoutSeconds = 5
	}
	if c.PayoutDelaySeconds == 0 {
		c.PayoutDelaySeconds = 2
	}
}

// Validate checks internal consistency.
func (c EngineConfig) Validate() error {
	for name, kw := range c.DefaultContributionKW {
		if _, ok := model.ParseDeviceType(name); !ok {
			return fmt.Errorf("engine: unknown device type %q in contribution defaults", name)
		}
		if kw <= 0 {
			return fmt.Errorf("engine: contribution default for %s must be positive", name)
		}
	}
	if c.PlatformFeePct < 0 || c.OperatorFeePct < 0 || c.PlatformFeePct+c.OperatorFeePct >= 100 {
		return fmt.Errorf("engine: fee percentages must be non-negative and sum below 100")
	}
	if c.EnergySplitPct+c.CapacitySplitPct+c.AncillarySplitPct != 100 {
		return fmt.Errorf("engine: revenue split percentages must sum to 100")
	}
	return nil
}

// ContributionDefaults converts the wire map to model device types.
func (c EngineConfig) ContributionDefaults() map[model.DeviceType]float64 {
	out := make(map[model.DeviceType]float64, len(c.DefaultContributionKW))
	for name, kw := range c.DefaultContributionKW {
		if t, ok := model.ParseDeviceType(name); ok {
			out[t] = kw
		}
	}
	return out
}

// Fees returns the configured fee policy.
func (c EngineConfig) Fees() model.FeePolicy {
	return model.FeePolicy{PlatformPct: c.PlatformFeePct, OperatorPct: c.OperatorFeePct}
}

// MarketConfig declares one wholesale market.
type MarketConfig struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Region           string   `json:"region"`
	Currency         string   `json:"currency"`
	MinBidCapacityMW float64  `json:"min_bid_capacity_mw"`
	Products         []string `json:"products"`
}

// Market converts the wire config into a model market.
func (c MarketConfig) Market() (model.Market, error) {
	if c.ID == "" {
		return model.Market{}, fmt.Errorf("market: id is required")
	}
	m := model.Market{
		ID:               c.ID,
		Name:             c.Name,
		Region:           c.Region,
		Currency:         c.Currency,
		MinBidCapacityMW: c.MinBidCapacityMW,
	}
	if m.Currency == "" {
		m.Currency = "CAD"
	}
	for _, name := range c.Products {
		p, ok := model.ParseProduct(name)
		if !ok {
			return model.Market{}, fmt.Errorf("market %s: unknown product %q", c.ID, name)
		}
		m.Products = append(m.Products, p)
	}
	return m, nil
}

// ControlConfig selects the device control channel.
type ControlConfig struct {
	// Mode is "mock" or "mqtt".
	Mode string              `json:"mode"`
	MQTT infracontrol.Config `json:"mqtt"`
}

// SetDefaults applies sane defaults.
func (c *ControlConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "mock"
	}
}

// Validate checks the selected mode.
func (c ControlConfig) Validate() error {
	switch c.Mode {
	case "mock", "mqtt":
		return nil
	default:
		return fmt.Errorf("control: unknown mode %q", c.Mode)
	}
}

// LedgerConfig selects the revenue ledger backend.
type LedgerConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *LedgerConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// Validate checks the selected backend.
func (c LedgerConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("ledger: sqlite backend requires a path")
		}
		return nil
	default:
		return fmt.Errorf("ledger: unknown backend %q", c.Backend)
	}
}

// Load reads the configuration file and applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("VPP_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "vpp_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset sections.
func (c *Config) ApplyDefaults() {
	c.API.SetDefaults()
	c.Engine.SetDefaults()
	c.Market.SetDefaults()
	c.Control.SetDefaults()
	c.Metrics.SetDefaults()
	c.Ledger.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Market.Validate(); err != nil {
		return err
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	for _, m := range c.Markets {
		if _, err := m.Market(); err != nil {
			return err
		}
	}
	return nil
}

// MarketModels converts every configured market.
func (c *Config) MarketModels() ([]model.Market, error) {
	out := make([]model.Market, 0, len(c.Markets))
	for _, mc := range c.Markets {
		m, err := mc.Market()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
