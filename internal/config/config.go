// Package config loads and validates the substrate's configuration surface
// (spec §6), adapted from
// other_examples/eddiefleurent-scranton_strangler's internal/config
// package's YAML-plus-validation shape.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/kis-core/execution/internal/auth"
	"github.com/kis-core/execution/internal/exposure"
	"github.com/kis-core/execution/internal/fsm"
	"github.com/kis-core/execution/internal/ratelimit"
	"github.com/kis-core/execution/internal/universe"
)

// Config is the complete application configuration.
type Config struct {
	Broker     BrokerConfig            `yaml:"broker"`
	Universe   UniverseConfig          `yaml:"universe"`
	Sectors    map[string]string       `yaml:"sectors"`
	RateBudget map[string]RateOverride `yaml:"rate_budget"`
	Switches   SwitchesConfig          `yaml:"switches"`
	Holidays   []string                `yaml:"holidays"`
	Storage    StorageConfig           `yaml:"storage"`
}

// BrokerConfig holds the KIS credential and session surface.
type BrokerConfig struct {
	CustType      string `yaml:"custtype"`
	UserAgent     string `yaml:"user_agent"`
	IsPaper       bool   `yaml:"is_paper"`
	HTSID         string `yaml:"hts_id"`
	URL           string `yaml:"url"`
	AppKey        string `yaml:"app_key"`
	AppSecret     string `yaml:"app_secret"`
	AccountNumber string `yaml:"stock_account_number"`

	PaperURL           string `yaml:"paper_url"`
	PaperAppKey        string `yaml:"paper_app_key"`
	PaperAppSecret     string `yaml:"paper_app_secret"`
	PaperAccountNumber string `yaml:"paper_stock_account_number"`

	RealFallback *RealFallbackConfig `yaml:"real_fallback"`

	WebSocketURL string `yaml:"websocket_url"`
}

// RealFallbackConfig is the optional real-API credential group used for
// passthrough operations in paper mode (spec §4.12).
type RealFallbackConfig struct {
	URL           string `yaml:"url"`
	AppKey        string `yaml:"app_key"`
	AppSecret     string `yaml:"app_secret"`
	AccountNumber string `yaml:"stock_account_number"`
}

// UniverseConfig mirrors universe.Config's YAML surface, plus the sector
// exposure's unknown-sector policy since both gate symbol admission.
type UniverseConfig struct {
	McapMin             float64 `yaml:"mcap_min"`
	McapMax             float64 `yaml:"mcap_max"`
	ADTVMin             float64 `yaml:"adtv_min"`
	ExcludeNonEquity    bool    `yaml:"exclude_non_equity"`
	SkipAPIErrors       bool    `yaml:"skip_api_errors"`
	UnknownSectorPolicy string  `yaml:"unknown_sector_policy"`
}

// RateOverride overrides one endpoint class's token-bucket parameters.
type RateOverride struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

// SwitchesConfig is the strategy-specific switch surface spec §6 names.
type SwitchesConfig struct {
	RequireHeldSupport bool    `yaml:"require_held_support"`
	QualityMin         int     `yaml:"quality_min"`
	ORRangeMax         float64 `yaml:"or_range_max"`
	MinSurgeSlope      float64 `yaml:"min_surge_slope"`
	EnableRVolHardGate bool    `yaml:"enable_rvol_hard_gate"`
	AllowTierCReduced  bool    `yaml:"allow_tier_c_reduced"`
	LeaderTierAPct     int     `yaml:"leader_tier_a_pct"`
	LeaderTierBPct     int     `yaml:"leader_tier_b_pct"`
	FlowPersistenceMin float64 `yaml:"flow_persistence_min"`
	ConfirmBars        int     `yaml:"confirm_bars"`
}

// StorageConfig points at the optional audit-log database and the shared
// rate-budget state file (spec §6's one persistent file).
type StorageConfig struct {
	AuditDBPath    string `yaml:"audit_db_path"`
	RateBudgetPath string `yaml:"rate_budget_path"`
}

// Load reads, expands environment variables in, and validates a YAML
// config file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Universe.McapMin == 0 {
		c.Universe.McapMin = 20e9
	}
	if c.Universe.ADTVMin == 0 {
		c.Universe.ADTVMin = 3e9
	}
	if c.Universe.UnknownSectorPolicy == "" {
		c.Universe.UnknownSectorPolicy = "allow"
	}
	if c.Switches.ORRangeMax == 0 {
		c.Switches.ORRangeMax = 0.07
	}
	if c.Switches.MinSurgeSlope == 0 {
		c.Switches.MinSurgeSlope = 0.03
	}
	if c.Switches.QualityMin == 0 {
		c.Switches.QualityMin = 40
	}
	if c.Storage.RateBudgetPath == "" {
		c.Storage.RateBudgetPath = "state/shared_rate_budget.json"
	}
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Broker.CustType) > 1 {
		return fmt.Errorf("broker.custtype must be a single character")
	}
	if c.Broker.IsPaper {
		if c.Broker.PaperURL == "" || c.Broker.PaperAppKey == "" || c.Broker.PaperAppSecret == "" {
			return fmt.Errorf("broker.paper_url/paper_app_key/paper_app_secret are required when is_paper is true")
		}
	} else {
		if c.Broker.URL == "" || c.Broker.AppKey == "" || c.Broker.AppSecret == "" {
			return fmt.Errorf("broker.url/app_key/app_secret are required when is_paper is false")
		}
	}
	if c.Broker.WebSocketURL == "" {
		return fmt.Errorf("broker.websocket_url is required")
	}
	if c.Universe.UnknownSectorPolicy != "allow" && c.Universe.UnknownSectorPolicy != "block" {
		return fmt.Errorf("universe.unknown_sector_policy must be 'allow' or 'block'")
	}
	for sym, sector := range c.Sectors {
		if strings.TrimSpace(sector) == "" {
			return fmt.Errorf("sectors: %s maps to an empty sector code", sym)
		}
	}
	return nil
}

// HolidayDates parses the configured ISO holiday dates.
func (c *Config) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Holidays))
	for _, s := range c.Holidays {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("config: invalid holiday date %q: %w", s, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// UniverseFilterConfig projects the config's universe section onto
// universe.Config.
func (c *Config) UniverseFilterConfig() universe.Config {
	return universe.Config{
		McapMin:          c.Universe.McapMin,
		McapMax:          c.Universe.McapMax,
		ADTVMin:          c.Universe.ADTVMin,
		ExcludeNonEquity: c.Universe.ExcludeNonEquity,
		SkipAPIErrors:    c.Universe.SkipAPIErrors,
	}
}

// ExposureConfig projects the config's sector-exposure switches onto
// exposure.Config. mode and caps are strategy-level defaults since spec §6
// does not list them in the top-level configuration surface.
func (c *Config) ExposureConfig(mode exposure.Mode, maxPositionsPerSector int, maxSectorPct float64) exposure.Config {
	policy := exposure.UnknownAllow
	if c.Universe.UnknownSectorPolicy == "block" {
		policy = exposure.UnknownBlock
	}
	return exposure.Config{
		Mode:                  mode,
		MaxPositionsPerSector: maxPositionsPerSector,
		MaxSectorPct:          maxSectorPct,
		UnknownSectorPolicy:   policy,
	}
}

// FSMSwitches projects the config's strategy switches onto fsm.Switches.
func (c *Config) FSMSwitches() fsm.Switches {
	return fsm.Switches{
		RequireHeldSupport: c.Switches.RequireHeldSupport,
		Tolerance:          0.002,
		QualityMin:         float64(c.Switches.QualityMin),
		ORRangeMax:         c.Switches.ORRangeMax,
		MinSurgeSlope:      c.Switches.MinSurgeSlope,
	}
}

// AuthConfig projects the config's broker credentials onto auth.Config.
func (c *Config) AuthConfig() auth.Config {
	b := c.Broker
	cfg := auth.Config{
		CustomerType: b.CustType,
		UserAgent:    b.UserAgent,
		HTSID:        b.HTSID,
		IsPaper:      b.IsPaper,
		Paper: auth.Credentials{
			BaseURL:       b.PaperURL,
			AppKey:        b.PaperAppKey,
			AppSecret:     b.PaperAppSecret,
			AccountNumber: b.PaperAccountNumber,
		},
		Live: auth.Credentials{
			BaseURL:       b.URL,
			AppKey:        b.AppKey,
			AppSecret:     b.AppSecret,
			AccountNumber: b.AccountNumber,
		},
	}
	if b.RealFallback != nil {
		cfg.RealFallback = auth.Credentials{
			BaseURL:       b.RealFallback.URL,
			AppKey:        b.RealFallback.AppKey,
			AppSecret:     b.RealFallback.AppSecret,
			AccountNumber: b.RealFallback.AccountNumber,
		}
	}
	return cfg
}

// RateClassOverrides projects the config's rate-budget overrides onto
// ratelimit.ClassConfig, keyed by ratelimit.EndpointClass.
func (c *Config) RateClassOverrides() map[ratelimit.EndpointClass]ratelimit.ClassConfig {
	out := make(map[ratelimit.EndpointClass]ratelimit.ClassConfig, len(c.RateBudget))
	for class, override := range c.RateBudget {
		out[ratelimit.EndpointClass(class)] = ratelimit.ClassConfig{
			Capacity:   override.Capacity,
			RefillRate: override.RefillRate,
		}
	}
	return out
}
