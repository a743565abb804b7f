package infra

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"auction_go/pkg/quant"
)

// Config holds all application settings. Sensitive or per-host values can
// be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Factory struct {
		Owner        string `yaml:"owner"`
		FeeRateBps   uint16 `yaml:"fee_rate_bps"`
		FeeRecipient string `yaml:"fee_recipient"`
	} `yaml:"factory"`

	Oracle struct {
		StalenessSec int `yaml:"staleness_sec"`
		Feeds        []struct {
			Asset string `yaml:"asset"` // empty string = native currency
			Feed  string `yaml:"feed"`
		} `yaml:"feeds"`
		WSURL           string `yaml:"ws_url"`
		PollURL         string `yaml:"poll_url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"oracle"`

	Engine struct {
		InboxSize int `yaml:"inbox_size"`
	} `yaml:"engine"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	// Demo seeding for local runs: initial balances per identity.
	Seed struct {
		Identities []struct {
			Identity string          `yaml:"identity"`
			Asset    string          `yaml:"asset"`
			Amount   decimal.Decimal `yaml:"amount"`
		} `yaml:"identities"`
	} `yaml:"seed"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv applies environment overrides for deployment-specific
// values.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("AUCTION_FEE_RECIPIENT"); v != "" {
		cfg.Factory.FeeRecipient = v
	}
	if v := os.Getenv("AUCTION_OWNER"); v != "" {
		cfg.Factory.Owner = v
	}
	if v := os.Getenv("AUCTION_FEE_RATE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Factory.FeeRateBps = uint16(bps)
		}
	}
	if v := os.Getenv("AUCTION_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Factory.Owner == "" {
		return fmt.Errorf("factory owner is required")
	}
	if c.Factory.FeeRecipient == "" {
		return fmt.Errorf("fee recipient is required")
	}
	if !quant.BasisPoints(c.Factory.FeeRateBps).Valid() {
		return fmt.Errorf("fee rate %d exceeds %d bps", c.Factory.FeeRateBps, quant.BpsDenominator)
	}

	if c.Oracle.StalenessSec <= 0 {
		return fmt.Errorf("oracle staleness must be positive")
	}
	seen := make(map[string]bool)
	for _, f := range c.Oracle.Feeds {
		if f.Feed == "" {
			return fmt.Errorf("feed name is required for asset %q", f.Asset)
		}
		if seen[f.Asset] {
			return fmt.Errorf("duplicate feed for asset %q", f.Asset)
		}
		seen[f.Asset] = true
	}

	if c.Engine.InboxSize < 0 {
		return fmt.Errorf("engine inbox size must not be negative")
	}

	return nil
}
