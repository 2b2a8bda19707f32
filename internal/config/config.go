package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/tallyhq/tally/internal/provider"
)

// Config is the resolved application configuration. Provider credentials
// are loaded here and injected into the client; nothing reads the
// environment at import time.
type Config struct {
	DatabasePath    string
	DefaultCurrency string
	RatesURL        string
	Plaid           provider.Config
}

// Load assembles configuration from viper (config file plus bound flags)
// with environment variable fallbacks for provider credentials.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:    viper.GetString("database.path"),
		DefaultCurrency: viper.GetString("currency.default"),
		RatesURL:        viper.GetString("rates.url"),
		Plaid: provider.Config{
			ClientID:    viper.GetString("plaid.client_id"),
			Secret:      viper.GetString("plaid.secret"),
			Environment: viper.GetString("plaid.environment"),
		},
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "$HOME/.local/share/tally/tally.db"
	}
	cfg.DatabasePath = ExpandPath(cfg.DatabasePath)

	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.RatesURL == "" {
		cfg.RatesURL = "https://api.frankfurter.dev/v1"
	}

	if cfg.Plaid.ClientID == "" {
		cfg.Plaid.ClientID = os.Getenv("PLAID_CLIENT_ID")
	}
	if cfg.Plaid.Secret == "" {
		cfg.Plaid.Secret = os.Getenv("PLAID_SECRET")
	}
	if cfg.Plaid.Environment == "" {
		cfg.Plaid.Environment = os.Getenv("PLAID_ENV")
		if cfg.Plaid.Environment == "" {
			cfg.Plaid.Environment = "sandbox"
		}
	}

	return cfg, nil
}

// RequirePlaid validates that provider credentials are present.
func (c *Config) RequirePlaid() error {
	if c.Plaid.ClientID == "" || c.Plaid.Secret == "" {
		return fmt.Errorf("plaid credentials not found; set plaid.client_id and plaid.secret in config")
	}
	return c.Plaid.Validate()
}
