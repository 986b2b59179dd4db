// Package config loads engine configuration from defaults, an optional
// config file and RECON_* environment variables.
package config

import (
	"strings"
	"time"

	"ledger-reconciliation/internal/models"
	pkgerrors "ledger-reconciliation/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config carries everything the reconciliation engine needs from the
// host application: collaborator endpoints, network limits, the
// discrepancy tolerance and logging options.
type Config struct {
	// Endpoints of the two record sources and the two trigger operations
	DeclaredSourceURL  string `mapstructure:"declared_source_url"`
	ConfirmedSourceURL string `mapstructure:"confirmed_source_url"`
	RepairURL          string `mapstructure:"repair_url"`
	RecalculateURL     string `mapstructure:"recalculate_url"`
	RecordURL          string `mapstructure:"record_url"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Tolerance is the discrepancy threshold as a decimal string,
	// one currency unit unless overridden.
	Tolerance string `mapstructure:"tolerance"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from the optional file at path plus the
// environment. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.ConfigurationError(
				pkgerrors.CodeInvalidConfig, "config_file", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "config", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the default configuration without touching the
// environment or any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are statically valid; Unmarshal cannot fail here.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("declared_source_url", "")
	v.SetDefault("confirmed_source_url", "")
	v.SetDefault("repair_url", "")
	v.SetDefault("recalculate_url", "")
	v.SetDefault("record_url", "")
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("tolerance", "1")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "request_timeout", c.RequestTimeout, nil).
			WithSuggestion("request timeout must be positive")
	}

	tolerance, err := decimal.NewFromString(c.Tolerance)
	if err != nil {
		return pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "tolerance", c.Tolerance, err).
			WithSuggestion("tolerance must be a decimal number, e.g. \"1\" or \"0.50\"")
	}
	if tolerance.IsNegative() {
		return pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "tolerance", c.Tolerance, nil).
			WithSuggestion("tolerance cannot be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "log_level", c.LogLevel, nil)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return pkgerrors.ConfigurationError(
			pkgerrors.CodeInvalidConfig, "log_format", c.LogFormat, nil)
	}

	return nil
}

// ToleranceAmount returns the discrepancy tolerance as a decimal.
// Call Validate first; an unparsable value falls back to the default.
func (c *Config) ToleranceAmount() decimal.Decimal {
	tolerance, err := decimal.NewFromString(c.Tolerance)
	if err != nil {
		return models.DefaultTolerance
	}
	return tolerance
}
