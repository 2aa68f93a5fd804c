package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultModel            = "gpt-4o-mini"
	DefaultTolerance        = 1.0
	DefaultMaxTokens        = 2000
	DefaultVerticalFactor   = 1.2
	DefaultHorizontalFactor = 3.0
	DefaultContextMargin    = 200.0
	DefaultConcurrency      = 1
)

// Config holds every tunable of the comparison service.
type Config struct {
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	CostEstimateOnly bool    `mapstructure:"cost_estimate_only"`
	Tolerance        float64 `mapstructure:"tolerance"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	VerticalFactor   float64 `mapstructure:"vertical_factor"`
	HorizontalFactor float64 `mapstructure:"horizontal_factor"`
	ContextMargin    float64 `mapstructure:"context_margin"`
	Concurrency      int     `mapstructure:"concurrency"`
	CaseInsensitive  bool    `mapstructure:"case_insensitive"`
	IgnoreQuotes     bool    `mapstructure:"ignore_quotes"`
	DBPath           string  `mapstructure:"db_path"`
	LogLevel         string  `mapstructure:"log_level"`
	LogOutput        string  `mapstructure:"log_output"`
	LogFormat        string  `mapstructure:"log_format"`
}

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Default returns the built-in configuration without reading any source.
func Default() Config {
	return Config{
		Model:            DefaultModel,
		Tolerance:        DefaultTolerance,
		MaxTokens:        DefaultMaxTokens,
		VerticalFactor:   DefaultVerticalFactor,
		HorizontalFactor: DefaultHorizontalFactor,
		ContextMargin:    DefaultContextMargin,
		Concurrency:      DefaultConcurrency,
	}
}

// Load reads .env, an optional config.yaml from dir and BATIMENT_* environment
// variables, in increasing precedence.
func Load(dir string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("BATIMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("api_key", "")
	v.SetDefault("model", d.Model)
	v.SetDefault("cost_estimate_only", false)
	v.SetDefault("tolerance", d.Tolerance)
	v.SetDefault("max_tokens", d.MaxTokens)
	v.SetDefault("vertical_factor", d.VerticalFactor)
	v.SetDefault("horizontal_factor", d.HorizontalFactor)
	v.SetDefault("context_margin", d.ContextMargin)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("case_insensitive", false)
	v.SetDefault("ignore_quotes", false)
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", "")
	v.SetDefault("log_output", "")
	v.SetDefault("log_format", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	// Same variables the original tooling used.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if model := os.Getenv("GPT_MODEL"); model != "" && os.Getenv("BATIMENT_MODEL") == "" && !v.InConfig("model") {
		cfg.Model = model
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges. Credentials are checked by RequireJudge.
func (c Config) Validate() error {
	if c.Tolerance < 0 {
		return &ConfigurationError{Key: "tolerance", Reason: "must not be negative"}
	}
	if c.MaxTokens < 0 {
		return &ConfigurationError{Key: "max_tokens", Reason: "must not be negative"}
	}
	if c.VerticalFactor < 0 || c.HorizontalFactor < 0 {
		return &ConfigurationError{Key: "vertical_factor/horizontal_factor", Reason: "must not be negative"}
	}
	if c.Concurrency < 0 {
		return &ConfigurationError{Key: "concurrency", Reason: "must not be negative"}
	}
	return nil
}

// RequireJudge fails when judge calls would be made without a credential.
func (c Config) RequireJudge() error {
	if c.CostEstimateOnly {
		return nil
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigurationError{Key: "api_key", Reason: "required for correction verification (set BATIMENT_API_KEY or OPENAI_API_KEY)"}
	}
	if strings.TrimSpace(c.Model) == "" {
		return &ConfigurationError{Key: "model", Reason: "must not be empty"}
	}
	return nil
}

// ResolveDBPath returns the configured database path or the default
// ~/.batiment-compare/batiment.db, creating the directory if needed.
func (c Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dbDir := filepath.Join(homeDir, ".batiment-compare")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return filepath.Join(dbDir, "batiment.db"), nil
}
