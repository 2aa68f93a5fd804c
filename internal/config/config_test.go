package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GPT_MODEL", "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tolerance != DefaultTolerance {
		t.Errorf("Tolerance = %v, want %v", cfg.Tolerance, DefaultTolerance)
	}
	if cfg.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", cfg.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.VerticalFactor != DefaultVerticalFactor || cfg.HorizontalFactor != DefaultHorizontalFactor {
		t.Errorf("merge factors = %v/%v, want %v/%v", cfg.VerticalFactor, cfg.HorizontalFactor, DefaultVerticalFactor, DefaultHorizontalFactor)
	}
}

func TestLoad_ConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "tolerance: 2.5\nmodel: gpt-4.1\nmax_tokens: 500\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("BATIMENT_MAX_TOKENS", "750")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tolerance != 2.5 {
		t.Errorf("Tolerance = %v, want 2.5", cfg.Tolerance)
	}
	if cfg.Model != "gpt-4.1" {
		t.Errorf("Model = %q, want gpt-4.1", cfg.Model)
	}
	if cfg.MaxTokens != 750 {
		t.Errorf("MaxTokens = %d, want env override 750", cfg.MaxTokens)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want fallback from OPENAI_API_KEY", cfg.APIKey)
	}
}

func TestRequireJudge(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing key", Config{Model: "m"}, true},
		{"blank key", Config{APIKey: "  ", Model: "m"}, true},
		{"dry run without key", Config{CostEstimateOnly: true}, false},
		{"key and model", Config{APIKey: "sk", Model: "m"}, false},
		{"key without model", Config{APIKey: "sk"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.RequireJudge()
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequireJudge() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *ConfigurationError
				if !errors.As(err, &ce) {
					t.Errorf("Expected ConfigurationError, got %T", err)
				}
				if !IsConfigurationError(err) {
					t.Error("IsConfigurationError returned false")
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Tolerance = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative tolerance")
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}
