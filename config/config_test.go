package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Pairs: map[string]PairConfig{
			"EURUSD": {BaseConfidence: 75, Floor: 70, Ceiling: 85, Model: "momentum"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// TestValidateAcceptsDefaults verifies a defaulted config passes validation.
func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

// TestValidateRejectsBadBounds covers the fatal startup checks.
func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"floor above ceiling", func(c *Config) {
			c.Pairs["EURUSD"] = PairConfig{BaseConfidence: 80, Floor: 90, Ceiling: 85, Model: "momentum"}
		}},
		{"base outside bounds", func(c *Config) {
			c.Pairs["EURUSD"] = PairConfig{BaseConfidence: 60, Floor: 70, Ceiling: 85, Model: "momentum"}
		}},
		{"unknown model", func(c *Config) {
			c.Pairs["EURUSD"] = PairConfig{BaseConfidence: 75, Floor: 70, Ceiling: 85, Model: "martingale"}
		}},
		{"negative cooldown", func(c *Config) {
			c.Risk.Ladder = []EscalationTier{{Losses: 1, MinConfidence: 83, CooldownMinutes: -5}}
		}},
		{"empty ladder", func(c *Config) {
			c.Risk.Ladder = []EscalationTier{}
		}},
		{"non-ascending ladder", func(c *Config) {
			c.Risk.Ladder = []EscalationTier{
				{Losses: 2, MinConfidence: 88, CooldownMinutes: 30},
				{Losses: 1, MinConfidence: 83, CooldownMinutes: 0},
			}
		}},
		{"descending tier confidence", func(c *Config) {
			c.Risk.Ladder = []EscalationTier{
				{Losses: 1, MinConfidence: 88, CooldownMinutes: 0},
				{Losses: 2, MinConfidence: 83, CooldownMinutes: 30},
			}
		}},
		{"lockout below ladder", func(c *Config) {
			c.Risk.LockoutLosses = 2
		}},
		{"unsorted volatility breakpoints", func(c *Config) {
			c.Regime.VolatilityBreakpoints = [3]float64{5.0, 2.0, 0.5}
		}},
		{"min samples above lookback", func(c *Config) {
			c.Regime.MinSamples = c.Regime.LookbackSamples + 1
		}},
		{"zero cadence", func(c *Config) {
			c.Optimizer.CadenceHours = 0
		}},
		{"negative shutdown timeout", func(c *Config) {
			c.ServerConfig.ShutdownTimeout = -1
		}},
		{"auth enabled without secret", func(c *Config) {
			c.AuthConfig.Enabled = true
			c.AuthConfig.JWTSecret = "  "
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if _, ok := err.(ValidationError); !ok {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

// TestLoadFileIdempotent verifies loading the same file twice yields
// identical initial values.
func TestLoadFileIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("failed to write sample config: %v", err)
	}

	first, err := LoadFile(path)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := LoadFile(path)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("loading the same config twice produced different values")
	}
	if first.Pairs["EURUSD"].BaseConfidence != 75.0 {
		t.Errorf("expected EURUSD base 75.0, got %f", first.Pairs["EURUSD"].BaseConfidence)
	}
}

// TestLoadFileRejectsInvalid verifies startup refuses a bad config file.
func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	bad := map[string]interface{}{
		"pairs": map[string]interface{}{
			"EURUSD": map[string]interface{}{
				"base_confidence": 75.0,
				"floor":           90.0,
				"ceiling":         85.0,
				"model":           "momentum",
			},
		},
	}
	data, _ := json.Marshal(bad)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error loading config with floor above ceiling")
	}
}

// TestEnvOverrides verifies environment variables take precedence.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ENABLED", "true")

	cfg := &Config{Pairs: map[string]PairConfig{}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.ServerConfig.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.ServerConfig.Port)
	}
	if cfg.LoggingConfig.Level != "DEBUG" {
		t.Errorf("expected DEBUG level, got %s", cfg.LoggingConfig.Level)
	}
	if !cfg.RedisConfig.Enabled {
		t.Error("expected redis enabled via env")
	}
}
