package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level engine configuration, loaded from config.json
// with environment variable overrides applied on top.
type Config struct {
	Pairs     map[string]PairConfig `json:"pairs"`
	Regime    RegimeConfig          `json:"regime"`
	Optimizer OptimizerConfig       `json:"optimizer"`
	Risk      RiskConfig            `json:"risk"`

	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// PairConfig holds the per-pair threshold parameters.
type PairConfig struct {
	BaseConfidence float64 `json:"base_confidence"` // Starting minimum confidence (0-100)
	Floor          float64 `json:"floor"`           // Hard lower bound for the threshold
	Ceiling        float64 `json:"ceiling"`         // Hard upper bound for the threshold
	Model          string  `json:"model"`           // "momentum" or "mean_reversion"
}

// RegimeConfig controls the volatility/trend classifier.
type RegimeConfig struct {
	LookbackSamples       int        `json:"lookback_samples"`       // Rolling window capacity per pair
	MinSamples            int        `json:"min_samples"`            // Below this, classification fails
	CadenceMinutes        int        `json:"cadence_minutes"`        // Reclassification interval
	VolatilityBreakpoints [3]float64 `json:"volatility_breakpoints"` // bps cutoffs: low|normal|high|extreme
	TrendBreakpoints      [2]float64 `json:"trend_breakpoints"`      // bps cutoffs: ranging|directional|strong
}

// OptimizerConfig controls the additive threshold adjustment model.
type OptimizerConfig struct {
	CadenceHours         int     `json:"cadence_hours"`           // Minimum hours between adjustments
	TargetDailySignals   int     `json:"target_daily_signals"`    // Desired signal volume per pair per day
	VolumeTolerancePct   float64 `json:"volume_tolerance_pct"`    // Band around target before correcting (e.g. 15)
	VolumeStep           float64 `json:"volume_step"`             // Threshold delta applied per volume correction
	TargetWinRatePct     float64 `json:"target_win_rate_pct"`     // Desired win rate over the trailing window
	WinRateTolerancePct  float64 `json:"win_rate_tolerance_pct"`  // Band around target before correcting
	WinRateStep          float64 `json:"win_rate_step"`           // Threshold delta applied per win-rate correction
	MinOutcomesForAdjust int     `json:"min_outcomes_for_adjust"` // Below this the win-rate term is skipped

	// Additive terms by volatility tier (e.g. low: -2, high: +4, extreme: +6).
	VolatilityAdjustments map[string]float64 `json:"volatility_adjustments"`

	// Regime favorability terms. A trending regime favors a momentum pair,
	// a ranging regime favors a mean-reversion pair.
	RegimeFavoredAdjustment    float64 `json:"regime_favored_adjustment"`    // Typically negative
	RegimeDisfavoredAdjustment float64 `json:"regime_disfavored_adjustment"` // Typically positive
}

// EscalationTier maps a consecutive-loss count to a raised confidence
// requirement and a mandatory wait period. The ladder is data, not code.
type EscalationTier struct {
	Losses          int     `json:"losses"`           // Consecutive losses that activate this tier
	MinConfidence   float64 `json:"min_confidence"`   // Escalated minimum confidence (0-100)
	CooldownMinutes int     `json:"cooldown_minutes"` // 0 = no cooldown at this tier
}

// RiskConfig controls the per-user loss-streak state machine.
type RiskConfig struct {
	Ladder          []EscalationTier `json:"ladder"`
	LockoutLosses   int              `json:"lockout_losses"`     // Consecutive losses that lock until daily reset
	DailyLossCapPct float64          `json:"daily_loss_cap_pct"` // Realized daily loss that locks until daily reset
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig holds JWT validation configuration.
type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL configuration. Credentials may be
// overridden from Vault at startup.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for state snapshot caching.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for credential loading.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"` // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// ValidationError reports an invalid configuration value. It is fatal at
// startup; the engine refuses to run with undefined threshold or risk bounds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Reason)
}

// Load reads config.json (if present) and applies environment overrides.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile loads configuration from an explicit path. Missing files are not
// an error; defaults plus environment overrides still apply. An invalid
// resulting config is.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills zero values that have sane engine-wide defaults.
// Per-pair parameters never default; a pair without explicit config is an
// unknown pair and the gate fails closed on it.
func applyDefaults(cfg *Config) {
	if cfg.Regime.LookbackSamples == 0 {
		cfg.Regime.LookbackSamples = 120
	}
	if cfg.Regime.MinSamples == 0 {
		cfg.Regime.MinSamples = 50
	}
	if cfg.Regime.CadenceMinutes == 0 {
		cfg.Regime.CadenceMinutes = 15
	}
	if cfg.Regime.VolatilityBreakpoints == [3]float64{} {
		cfg.Regime.VolatilityBreakpoints = [3]float64{0.5, 2.0, 5.0}
	}
	if cfg.Regime.TrendBreakpoints == [2]float64{} {
		cfg.Regime.TrendBreakpoints = [2]float64{3.0, 10.0}
	}

	if cfg.Optimizer.CadenceHours == 0 {
		cfg.Optimizer.CadenceHours = 4
	}
	if cfg.Optimizer.TargetDailySignals == 0 {
		cfg.Optimizer.TargetDailySignals = 12
	}
	if cfg.Optimizer.VolumeTolerancePct == 0 {
		cfg.Optimizer.VolumeTolerancePct = 15.0
	}
	if cfg.Optimizer.VolumeStep == 0 {
		cfg.Optimizer.VolumeStep = 2.0
	}
	if cfg.Optimizer.TargetWinRatePct == 0 {
		cfg.Optimizer.TargetWinRatePct = 65.0
	}
	if cfg.Optimizer.WinRateTolerancePct == 0 {
		cfg.Optimizer.WinRateTolerancePct = 5.0
	}
	if cfg.Optimizer.WinRateStep == 0 {
		cfg.Optimizer.WinRateStep = 1.5
	}
	if cfg.Optimizer.MinOutcomesForAdjust == 0 {
		cfg.Optimizer.MinOutcomesForAdjust = 10
	}
	if cfg.Optimizer.VolatilityAdjustments == nil {
		cfg.Optimizer.VolatilityAdjustments = map[string]float64{
			"low": -2.0, "normal": 0.0, "high": 4.0, "extreme": 6.0,
		}
	}
	if cfg.Optimizer.RegimeFavoredAdjustment == 0 {
		cfg.Optimizer.RegimeFavoredAdjustment = -2.0
	}
	if cfg.Optimizer.RegimeDisfavoredAdjustment == 0 {
		cfg.Optimizer.RegimeDisfavoredAdjustment = 2.0
	}

	if cfg.Risk.Ladder == nil {
		cfg.Risk.Ladder = []EscalationTier{
			{Losses: 1, MinConfidence: 83.0, CooldownMinutes: 0},
			{Losses: 2, MinConfidence: 88.0, CooldownMinutes: 30},
		}
	}
	if cfg.Risk.LockoutLosses == 0 {
		cfg.Risk.LockoutLosses = 3
	}
	if cfg.Risk.DailyLossCapPct == 0 {
		cfg.Risk.DailyLossCapPct = 6.0
	}

	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}
}

func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION", cfg.ServerConfig.ProductionMode)

	// Auth
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)
}

// Validate checks every numeric contract the engine depends on. It returns
// the first violation found as a ValidationError.
func (c *Config) Validate() error {
	for pair, pc := range c.Pairs {
		field := "pairs." + pair
		if pc.Floor > pc.Ceiling {
			return ValidationError{field, fmt.Sprintf("floor %.1f above ceiling %.1f", pc.Floor, pc.Ceiling)}
		}
		if pc.Floor < 0 || pc.Ceiling > 100 {
			return ValidationError{field, "floor/ceiling must be within [0,100]"}
		}
		if pc.BaseConfidence < pc.Floor || pc.BaseConfidence > pc.Ceiling {
			return ValidationError{field, fmt.Sprintf("base confidence %.1f outside [%.1f,%.1f]", pc.BaseConfidence, pc.Floor, pc.Ceiling)}
		}
		switch pc.Model {
		case "momentum", "mean_reversion":
		default:
			return ValidationError{field, fmt.Sprintf("unknown model %q", pc.Model)}
		}
	}

	if c.Regime.MinSamples < 2 {
		return ValidationError{"regime.min_samples", "must be at least 2"}
	}
	if c.Regime.MinSamples > c.Regime.LookbackSamples {
		return ValidationError{"regime.min_samples", "exceeds lookback_samples"}
	}
	if c.Regime.CadenceMinutes < 0 {
		return ValidationError{"regime.cadence_minutes", "must not be negative"}
	}
	if !sort.Float64sAreSorted(c.Regime.VolatilityBreakpoints[:]) {
		return ValidationError{"regime.volatility_breakpoints", "must be ascending"}
	}
	if !sort.Float64sAreSorted(c.Regime.TrendBreakpoints[:]) {
		return ValidationError{"regime.trend_breakpoints", "must be ascending"}
	}
	for _, bp := range c.Regime.VolatilityBreakpoints {
		if bp < 0 {
			return ValidationError{"regime.volatility_breakpoints", "must not be negative"}
		}
	}

	if c.Optimizer.CadenceHours <= 0 {
		return ValidationError{"optimizer.cadence_hours", "must be positive"}
	}
	if c.Optimizer.TargetDailySignals <= 0 {
		return ValidationError{"optimizer.target_daily_signals", "must be positive"}
	}
	if c.Optimizer.VolumeTolerancePct < 0 || c.Optimizer.WinRateTolerancePct < 0 {
		return ValidationError{"optimizer", "tolerance bands must not be negative"}
	}
	if c.Optimizer.TargetWinRatePct <= 0 || c.Optimizer.TargetWinRatePct > 100 {
		return ValidationError{"optimizer.target_win_rate_pct", "must be within (0,100]"}
	}
	for tier := range c.Optimizer.VolatilityAdjustments {
		switch tier {
		case "low", "normal", "high", "extreme":
		default:
			return ValidationError{"optimizer.volatility_adjustments", fmt.Sprintf("unknown tier %q", tier)}
		}
	}

	if len(c.Risk.Ladder) == 0 {
		return ValidationError{"risk.ladder", "must contain at least one tier"}
	}
	prevLosses := 0
	for i, tier := range c.Risk.Ladder {
		field := fmt.Sprintf("risk.ladder[%d]", i)
		if tier.Losses <= prevLosses {
			return ValidationError{field, "loss counts must be strictly ascending"}
		}
		if tier.MinConfidence < 0 || tier.MinConfidence > 100 {
			return ValidationError{field, "min_confidence must be within [0,100]"}
		}
		if tier.CooldownMinutes < 0 {
			return ValidationError{field, "cooldown_minutes must not be negative"}
		}
		if i > 0 && tier.MinConfidence < c.Risk.Ladder[i-1].MinConfidence {
			return ValidationError{field, "min_confidence must be non-decreasing across tiers"}
		}
		prevLosses = tier.Losses
	}
	if c.Risk.LockoutLosses <= c.Risk.Ladder[len(c.Risk.Ladder)-1].Losses {
		return ValidationError{"risk.lockout_losses", "must exceed the highest ladder tier"}
	}
	if c.Risk.DailyLossCapPct <= 0 {
		return ValidationError{"risk.daily_loss_cap_pct", "must be positive"}
	}

	if c.ServerConfig.ReadTimeout < 0 || c.ServerConfig.WriteTimeout < 0 || c.ServerConfig.ShutdownTimeout < 0 {
		return ValidationError{"server", "timeouts must not be negative"}
	}
	if c.AuthConfig.Enabled && strings.TrimSpace(c.AuthConfig.JWTSecret) == "" {
		return ValidationError{"auth.jwt_secret", "required when auth is enabled"}
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// CooldownDuration returns the tier's cooldown as a time.Duration.
func (t EscalationTier) CooldownDuration() time.Duration {
	return time.Duration(t.CooldownMinutes) * time.Minute
}

// GenerateSampleConfig writes a starter configuration to filename.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		Pairs: map[string]PairConfig{
			"EURUSD": {BaseConfidence: 75.0, Floor: 70.0, Ceiling: 85.0, Model: "momentum"},
			"GBPUSD": {BaseConfidence: 76.0, Floor: 70.0, Ceiling: 85.0, Model: "momentum"},
			"USDJPY": {BaseConfidence: 74.0, Floor: 70.0, Ceiling: 85.0, Model: "mean_reversion"},
		},
		Regime: RegimeConfig{
			LookbackSamples:       120,
			MinSamples:            50,
			CadenceMinutes:        15,
			VolatilityBreakpoints: [3]float64{0.5, 2.0, 5.0},
			TrendBreakpoints:      [2]float64{3.0, 10.0},
		},
		Optimizer: OptimizerConfig{
			CadenceHours:         4,
			TargetDailySignals:   12,
			VolumeTolerancePct:   15.0,
			VolumeStep:           2.0,
			TargetWinRatePct:     65.0,
			WinRateTolerancePct:  5.0,
			WinRateStep:          1.5,
			MinOutcomesForAdjust: 10,
			VolatilityAdjustments: map[string]float64{
				"low": -2.0, "normal": 0.0, "high": 4.0, "extreme": 6.0,
			},
			RegimeFavoredAdjustment:    -2.0,
			RegimeDisfavoredAdjustment: 2.0,
		},
		Risk: RiskConfig{
			Ladder: []EscalationTier{
				{Losses: 1, MinConfidence: 83.0, CooldownMinutes: 0},
				{Losses: 2, MinConfidence: 88.0, CooldownMinutes: 30},
			},
			LockoutLosses:   3,
			DailyLossCapPct: 6.0,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
