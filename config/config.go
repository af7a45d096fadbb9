package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"vigil/analysis"
	"vigil/notify"
	"vigil/threat"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig holds JWT verification settings. Tokens are issued
// elsewhere; this service only verifies them and reads the role claim.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects and locates the record store
type StorageConfig struct {
	// Backend is "sqlite" or "memory"
	Backend    string `mapstructure:"backend"`
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// HuntConfig holds threat-hunting tunables
type HuntConfig struct {
	DefaultTimeRangeHours int     `mapstructure:"default_time_range_hours"`
	DeviationThreshold    float64 `mapstructure:"deviation_threshold"`
}

// Config is the full service configuration
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Auth      AuthConfig         `mapstructure:"auth"`
	RateLimit RateLimitConfig    `mapstructure:"rate_limit"`
	Storage   StorageConfig      `mapstructure:"storage"`
	Notify    notify.Config      `mapstructure:"notify"`
	Analysis  analysis.Config    `mapstructure:"analysis"`
	Intel     threat.IntelConfig `mapstructure:"threat_intel"`
	Hunt      HuntConfig         `mapstructure:"hunt"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sqlite_path", "") // derived from data_dir when empty

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.min_severity", "high")
	v.SetDefault("notify.recipients", []string{})
	v.SetDefault("notify.smtp_port", 587)

	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.model", "triage-small")
	v.SetDefault("analysis.timeout", 30*time.Second)

	v.SetDefault("threat_intel.enabled", false)
	v.SetDefault("threat_intel.base_url", "")
	v.SetDefault("threat_intel.cache_size", 4096)
	v.SetDefault("threat_intel.cache_ttl", 15*time.Minute)

	v.SetDefault("hunt.default_time_range_hours", 24)
	v.SetDefault("hunt.deviation_threshold", 2.0)
}

// Load reads configuration from config.yaml (working directory or
// ./config), layered under VIGIL_* environment overrides and defaults.
// A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("VIGIL")
	v.AutomaticEnv()
	_ = v.BindEnv("storage.data_dir", "VIGIL_DATA_DIR")
	_ = v.BindEnv("storage.sqlite_path", "VIGIL_SQLITE_PATH")
	_ = v.BindEnv("auth.jwt_secret", "VIGIL_JWT_SECRET")
	_ = v.BindEnv("threat_intel.api_key", "VIGIL_INTEL_API_KEY")
	_ = v.BindEnv("analysis.api_key", "VIGIL_ANALYSIS_API_KEY")
	_ = v.BindEnv("notify.smtp_password", "VIGIL_SMTP_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "vigil.db")
	} else {
		c.Storage.SQLitePath = filepath.Clean(c.Storage.SQLitePath)
	}
}

// Validate checks the configuration for values that would fail at runtime
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.backend must be sqlite or memory, got %q", c.Storage.Backend)
	}
	if c.Auth.Enabled {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters when auth is enabled")
		}
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1")
	}
	if c.Intel.Enabled && c.Intel.BaseURL == "" {
		return fmt.Errorf("threat_intel.base_url is required when threat intel is enabled")
	}
	if c.Analysis.Enabled && c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url is required when analysis is enabled")
	}
	if c.Notify.Enabled && c.Notify.SMTPHost != "" && c.Notify.FromAddress == "" {
		return fmt.Errorf("notify.from_address is required when SMTP delivery is configured")
	}
	if c.Hunt.DeviationThreshold <= 0 {
		return fmt.Errorf("hunt.deviation_threshold must be positive")
	}
	return nil
}
