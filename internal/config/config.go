// Package config loads and validates service config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabasePath is the SQLite file holding settings and relayed messages.
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// AdminAPIURL is the GraphQL endpoint template; "{shop}" is replaced with the tenant key.
	AdminAPIURL   string `mapstructure:"ADMIN_API_URL"`
	AdminAPIToken string `mapstructure:"ADMIN_API_TOKEN"`
	// AdminAPITimeout bounds a single HTTP round trip to the admin API.
	AdminAPITimeout time.Duration `mapstructure:"ADMIN_API_TIMEOUT"`
	// ActivationTimeout bounds a whole reconcile, lock wait included.
	ActivationTimeout time.Duration `mapstructure:"ACTIVATION_TIMEOUT"`
	// AlreadyExistsPatterns is a comma-separated list of regular expressions matched
	// against remote error messages in addition to the built-in "already exists" check.
	AlreadyExistsPatterns string `mapstructure:"ACTIVATION_ALREADY_EXISTS_PATTERNS"`

	// RedisAddr enables the Redis tenant lock; empty keeps the lock in-process.
	RedisAddr string        `mapstructure:"REDIS_ADDR"`
	LockTTL   time.Duration `mapstructure:"LOCK_TTL"`

	// TemporalHostPort routes reconciliation through Temporal when set.
	TemporalHostPort  string `mapstructure:"TEMPORAL_HOSTPORT"`
	TemporalNamespace string `mapstructure:"TEMPORAL_NAMESPACE"`

	PixelSessionCapacity int `mapstructure:"PIXEL_SESSION_CAPACITY"`
	PixelRelayQueue      int `mapstructure:"PIXEL_RELAY_QUEUE"`
	// PixelRelayURL is where nested pixel sessions post cross-boundary messages.
	PixelRelayURL string `mapstructure:"PIXEL_RELAY_URL"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore ErrConfigFileNotFound
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_PATH", "analytics.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ADMIN_API_URL", "http://localhost:8081/shops/{shop}/admin/api/graphql.json")
	v.SetDefault("ADMIN_API_TOKEN", "")
	v.SetDefault("ADMIN_API_TIMEOUT", "10s")
	v.SetDefault("ACTIVATION_TIMEOUT", "15s")
	v.SetDefault("ACTIVATION_ALREADY_EXISTS_PATTERNS", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("TEMPORAL_HOSTPORT", "")
	v.SetDefault("TEMPORAL_NAMESPACE", "default")
	v.SetDefault("PIXEL_SESSION_CAPACITY", 1024)
	v.SetDefault("PIXEL_RELAY_QUEUE", 64)
	v.SetDefault("PIXEL_RELAY_URL", "http://localhost:8080/api/analytics")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DatabasePath == "" {
		return nil, errors.New("config: DATABASE_PATH must be set")
	}
	if !strings.Contains(cfg.AdminAPIURL, "{shop}") {
		return nil, errors.New("config: ADMIN_API_URL must contain the {shop} placeholder")
	}
	if cfg.AdminAPITimeout <= 0 {
		return nil, errors.New("config: ADMIN_API_TIMEOUT must be positive")
	}
	if cfg.ActivationTimeout <= 0 {
		return nil, errors.New("config: ACTIVATION_TIMEOUT must be positive")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.PixelSessionCapacity <= 0 {
		return nil, errors.New("config: PIXEL_SESSION_CAPACITY must be positive")
	}
	if cfg.PixelRelayQueue <= 0 {
		return nil, errors.New("config: PIXEL_RELAY_QUEUE must be positive")
	}

	return &cfg, nil
}

// Patterns splits AlreadyExistsPatterns into trimmed, non-empty entries.
func (c *Config) Patterns() []string {
	return splitList(c.AlreadyExistsPatterns)
}

// AllowedOrigins splits CORSAllowedOrigins; an empty value allows every origin.
func (c *Config) AllowedOrigins() []string {
	origins := splitList(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// TemporalEnabled reports whether reconciliation should run as a Temporal workflow.
func (c *Config) TemporalEnabled() bool {
	return strings.TrimSpace(c.TemporalHostPort) != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
