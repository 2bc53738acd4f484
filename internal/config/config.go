// Package config loads pipeline configuration from environment variables
// and an optional .env file, with an optional YAML rules file for the
// normalization and category-ranking tables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full pipeline configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Serve      ServeConfig      `mapstructure:"serve"`
	RulesFile  string           `mapstructure:"rules_file"`
	LogLevel   string           `mapstructure:"log_level"`
}

// DatabaseConfig names the catalog database
type DatabaseConfig struct {
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
}

// ArtifactsConfig locates the operator-facing JSON artifacts
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// SimilarityConfig tunes clustering
type SimilarityConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	// StripPossessive switches key normalization to possessive-aware
	// apostrophe handling; merges that hinge on it are flagged at
	// medium confidence.
	StripPossessive bool `mapstructure:"strip_possessive"`
}

// OracleConfig selects and tunes the semantic adjudicator
type OracleConfig struct {
	// Provider is "none", "openai" or "http"
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

// CacheConfig tunes the optional cross-run verdict cache
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ServeConfig tunes the operator metrics/artifact endpoint
type ServeConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration: defaults, then .env, then environment
// variables prefixed LARDER_ (e.g. LARDER_DATABASE_DSN).
func Load() (*Config, error) {
	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LARDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := []string{
		"database.dialect", "database.dsn",
		"artifacts.dir",
		"similarity.threshold", "similarity.strip_possessive",
		"oracle.provider", "oracle.model", "oracle.endpoint", "oracle.api_key",
		"oracle.timeout", "oracle.retries",
		"cache.enabled", "cache.addr", "cache.ttl",
		"serve.port",
		"rules_file", "log_level",
	}
	for _, key := range bindings {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	// The oracle key also honors the conventional variable name.
	if err := v.BindEnv("oracle.api_key", "LARDER_ORACLE_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind oracle.api_key: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "sqlite3")
	v.SetDefault("database.dsn", "larder.db")

	v.SetDefault("artifacts.dir", "artifacts")

	v.SetDefault("similarity.threshold", 0.85)
	v.SetDefault("similarity.strip_possessive", false)

	v.SetDefault("oracle.provider", "none")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("oracle.retries", 1)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", "168h")

	v.SetDefault("serve.port", 9090)

	v.SetDefault("log_level", "info")
}

func validate(cfg *Config) error {
	switch cfg.Database.Dialect {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database dialect %q", cfg.Database.Dialect)
	}
	if cfg.Similarity.Threshold <= 0 || cfg.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0,1], got %v", cfg.Similarity.Threshold)
	}
	switch cfg.Oracle.Provider {
	case "none", "openai", "http":
	default:
		return fmt.Errorf("unsupported oracle provider %q", cfg.Oracle.Provider)
	}
	if cfg.Oracle.Provider == "http" && cfg.Oracle.Endpoint == "" {
		return fmt.Errorf("oracle endpoint is required for the http provider")
	}
	if cfg.Oracle.Retries < 0 {
		return fmt.Errorf("oracle retries must not be negative")
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return fmt.Errorf("cache addr is required when the cache is enabled")
	}
	return nil
}
