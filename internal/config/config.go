package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	AuthMode          string   `mapstructure:"AUTH_MODE"`
	StoreDriver       string   `mapstructure:"STORE_DRIVER"`
	SQLitePath        string   `mapstructure:"SQLITE_PATH"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string   `mapstructure:"REDIS_URL"`
	RedisChannel      string   `mapstructure:"REDIS_CHANNEL"`
	DatasetURL        string   `mapstructure:"DATASET_URL"`
	DatasetCSVURL     string   `mapstructure:"DATASET_CSV_URL"`
	DatasetXLSXPath   string   `mapstructure:"DATASET_XLSX_PATH"`
	LLMAPIKey         string   `mapstructure:"LLM_API_KEY"`
	LLMBaseURL        string   `mapstructure:"LLM_BASE_URL"`
	LLMModel          string   `mapstructure:"LLM_MODEL"`
	LLMTimeoutSeconds int      `mapstructure:"LLM_TIMEOUT_SECONDS"`
	SuggestDebounceMS int      `mapstructure:"SUGGEST_DEBOUNCE_MS"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	SuggestPerMinute  int      `mapstructure:"SUGGEST_RATE_PER_MIN"`
	TLSEnabled        bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile       string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile        string   `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE",
	"STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_CHANNEL",
	"DATASET_URL", "DATASET_CSV_URL", "DATASET_XLSX_PATH",
	"LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL", "LLM_TIMEOUT_SECONDS", "SUGGEST_DEBOUNCE_MS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SUGGEST_RATE_PER_MIN",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("SQLITE_PATH", "vaidyasetu.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_CHANNEL", "vaidyasetu.changes")
	v.SetDefault("DATASET_URL", "datasets/codes.json")
	v.SetDefault("DATASET_CSV_URL", "datasets/codes.csv")
	v.SetDefault("LLM_MODEL", "gemini-1.5-flash")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 30)
	v.SetDefault("SUGGEST_DEBOUNCE_MS", 350)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SUGGEST_RATE_PER_MIN", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development gives "development" (every
// request acts as a local user) and anything else gives "external" (bearer
// tokens from AUTH_ISSUER).
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// LLMTimeout is the per-call completion timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// SuggestDebounce is the quiet period before a suggestion call is issued.
func (c *Config) SuggestDebounce() time.Duration {
	return time.Duration(c.SuggestDebounceMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", StoreSQLite)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q", StoreMemory, StoreSQLite, StorePostgres, c.StoreDriver)
	}

	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && mode == "development" {
		return fmt.Errorf("AUTH_MODE=development is not allowed in production")
	}

	if c.DatasetURL == "" && c.DatasetCSVURL == "" && c.DatasetXLSXPath == "" {
		return fmt.Errorf("at least one of DATASET_URL, DATASET_CSV_URL or DATASET_XLSX_PATH is required")
	}
	if c.SuggestPerMinute < 0 {
		return fmt.Errorf("SUGGEST_RATE_PER_MIN must not be negative, got %d", c.SuggestPerMinute)
	}
	if c.SuggestDebounceMS < 0 {
		return fmt.Errorf("SUGGEST_DEBOUNCE_MS must not be negative, got %d", c.SuggestDebounceMS)
	}
	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", c.LLMTimeoutSeconds)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
