// Package config provides configuration loading and validation for the orchestrator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

var validate = validator.New()

// Config represents the orchestrator configuration. It can be loaded from a JSON or
// YAML file and overridden by environment variables. All fields are optional;
// missing values fall back to Defaults.
type Config struct {
	// Storage
	Backend     string `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=memory sqlite postgres redis"`
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL
	RedisAddr   string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
	MaxBytes    int    `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty" validate:"gte=0"` // memory backend quota

	// Generation
	APIKey         string  `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Gemini API key
	Temperature    float32 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	Offline        bool    `json:"offline,omitempty" yaml:"offline,omitempty"` // canned responses instead of the model
	SearchAPIKey   string  `json:"search_api_key,omitempty" yaml:"search_api_key,omitempty"`
	SearchEngineID string  `json:"search_engine_id,omitempty" yaml:"search_engine_id,omitempty"`
	FetchWebsites  bool    `json:"fetch_websites,omitempty" yaml:"fetch_websites,omitempty"`

	// Orchestrator
	StepDelayMS        int  `json:"step_delay_ms,omitempty" yaml:"step_delay_ms,omitempty"` // negative disables pacing
	LeadLockTTLMinutes int  `json:"lead_lock_ttl_minutes,omitempty" yaml:"lead_lock_ttl_minutes,omitempty" validate:"gte=0"`
	MaxRetries         int  `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"gte=0,lte=10"`
	RetryBackoffMS     int  `json:"retry_backoff_ms,omitempty" yaml:"retry_backoff_ms,omitempty" validate:"gte=0"`
	ParallelAssets     bool `json:"parallel_assets,omitempty" yaml:"parallel_assets,omitempty"`

	// Server
	Port             int    `json:"port,omitempty" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	OperatorUser     string `json:"operator_user,omitempty" yaml:"operator_user,omitempty"`
	OperatorPassHash string `json:"operator_password_hash,omitempty" yaml:"operator_password_hash,omitempty"` // bcrypt
	RateLimit        bool   `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// Events
	AMQPURL      string `json:"amqp_url,omitempty" yaml:"amqp_url,omitempty"`
	AMQPExchange string `json:"amqp_exchange,omitempty" yaml:"amqp_exchange,omitempty"`

	// Logging
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=json text"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Backend:            BackendSQLite,
		SQLitePath:         "agency.db",
		RedisPrefix:        "agency:",
		Temperature:        0.4,
		StepDelayMS:        600,
		LeadLockTTLMinutes: 30,
		RetryBackoffMS:     2000,
		Port:               8080,
		AMQPExchange:       "agency.events",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = n
		}
		return nil
	}
	flag := func(key string, dst *bool) error {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = b
		}
		return nil
	}

	str("AGENCY_BACKEND", &c.Backend)
	str("SQLITE_PATH", &c.SQLitePath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_ADDR", &c.RedisAddr)
	str("GEMINI_API_KEY", &c.APIKey)
	str("GOOGLE_SEARCH_API_KEY", &c.SearchAPIKey)
	str("GOOGLE_CSE_ID", &c.SearchEngineID)
	str("AMQP_URL", &c.AMQPURL)
	str("OPERATOR_USER", &c.OperatorUser)
	str("OPERATOR_PASSWORD_HASH", &c.OperatorPassHash)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if err := num("PORT", &c.Port); err != nil {
		return err
	}
	if err := num("AGENCY_STEP_DELAY_MS", &c.StepDelayMS); err != nil {
		return err
	}
	if err := num("AGENCY_MAX_RETRIES", &c.MaxRetries); err != nil {
		return err
	}
	if err := flag("AGENCY_OFFLINE", &c.Offline); err != nil {
		return err
	}
	return flag("AGENCY_PARALLEL_ASSETS", &c.ParallelAssets)
}

// Validate checks that the configuration has valid values. Connection settings are
// only required for the backend that is selected.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: 'database_url' is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config error: 'redis_addr' is required for the redis backend")
		}
	}

	if c.SearchEngineID != "" && c.SearchAPIKey == "" && c.APIKey == "" {
		return fmt.Errorf("config error: 'search_engine_id' needs 'search_api_key' or 'api_key'")
	}
	if c.OperatorUser != "" && c.OperatorPassHash == "" {
		return fmt.Errorf("config error: 'operator_user' needs 'operator_password_hash'")
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	for _, f := range []struct{ dst, def *string }{
		{&result.Backend, &defaults.Backend},
		{&result.SQLitePath, &defaults.SQLitePath},
		{&result.DatabaseURL, &defaults.DatabaseURL},
		{&result.RedisAddr, &defaults.RedisAddr},
		{&result.RedisPrefix, &defaults.RedisPrefix},
		{&result.APIKey, &defaults.APIKey},
		{&result.SearchAPIKey, &defaults.SearchAPIKey},
		{&result.SearchEngineID, &defaults.SearchEngineID},
		{&result.OperatorUser, &defaults.OperatorUser},
		{&result.OperatorPassHash, &defaults.OperatorPassHash},
		{&result.AMQPURL, &defaults.AMQPURL},
		{&result.AMQPExchange, &defaults.AMQPExchange},
		{&result.LogLevel, &defaults.LogLevel},
		{&result.LogFormat, &defaults.LogFormat},
	} {
		if *f.dst == "" {
			*f.dst = *f.def
		}
	}

	// Numeric fields: use default if zero
	for _, f := range []struct{ dst, def *int }{
		{&result.MaxBytes, &defaults.MaxBytes},
		{&result.StepDelayMS, &defaults.StepDelayMS},
		{&result.LeadLockTTLMinutes, &defaults.LeadLockTTLMinutes},
		{&result.MaxRetries, &defaults.MaxRetries},
		{&result.RetryBackoffMS, &defaults.RetryBackoffMS},
		{&result.Port, &defaults.Port},
	} {
		if *f.dst == 0 {
			*f.dst = *f.def
		}
	}
	if result.Temperature == 0 {
		result.Temperature = defaults.Temperature
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// StepDelay returns the pacing pause between steps. Negative disables pacing.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.StepDelayMS) * time.Millisecond
}

// LeadLockTTL returns how long a run holds its lead.
func (c *Config) LeadLockTTL() time.Duration {
	return time.Duration(c.LeadLockTTLMinutes) * time.Minute
}

// RetryBackoff returns the initial delay between step retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// SearchKey returns the key used for web search, falling back to the model key.
func (c *Config) SearchKey() string {
	if c.SearchAPIKey != "" {
		return c.SearchAPIKey
	}
	return c.APIKey
}
