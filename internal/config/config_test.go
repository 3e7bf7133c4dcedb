package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"backend": "postgres",
		"database_url": "postgres://localhost/agency",
		"max_retries": 2,
		"parallel_assets": true
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/agency", cfg.DatabaseURL)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.True(t, cfg.ParallelAssets)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend: redis
redis_addr: localhost:6379
step_delay_ms: -1
log_format: text
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, -1, cfg.StepDelayMS)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{ invalid json }`)

	cfg, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yml", "backend: [unclosed")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AGENCY_BACKEND":         "redis",
		"REDIS_ADDR":             "cache:6379",
		"GEMINI_API_KEY":         "key-123",
		"AGENCY_MAX_RETRIES":     "3",
		"AGENCY_PARALLEL_ASSETS": "true",
		"LOG_LEVEL":              "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Config{LogLevel: "warn"}
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, "key-123", cfg.APIKey)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.ParallelAssets)
	assert.Equal(t, "warn", cfg.LogLevel, "empty variables do not override")
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "PORT" {
			return "eighty", true
		}
		return "", false
	}

	cfg := Config{}
	err := cfg.ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Defaults()},
		{name: "unknown backend", cfg: Config{Backend: "mongo"}, wantErr: "Backend"},
		{name: "postgres without url", cfg: Config{Backend: BackendPostgres}, wantErr: "database_url"},
		{name: "redis without addr", cfg: Config{Backend: BackendRedis}, wantErr: "redis_addr"},
		{name: "too many retries", cfg: Config{MaxRetries: 11}, wantErr: "MaxRetries"},
		{name: "bad log format", cfg: Config{LogFormat: "xml"}, wantErr: "LogFormat"},
		{name: "search without key", cfg: Config{SearchEngineID: "cx"}, wantErr: "search_engine_id"},
		{name: "search with model key", cfg: Config{SearchEngineID: "cx", APIKey: "k"}},
		{name: "operator without hash", cfg: Config{OperatorUser: "ops"}, wantErr: "operator_password_hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{
		Backend:     BackendMemory,
		StepDelayMS: -1,
	}

	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, BackendMemory, merged.Backend, "set values win")
	assert.Equal(t, -1, merged.StepDelayMS)
	assert.Equal(t, "agency.db", merged.SQLitePath)
	assert.Equal(t, 30, merged.LeadLockTTLMinutes)
	assert.Equal(t, 8080, merged.Port)
	assert.InDelta(t, 0.4, merged.Temperature, 0.0001)
	assert.Equal(t, BackendMemory, cfg.Backend, "receiver is not modified")
	assert.Empty(t, cfg.SQLitePath)
}

func TestDurations(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 600*time.Millisecond, cfg.StepDelay())
	assert.Equal(t, 30*time.Minute, cfg.LeadLockTTL())
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff())
}

func TestSearchKey(t *testing.T) {
	cfg := Config{APIKey: "model"}
	assert.Equal(t, "model", cfg.SearchKey())

	cfg.SearchAPIKey = "search"
	assert.Equal(t, "search", cfg.SearchKey())
}
