package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Auth.Token = "secret123"
	cfg.Server.Listen = "0.0.0.0:11435"
	cfg.Backend.Address = "127.0.0.1:11434"
	return cfg
}

func clearProxyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvToken, EnvExternalAddress, EnvLocalAddress, EnvModel,
		EnvTimeout, EnvMode, EnvLogLevel, EnvLogFormat, EnvMetrics,
	} {
		if _, ok := os.LookupEnv(key); ok {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv(EnvToken, "secret123")
	t.Setenv(EnvExternalAddress, "0.0.0.0:11435")
	t.Setenv(EnvLocalAddress, "127.0.0.1:11434")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "secret123", cfg.Auth.Token)
	assert.Equal(t, "0.0.0.0:11435", cfg.Server.Listen)
	assert.Equal(t, "127.0.0.1:11434", cfg.Backend.Address)
	assert.Equal(t, ModeGenerate, cfg.Server.Mode)
	assert.Equal(t, "llama3.1:70b", cfg.Backend.Model)
	assert.Equal(t, 120, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	clearProxyEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  listen: "0.0.0.0:9000"
  mode: ask
backend:
  address: "127.0.0.1:11434"
  model: "llama3.2:3b"
  timeout_seconds: 30
auth:
  token: filesecret
logging:
  level: debug
  format: json
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, ModeAsk, cfg.Server.Mode)
	assert.Equal(t, "llama3.2:3b", cfg.Backend.Model)
	assert.Equal(t, 30, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, "filesecret", cfg.Auth.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearProxyEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  listen: "0.0.0.0:9000"
backend:
  address: "127.0.0.1:11434"
auth:
  token: filesecret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv(EnvToken, "envsecret")
	t.Setenv(EnvModel, "mistral:7b")
	t.Setenv(EnvTimeout, "15")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "envsecret", cfg.Auth.Token)
	assert.Equal(t, "mistral:7b", cfg.Backend.Model)
	assert.Equal(t, 15, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	clearProxyEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadRejectsBadEnvValues(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv(EnvToken, "secret123")
	t.Setenv(EnvExternalAddress, "0.0.0.0:11435")
	t.Setenv(EnvLocalAddress, "127.0.0.1:11434")

	t.Run("timeout", func(t *testing.T) {
		t.Setenv(EnvTimeout, "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvTimeout)
	})

	t.Run("metrics", func(t *testing.T) {
		t.Setenv(EnvMetrics, "sometimes")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvMetrics)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "listen without host",
			mutate: func(c *Config) { c.Server.Listen = ":8080" },
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Auth.Token = "   " },
			wantErr: "auth token",
		},
		{
			name:    "missing listen",
			mutate:  func(c *Config) { c.Server.Listen = "" },
			wantErr: "server.listen",
		},
		{
			name:    "listen without port",
			mutate:  func(c *Config) { c.Server.Listen = "0.0.0.0" },
			wantErr: "server.listen",
		},
		{
			name:    "backend with scheme",
			mutate:  func(c *Config) { c.Backend.Address = "http://127.0.0.1:11434" },
			wantErr: "backend.address",
		},
		{
			name:    "backend without host",
			mutate:  func(c *Config) { c.Backend.Address = ":11434" },
			wantErr: "backend.address",
		},
		{
			name:    "backend port out of range",
			mutate:  func(c *Config) { c.Backend.Address = "127.0.0.1:99999" },
			wantErr: "port",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Server.Mode = "relay" },
			wantErr: "server.mode",
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.Backend.Model = "" },
			wantErr: "backend.model",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Backend.TimeoutSeconds = 0 },
			wantErr: "timeout_seconds",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.TimeoutSeconds = 120
	assert.Equal(t, 120*time.Second, cfg.Backend.Timeout())
}
