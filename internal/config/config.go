package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Serve modes. Exactly one is active per deployment.
const (
	ModeGenerate = "generate"
	ModeAsk      = "ask"
)

// Environment variables honoured by Load. They override file values.
const (
	EnvToken           = "OLLAMA_PROXY_TOKEN"
	EnvExternalAddress = "OLLAMA_PROXY_EXTERNAL_ADDRESS"
	EnvLocalAddress    = "OLLAMA_PROXY_LOCAL_ADDRESS"
	EnvModel           = "OLLAMA_PROXY_MODEL"
	EnvTimeout         = "OLLAMA_PROXY_TIMEOUT"
	EnvMode            = "OLLAMA_PROXY_MODE"
	EnvLogLevel        = "OLLAMA_PROXY_LOG_LEVEL"
	EnvLogFormat       = "OLLAMA_PROXY_LOG_FORMAT"
	EnvMetrics         = "OLLAMA_PROXY_METRICS"
)

const (
	defaultModel          = "llama3.1:70b"
	defaultTimeoutSeconds = 120
)

// Config represents the application configuration. It is constructed once at
// startup and treated as read-only afterwards.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	// Listen is the externally-advertised host:port to bind.
	Listen string `yaml:"listen"`
	// Mode selects the serving variant: "generate" or "ask".
	Mode string `yaml:"mode"`
}

// BackendConfig describes the local model server requests are relayed to.
type BackendConfig struct {
	// Address is the backend host:port. The generate endpoint path and the
	// http scheme are fixed.
	Address string `yaml:"address"`
	// Model is the default model identifier, used verbatim in ask mode.
	Model string `yaml:"model"`
	// TimeoutSeconds bounds each backend call, dial through last byte.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// AuthConfig holds the shared secret inbound requests must present.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig controls the process-wide structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig gates the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration baseline that file and environment
// values are layered onto.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Mode: ModeGenerate,
		},
		Backend: BackendConfig{
			Model:          defaultModel,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment, then validates the result. Precedence: defaults < file <
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvToken); ok {
		cfg.Auth.Token = v
	}
	if v, ok := os.LookupEnv(EnvExternalAddress); ok {
		cfg.Server.Listen = v
	}
	if v, ok := os.LookupEnv(EnvLocalAddress); ok {
		cfg.Backend.Address = v
	}
	if v, ok := os.LookupEnv(EnvModel); ok {
		cfg.Backend.Model = v
	}
	if v, ok := os.LookupEnv(EnvMode); ok {
		cfg.Server.Mode = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogFormat); ok {
		cfg.Logging.Format = v
	}

	if v, ok := os.LookupEnv(EnvTimeout); ok {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer number of seconds, got %q", EnvTimeout, v)
		}
		cfg.Backend.TimeoutSeconds = seconds
	}
	if v, ok := os.LookupEnv(EnvMetrics); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvMetrics, v)
		}
		cfg.Metrics.Enabled = enabled
	}

	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.Token) == "" {
		return fmt.Errorf("auth token must be provided (auth.token or %s)", EnvToken)
	}

	if err := validateAddress("server.listen", c.Server.Listen, true); err != nil {
		return err
	}
	if err := validateAddress("backend.address", c.Backend.Address, false); err != nil {
		return err
	}

	switch c.Server.Mode {
	case ModeGenerate, ModeAsk:
	default:
		return fmt.Errorf("server.mode %q must be one of %q or %q", c.Server.Mode, ModeGenerate, ModeAsk)
	}

	if strings.TrimSpace(c.Backend.Model) == "" {
		return fmt.Errorf("backend.model must not be empty")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be positive, got %d", c.Backend.TimeoutSeconds)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be one of text or json", c.Logging.Format)
	}

	return nil
}

// Timeout returns the backend call budget as a duration.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func validateAddress(field, addr string, allowEmptyHost bool) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s must be provided as host:port", field)
	}
	if strings.Contains(addr, "://") {
		return fmt.Errorf("%s must be a bare host:port, got %q", field, addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid host:port: %w", field, addr, err)
	}
	if host == "" && !allowEmptyHost {
		return fmt.Errorf("%s %q must include a host", field, addr)
	}

	portNum, err := strconv.Atoi(port)
	if err != nil || portNum <= 0 || portNum > 65535 {
		return fmt.Errorf("%s port %q must be a valid TCP port", field, port)
	}

	return nil
}
