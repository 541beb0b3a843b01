// Package config provides configuration management for agentco.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// AgentcoDir is the agentco configuration directory.
	AgentcoDir = ".agentco"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins restricts websocket and CORS origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the sqlite store settings.
type DatabaseConfig struct {
	// Path is the sqlite file path. ":memory:" opens an in-memory store.
	Path string `yaml:"path"`
}

// WorkerConfig holds the worker daemon RPC settings.
type WorkerConfig struct {
	// BaseURL is the worker daemon endpoint, e.g. http://127.0.0.1:8787.
	BaseURL string `yaml:"base_url"`

	// SigningSecret is the shared HMAC key for request signing.
	SigningSecret string `yaml:"signing_secret"`

	// Model names the model sent with run_agent requests. Empty lets the
	// worker pick its default; a project config "model" entry overrides it.
	Model string `yaml:"model,omitempty"`

	// MaxSkew bounds the accepted clock drift on signed requests.
	MaxSkew time.Duration `yaml:"max_skew"`

	// Per-operation timeouts.
	RunTimeout     time.Duration `yaml:"run_timeout"`
	MergeTimeout   time.Duration `yaml:"merge_timeout"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`

	// Transport-failure retry policy. MaxRetries bounds total deliveries
	// of one request; HTTP status errors are never retried.
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ExecutionConfig holds the scheduler settings.
type ExecutionConfig struct {
	// MaxConcurrent caps simultaneously running attempts per project.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueBuffer is the pending-job buffer of the runner pool.
	QueueBuffer int `yaml:"queue_buffer"`
}

// EventsConfig holds the event bus settings.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel buffer.
	BufferSize int `yaml:"buffer_size"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Enabled turns bearer-token auth on.
	Enabled bool `yaml:"enabled"`

	// Tokens maps bearer token -> owner id. Owner ids scope project access.
	Tokens map[string]string `yaml:"tokens,omitempty"`
}

// Config represents the agentco configuration.
type Config struct {
	// Version is the config file version.
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Execution ExecutionConfig `yaml:"execution"`
	Events    EventsConfig    `yaml:"events"`
	Auth      AuthConfig      `yaml:"auth"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8460,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(AgentcoDir, "agentco.db"),
		},
		Worker: WorkerConfig{
			BaseURL:        "http://127.0.0.1:8787",
			MaxSkew:        300 * time.Second,
			RunTimeout:     10 * time.Minute,
			MergeTimeout:   60 * time.Second,
			CleanupTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   30 * time.Second,
		},
		Execution: ExecutionConfig{
			MaxConcurrent: 4,
			QueueBuffer:   64,
		},
		Events: EventsConfig{
			BufferSize: 100,
		},
		LogLevel: "info",
	}
}

// Load loads the config from the default location.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(AgentcoDir, ConfigFileName))
}

// LoadFrom loads the config from a specific path. A missing file yields the
// defaults; env overrides apply in both cases.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the config to the default location.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(AgentcoDir, ConfigFileName))
}

// SaveTo saves the config to a specific path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent must be >= 0, got %d", c.Execution.MaxConcurrent)
	}
	if c.Worker.BaseURL == "" {
		return fmt.Errorf("worker.base_url is required")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0, got %d", c.Worker.MaxRetries)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
