package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config
// paths. Env values override file values.
var EnvVarMapping = map[string]string{
	"AGENTCO_HOST":                 "server.host",
	"AGENTCO_PORT":                 "server.port",
	"AGENTCO_DB_PATH":              "database.path",
	"AGENTCO_WORKER_URL":           "worker.base_url",
	"AGENTCO_WORKER_SECRET":        "worker.signing_secret",
	"AGENTCO_WORKER_MODEL":         "worker.model",
	"AGENTCO_WORKER_RUN_TIMEOUT":   "worker.run_timeout",
	"AGENTCO_WORKER_MAX_RETRIES":   "worker.max_retries",
	"AGENTCO_WORKER_RETRY_BACKOFF": "worker.retry_backoff",
	"AGENTCO_MAX_CONCURRENT":       "execution.max_concurrent",
	"AGENTCO_EVENTS_BUFFER":        "events.buffer_size",
	"AGENTCO_AUTH_ENABLED":         "auth.enabled",
	"AGENTCO_LOG_LEVEL":            "log_level",
}

// ApplyEnvVars applies environment variable overrides to the config.
// Returns the config paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string
	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if applyEnvVar(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}
	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path, value string) bool {
	switch path {
	case "server.host":
		cfg.Server.Host = value
	case "server.port":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = v
		}
	case "database.path":
		cfg.Database.Path = value
	case "worker.base_url":
		cfg.Worker.BaseURL = value
	case "worker.signing_secret":
		cfg.Worker.SigningSecret = value
	case "worker.model":
		cfg.Worker.Model = value
	case "worker.run_timeout":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Worker.RunTimeout = d
		}
	case "worker.max_retries":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Worker.MaxRetries = v
		}
	case "worker.retry_backoff":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Worker.RetryBackoff = d
		}
	case "execution.max_concurrent":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Execution.MaxConcurrent = v
		}
	case "events.buffer_size":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Events.BufferSize = v
		}
	case "auth.enabled":
		cfg.Auth.Enabled = parseBool(value)
	case "log_level":
		cfg.LogLevel = value
	default:
		return false
	}
	return true
}

// parseBool parses a boolean string (case-insensitive).
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
