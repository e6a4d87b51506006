// Package config provides the configuration schema and loader for the
// embedding server.
package config

import "log/slog"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding slog level. Unset maps to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the embedding server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins lists allowed cross-origin request origins. Empty allows
	// any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

// ProviderEntry configures the embedding model provider.
type ProviderEntry struct {
	// Name selects the provider implementation ("ollama" or "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	// Falls back to the OPENAI_API_KEY environment variable for openai.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "nomic-embed-text-v2-moe", "text-embedding-3-small").
	Model string `yaml:"model"`

	// QueryPrefix is prepended to every submitted text before embedding.
	// Nomic-style models expect a task prefix such as "search_query: ".
	QueryPrefix string `yaml:"query_prefix"`
}
