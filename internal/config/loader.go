package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the recognised embedding provider names.
var ValidProviderNames = []string{"ollama", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Embeddings.Name == "" {
		errs = append(errs, errors.New("embeddings.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Embeddings.Name) {
		errs = append(errs, fmt.Errorf("embeddings.name %q is unknown; valid values: ollama, openai", cfg.Embeddings.Name))
	}

	if cfg.Embeddings.Name == "openai" && cfg.Embeddings.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		errs = append(errs, errors.New("embeddings.api_key is required for the openai provider (or set OPENAI_API_KEY)"))
	}

	return errors.Join(errs...)
}
