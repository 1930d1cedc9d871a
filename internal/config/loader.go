package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration files.
type Loader struct {
	configDir string
}

// NewLoader creates a new config loader.
func NewLoader(configDir string) *Loader {
	return &Loader{configDir: configDir}
}

// LoadFile loads a configuration from a specific file path.
// Environment variables in the config are expanded before parsing.
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it over the
// defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	data, err := ExpandEnvVarsBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// LoadAndValidate loads and validates a config file.
func (l *Loader) LoadAndValidate(path string) (*Config, error) {
	cfg, err := l.LoadFile(path)
	if err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed for %s:\n%w", path, err)
	}

	return cfg, nil
}

// DefaultPath is where LoadDefault looks.
func (l *Loader) DefaultPath() string {
	return filepath.Join(l.configDir, DefaultFile)
}

// LoadDefault loads the default configuration from the config directory.
// A missing file yields the built-in defaults.
func (l *Loader) LoadDefault() (*Config, error) {
	cfg, err := l.LoadFile(l.DefaultPath())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
