// Package config loads the YAML configuration of the datarepo tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the content of the configuration file.
type Config struct {
	// DataDir is the base directory holding every repository.
	DataDir string `yaml:"data_dir"`
	// Repo is the repository name under DataDir.
	Repo string `yaml:"repo"`
	// LoadWorkers bounds the concurrent file reads of a bulk load.
	LoadWorkers int `yaml:"load_workers"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string  `yaml:"log_level"`
	Journal  Journal `yaml:"journal"`
}

// Journal configures the git history of the repository.
type Journal struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:     "data",
		Repo:        "default",
		LoadWorkers: 8,
		LogLevel:    "info",
		Journal: Journal{
			AuthorName:  "datarepo",
			AuthorEmail: "datarepo@localhost",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Repo == "" {
		return errors.New("repo is required")
	}
	if strings.ContainsAny(c.Repo, `/\`) || c.Repo == "." || c.Repo == ".." {
		return errors.New("repo must be a single path element")
	}
	if c.LoadWorkers < 0 {
		return errors.New("load_workers must be non-negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// Validate checks that the journal configuration is valid.
func (j *Journal) Validate() error {
	if !j.Enabled {
		return nil
	}
	if j.AuthorName == "" {
		return errors.New("author_name is required")
	}
	if j.AuthorEmail == "" {
		return errors.New("author_email is required")
	}
	return nil
}

// Load loads the configuration from path. Creates the file with defaults if
// it doesn't exist. Missing keys keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator.
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: configuration directories are shared.
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
