package flow

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultMaxDepth = 10000
	DefaultSearch   = "dfs"
)

// Config represents the settings of an engine.
type Config struct {
	// Maximum number of snapshots on a single path. Exceeding it aborts
	// the analysis with a *LimitError.
	MaxDepth int `yaml:"max_depth"`

	// Keep the solver session aligned with the current path instead of
	// reasserting every constraint for each query.
	Incremental bool `yaml:"incremental"`

	// Search strategy: "dfs" or "bfs".
	Search string `yaml:"search"`

	// Per-query timeout passed to solvers that support one. Queries that
	// time out are classified as unknown.
	SolverTimeout time.Duration `yaml:"solver_timeout"`

	// Maximum number of methods analyzed concurrently by AnalyzeAll.
	// Zero uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns a new instance of Config with defaults set.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    DefaultMaxDepth,
		Incremental: true,
		Search:      DefaultSearch,
	}
}

// ParseConfig decodes YAML data on top of the default configuration.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config: %w", err)
	}
	return config, config.Validate()
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), err
	}
	return ParseConfig(data)
}

// Validate returns an error if a setting is out of range.
func (c Config) Validate() error {
	if c.MaxDepth <= 0 {
		return errors.New("config: max_depth must be positive")
	} else if c.SolverTimeout < 0 {
		return errors.New("config: solver_timeout must not be negative")
	} else if c.Parallelism < 0 {
		return errors.New("config: parallelism must not be negative")
	}
	if _, err := NewSearcher(c.Search); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
