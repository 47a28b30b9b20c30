// Package config loads engine settings from YAML or JSON files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"adversary/internal/payload"
)

type Config struct {
	PopulationSize       int           `yaml:"population_size"`
	MutationRate         float64       `yaml:"mutation_rate"`
	MaxEvaluations       int64         `yaml:"max_evaluations"`
	Generations          int           `yaml:"generations"`
	Timeout              time.Duration `yaml:"timeout"`
	Seed                 int64         `yaml:"seed"`
	FuzzIterations       int           `yaml:"fuzz_iterations"`
	ConcolicSeedAttempts int           `yaml:"concolic_seed_attempts"`
	// SweepKinds are the payload kinds of the type-confusion sweep, weighted
	// equally. Empty selects integer, text and null.
	SweepKinds []string `yaml:"sweep_kinds"`
	Selection            string        `yaml:"selection"`
	Store                string        `yaml:"store"`
	DBPath               string        `yaml:"db_path"`
	ReportsDir           string        `yaml:"reports_dir"`
	MetricsFile          string        `yaml:"metrics_file"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
}

func Default() Config {
	return Config{
		PopulationSize:       30,
		MutationRate:         0.3,
		MaxEvaluations:       10000,
		Generations:          3,
		Timeout:              time.Second,
		Seed:                 1,
		FuzzIterations:       100,
		ConcolicSeedAttempts: 5,
		Selection:            "uniform",
		Store:                "memory",
		DBPath:               "adversary.db",
		ReportsDir:           "reports",
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values. JSON files parse as YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when path does not
// exist.
func LoadOptional(path string) (Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PopulationSize < 0 {
		return fmt.Errorf("population_size must be non-negative: %d", c.PopulationSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be within [0,1]: %f", c.MutationRate)
	}
	if c.MaxEvaluations < 0 {
		return fmt.Errorf("max_evaluations must be non-negative: %d", c.MaxEvaluations)
	}
	if c.Generations < 0 {
		return fmt.Errorf("generations must be non-negative: %d", c.Generations)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative: %s", c.Timeout)
	}
	if c.FuzzIterations < 0 {
		return fmt.Errorf("fuzz_iterations must be non-negative: %d", c.FuzzIterations)
	}
	if c.ConcolicSeedAttempts < 0 {
		return fmt.Errorf("concolic_seed_attempts must be non-negative: %d", c.ConcolicSeedAttempts)
	}
	for _, name := range c.SweepKinds {
		if _, err := payload.ParseKind(name); err != nil {
			return fmt.Errorf("sweep_kinds: %w", err)
		}
	}
	switch c.Store {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %s", s)
	}
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
