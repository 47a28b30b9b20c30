package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("population_size: 50\ntimeout: 250ms\nstore: sqlite\nlog_format: json\n"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PopulationSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 0.3, cfg.MutationRate)
	assert.Equal(t, 5, cfg.ConcolicSeedAttempts)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"mutation_rate": 0.9, "generations": 4, "seed": 42}`))
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.MutationRate)
	assert.Equal(t, 4, cfg.Generations)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestParseSweepKinds(t *testing.T) {
	cfg, err := Parse([]byte("sweep_kinds: [integer, Text, float]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"integer", "Text", "float"}, cfg.SweepKinds)
}

func TestParseEmptyIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, doc := range []string{
		"mutation_rate: 2",
		"store: redis",
		"log_level: loud",
		"population_size: -1",
		"unknown_key: 1",
		"sweep_kinds: [integer, callable]",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, found, err := LoadOptional(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "adversary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fuzz_iterations: 300\n"), 0o644))
	cfg, found, err = LoadOptional(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 300, cfg.FuzzIterations)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("analysis started", "target", "f")
	assert.Contains(t, buf.String(), `"target":"f"`)
}
