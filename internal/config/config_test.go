package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	yml := `
exchange:
  driver: paper
engine:
  workers: 3
  stale_threshold: 15m
logger:
  level: debug
database:
  dsn: "file::memory:"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))
	viper.Reset()
	t.Cleanup(viper.Reset)

	// Act
	cfg, err := LoadConfig(dir)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Exchange.Driver)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Engine.StaleThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.ReconcileInterval)
	assert.Equal(t, 256, cfg.Engine.QueueBuffer)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, float64(20), cfg.Binance.RateLimit)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Exchange: Exchange{Driver: "ftx"},
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers")
	assert.Contains(t, err.Error(), "engine.stale_threshold")
	assert.Contains(t, err.Error(), `"ftx"`)
	assert.Contains(t, err.Error(), "database.dsn")
}
