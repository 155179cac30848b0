package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handverify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
port: /dev/ttyACM0
duration: 30s
output: run.csv
min_rate_hz: 950
max_rate_hz: 1050
min_sync_ratio: 0.999
amplitude_rad: 0.2
`))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, Duration(30*time.Second), cfg.Duration)
	assert.Equal(t, "run.csv", cfg.Output)
	assert.Equal(t, 950.0, cfg.MinRateHz)
	assert.Equal(t, 1050.0, cfg.MaxRateHz)
	assert.Equal(t, 0.999, cfg.MinSyncRatio)
	assert.Equal(t, 0.2, cfg.AmplitudeRad)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "port: /dev/ttyACM0\n"))
	require.NoError(t, err)
	assert.Equal(t, Duration(5*time.Second), cfg.Duration)
	assert.Equal(t, "handverify.csv", cfg.Output)
	assert.Equal(t, 900.0, cfg.MinRateHz)
	assert.Equal(t, 1100.0, cfg.MaxRateHz)
	assert.Equal(t, 0.95, cfg.MinSyncRatio)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "duration: -1s\n"))
	assert.Error(t, err)
	_, err = LoadConfig(writeConfig(t, "amplitude_rad: -0.5\n"))
	assert.Error(t, err)
	_, err = LoadConfig(writeConfig(t, "duration: soon\n"))
	assert.Error(t, err)
	_, err = LoadConfig(writeConfig(t, "min_rate_hz: 900\nmax_rate_hz: 500\n"))
	assert.Error(t, err)
}
