package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Helsinki", cfg.Analysis.Location().String())
	assert.Equal(t, 0.02, cfg.Analysis.Epsilon1Km)
	assert.Equal(t, 15.0, cfg.Analysis.SignificanceWeight)
}

func TestPeriod(t *testing.T) {
	p := Period{Start: "06:00", End: "09:00"}
	start, end := p.Seconds()
	assert.Equal(t, 6*3600, start)
	assert.Equal(t, 9*3600, end)

	start, end = Period{Start: "6 am", End: "09:00"}.Seconds()
	assert.Zero(t, start)
	assert.Zero(t, end)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: ":9090"
analysis:
  epsilon1_km: 0.03
  min_samples1: 4
  timezone: UTC
  morning_peak:
    start: "05:30"
    end: "09:00"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MIN_SAMPLES1", "6")
	t.Setenv("PREPROCESS_INTERVAL", "12h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, 0.03, cfg.Analysis.Epsilon1Km)
	assert.Equal(t, 6, cfg.Analysis.MinSamples1, "env overrides the file")
	assert.Equal(t, 12*time.Hour, cfg.PreprocessInterval)
	assert.Equal(t, "05:30", cfg.Analysis.MorningPeak.Start)
	assert.Equal(t, "09:00", cfg.Analysis.Daytime.Start, "unset fields keep defaults")
	assert.Equal(t, 0.05, cfg.Analysis.Epsilon2Km)
	assert.Equal(t, time.UTC, cfg.Analysis.Location())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("EPSILON1_KM", "-1")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("EPSILON1_KM", "")
	t.Setenv("ANALYSIS_TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("ANALYSIS_TIMEZONE", "")
	t.Setenv("ANALYSIS_WORKERS", "many")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidateFastAboveDelay(t *testing.T) {
	cfg := Default()
	cfg.Analysis.FastSpeed = 1.0
	assert.Error(t, cfg.Validate())
}
