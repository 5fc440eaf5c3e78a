package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://qpod.fysik.dtu.dk", cfg.BaseURL)
	assert.Equal(t, "missing_ids.txt", cfg.IDsPath)
	assert.Equal(t, "cif_downloads", cfg.OutputDir)
	assert.Equal(t, "download_status.log", cfg.LedgerPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 73, cfg.Scrape.SID)
	assert.Equal(t, 5*time.Second, cfg.Scrape.PageInterval)
	assert.Empty(t, cfg.Telemetry.BindAddress)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("QPOD_BATCH_SIZE", "12")
	t.Setenv("QPOD_TIMEOUT", "90s")
	t.Setenv("QPOD_TELEMETRY_BIND_ADDRESS", "0.0.0.0:9464")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "0.0.0.0:9464", cfg.Telemetry.BindAddress)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
