package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. The fetch subcommand's CLI flags
// override the corresponding fields after loading.
type Config struct {
	BaseURL   string `envconfig:"BASE_URL" default:"https://qpod.fysik.dtu.dk"`
	UserAgent string `envconfig:"USER_AGENT" default:"qpod-crawler/1.0"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`

	IDsPath    string        `envconfig:"IDS_PATH" default:"missing_ids.txt"`
	OutputDir  string        `envconfig:"OUTPUT_DIR" default:"cif_downloads"`
	LedgerPath string        `envconfig:"LEDGER_PATH" default:"download_status.log"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
	BatchSize  int           `envconfig:"BATCH_SIZE" default:"5"`

	Scrape struct {
		SID          int           `split_words:"true" default:"73"`
		CatalogPath  string        `split_words:"true" default:"qpod_material_ids.txt"`
		PageInterval time.Duration `split_words:"true" default:"5s"`
		RetryBackoff time.Duration `split_words:"true" default:"10s"`
	}

	Telemetry struct {
		BindAddress string `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("QPOD", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
