package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Host           string        `env:"GISBRIDGE_HOST"`
	Port           int           `env:"GISBRIDGE_PORT"`
	BridgeTimeout  time.Duration `env:"GISBRIDGE_TIMEOUT"`
	ModuleTimeout  time.Duration `env:"GISBRIDGE_GCMD_TIMEOUT"`
	DBPath         string        `env:"GISBRIDGE_DB"`
	HistoryTTL     time.Duration `env:"GISBRIDGE_HISTORY_TTL"`
	TaskQueueDepth int           `env:"GISBRIDGE_QUEUE_DEPTH"`
}

func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8000,
		BridgeTimeout:  10 * time.Second,
		ModuleTimeout:  10 * time.Minute,
		DBPath:         defaultDBPath(),
		HistoryTTL:     14 * 24 * time.Hour,
		TaskQueueDepth: 64,
	}
}

// FromEnv returns the default configuration with any GISBRIDGE_* environment
// overrides applied.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "gisbridge.db"
	}
	return filepath.Join(home, ".local", "state", "gisbridge", "history.db")
}
