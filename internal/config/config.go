// Package config loads runtime settings from the environment and an optional
// .env file, applies defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	defaultGMPort     = ":8888"
	defaultPlayerPort = ":8080"
	defaultWorkers    = 10
	defaultDebounce   = 100 * time.Millisecond
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// Config holds the server configuration.
type Config struct {
	// Root is the web root: static files, templates and error.html.
	Root string `env:"GAMEDESK_ROOT" default:"."`
	// DataDir holds the XML sources and the edit overlay. Defaults to <Root>/data.
	DataDir string `env:"GAMEDESK_DATA_DIR"`

	GMPort     string `env:"GM_PORT" default:":8888"`
	PlayerPort string `env:"PLAYER_PORT" default:":8080"`
	Workers    int    `env:"WORKERS" default:"10"`

	Debounce time.Duration `env:"DEBOUNCE" default:"100ms"`
	// ReadTimeout bounds the request line read. Zero disables it.
	ReadTimeout time.Duration `env:"READ_TIMEOUT" default:"0s"`

	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string `env:"METRICS_ADDR"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Sanitize(Config{Root: "."})
}

// Load reads .env (if present) and the environment, applies overrides in
// order, then sanitizes and validates the result.
func Load(overrides ...func(*Config)) (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fromEnv reads .env and the environment as is.
func fromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return cfg, nil
}

// Sanitize fills unset or non-positive values with defaults.
func Sanitize(cfg Config) Config {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.Root, "data")
	}
	if cfg.GMPort == "" {
		cfg.GMPort = defaultGMPort
	}
	if cfg.PlayerPort == "" {
		cfg.PlayerPort = defaultPlayerPort
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.ReadTimeout < 0 {
		cfg.ReadTimeout = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	return cfg
}

// Validate checks settings that have no sensible default.
func (c Config) Validate() error {
	if c.GMPort == c.PlayerPort {
		return errors.New("GM_PORT and PLAYER_PORT must differ")
	}
	if c.MetricsAddr != "" && (c.MetricsAddr == c.GMPort || c.MetricsAddr == c.PlayerPort) {
		return errors.New("METRICS_ADDR must not reuse a listener port")
	}
	for name, dir := range map[string]string{"GAMEDESK_ROOT": c.Root, "GAMEDESK_DATA_DIR": c.DataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: %s is not a directory", name, dir)
		}
	}
	return nil
}
