package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.parley/config.toml.
type Config struct {
	DefaultProfile string          `toml:"default_profile"`
	LogLevel       string          `toml:"log_level"`
	Presence       PresenceConfig  `toml:"presence"`
	Delivery       DeliveryConfig  `toml:"delivery"`
	Leveling       LevelingConfig  `toml:"leveling"`
	Companion      CompanionConfig `toml:"companion"`
	Metrics        MetricsConfig   `toml:"metrics"`
	Janitor        JanitorConfig   `toml:"janitor"`
	History        HistoryConfig   `toml:"history"`
}

type PresenceConfig struct {
	Timeout time.Duration `toml:"timeout"`
}

type DeliveryConfig struct {
	AckTimeout       time.Duration `toml:"ack_timeout"`
	SendRate         float64       `toml:"send_rate"`
	SendBurst        int           `toml:"send_burst"`
	MappingRetention time.Duration `toml:"mapping_retention"`
}

type LevelingConfig struct {
	XPPerMessage int `toml:"xp_per_message"`
}

// CompanionConfig configures the text-generation endpoint. An empty
// Endpoint leaves the companion without a generator.
type CompanionConfig struct {
	Endpoint string        `toml:"endpoint"`
	APIKey   string        `toml:"api_key"`
	BotID    string        `toml:"bot_id"`
	Timeout  time.Duration `toml:"timeout"`
	Retries  int           `toml:"retries"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type JanitorConfig struct {
	Schedule string `toml:"schedule"`
}

type HistoryConfig struct {
	RestoreLimit int `toml:"restore_limit"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Presence: PresenceConfig{Timeout: 45 * time.Second},
		Delivery: DeliveryConfig{
			AckTimeout:       5 * time.Second,
			SendRate:         5,
			SendBurst:        10,
			MappingRetention: 24 * time.Hour,
		},
		Leveling:  LevelingConfig{XPPerMessage: 10},
		Companion: CompanionConfig{BotID: "companion", Timeout: 30 * time.Second, Retries: 2},
		Janitor:   JanitorConfig{Schedule: "*/15 * * * *"},
		History:   HistoryConfig{RestoreLimit: 500},
	}
}

// Load reads config from the given path over the defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv loads envFiles (missing ones are skipped) and then overrides cfg
// with PARLEY_* variables. Variables already set in the process win over
// the files.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PARLEY_PROFILE", &cfg.DefaultProfile)
	str("PARLEY_LOG_LEVEL", &cfg.LogLevel)
	dur("PARLEY_PRESENCE_TIMEOUT", &cfg.Presence.Timeout)
	dur("PARLEY_ACK_TIMEOUT", &cfg.Delivery.AckTimeout)
	if v, ok := os.LookupEnv("PARLEY_SEND_RATE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PARLEY_SEND_RATE: %w", err))
		} else {
			cfg.Delivery.SendRate = f
		}
	}
	num("PARLEY_SEND_BURST", &cfg.Delivery.SendBurst)
	num("PARLEY_XP_PER_MESSAGE", &cfg.Leveling.XPPerMessage)
	str("PARLEY_COMPANION_ENDPOINT", &cfg.Companion.Endpoint)
	str("PARLEY_COMPANION_API_KEY", &cfg.Companion.APIKey)
	str("PARLEY_METRICS_ADDR", &cfg.Metrics.Addr)
	str("PARLEY_JANITOR_SCHEDULE", &cfg.Janitor.Schedule)
	return errors.Join(errs...)
}
