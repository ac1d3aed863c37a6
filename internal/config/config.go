package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Emitter    EmitterConfig    `mapstructure:"emitter"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SimulationConfig holds generation and backfill configuration
type SimulationConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	HistoryDays     int           `mapstructure:"history_days"`
	HistoryInterval time.Duration `mapstructure:"history_interval"`
	AnomalyRate     float64       `mapstructure:"anomaly_rate"`
	CatalogDir      string        `mapstructure:"catalog_dir"` // empty = embedded tables
}

// EmitterConfig holds live emission cadence
type EmitterConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	HighInterval    time.Duration `mapstructure:"high_interval"`
	MediumInterval  time.Duration `mapstructure:"medium_interval"`
	LowInterval     time.Duration `mapstructure:"low_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DeliveryConfig holds push channel limits
type DeliveryConfig struct {
	MaxClients   int `mapstructure:"max_clients"`
	SendBuffer   int `mapstructure:"send_buffer"`
	CatchupLimit int `mapstructure:"catchup_limit"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath         string        `mapstructure:"db_path"`
	MaxEvents      int           `mapstructure:"max_events"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BotToken        string        `mapstructure:"bot_token"`
	ChatID          string        `mapstructure:"chat_id"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	AnomalyCooldown time.Duration `mapstructure:"anomaly_cooldown"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is loaded first when present. An empty path uses
// defaults and the environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STREAMSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("simulation.timezone", "Local")
	v.SetDefault("simulation.history_days", 30)
	v.SetDefault("simulation.history_interval", "12h")
	v.SetDefault("simulation.anomaly_rate", 0.05)
	v.SetDefault("simulation.catalog_dir", "")

	v.SetDefault("emitter.enabled", true)
	v.SetDefault("emitter.high_interval", "2s")
	v.SetDefault("emitter.medium_interval", "10s")
	v.SetDefault("emitter.low_interval", "60s")
	v.SetDefault("emitter.cleanup_interval", "1m")

	v.SetDefault("delivery.max_clients", 100)
	v.SetDefault("delivery.send_buffer", 256)
	v.SetDefault("delivery.catchup_limit", 500)

	v.SetDefault("storage.db_path", "") // empty = $TMPDIR/streamsim/data.db
	v.SetDefault("storage.max_events", 50000)
	v.SetDefault("storage.rotate_interval", "5m")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.anomaly_cooldown", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.read_timeout and server.write_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("simulation.timezone is invalid: %w", err)
	}
	if c.Simulation.HistoryDays < 1 || c.Simulation.HistoryDays > 365 {
		return fmt.Errorf("simulation.history_days must be between 1 and 365")
	}
	if c.Simulation.HistoryInterval < time.Minute {
		return fmt.Errorf("simulation.history_interval must be at least 1 minute")
	}
	if c.Simulation.AnomalyRate < 0 || c.Simulation.AnomalyRate > 1 {
		return fmt.Errorf("simulation.anomaly_rate must be between 0.0 and 1.0")
	}

	if c.Emitter.Enabled {
		if c.Emitter.HighInterval < 100*time.Millisecond ||
			c.Emitter.MediumInterval < 100*time.Millisecond ||
			c.Emitter.LowInterval < 100*time.Millisecond {
			return fmt.Errorf("emitter intervals must be at least 100ms")
		}
		if c.Emitter.CleanupInterval < time.Second {
			return fmt.Errorf("emitter.cleanup_interval must be at least 1 second")
		}
	}

	if c.Delivery.MaxClients < 1 {
		return fmt.Errorf("delivery.max_clients must be at least 1")
	}
	if c.Delivery.SendBuffer < 1 {
		return fmt.Errorf("delivery.send_buffer must be at least 1")
	}
	if c.Delivery.CatchupLimit < 0 {
		return fmt.Errorf("delivery.catchup_limit must not be negative")
	}

	if c.Storage.MaxEvents < 1 {
		return fmt.Errorf("storage.max_events must be at least 1")
	}
	if c.Storage.RotateInterval < time.Second {
		return fmt.Errorf("storage.rotate_interval must be at least 1 second")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location resolves simulation.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Simulation.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Simulation.Timezone)
}
