// Package config loads textline service configuration from a JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Carrier   CarrierConfig   `json:"carrier"`
	Events    EventsConfig    `json:"events"`
	Notify    NotifyConfig    `json:"notify"`
	Scheduler SchedulerConfig `json:"scheduler"`
	LogJSON   bool            `env:"TEXTLINE_LOG_JSON" json:"log_json"`
}

type ServerConfig struct {
	Host string `env:"TEXTLINE_SERVER_HOST" json:"host"`
	Port int    `env:"TEXTLINE_SERVER_PORT" json:"port"`
}

// DatabaseConfig selects the backing store. Driver is "postgres" or
// "memory"; memory is for local development and tests only.
type DatabaseConfig struct {
	Driver string `env:"TEXTLINE_DATABASE_DRIVER" json:"driver"`
	URL    string `env:"TEXTLINE_DATABASE_URL"    json:"url"`
}

// CarrierConfig configures the outbound SMS transport.
type CarrierConfig struct {
	BaseURL        string `env:"TEXTLINE_CARRIER_BASE_URL"        json:"base_url"`
	APIKey         string `env:"TEXTLINE_CARRIER_API_KEY"         json:"api_key"`
	UserID         string `env:"TEXTLINE_CARRIER_USER_ID"         json:"user_id"`
	Password       string `env:"TEXTLINE_CARRIER_PASSWORD"        json:"password"`
	TimeoutSeconds int    `env:"TEXTLINE_CARRIER_TIMEOUT_SECONDS" json:"timeout_seconds"`
}

// EventsConfig configures the optional platform event publisher.
type EventsConfig struct {
	Enabled  bool   `env:"TEXTLINE_EVENTS_ENABLED"  json:"enabled"`
	URL      string `env:"TEXTLINE_EVENTS_URL"      json:"url"`
	Exchange string `env:"TEXTLINE_EVENTS_EXCHANGE" json:"exchange"`
}

// NotifyConfig configures the escalation alert webhook. Empty URL
// disables alerts.
type NotifyConfig struct {
	WebhookURL string `env:"TEXTLINE_NOTIFY_WEBHOOK_URL" json:"webhook_url"`
	WebhookKey string `env:"TEXTLINE_NOTIFY_WEBHOOK_KEY" json:"webhook_key"`
}

// SchedulerConfig configures the trigger scheduler loop.
type SchedulerConfig struct {
	Enabled bool `env:"TEXTLINE_SCHEDULER_ENABLED" json:"enabled"`
	// TickSeconds is how often the loop checks trigger cron specs for
	// due-ness. One minute is the finest granularity cron supports.
	TickSeconds int `env:"TEXTLINE_SCHEDULER_TICK_SECONDS" json:"tick_seconds"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Carrier: CarrierConfig{
			TimeoutSeconds: 10,
		},
		Events: EventsConfig{
			Exchange: "textline.events",
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			TickSeconds: 60,
		},
	}
}

// LoadConfig reads the config file at path (missing file falls back to
// defaults) and applies env overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports startup-fatal configuration problems.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}
	if c.Scheduler.TickSeconds <= 0 {
		c.Scheduler.TickSeconds = 60
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
