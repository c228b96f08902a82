package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rahul/hitobot/internal/milestone"
)

type Config struct {
	App           AppConfig                `yaml:"app"`
	Gateways      map[string]GatewayConfig `yaml:"gateways"`
	Storage       StorageConfig            `yaml:"storage"`
	Notifications NotificationsConfig      `yaml:"notifications"`
	Ingest        IngestConfig             `yaml:"ingest"`
	Metrics       MetricsConfig            `yaml:"metrics"`
	Log           LogConfig                `yaml:"log"`
	// Catalog overrides the built-in milestone sequence when set.
	Catalog []milestone.Kind `yaml:"catalog,omitempty"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
	// Channels lists channel ids that receive notification digests.
	Channels []string `yaml:"channels,omitempty"`
}

type StorageConfig struct {
	Path            string        `yaml:"path"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
}

type NotificationsConfig struct {
	// Renotify is "always" or "once".
	Renotify    string `yaml:"renotify"`
	Concurrency int    `yaml:"concurrency"`
}

type IngestConfig struct {
	Workbook string `yaml:"workbook"`
	Sheet    string `yaml:"sheet"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "hitobot",
			Timezone: "America/Caracas",
		},
		Gateways: map[string]GatewayConfig{},
		Storage: StorageConfig{
			Path:            "hitobot.db",
			RetryMaxElapsed: 5 * time.Second,
		},
		Notifications: NotificationsConfig{
			Renotify:    "always",
			Concurrency: 4,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if cfg.Gateways == nil {
		cfg.Gateways = map[string]GatewayConfig{}
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Notifications.Renotify {
	case "", "always", "once":
	default:
		return fmt.Errorf("notifications.renotify must be always or once, got %q", c.Notifications.Renotify)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := c.BuildCatalog(); err != nil {
		return err
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.App.Timezone
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid app.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// BuildCatalog returns the configured catalog or the built-in one.
func (c *Config) BuildCatalog() (*milestone.Catalog, error) {
	if len(c.Catalog) == 0 {
		return milestone.DefaultCatalog(), nil
	}
	cat, err := milestone.NewCatalog(c.Catalog)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return cat, nil
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	dc, ok := c.Gateways["discord"]
	if ok && dc.Enabled && dc.Token != "" {
		return dc, true
	}
	return GatewayConfig{}, false
}
