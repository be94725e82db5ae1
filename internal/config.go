package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	Spacetime SpacetimeConfig   `yaml:"spacetime"`
	Sync      SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Spacetime.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	LogFile  string     `yaml:"log_file"` // empty: stdout only
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the status server configuration. Port 0 disables the
// server entirely.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Enabled reports whether the status server should run.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Address returns the status server listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SpacetimeConfig holds the remote store connection settings.
type SpacetimeConfig struct {
	Host              string `yaml:"host"`
	Database          string `yaml:"database"`
	Token             string `yaml:"token"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
}

// ConnectTimeout returns the subscription wait deadline.
func (c *SpacetimeConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// Validate validates the remote store configuration.
func (c *SpacetimeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.ConnectTimeoutSec, validation.Min(0)),
	)
}

// SyncConfig holds the change pipeline settings.
type SyncConfig struct {
	DebounceWindowMS int    `yaml:"debounce_window_ms"`
	StateDBPath      string `yaml:"state_db_path"` // empty: in-memory fingerprints only
}

// DebounceWindow returns the quiet window for the change pipeline.
func (c *SyncConfig) DebounceWindow() time.Duration {
	if c.DebounceWindowMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.DebounceWindowMS) * time.Millisecond
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceWindowMS, validation.Min(0)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8090,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Spacetime: SpacetimeConfig{
			Host:              "http://localhost:3003",
			Database:          "spacenotes",
			ConnectTimeoutSec: 30,
		},
		Sync: SyncConfig{
			DebounceWindowMS: 2000,
			StateDBPath:      "./spacenotes-state.db",
		},
	}
}
