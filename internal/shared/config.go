package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API      APIConfig      `toml:"api"`
	Session  SessionConfig  `toml:"session"`
	Tracking TrackingConfig `toml:"tracking"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// APIConfig contains settings for the remote job service.
type APIConfig struct {
	BaseURL           string        `toml:"base_url"`
	Timeout           time.Duration `toml:"timeout"`
	RetryDelay        time.Duration `toml:"retry_delay"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	UserAgent         string        `toml:"user_agent"`
}

// SessionConfig selects where credentials are persisted and when they are renewed.
type SessionConfig struct {
	Store          string        `toml:"store"` // sqlite or keyring
	RefreshLead    time.Duration `toml:"refresh_lead"`
	KeyringService string        `toml:"keyring_service"`
}

// TrackingConfig contains job status synchronization settings.
type TrackingConfig struct {
	EnablePush        bool          `toml:"enable_push"`
	PushTransport     string        `toml:"push_transport"` // sse or websocket
	ReconnectDelay    time.Duration `toml:"reconnect_delay"`
	ReconnectAttempts int           `toml:"reconnect_attempts"`
	PollInterval      time.Duration `toml:"poll_interval"`
	CacheTTL          time.Duration `toml:"cache_ttl"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local development backend.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values the client cannot work without.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("api.timeout must be at least 1s"))
	}
	if c.Tracking.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("tracking.poll_interval must be positive"))
	}
	if c.Tracking.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("tracking.reconnect_attempts must not be negative"))
	}
	switch c.Tracking.PushTransport {
	case "", "sse", "websocket":
	default:
		errs = append(errs, fmt.Errorf("tracking.push_transport %q must be sse or websocket", c.Tracking.PushTransport))
	}
	switch c.Session.Store {
	case "", "sqlite", "keyring":
	default:
		errs = append(errs, fmt.Errorf("session.store %q must be sqlite or keyring", c.Session.Store))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
