package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/pixied/internal/pixie/cloud"
)

// Config represents the application configuration
type Config struct {
	Pixie           PixieConfig       `yaml:"pixie"`
	Poll            PollConfig        `yaml:"poll"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Script          string            `yaml:"script"`  // Lua automation script, empty = disabled
	Devices         string            `yaml:"devices"` // Extra device spec table (YAML)
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
}

// PixieConfig contains cloud account and connection settings
type PixieConfig struct {
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	BaseURL   string   `yaml:"base_url"`
	LiveURL   string   `yaml:"live_url"`
	AppID     string   `yaml:"app_id"`
	ClientKey string   `yaml:"client_key"`
	Timeout   Duration `yaml:"timeout"` // HTTP timeout for cloud requests

	// Live query reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // default: 1s
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // default: 2m
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // default: 2.0
	UnhealthyAfter  int      `yaml:"unhealthy_after"`   // consecutive failures before /ready fails (default: 10)
	PingInterval    Duration `yaml:"ping_interval"`     // default: 30s

	CommandRate  float64 `yaml:"command_rate"`  // commands per second (default: 5)
	CommandBurst int     `yaml:"command_burst"` // default: 5
}

// CloudConfig converts the section to the cloud client configuration.
func (p PixieConfig) CloudConfig() cloud.Config {
	return cloud.Config{
		BaseURL:      p.BaseURL,
		LiveURL:      p.LiveURL,
		AppID:        p.AppID,
		ClientKey:    p.ClientKey,
		Timeout:      p.Timeout.Duration(),
		CommandRate:  p.CommandRate,
		CommandBurst: p.CommandBurst,
	}
}

// LiveQueryConfig converts the section to the live query configuration.
func (p PixieConfig) LiveQueryConfig() cloud.LiveQueryConfig {
	return cloud.LiveQueryConfig{
		MinBackoff:     p.MinRetryBackoff.Duration(),
		MaxBackoff:     p.MaxRetryBackoff.Duration(),
		Multiplier:     p.RetryMultiplier,
		UnhealthyAfter: p.UnhealthyAfter,
		PingInterval:   p.PingInterval.Duration(),
	}
}

// PollConfig contains the home status polling settings
type PollConfig struct {
	Interval Duration `yaml:"interval"` // default: 5m, push updates trigger refreshes in between
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// MQTTConfig contains the MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      Broker `yaml:"broker"`
	Auth        Auth   `yaml:"auth"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`

	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// Broker contains the MQTT broker address
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// Auth contains MQTT credentials
type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnect contains the MQTT reconnect backoff
type MQTTReconnect struct {
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. A .env file next to it is
// loaded first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./pixied.sqlite"
	}

	// Accounts are case-insensitive in the cloud
	cfg.Pixie.Username = strings.ToLower(strings.TrimSpace(cfg.Pixie.Username))

	// Pixie defaults
	defaults := cloud.DefaultConfig()
	live := cloud.DefaultLiveQueryConfig()
	if cfg.Pixie.BaseURL == "" {
		cfg.Pixie.BaseURL = defaults.BaseURL
	}
	if cfg.Pixie.LiveURL == "" {
		cfg.Pixie.LiveURL = defaults.LiveURL
	}
	if cfg.Pixie.AppID == "" {
		cfg.Pixie.AppID = defaults.AppID
	}
	if cfg.Pixie.ClientKey == "" {
		cfg.Pixie.ClientKey = defaults.ClientKey
	}
	if cfg.Pixie.Timeout == 0 {
		cfg.Pixie.Timeout = Duration(defaults.Timeout)
	}
	if cfg.Pixie.MinRetryBackoff == 0 {
		cfg.Pixie.MinRetryBackoff = Duration(live.MinBackoff)
	}
	if cfg.Pixie.MaxRetryBackoff == 0 {
		cfg.Pixie.MaxRetryBackoff = Duration(live.MaxBackoff)
	}
	if cfg.Pixie.RetryMultiplier == 0 {
		cfg.Pixie.RetryMultiplier = live.Multiplier
	}
	if cfg.Pixie.UnhealthyAfter == 0 {
		cfg.Pixie.UnhealthyAfter = live.UnhealthyAfter
	}
	if cfg.Pixie.PingInterval == 0 {
		cfg.Pixie.PingInterval = Duration(live.PingInterval)
	}
	if cfg.Pixie.CommandRate == 0 {
		cfg.Pixie.CommandRate = defaults.CommandRate
	}
	if cfg.Pixie.CommandBurst == 0 {
		cfg.Pixie.CommandBurst = defaults.CommandBurst
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(5 * time.Minute)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.Broker.Host == "" {
		cfg.MQTT.Broker.Host = "localhost"
	}
	if cfg.MQTT.Broker.Port == 0 {
		cfg.MQTT.Broker.Port = 1883
	}
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "pixied"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "pixied"
	}
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.Reconnect.InitialDelay == 0 {
		cfg.MQTT.Reconnect.InitialDelay = Duration(1 * time.Second)
	}
	if cfg.MQTT.Reconnect.MaxDelay == 0 {
		cfg.MQTT.Reconnect.MaxDelay = Duration(1 * time.Minute)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no sensible default.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Pixie.Username == "" {
		errs = append(errs, errors.New("pixie.username is required"))
	}
	if cfg.Pixie.Password == "" {
		errs = append(errs, errors.New("pixie.password is required"))
	}
	if cfg.Pixie.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("pixie.retry_multiplier must be >= 1, got %v", cfg.Pixie.RetryMultiplier))
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
