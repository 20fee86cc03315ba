package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// EnvConfigPath names the variable holding the config file path when
// --config is not given.
const EnvConfigPath = "LHKEEPER_CONFIG"

// Config is the root configuration structure for lhkeeper.
// Values come from defaults, an optional YAML file, environment variables and
// command-line flags, in that order.
type Config struct {
	Lighthouse LighthouseConfig `yaml:"lighthouse"`
	KeepAlive  KeepAliveConfig  `yaml:"keepalive"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LighthouseConfig identifies the base station and its wake characteristic.
type LighthouseConfig struct {
	// ID is the station's hex ID as printed on it ("LHB-" prefix optional).
	ID string `yaml:"id"`

	// Address is the station's BLE MAC address.
	Address string `yaml:"address"`

	// DeviceTimeout is the off-timeout (seconds) carried in the wake command.
	DeviceTimeout int `yaml:"device_timeout"`

	// Handle is the characteristic value handle. Default: 0x35
	Handle int `yaml:"handle"`

	// SecondaryHeader is the second byte of the wake command. Default: 0x02
	SecondaryHeader int `yaml:"secondary_header"`
}

// KeepAliveConfig contains loop pacing and retry settings (seconds).
type KeepAliveConfig struct {
	PingInterval   int         `yaml:"ping_interval"`
	GlobalTimeout  int         `yaml:"global_timeout"` // 0 = forever
	ConnectTimeout int         `yaml:"connect_timeout"`
	Verbosity      int         `yaml:"verbosity"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig contains connection retry settings.
type RetryConfig struct {
	// Count is the total number of connection attempts per cycle.
	Count int `yaml:"count"`

	// Pause is the wait between attempts (seconds).
	Pause int `yaml:"pause"`
}

// DatabaseConfig contains SQLite settings for the cycle history.
type DatabaseConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Path                 string `yaml:"path"`
	WALMode              bool   `yaml:"wal_mode"`
	BusyTimeout          int    `yaml:"busy_timeout"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Override mutates a loaded configuration before validation.
// Command-line flags are applied this way.
type Override func(*Config)

// Load builds the configuration and validates it.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is non-empty
//  3. Environment variables (override file values)
//  4. Overrides, in order (command-line flags)
//
// Environment variables follow the pattern: LHKEEPER_SECTION_KEY
// For example: LHKEEPER_LIGHTHOUSE_ID, LHKEEPER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file; empty means none
//   - overrides: Applied after the environment
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		if o != nil {
			o(cfg)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the keep-alive defaults.
func defaultConfig() *Config {
	return &Config{
		Lighthouse: LighthouseConfig{
			DeviceTimeout:   int(lighthouse.DefaultDeviceTimeout),
			Handle:          int(lighthouse.DefaultHandle),
			SecondaryHeader: int(lighthouse.DefaultSecondaryHeader),
		},
		KeepAlive: KeepAliveConfig{
			PingInterval:   lighthouse.DefaultPingInterval,
			GlobalTimeout:  lighthouse.DefaultGlobalTimeout,
			ConnectTimeout: lighthouse.DefaultConnectTimeout,
			Retry: RetryConfig{
				Count: lighthouse.DefaultRetryCount,
				Pause: lighthouse.DefaultRetryPause,
			},
		},
		Database: DatabaseConfig{
			Path:                 "./data/lhkeeper.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lhkeeper",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8095,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "lhkeeper",
			BatchSize:     50,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LHKEEPER_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = int(n)
	}
	flag := func(name string, dst *bool) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}

	// Lighthouse
	str("LHKEEPER_LIGHTHOUSE_ID", &cfg.Lighthouse.ID)
	str("LHKEEPER_LIGHTHOUSE_ADDRESS", &cfg.Lighthouse.Address)
	num("LHKEEPER_LIGHTHOUSE_DEVICE_TIMEOUT", &cfg.Lighthouse.DeviceTimeout)
	num("LHKEEPER_LIGHTHOUSE_HANDLE", &cfg.Lighthouse.Handle)

	// Keep-alive
	num("LHKEEPER_KEEPALIVE_PING_INTERVAL", &cfg.KeepAlive.PingInterval)
	num("LHKEEPER_KEEPALIVE_GLOBAL_TIMEOUT", &cfg.KeepAlive.GlobalTimeout)
	num("LHKEEPER_KEEPALIVE_VERBOSITY", &cfg.KeepAlive.Verbosity)

	// Database
	flag("LHKEEPER_DATABASE_ENABLED", &cfg.Database.Enabled)
	str("LHKEEPER_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	flag("LHKEEPER_MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("LHKEEPER_MQTT_HOST", &cfg.MQTT.Broker.Host)
	str("LHKEEPER_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("LHKEEPER_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// API
	flag("LHKEEPER_API_ENABLED", &cfg.API.Enabled)
	str("LHKEEPER_API_HOST", &cfg.API.Host)

	// InfluxDB
	flag("LHKEEPER_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	str("LHKEEPER_INFLUXDB_URL", &cfg.InfluxDB.URL)
	str("LHKEEPER_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	str("LHKEEPER_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: environment: %w", lighthouse.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
//
// Returns:
//   - error: Wraps lighthouse.ErrConfiguration, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Lighthouse
	if c.Lighthouse.ID == "" {
		errs = append(errs, "lighthouse.id is required")
	} else {
		if _, err := lighthouse.ParseDeviceID(c.Lighthouse.ID); err != nil {
			errs = append(errs, fmt.Sprintf("lighthouse.id %q is not a 32-bit hex id", c.Lighthouse.ID))
		}
		if c.Lighthouse.Address == "" {
			errs = append(errs, "lighthouse.address is required (scanning not implemented)")
		}
	}
	if c.Lighthouse.DeviceTimeout < 0 || c.Lighthouse.DeviceTimeout > 0xFFFF {
		errs = append(errs, "lighthouse.device_timeout must be between 0 and 65535")
	}
	if c.Lighthouse.Handle < 1 || c.Lighthouse.Handle > 0xFFFF {
		errs = append(errs, "lighthouse.handle must be between 1 and 0xFFFF")
	}
	if c.Lighthouse.SecondaryHeader < 0 || c.Lighthouse.SecondaryHeader > 0xFF {
		errs = append(errs, "lighthouse.secondary_header must be between 0 and 255")
	}

	// Keep-alive
	if c.KeepAlive.PingInterval < 0 {
		errs = append(errs, "keepalive.ping_interval must not be negative")
	}
	if c.KeepAlive.GlobalTimeout < 0 {
		errs = append(errs, "keepalive.global_timeout must not be negative")
	}
	if c.KeepAlive.ConnectTimeout < 0 {
		errs = append(errs, "keepalive.connect_timeout must not be negative")
	}
	if c.KeepAlive.Retry.Count < 1 {
		errs = append(errs, "keepalive.retry.count must be at least 1")
	}
	if c.KeepAlive.Retry.Pause < 0 {
		errs = append(errs, "keepalive.retry.pause must not be negative")
	}
	if err := lighthouse.CheckPacing(c.PingInterval(), c.DeviceTimeout()); err != nil {
		errs = append(errs, fmt.Sprintf("keepalive.ping_interval (%ds) must be below 0.75 of lighthouse.device_timeout (%ds)",
			c.KeepAlive.PingInterval, c.Lighthouse.DeviceTimeout))
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	// MQTT
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", lighthouse.ErrConfiguration, strings.Join(errs, "; "))
	}

	return nil
}

// DeviceID returns the parsed lighthouse ID. Call after Validate.
func (c *Config) DeviceID() lighthouse.DeviceID {
	id, _ := lighthouse.ParseDeviceID(c.Lighthouse.ID) //nolint:errcheck // Checked by Validate
	return id
}

// WakeCommand builds the command written on every cycle.
func (c *Config) WakeCommand() lighthouse.WakeCommand {
	return lighthouse.BuildWakeCommand(c.DeviceID(), uint16(c.Lighthouse.DeviceTimeout), byte(c.Lighthouse.SecondaryHeader))
}

// DeviceTimeout returns the lighthouse off-timeout as a Duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Lighthouse.DeviceTimeout) * time.Second
}

// PingInterval returns the inter-cycle sleep as a Duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.KeepAlive.PingInterval) * time.Second
}

// GlobalTimeout returns the overall run limit as a Duration (0 = forever).
func (c *Config) GlobalTimeout() time.Duration {
	return time.Duration(c.KeepAlive.GlobalTimeout) * time.Second
}

// ConnectTimeout returns the per-attempt dial bound as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.KeepAlive.ConnectTimeout) * time.Second
}

// RetryPause returns the wait between connection attempts as a Duration.
func (c *Config) RetryPause() time.Duration {
	return time.Duration(c.KeepAlive.Retry.Pause) * time.Second
}

// HistoryRetention returns how long cycle history is kept (0 = forever).
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
