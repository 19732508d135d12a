package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix starts every environment override, e.g. ADBMUX_ADB_BINARY.
const envPrefix = "ADBMUX_"

// Config is the root configuration structure for adbmux.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	ADB       ADBConfig       `yaml:"adb"`
	Watch     WatchConfig     `yaml:"watch"`
	Runner    RunnerConfig    `yaml:"runner"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ADBConfig contains settings for invoking the adb tool.
type ADBConfig struct {
	// Binary is the adb executable. Default: "adb" on PATH.
	Binary string `yaml:"binary"`

	// ListTimeout bounds each `adb devices -l` call.
	ListTimeout time.Duration `yaml:"list_timeout"`

	// CommandTimeout bounds each user command on one device.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	Server ADBServerConfig `yaml:"server"`
}

// ADBServerConfig contains settings for an adb server owned by adbmux.
type ADBServerConfig struct {
	// Managed makes adbmux start and supervise its own adb server.
	// If false, adb's own background server is used.
	Managed bool `yaml:"managed"`

	// Port is the server port. Default: 5037
	Port int `yaml:"port"`

	// ListenAll accepts connections on every interface (adb -a).
	ListenAll bool `yaml:"listen_all"`

	// RestartOnFailure restarts the server if it exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelay is the first backoff delay. Default: 5s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// HealthCheckInterval is how often the server is asked for its version.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// WatchConfig contains device watch loop settings.
type WatchConfig struct {
	Interval       time.Duration `yaml:"interval"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// RunnerConfig contains command execution settings.
type RunnerConfig struct {
	// Parallelism is how many devices run the command at once.
	Parallelism int `yaml:"parallelism"`
}

// HistoryConfig contains SQLite device history settings.
type HistoryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Retention prunes rows older than this at startup. 0 keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string        `yaml:"path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ADBMUX_SECTION_KEY
// For example: ADBMUX_ADB_BINARY, ADBMUX_WATCH_INTERVAL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return build(data)
}

// LoadOptional is Load for a config file that may be absent: when path
// does not exist the defaults are used, still with environment overrides
// and validation applied.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return build(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return build(data)
}

func build(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		ADB: ADBConfig{
			Binary:         "adb",
			ListTimeout:    10 * time.Second,
			CommandTimeout: 5 * time.Minute,
			Server: ADBServerConfig{
				Port:                5037,
				RestartOnFailure:    true,
				RestartDelay:        5 * time.Second,
				HealthCheckInterval: 30 * time.Second,
			},
		},
		Watch: WatchConfig{
			Interval:       time.Second,
			RefreshTimeout: 10 * time.Second,
		},
		Runner: RunnerConfig{
			Parallelism: 1,
		},
		History: HistoryConfig{
			Path:        "./data/adbmux.db",
			WALMode:     true,
			BusyTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "adbmux",
			},
			QoS:         1,
			TopicPrefix: "adbmux",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "adbmux",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8037,
			Timeouts: APITimeoutConfig{
				Read:  30 * time.Second,
				Write: 30 * time.Second,
				Idle:  60 * time.Second,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric or duration values are reported together.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = n
	}

	// adb
	str("ADB_BINARY", &cfg.ADB.Binary)
	dur("ADB_COMMAND_TIMEOUT", &cfg.ADB.CommandTimeout)
	num("ADB_SERVER_PORT", &cfg.ADB.Server.Port)

	// Watch and runner
	dur("WATCH_INTERVAL", &cfg.Watch.Interval)
	num("RUNNER_PARALLELISM", &cfg.Runner.Parallelism)

	// History
	str("HISTORY_PATH", &cfg.History.Path)

	// MQTT
	str("MQTT_HOST", &cfg.MQTT.Broker.Host)
	str("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// InfluxDB
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// API
	str("API_HOST", &cfg.API.Host)

	// Logging
	str("LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// adb
	if c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required")
	}
	if c.ADB.ListTimeout <= 0 || c.ADB.CommandTimeout <= 0 {
		errs = append(errs, "adb timeouts must be positive")
	}
	if c.ADB.Server.Managed && (c.ADB.Server.Port < 1 || c.ADB.Server.Port > 65535) {
		errs = append(errs, "adb.server.port must be between 1 and 65535")
	}

	// Watch
	if c.Watch.Interval <= 0 {
		errs = append(errs, "watch.interval must be positive")
	}
	if c.Watch.RefreshTimeout <= 0 {
		errs = append(errs, "watch.refresh_timeout must be positive")
	}

	// Runner
	if c.Runner.Parallelism < 1 {
		errs = append(errs, "runner.parallelism must be at least 1")
	}

	// History
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.History.Retention < 0 {
		errs = append(errs, "history.retention must not be negative")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			errs = append(errs, "mqtt.topic_prefix must be set and contain no wildcards")
		}
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Logging
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// APIAddress returns the host:port the status API listens on.
func (c *Config) APIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
