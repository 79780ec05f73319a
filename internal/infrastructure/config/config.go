package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic script engine.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the event stream WebSocket.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	// DrainInterval is how often (milliseconds) a client's event queue is
	// flushed when no wake-up arrives.
	DrainInterval int `yaml:"drain_interval"`
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

// ScriptsConfig contains script engine settings.
type ScriptsConfig struct {
	// Path is the directory holding automation and CLI scripts.
	Path string `yaml:"path"`

	// WebRoot is the directory web-request scripts are served from.
	WebRoot string `yaml:"web_root"`

	// ThreadMax is the hard cap on concurrently tracked script executions.
	// Admission starts reaping at 80% of this value and refuses at 100%.
	ThreadMax int `yaml:"thread_max"`

	// ReapInterval is how often (seconds) finished executions are collected
	// in the background.
	ReapInterval int `yaml:"reap_interval"`

	// KeepAliveDefaultInterval is the pause (milliseconds) between keep-alive
	// runs when a request does not specify an interval.
	KeepAliveDefaultInterval int `yaml:"keep_alive_default_interval_ms"`

	// Interpreters maps file extensions (".sh", ".py") to the binary that
	// runs them. Lua scripts are always handled in-process.
	Interpreters map[string]string `yaml:"interpreters"`

	// SessionTTL is how long (hours) an untouched web session is kept.
	// 0 keeps sessions forever.
	SessionTTL int `yaml:"session_ttl"`

	Lua LuaConfig `yaml:"lua"`
}

// LuaConfig contains settings for the embedded Lua interpreter.
type LuaConfig struct {
	// MaxRunTime bounds a single script run in seconds. 0 disables the limit.
	// Keep-alive scripts are bounded per iteration.
	MaxRunTime int `yaml:"max_run_time"`

	// CallStackSize is the Lua call stack depth. 0 uses the interpreter default.
	CallStackSize int `yaml:"call_stack_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_SCRIPTS_THREAD_MAX
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used by CLI commands when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-scripts.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-scripts",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/events",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			DrainInterval:  500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scripts: ScriptsConfig{
			Path:                     "./scripts",
			WebRoot:                  "./www",
			ThreadMax:                100,
			ReapInterval:             10,
			KeepAliveDefaultInterval: 5000,
			Interpreters:             map[string]string{},
			SessionTTL:               24,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Scripts
	if v := os.Getenv("GRAYLOGIC_SCRIPTS_PATH"); v != "" {
		cfg.Scripts.Path = v
	}
	if v := os.Getenv("GRAYLOGIC_SCRIPTS_WEB_ROOT"); v != "" {
		cfg.Scripts.WebRoot = v
	}
	if v := os.Getenv("GRAYLOGIC_SCRIPTS_THREAD_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scripts.ThreadMax = n
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Scripts.Path == "" {
		errs = append(errs, "scripts.path is required")
	}

	// A thread max below 2 leaves no room between the reap threshold and the cap.
	if c.Scripts.ThreadMax < 2 {
		errs = append(errs, "scripts.thread_max must be at least 2")
	}

	if c.Scripts.ReapInterval < 0 {
		errs = append(errs, "scripts.reap_interval must not be negative")
	}

	for ext, bin := range c.Scripts.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("scripts.interpreters key %q must start with a dot", ext))
		}
		if ext == ".lua" {
			errs = append(errs, "scripts.interpreters cannot override .lua")
		}
		if bin == "" {
			errs = append(errs, fmt.Sprintf("scripts.interpreters[%q] needs a binary path", ext))
		}
	}

	if c.Scripts.SessionTTL < 0 {
		errs = append(errs, "scripts.session_ttl must not be negative")
	}

	if c.Scripts.Lua.MaxRunTime < 0 {
		errs = append(errs, "scripts.lua.max_run_time must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetReapInterval returns the background reap interval as a Duration.
func (c *Config) GetReapInterval() time.Duration {
	return time.Duration(c.Scripts.ReapInterval) * time.Second
}

// GetKeepAliveDefaultInterval returns the keep-alive fallback pause as a Duration.
func (c *Config) GetKeepAliveDefaultInterval() time.Duration {
	return time.Duration(c.Scripts.KeepAliveDefaultInterval) * time.Millisecond
}

// GetSessionTTL returns the web session lifetime as a Duration, 0 for none.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Scripts.SessionTTL) * time.Hour
}

// GetLuaMaxRunTime returns the per-run Lua time limit, 0 for none.
func (c *Config) GetLuaMaxRunTime() time.Duration {
	return time.Duration(c.Scripts.Lua.MaxRunTime) * time.Second
}
