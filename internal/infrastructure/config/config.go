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

// envPrefix prefixes every environment override.
const envPrefix = "GATEKEEPER_"

// defaultDrainTimeout applies when api.shutdown_timeout is unset.
const defaultDrainTimeout = 10 * time.Second

// Config is the root configuration structure for Gatekeeper.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	SuperUser SuperUserConfig `yaml:"superuser"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies this instance in logs, events and metrics.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// ResetOnStart rolls back every migration and re-applies them before
	// seeding. Destroys all accounts; development use only.
	ResetOnStart bool `yaml:"reset_on_start"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host            string           `yaml:"host"`
	Port            int              `yaml:"port"`
	TLS             TLSConfig        `yaml:"tls"`
	Timeouts        APITimeoutConfig `yaml:"timeouts"`
	ShutdownTimeout int              `yaml:"shutdown_timeout"`
	CORS            CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds per-connection HTTP timeouts in seconds.
// Zero disables the timeout.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReadTimeout also bounds reading request headers.
func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

// DrainTimeout bounds a graceful stop.
func (a APIConfig) DrainTimeout() time.Duration {
	if a.ShutdownTimeout > 0 {
		return seconds(a.ShutdownTimeout)
	}
	return defaultDrainTimeout
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// SessionsConfig controls session lifetime and the reconciliation sweep.
type SessionsConfig struct {
	TTLMinutes           int `yaml:"ttl_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// SuperUserConfig holds the credentials of the account seeded at id 1.
type SuperUserConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration in three layers: defaults, then the YAML
// file at path, then GATEKEEPER_* environment variables. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service:  ServiceConfig{ID: "gatekeeper-001", Name: "Gatekeeper"},
		Database: DatabaseConfig{Path: "./data/gatekeeper.db", WALMode: true, BusyTimeout: 5},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8443,
			Timeouts:        APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
			ShutdownTimeout: 10,
		},
		Sessions: SessionsConfig{TTLMinutes: 30, SweepIntervalSeconds: 60},
		SuperUser: SuperUserConfig{
			Username: "super",
			Email:    "super_user@yomama.com",
			Password: "asdfgqwert1234567890",
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "gatekeeper"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envOverride maps one variable, minus envPrefix, onto a string field.
type envOverride struct {
	name  string
	field func(*Config) *string
}

var stringOverrides = []envOverride{
	{"DATABASE_PATH", func(c *Config) *string { return &c.Database.Path }},
	{"API_HOST", func(c *Config) *string { return &c.API.Host }},
	// Keep the super password out of the file in production.
	{"SUPER_PASSWORD", func(c *Config) *string { return &c.SuperUser.Password }},
	{"MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }},
	{"MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }},
	{"MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }},
	{"INFLUXDB_TOKEN", func(c *Config) *string { return &c.InfluxDB.Token }},
}

// applyEnvOverrides copies non-empty variables over file values. A
// malformed GATEKEEPER_API_PORT is ignored.
func applyEnvOverrides(cfg *Config) {
	for _, o := range stringOverrides {
		if v := os.Getenv(envPrefix + o.name); v != "" {
			*o.field(cfg) = v
		}
	}
	if v := os.Getenv(envPrefix + "API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate reports every problem at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Service.ID != "", "service.id is required")
	check(c.Database.Path != "", "database.path is required")

	check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	check(!c.API.TLS.Enabled || (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != ""),
		"api.tls.cert_file and api.tls.key_file are required when TLS is enabled")

	check(c.Sessions.TTLMinutes >= 1, "sessions.ttl_minutes must be at least 1")
	check(c.Sessions.SweepIntervalSeconds >= 1, "sessions.sweep_interval_seconds must be at least 1")

	check(c.SuperUser.Username != "" && c.SuperUser.Password != "",
		"superuser.username and superuser.password are required (set GATEKEEPER_SUPER_PASSWORD)")

	if c.MQTT.Enabled {
		check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
		check(c.MQTT.Broker.Host != "", "mqtt.broker.host is required when MQTT is enabled")
	}
	check(!c.InfluxDB.Enabled || (c.InfluxDB.URL != "" && c.InfluxDB.Bucket != ""),
		"influxdb.url and influxdb.bucket are required when InfluxDB is enabled")
	check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"), "metrics.path must start with /")

	return errors.Join(errs...)
}

// SessionTTL is the lifetime granted by every login or extension.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLMinutes) * time.Minute
}

// SweepInterval is the reconciliation period.
func (c *Config) SweepInterval() time.Duration {
	return seconds(c.Sessions.SweepIntervalSeconds)
}
