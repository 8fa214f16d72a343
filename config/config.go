package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig is where `serve` exposes the document store over gRPC.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	// Backend is one of memory, badger, nats, postgres or remote.
	Backend     string `mapstructure:"backend"`
	DataDir     string `mapstructure:"data_dir"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSBucket  string `mapstructure:"nats_bucket"`
	PostgresURL string `mapstructure:"postgres_url"`
	// RemoteAddr is the host:port of a `serve` instance.
	RemoteAddr string `mapstructure:"remote_addr"`
}

// ClusterConfig contains the membership tunables.
type ClusterConfig struct {
	DocumentID string `mapstructure:"document_id"`
	// HeartbeatPeriod is the cycle interval in milliseconds.
	HeartbeatPeriod int `mapstructure:"heartbeat_period"`
	// StaleTimeout is how old, in milliseconds, a heartbeat may get before the
	// node is evicted.
	StaleTimeout int `mapstructure:"stale_timeout"`
}

// Tunables returns the live-reloadable part of the cluster configuration.
func (c ClusterConfig) Tunables() Tunables {
	return Tunables{
		HeartbeatPeriod: time.Duration(c.HeartbeatPeriod) * time.Millisecond,
		StaleTimeout:    time.Duration(c.StaleTimeout) * time.Millisecond,
	}
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Backends accepted in storage.backend.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// load returns the viper instance too so file sources can keep watching it.
func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/clusterdoc")
	}

	// Set defaults
	setDefaults(v)

	// Read environment variables
	v.SetEnvPrefix("CLUSTERDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate and set computed values
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9400)
	v.SetDefault("server.max_connections", 1000)

	// Storage defaults
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("storage.nats_bucket", "clusterdoc")
	v.SetDefault("storage.postgres_url", "postgres://localhost:5432/clusterdoc?sslmode=disable")
	v.SetDefault("storage.remote_addr", "localhost:9400")

	// Cluster defaults
	v.SetDefault("cluster.document_id", "proxy-resource-list")
	v.SetDefault("cluster.heartbeat_period", 5000)
	v.SetDefault("cluster.stale_timeout", 15000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9401)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)

	switch config.Storage.Backend {
	case BackendMemory, BackendBadger, BackendNATS, BackendPostgres, BackendRemote:
	default:
		return fmt.Errorf("storage.backend must be one of memory, badger, nats, postgres, remote; got %q", config.Storage.Backend)
	}

	if config.Cluster.DocumentID == "" {
		return fmt.Errorf("cluster.document_id is required")
	}
	if config.Cluster.HeartbeatPeriod <= 0 {
		return fmt.Errorf("cluster.heartbeat_period must be positive")
	}
	if config.Cluster.StaleTimeout <= 0 {
		return fmt.Errorf("cluster.stale_timeout must be positive")
	}

	// Validate port ranges
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Metrics.Enabled && (config.Metrics.Port < 1 || config.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validateConfig(&config)

	return &config
}
