// Package config loads the store configuration from environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for Leopold Dedup.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Pretty switches from JSON to human-readable console output.
	Pretty bool `mapstructure:"pretty"`
}

// StoreConfig selects the storage backends.
type StoreConfig struct {
	// KVBackend is one of: memory, sqlite, postgres, redis.
	KVBackend string `mapstructure:"kv_backend"`

	// ObjectBackend is one of: memory, filesystem.
	ObjectBackend string `mapstructure:"object_backend"`

	// DataDir is the root directory for the filesystem object store.
	DataDir string `mapstructure:"data_dir"`

	// SQLitePath is the database file for the sqlite KV backend.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ChunkConfig controls chunking defaults.
type ChunkConfig struct {
	// DefaultSize is the chunk size used when the caller does not set
	// one explicitly.
	DefaultSize uint64 `mapstructure:"default_size"`

	// Algorithm is the registered fingerprint algorithm name.
	Algorithm string `mapstructure:"algorithm"`
}

// RedisConfig configures the Redis KV backend.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the host:port address of the Redis server.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresConfig configures the PostgreSQL KV backend.
type PostgresConfig struct {
	// DSN is a pgx connection string.
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from defaults, the optional file at path and
// LEOPOLD_-prefixed environment variables, in ascending precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("store.kv_backend", "sqlite")
	v.SetDefault("store.object_backend", "filesystem")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.sqlite_path", "./data/leopold.db")
	v.SetDefault("chunk.default_size", 128000)
	v.SetDefault("chunk.algorithm", "sha256")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetEnvPrefix("LEOPOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Store.KVBackend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid kv backend: %q", c.Store.KVBackend)
	}

	switch c.Store.ObjectBackend {
	case "memory", "filesystem":
	default:
		return fmt.Errorf("invalid object backend: %q", c.Store.ObjectBackend)
	}

	if c.Store.KVBackend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend selected but no dsn configured")
	}

	if c.Chunk.DefaultSize == 0 {
		return fmt.Errorf("chunk default size must be positive")
	}

	return nil
}
