package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Supported key-value store drivers.
const (
	KVDriverSQLite = "sqlite"
	KVDriverRedis  = "redis"
	KVDriverMemory = "memory"
)

// Supported remote store drivers.
const (
	RemoteDriverPostgres = "postgres"
	RemoteDriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Remote RemoteConfig
	CORS   CORSConfig
}

// ServerConfig holds local HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// StoreConfig selects and configures the on-device key-value store.
type StoreConfig struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// RemoteConfig configures the cloud document store that owns the
// authoritative copy of parcels and premises.
type RemoteConfig struct {
	Driver   string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
	Channel  string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables.
// Defaults favour a single-device install: SQLite on local disk and a
// Postgres remote reachable from a development container.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.SetDefault("KV_DRIVER", KVDriverSQLite)
	v.SetDefault("KV_PATH", "fieldsync.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "fieldsync")

	v.SetDefault("REMOTE_DRIVER", RemoteDriverPostgres)
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "fieldsync")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("REMOTE_CHANNEL", "document_changes")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("KV_DRIVER")),
			Path:          v.GetString("KV_PATH"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			RedisPrefix:   v.GetString("REDIS_PREFIX"),
		},
		Remote: RemoteConfig{
			Driver:   strings.ToLower(v.GetString("REMOTE_DRIVER")),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
			Channel:  v.GetString("REMOTE_CHANNEL"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Remote.validate(); err != nil {
		return err
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case KVDriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("KV_PATH is required for the sqlite driver")
		}
	case KVDriverRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis driver")
		}
		if s.RedisDB < 0 {
			return fmt.Errorf("REDIS_DB must be non-negative")
		}
	case KVDriverMemory:
	default:
		return fmt.Errorf("KV_DRIVER must be one of sqlite, redis, memory (got %q)", s.Driver)
	}
	return nil
}

func (r RemoteConfig) validate() error {
	switch r.Driver {
	case RemoteDriverMemory:
		return nil
	case RemoteDriverPostgres:
	default:
		return fmt.Errorf("REMOTE_DRIVER must be one of postgres, memory (got %q)", r.Driver)
	}

	if r.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if r.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if r.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if r.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if r.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if r.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if r.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if r.PoolMin > r.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	if r.Channel == "" {
		return fmt.Errorf("REMOTE_CHANNEL is required")
	}
	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
