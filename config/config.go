// Package config holds the construction-time configuration for a cache
// instance. Exactly one backend variant's connection block is meaningful
// per instance; validation enforces that the selected block is fully
// populated before any backend is constructed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Type selects the backend variant a cache instance is built on.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeRedis    Type = "redis"
	TypeMongo    Type = "mongo"
	TypeMemcache Type = "memcache"
)

// Convenience TTL constants for callers configuring timeouts.
const (
	OneHour  = time.Hour
	OneDay   = 24 * OneHour
	OneWeek  = 7 * OneDay
	OneMonth = 30 * OneDay
	OneYear  = 365 * OneDay
)

// ErrInvalid is the base error wrapped by every configuration failure.
var ErrInvalid = errors.New("config: invalid configuration")

// FieldError reports a single invalid or missing configuration field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Config is the process-wide cache configuration, immutable after
// construction. Zero values are filled in by Default; Validate must pass
// before the config is handed to the cache constructor.
type Config struct {
	// CacheType selects the backend variant.
	CacheType Type `env:"CACHE_TYPE" yaml:"cache_type"`
	// DefaultTimeout is the TTL applied when a call does not override it.
	// Zero means entries never expire.
	DefaultTimeout Duration `env:"CACHE_DEFAULT_TIMEOUT" yaml:"default_timeout"`
	// AppSpace prefixes every key, isolating this application's entries
	// from others sharing the same store.
	AppSpace string `env:"CACHE_APP_SPACE" yaml:"app_space"`
	// Coder names the value serializer: "json" or "msgpack".
	Coder string `env:"CACHE_CODER" yaml:"coder"`
	// SlidingExpiration, when true, resets an entry's TTL on every read
	// hit. Overridable per call.
	SlidingExpiration bool `env:"CACHE_SLIDING_EXPIRATION" yaml:"sliding_expiration"`

	Memory   MemoryConfig   `envPrefix:"CACHE_MEMORY_" yaml:"memory"`
	Redis    RedisConfig    `envPrefix:"CACHE_REDIS_" yaml:"redis"`
	Mongo    MongoConfig    `envPrefix:"CACHE_MONGO_" yaml:"mongo"`
	Memcache MemcacheConfig `envPrefix:"CACHE_MEMCACHE_" yaml:"memcache"`
}

// MemoryConfig configures the in-process bounded store.
type MemoryConfig struct {
	// Threshold is the maximum number of entries held before FIFO
	// eviction kicks in.
	Threshold int `env:"THRESHOLD" yaml:"threshold"`
}

// RedisConfig configures the Redis-backed store. Either URL or
// Host+Password must be set.
type RedisConfig struct {
	URL      string `env:"URL" yaml:"url"`
	Host     string `env:"HOST" yaml:"host"`
	Port     int    `env:"PORT" yaml:"port"`
	Password string `env:"PASSWORD" yaml:"password"`
	DB       int    `env:"DB" yaml:"db"`
}

// MongoConfig configures the document-TTL store.
type MongoConfig struct {
	URL              string `env:"URL" yaml:"url"`
	Database         string `env:"DATABASE" yaml:"database"`
	Collection       string `env:"COLLECTION" yaml:"collection"`
	DirectConnection bool   `env:"DIRECT_CONNECTION" yaml:"direct_connection"`
}

// MemcacheConfig configures the memcached-backed store.
type MemcacheConfig struct {
	Host string `env:"HOST" yaml:"host"`
	Port int    `env:"PORT" yaml:"port"`
	// Threshold bounds the per-namespace key index kept for bulk clears.
	Threshold int `env:"THRESHOLD" yaml:"threshold"`
}

// Default returns a Config populated with the stock defaults: in-process
// store, five minute TTL, JSON coder, absolute expiration.
func Default() Config {
	return Config{
		CacheType:      TypeMemory,
		DefaultTimeout: Duration(5 * time.Minute),
		AppSpace:       "go-cacher",
		Coder:          "json",
		Memory:         MemoryConfig{Threshold: 100},
		Redis:          RedisConfig{Port: 6379},
		Mongo:          MongoConfig{Database: "go-cacher", Collection: "cache"},
		Memcache:       MemcacheConfig{Port: 11211, Threshold: 100},
	}
}

// FromEnv builds a Config from CACHE_* environment variables layered
// over the defaults, then validates it.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromYAML builds a Config from a YAML file layered over the defaults,
// then validates it.
func FromYAML(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the whole config, including the connection block for
// the selected backend variant. Failures here are construction-time
// errors; no cache instance is built from an invalid config.
func (c *Config) Validate() error {
	switch c.CacheType {
	case TypeMemory, TypeRedis, TypeMongo, TypeMemcache:
	default:
		return &FieldError{Field: "cache_type", Reason: fmt.Sprintf("unsupported type %q", c.CacheType)}
	}
	if c.DefaultTimeout < 0 {
		return &FieldError{Field: "default_timeout", Reason: "must be >= 0"}
	}
	if c.AppSpace == "" {
		return &FieldError{Field: "app_space", Reason: "must not be empty"}
	}
	switch c.Coder {
	case "", "json", "msgpack":
	default:
		return &FieldError{Field: "coder", Reason: fmt.Sprintf("unsupported coder %q", c.Coder)}
	}

	switch c.CacheType {
	case TypeMemory:
		if c.Memory.Threshold <= 0 {
			return &FieldError{Field: "memory.threshold", Reason: "must be > 0"}
		}
	case TypeRedis:
		if c.Redis.URL == "" && (c.Redis.Host == "" || c.Redis.Password == "") {
			return &FieldError{Field: "redis", Reason: "either url or host and password must be provided"}
		}
	case TypeMongo:
		if c.Mongo.URL == "" {
			return &FieldError{Field: "mongo.url", Reason: "must be provided"}
		}
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return &FieldError{Field: "mongo", Reason: "database and collection must be provided"}
		}
	case TypeMemcache:
		if c.Memcache.Host == "" {
			return &FieldError{Field: "memcache.host", Reason: "must be provided"}
		}
		if c.Memcache.Threshold <= 0 {
			return &FieldError{Field: "memcache.threshold", Reason: "must be > 0"}
		}
	}
	return nil
}
