// Package config loads the protector's configuration from YAML with
// environment-variable overrides, and can watch the file for changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Authority AuthorityConfig `yaml:"authority"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Store     StoreConfig     `yaml:"store"`
}

// LoggingConfig controls the logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// AuthorityConfig locates the key-issuance authority.
type AuthorityConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig selects and configures the key cache backend.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis key cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled            bool            `yaml:"enabled"`
	MaxEvents          int             `yaml:"max_events"`
	RedactMetadataKeys []string        `yaml:"redact_metadata_keys"`
	Sink               AuditSinkConfig `yaml:"sink"`
}

// AuditSinkConfig selects where audit events are written.
type AuditSinkConfig struct {
	Type          string            `yaml:"type"` // "stdout", "file" or "http"
	Endpoint      string            `yaml:"endpoint"`
	Headers       map[string]string `yaml:"headers"`
	FilePath      string            `yaml:"file_path"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	RetryCount    int               `yaml:"retry_count"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
}

// StoreConfig selects and configures the record blob store backend.
type StoreConfig struct {
	Backend string   `yaml:"backend"` // "memory" or "s3"
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3 record store backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Authority: AuthorityConfig{Timeout: 10 * time.Second},
		Cache:     CacheConfig{Backend: "memory"},
		Audit:     AuditConfig{MaxEvents: 1000, Sink: AuditSinkConfig{Type: "stdout"}},
		Store:     StoreConfig{Backend: "memory"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables, so deployments
// can inject endpoints and credentials without editing the file.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("AUTHORITY_ENDPOINT", &c.Authority.Endpoint)
	setString("CACHE_BACKEND", &c.Cache.Backend)
	setString("CACHE_REDIS_ADDR", &c.Cache.Redis.Addr)
	setString("CACHE_REDIS_PASSWORD", &c.Cache.Redis.Password)
	setString("STORE_BACKEND", &c.Store.Backend)
	setString("STORE_S3_BUCKET", &c.Store.S3.Bucket)
	setString("STORE_S3_ENDPOINT", &c.Store.S3.Endpoint)
	setString("STORE_S3_ACCESS_KEY", &c.Store.S3.AccessKey)
	setString("STORE_S3_SECRET_KEY", &c.Store.S3.SecretKey)
	setString("LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("CACHE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Cache.Redis.DB = db
		}
	}
}

// Validate checks backend selections and their required fields.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Store.Backend {
	case "", "memory":
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Audit.Sink.Type {
	case "", "stdout", "file", "http":
	default:
		return fmt.Errorf("unknown audit sink type %q", c.Audit.Sink.Type)
	}
	return nil
}

// Watch reloads the file on change and invokes onChange with the new
// configuration. It returns a stop function. Invalid intermediate states
// (e.g. mid-write) are skipped.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
