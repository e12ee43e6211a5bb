// Package config loads the lending engine's configuration: built-in
// defaults, then an optional YAML file (with ${VAR} expansion), then
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides (LENDING_SERVER_PORT, ...).
// Every field also answers to its bare tag name (PORT, DATABASE_URL,
// BORROW_BUFFER_PERCENT, ...), which is what deployments normally set.
const EnvPrefix = "lending"

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Borrow    BorrowConfig    `yaml:"borrow"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects the snapshot store. An empty URL keeps snapshots
// in memory.
type DatabaseConfig struct {
	URL string `yaml:"url" envconfig:"DATABASE_URL"`
}

// CacheConfig enables the Redis read-through cache in front of PostgreSQL.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" envconfig:"CACHE_TTL"`
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
}

// BorrowConfig holds defaults for max-borrow quotes.
type BorrowConfig struct {
	BufferPercent decimal.Decimal `yaml:"buffer_percent" envconfig:"BORROW_BUFFER_PERCENT"`
}

// ProtocolsConfig names the chain and each protocol's wrapped-native token,
// which native-coin markets are priced and keyed under.
type ProtocolsConfig struct {
	Network            string `yaml:"network" envconfig:"NETWORK"`
	AaveWrappedNative  string `yaml:"aave_wrapped_native" envconfig:"AAVE_WRAPPED_NATIVE"`
	BenqiWrappedNative string `yaml:"benqi_wrapped_native" envconfig:"BENQI_WRAPPED_NATIVE"`
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := newConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
