package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default values for optional configuration fields.
const (
	DefaultPort            = "8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultCacheTTL        = 30 * time.Second
	DefaultLogLevel        = "info"
	DefaultNetwork         = "avalanche"

	// WAVAX on Avalanche C-Chain; both protocols hold native AVAX debt
	// under it.
	DefaultWrappedNative = "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7"
)

// DefaultBufferPercent is the max-borrow safety buffer. Zero is a valid
// setting, so it is seeded before the file and environment are read rather
// than filled in afterwards.
var DefaultBufferPercent = decimal.NewFromInt(1)

func newConfig() *Config {
	return &Config{
		Borrow: BorrowConfig{BufferPercent: DefaultBufferPercent},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	if c.Protocols.Network == "" {
		c.Protocols.Network = DefaultNetwork
	}
	if c.Protocols.AaveWrappedNative == "" {
		c.Protocols.AaveWrappedNative = DefaultWrappedNative
	}
	if c.Protocols.BenqiWrappedNative == "" {
		c.Protocols.BenqiWrappedNative = DefaultWrappedNative
	}
}
