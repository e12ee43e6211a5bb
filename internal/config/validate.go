package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/marketid"
	"github.com/atmx/lending-engine/internal/model"
)

var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %q", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.RequestTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}

	if c.Cache.RedisURL != "" && c.Database.URL == "" {
		return errors.New("cache.redis_url requires database.url")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must be >= 0")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	b := c.Borrow.BufferPercent
	if b.IsNegative() || b.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("borrow.buffer_percent must be between 0 and 100, got %s", b)
	}

	if c.Protocols.Network == "" {
		return errors.New("protocols.network is required")
	}
	if !marketid.ValidNetwork(model.Network(c.Protocols.Network)) {
		return fmt.Errorf("protocols.network must be lowercase letters and digits only, got %q", c.Protocols.Network)
	}
	if !addressRegex.MatchString(c.Protocols.AaveWrappedNative) {
		return fmt.Errorf("protocols.aave_wrapped_native is not an address: %q", c.Protocols.AaveWrappedNative)
	}
	if !addressRegex.MatchString(c.Protocols.BenqiWrappedNative) {
		return fmt.Errorf("protocols.benqi_wrapped_native is not an address: %q", c.Protocols.BenqiWrappedNative)
	}

	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
}
