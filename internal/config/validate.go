package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Admin token secret
	if len(c.Auth.AdminSecret) < 32 {
		errs = append(errs, "AUTH_ADMIN_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}
	if c.XMPP.Port < 1 || c.XMPP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("XMPP_PORT must be 1-65535, got %d", c.XMPP.Port))
	}

	// Limits must not be negative; zero means unlimited
	if c.Limits.MessagesPerMinute < 0 || c.Limits.MessagesPerHour < 0 || c.Limits.MessagesPerDay < 0 {
		errs = append(errs, "LIMITS_MESSAGES_* must not be negative")
	}
	if c.Limits.MaxMessageLength < 0 || c.Limits.MaxContextMessages < 0 || c.Limits.MaxContextLength < 0 {
		errs = append(errs, "LIMITS_MAX_* must not be negative")
	}

	// Dispatch tuning
	if c.Dispatch.BucketCapacity <= 0 {
		errs = append(errs, fmt.Sprintf("DISPATCH_BUCKET_CAPACITY must be positive, got %v", c.Dispatch.BucketCapacity))
	}
	if c.Dispatch.RefillPerSecond <= 0 {
		errs = append(errs, fmt.Sprintf("DISPATCH_REFILL_PER_SECOND must be positive, got %v", c.Dispatch.RefillPerSecond))
	}
	if c.Dispatch.BurstLimit < 1 {
		errs = append(errs, fmt.Sprintf("DISPATCH_BURST_LIMIT must be at least 1, got %d", c.Dispatch.BurstLimit))
	}
	if c.Dispatch.MaxRetries < 1 {
		errs = append(errs, fmt.Sprintf("DISPATCH_MAX_RETRIES must be at least 1, got %d", c.Dispatch.MaxRetries))
	}

	// XMPP component secret: warn only, local setups may omit it
	if c.XMPP.ComponentSecret == "" {
		slog.Warn("XMPP_COMPONENT_SECRET is empty, component authentication disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
