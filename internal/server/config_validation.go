// config_validation.go - Startup configuration validation.
//
// Collects every problem before failing so operators see them all at once.
package server

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigValidationError represents a configuration validation error.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator validates application configuration.
type ConfigValidator struct {
	errors []ConfigValidationError
}

// NewConfigValidator creates a new configuration validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		errors: make([]ConfigValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *ConfigValidator) Errors() []ConfigValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidateRequired records an error when value is empty.
func (v *ConfigValidator) ValidateRequired(key, value string) {
	if value == "" {
		v.AddError(key, "required value not set")
	}
}

// ValidateDatabaseURL checks for a postgres:// or postgresql:// URL with a host.
func (v *ConfigValidator) ValidateDatabaseURL(key, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, "invalid URL format")
		return
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		v.AddError(key, "must be a valid PostgreSQL connection string")
		return
	}
	if parsed.Host == "" {
		v.AddError(key, "must include a host")
	}
}

// ValidateListenAddr checks a host:port listen address.
func (v *ConfigValidator) ValidateListenAddr(key, value string) {
	if value == "" {
		return
	}

	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, "must be host:port")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 0 || port > 65535 {
		v.AddError(key, "port must be between 0 and 65535")
	}
}

// ValidatePositive checks that n is greater than zero.
func (v *ConfigValidator) ValidatePositive(key string, n int64) {
	if n <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

// ValidateNonNegative checks that f is zero or more.
func (v *ConfigValidator) ValidateNonNegative(key string, f float64) {
	if f < 0 {
		v.AddError(key, "must not be negative")
	}
}

// ValidateDuration checks that d is greater than zero.
func (v *ConfigValidator) ValidateDuration(key string, d time.Duration) {
	if d <= 0 {
		v.AddError(key, "must be a positive duration")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidateConfig checks a server configuration and the database URL it
// will be paired with. Zero-valued tunables are not errors; they take
// defaults in New.
func ValidateConfig(cfg Config, databaseURL string) error {
	v := NewConfigValidator()

	v.ValidateRequired("DATABASE_URL", databaseURL)
	v.ValidateDatabaseURL("DATABASE_URL", databaseURL)
	v.ValidateListenAddr("addr", cfg.Addr)

	if cfg.MaxConns != 0 {
		v.ValidatePositive("max-conns", cfg.MaxConns)
	}
	if cfg.MaxRequestBytes != 0 {
		v.ValidatePositive("max-request-bytes", int64(cfg.MaxRequestBytes))
	}
	if cfg.ReadTimeout != 0 {
		v.ValidateDuration("read-timeout", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 0 {
		v.ValidateDuration("write-timeout", cfg.WriteTimeout)
	}
	if cfg.BreakerTimeout != 0 {
		v.ValidateDuration("breaker-timeout", cfg.BreakerTimeout)
	}
	v.ValidateNonNegative("rate-limit", cfg.RateLimit)
	if cfg.RateBurst != 0 {
		v.ValidatePositive("rate-burst", int64(cfg.RateBurst))
	}

	v.ValidateEnum("USERS_LOG_FORMAT", os.Getenv("USERS_LOG_FORMAT"), []string{"", "json", "text"})
	v.ValidateEnum("USERS_LOG_LEVEL", os.Getenv("USERS_LOG_LEVEL"), []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum("USERS_ENV", os.Getenv("USERS_ENV"), []string{"", "development", "production", "staging"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}
