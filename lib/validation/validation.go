// Package validation holds the field checks used for configuration files
// and command line flags. Every validator returns nil or a *Result naming
// the offending field; all failures match apperrors.ErrConfiguration.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/go-i2p/redispool/lib/errors"
)

// Sentinel errors, checked with errors.Is.
var (
	ErrRequired      = fmt.Errorf("field is required: %w", apperrors.ErrConfiguration)
	ErrTooLong       = fmt.Errorf("value exceeds maximum length: %w", apperrors.ErrConfiguration)
	ErrInvalidFormat = fmt.Errorf("invalid format: %w", apperrors.ErrConfiguration)
	ErrOutOfRange    = fmt.Errorf("value out of range: %w", apperrors.ErrConfiguration)
)

// MaxClientNameLength bounds CLIENT SETNAME values.
const MaxClientNameLength = 128

// Redis rejects client names containing spaces or non-printable bytes.
var clientNamePattern = regexp.MustCompile(`^[!-~]+$`)

// Result is a failed check on one field.
type Result struct {
	Field   string
	Message string
	Err     error
}

func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Field returns the field name of a validation failure, or "" if err is
// not one.
func Field(err error) string {
	var r *Result
	if errors.As(err, &r) {
		return r.Field
	}
	return ""
}

// Required rejects empty and whitespace-only strings.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength limits a string to max runes.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// IntRange checks min <= value <= max.
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// Positive checks value > 0.
func Positive(field string, value int) error {
	if value <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// NonNegative checks value >= 0.
func NonNegative(field string, value int) error {
	if value < 0 {
		return NewResult(field, "must be non-negative", ErrOutOfRange)
	}
	return nil
}

// NonNegativeFloat checks value >= 0.
func NonNegativeFloat(field string, value float64) error {
	if value < 0 {
		return NewResult(field, "must be non-negative", ErrOutOfRange)
	}
	return nil
}

// NonNegativeDuration checks d >= 0. Zero conventionally means "disabled".
func NonNegativeDuration(field string, d time.Duration) error {
	if d < 0 {
		return NewResult(field, "duration cannot be negative", ErrOutOfRange)
	}
	return nil
}

// HostPort checks a host:port address with a numeric port.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	_, port, err := net.SplitHostPort(value)
	if err != nil || port == "" {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return NewResult(field, "port must be numeric", ErrInvalidFormat)
		}
	}
	return nil
}

// RedisURL checks the scheme of a connection URL. Empty is allowed.
func RedisURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return NewResult(field, "is not a valid URL", ErrInvalidFormat)
	}
	switch u.Scheme {
	case "redis", "rediss", "unix":
		return nil
	default:
		return NewResult(field, "scheme must be redis, rediss or unix", ErrInvalidFormat)
	}
}

// ClientName checks a name for CLIENT SETNAME. Empty is allowed.
func ClientName(field, value string) error {
	if value == "" {
		return nil
	}
	if err := MaxLength(field, value, MaxClientNameLength); err != nil {
		return err
	}
	if !clientNamePattern.MatchString(value) {
		return NewResult(field, "must not contain spaces or control characters", ErrInvalidFormat)
	}
	return nil
}

// All runs validators in order and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}
