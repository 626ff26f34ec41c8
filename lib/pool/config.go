package pool

import (
	"fmt"
	"time"

	apperrors "github.com/go-i2p/redispool/lib/errors"
)

// Config configures the connection pool.
type Config struct {
	// Name labels the pool's metrics.
	// Default: "default"
	Name string
	// Min is the number of connections the pool tries to keep open.
	// Only enforced eagerly when Prewarm is set.
	// Default: 2
	Min int
	// Max is the maximum number of live connections (creating, idle,
	// in use and being destroyed).
	// Default: 10
	Max int
	// PriorityLevels is the number of priority buckets for queued
	// acquisitions. Level 0 is served first.
	// Default: 1
	PriorityLevels int
	// AcquireTimeout bounds how long an acquisition may wait in the queue.
	// Zero waits until the caller's context is done.
	AcquireTimeout time.Duration
	// CreateTimeout bounds connection attempts the pool starts on its own:
	// prewarming and attempts made on behalf of queued requests.
	// Zero means no bound beyond the pool's lifetime.
	CreateTimeout time.Duration
	// DrainTimeout bounds how long Drain waits for borrowed connections.
	// When it expires, Clear destroys the stragglers. Zero waits forever.
	DrainTimeout time.Duration
	// IdleTimeout is how long a connection may stay idle before the
	// evictor destroys it. Zero disables eviction.
	IdleTimeout time.Duration
	// EvictionInterval is how often the evictor runs.
	// Default: 1 minute when IdleTimeout is set
	EvictionInterval time.Duration
	// Prewarm opens Min connections at construction and replaces destroyed
	// connections to stay at Min.
	Prewarm bool
	// LIFO hands out the most recently released idle connection first.
	// The default is FIFO: the longest idle connection first.
	LIFO bool
	// DestroyConcurrency bounds parallel destroys during Clear.
	// Default: 16
	DestroyConcurrency int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Min:                2,
		Max:                10,
		PriorityLevels:     1,
		DestroyConcurrency: 16,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Max < 1 {
		return fmt.Errorf("max must be at least 1, got %d: %w", c.Max, apperrors.ErrInvalidSize)
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("min must be between 0 and max (%d), got %d: %w", c.Max, c.Min, apperrors.ErrInvalidSize)
	}
	if c.PriorityLevels < 0 {
		return fmt.Errorf("priority levels must not be negative: %w", apperrors.ErrConfiguration)
	}
	for name, d := range map[string]time.Duration{
		"acquire timeout":   c.AcquireTimeout,
		"create timeout":    c.CreateTimeout,
		"drain timeout":     c.DrainTimeout,
		"idle timeout":      c.IdleTimeout,
		"eviction interval": c.EvictionInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative: %w", name, apperrors.ErrConfiguration)
		}
	}
	return nil
}

// withDefaults fills zero values that have a non-zero default.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PriorityLevels == 0 {
		c.PriorityLevels = 1
	}
	if c.DestroyConcurrency <= 0 {
		c.DestroyConcurrency = 16
	}
	if c.IdleTimeout > 0 && c.EvictionInterval == 0 {
		c.EvictionInterval = time.Minute
	}
	return c
}
