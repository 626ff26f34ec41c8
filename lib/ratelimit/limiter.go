// Package ratelimit provides token bucket rate limiters backed by
// golang.org/x/time/rate. The bench command uses them to pace the requests
// it sends through the pool.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"

	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/metrics"
)

var log = logger.GetGoI2PLogger()

// ErrNoRefill is returned by Wait when the bucket is empty and has no
// refill rate.
var ErrNoRefill = fmt.Errorf("ratelimit: bucket never refills: %w", apperrors.ErrInvalidState)

// Limiter is a token bucket rate limiter.
type Limiter struct {
	lim *rate.Limiter

	mu       sync.Mutex
	lastUsed time.Time
}

// New creates a new rate limiter.
// r is tokens per second, capacity is the maximum burst size.
func New(r float64, capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(r), capacity),
		lastUsed: time.Now(),
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n tokens if all of them are available.
func (l *Limiter) AllowN(n int) bool {
	now := l.touch()
	if l.lim.AllowN(now, n) {
		return true
	}
	metrics.RateLimitRejections.Inc()
	return false
}

// Wait blocks until a token is available and consumes it, or returns the
// context's error. A token reserved for a wait that is canceled is given
// back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := l.lim.ReserveN(l.touch(), 1)
	if !r.OK() {
		return ErrNoRefill
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	return l.lim.Tokens()
}

func (l *Limiter) touch() time.Time {
	now := time.Now()
	l.mu.Lock()
	l.lastUsed = now
	l.mu.Unlock()
	return now
}

// idleFull reports whether the bucket has been untouched for longer than
// d and is full again.
func (l *Limiter) idleFull(now time.Time, d time.Duration) bool {
	l.mu.Lock()
	idle := now.Sub(l.lastUsed) > d
	l.mu.Unlock()
	return idle && l.lim.TokensAt(now) >= float64(l.lim.Burst())
}

// KeyedLimiter keeps one bucket per key.
type KeyedLimiter[K comparable] struct {
	mu       sync.Mutex
	limiters map[K]*Limiter
	rate     float64
	capacity int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKeyed creates a per-key rate limiter. Buckets untouched for cleanup
// and full again are dropped; a zero cleanup keeps them forever.
func NewKeyed[K comparable](rate float64, capacity int, cleanup time.Duration) *KeyedLimiter[K] {
	kl := &KeyedLimiter[K]{
		limiters: make(map[K]*Limiter),
		rate:     rate,
		capacity: capacity,
		cleanup:  cleanup,
		stopCh:   make(chan struct{}),
	}
	if cleanup > 0 {
		go kl.cleanupLoop()
	}
	return kl
}

// Close stops the cleanup goroutine.
func (kl *KeyedLimiter[K]) Close() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

// Get returns the bucket for key, creating it on first use.
func (kl *KeyedLimiter[K]) Get(key K) *Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	limiter, ok := kl.limiters[key]
	if !ok {
		limiter = New(kl.rate, kl.capacity)
		kl.limiters[key] = limiter
	}
	return limiter
}

// Allow checks if a request for the given key is allowed.
func (kl *KeyedLimiter[K]) Allow(key K) bool {
	return kl.Get(key).Allow()
}

// Wait blocks until the bucket for key has a token.
func (kl *KeyedLimiter[K]) Wait(ctx context.Context, key K) error {
	return kl.Get(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (kl *KeyedLimiter[K]) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Cleanup drops buckets idle for longer than the cleanup interval.
func (kl *KeyedLimiter[K]) Cleanup() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, limiter := range kl.limiters {
		if limiter.idleFull(now, kl.cleanup) {
			delete(kl.limiters, key)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("dropped idle rate limit buckets")
	}
	return removed
}

func (kl *KeyedLimiter[K]) cleanupLoop() {
	ticker := time.NewTicker(kl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.Cleanup()
		}
	}
}
