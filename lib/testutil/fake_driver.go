package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-i2p/redispool/lib/redisconn"
)

// ErrOpenRefused is the default failure injected by FakeDriver.
var ErrOpenRefused = errors.New("fake: connection refused")

// FakeDriver is a redisconn.Driver that never touches the network. The
// clients it returns point at an unroutable address and must not be used
// for commands.
type FakeDriver struct {
	mu sync.Mutex

	// OpenErr decides the outcome of the n-th Open (1-based). Nil succeeds.
	OpenErr func(n int) error
	// OpenDelay delays every Open; the context cancels the delay.
	OpenDelay time.Duration
	// CloseErr is returned by every Close.
	CloseErr error

	opens   int
	closes  int
	signals []redisconn.Signals
}

// Open raises SignalConnecting, then either fails or raises SignalReady.
func (d *FakeDriver) Open(ctx context.Context, opts redisconn.Options, signal redisconn.Signals) (redis.UniversalClient, error) {
	d.mu.Lock()
	d.opens++
	n := d.opens
	decide := d.OpenErr
	delay := d.OpenDelay
	d.mu.Unlock()

	if signal == nil {
		signal = func(redisconn.Signal, error) {}
	}
	signal(redisconn.SignalConnecting, nil)

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if decide != nil {
		if err := decide(n); err != nil {
			signal(redisconn.SignalError, err)
			return nil, err
		}
	}

	signal(redisconn.SignalReady, nil)

	d.mu.Lock()
	d.signals = append(d.signals, signal)
	d.mu.Unlock()

	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), nil
}

// Close closes the client and returns CloseErr.
func (d *FakeDriver) Close(client redis.UniversalClient) error {
	d.mu.Lock()
	d.closes++
	err := d.CloseErr
	d.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return err
}

// Raise delivers sig to every session opened so far.
func (d *FakeDriver) Raise(sig redisconn.Signal, err error) {
	d.mu.Lock()
	signals := append([]redisconn.Signals(nil), d.signals...)
	d.mu.Unlock()

	for _, s := range signals {
		s(sig, err)
	}
}

// Opens returns how many times Open was called.
func (d *FakeDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many times Close was called.
func (d *FakeDriver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// FailFirst returns an OpenErr that fails the first n attempts with
// ErrOpenRefused.
func FailFirst(n int) func(int) error {
	return func(attempt int) error {
		if attempt <= n {
			return ErrOpenRefused
		}
		return nil
	}
}

// FailAlways returns an OpenErr that fails every attempt with err.
func FailAlways(err error) func(int) error {
	return func(int) error {
		return err
	}
}
