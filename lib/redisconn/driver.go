package redisconn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
)

// Signal is a lifecycle notification raised by a driver for one session.
type Signal int

const (
	// SignalConnecting is raised when the first dial starts.
	SignalConnecting Signal = iota
	// SignalReady is raised when a connection finished its handshake.
	SignalReady
	// SignalReconnecting is raised on every dial after the first.
	SignalReconnecting
	// SignalError is raised when a command fails at the connection level.
	SignalError
)

func (s Signal) String() string {
	switch s {
	case SignalConnecting:
		return "connecting"
	case SignalReady:
		return "ready"
	case SignalReconnecting:
		return "reconnecting"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Signals receives a session's lifecycle signals. It may be called from
// any goroutine and must not block.
type Signals func(sig Signal, err error)

// Driver opens and closes single-connection Redis clients.
type Driver interface {
	// Open connects and returns a client that answered PING.
	Open(ctx context.Context, opts Options, signal Signals) (redis.UniversalClient, error)
	// Close closes a client returned by Open.
	Close(client redis.UniversalClient) error
}

// RedisDriver is the Driver backed by go-redis.
type RedisDriver struct{}

// Open creates a go-redis client limited to one connection, installs the
// signalling hook and PINGs the server.
func (RedisDriver) Open(ctx context.Context, opts Options, signal Signals) (redis.UniversalClient, error) {
	ro, err := opts.redisOptions()
	if err != nil {
		return nil, err
	}
	if signal == nil {
		signal = func(Signal, error) {}
	}

	ro.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		signal(SignalReady, nil)
		return nil
	}

	client := redis.NewClient(ro)
	client.AddHook(&signalHook{signal: signal})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping %s: %w", ro.Addr, err)
	}
	return client, nil
}

// Close closes the client.
func (RedisDriver) Close(client redis.UniversalClient) error {
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// signalHook turns go-redis dial and command outcomes into signals.
type signalHook struct {
	signal Signals
	dialed atomic.Bool
}

func (h *signalHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if h.dialed.CAS(false, true) {
			h.signal(SignalConnecting, nil)
		} else {
			h.signal(SignalReconnecting, nil)
		}
		return next(ctx, network, addr)
	}
}

func (h *signalHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.report(err)
		return err
	}
}

func (h *signalHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.report(err)
		return err
	}
}

// report signals connection-level failures. Server replies such as nil or
// WRONGTYPE are results, not session errors.
func (h *signalHook) report(err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	if IsConnectionError(err) {
		h.signal(SignalError, err)
	}
}

// IsConnectionError reports whether err means the session itself is
// broken rather than the command being rejected.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
