// Package redispool ties the pool, the Redis session factory and the
// lifecycle notifier together behind one handle.
//
//	rp, err := redispool.New(redispool.Options{
//	    Redis: redisconn.Options{Addr: "localhost:6379"},
//	})
//	conn, err := rp.GetConnection(ctx)
//	err = conn.Value().Client().Set(ctx, "k", "v", 0).Err()
//	rp.Release(conn)
//	rp.End(ctx)
package redispool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/go-i2p/redispool/lib/events"
	"github.com/go-i2p/redispool/lib/pool"
	"github.com/go-i2p/redispool/lib/redisconn"
	"github.com/go-i2p/redispool/lib/resilience"
)

// Conn is a borrowed Redis session.
type Conn = pool.Conn[*redisconn.Session]

// Event is a lifecycle notification about a session.
type Event = events.Event[*redisconn.Session]

// Observer receives lifecycle notifications.
type Observer = events.Observer[*redisconn.Session]

// Options configures a RedisPool.
type Options struct {
	// Redis is how each session connects.
	Redis redisconn.Options
	// Pool sizes the pool. A zero Max takes the default Max, and then a
	// zero Min takes the default Min. Name defaults to the Redis address.
	Pool pool.Config
	// Breaker, when set, guards new sessions with a circuit breaker.
	Breaker *resilience.CircuitBreakerConfig
	// Driver opens sessions. Default: redisconn.RedisDriver
	Driver redisconn.Driver
	// Logger receives lifecycle logs. Default: slog.Default()
	Logger *slog.Logger
	// EventBuffer is the notifier queue size. Default: events.DefaultBufferSize
	EventBuffer int
}

// RedisPool is a bounded pool of Redis sessions with lifecycle events.
type RedisPool struct {
	pool     *pool.Pool[*redisconn.Session]
	factory  *redisconn.Factory
	notifier *events.Notifier[*redisconn.Session]
	breaker  *resilience.MetricsCircuitBreaker
	logger   *slog.Logger

	endMu sync.Mutex
	ended bool
}

// New creates a RedisPool. No connection is opened unless opts.Pool has
// Prewarm set.
func New(opts Options) (*RedisPool, error) {
	if opts.Pool.Max == 0 {
		def := pool.DefaultConfig()
		opts.Pool.Max = def.Max
		if opts.Pool.Min == 0 {
			opts.Pool.Min = def.Min
		}
	}
	if opts.Pool.Name == "" {
		opts.Pool.Name = opts.Redis.Address()
	}
	if err := opts.Redis.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rp := &RedisPool{
		notifier: events.NewNotifier[*redisconn.Session](opts.EventBuffer, logger),
		logger:   logger,
	}

	factoryOpts := []redisconn.FactoryOption{
		redisconn.WithNotifier(rp.notifier),
		redisconn.WithLogger(logger),
	}
	if opts.Breaker != nil {
		rp.breaker = resilience.NewMetricsCircuitBreaker("redis", *opts.Breaker)
		factoryOpts = append(factoryOpts, redisconn.WithBreaker(rp.breaker))
	}
	rp.factory = redisconn.NewFactory(opts.Driver, opts.Redis, factoryOpts...)

	p, err := pool.New[*redisconn.Session](rp.factory, opts.Pool)
	if err != nil {
		rp.notifier.Close()
		return nil, err
	}
	rp.pool = p

	log.WithField("addr", opts.Redis.Address()).
		WithField("min", opts.Pool.Min).
		WithField("max", opts.Pool.Max).
		Debug("redis pool created")
	return rp, nil
}

// GetConnection borrows a session. The optional priority selects the
// queue bucket when the pool is exhausted; 0 is served first.
func (rp *RedisPool) GetConnection(ctx context.Context, priority ...int) (*Conn, error) {
	p := 0
	if len(priority) > 0 {
		p = priority[0]
	}
	return rp.pool.AcquireWithPriority(ctx, p)
}

// Acquire borrows a session at priority 0.
func (rp *RedisPool) Acquire(ctx context.Context) (*Conn, error) {
	return rp.pool.Acquire(ctx)
}

// AcquireWithPriority borrows a session at the given priority.
func (rp *RedisPool) AcquireWithPriority(ctx context.Context, priority int) (*Conn, error) {
	return rp.pool.AcquireWithPriority(ctx, priority)
}

// Release returns a borrowed session.
func (rp *RedisPool) Release(c *Conn) error {
	return rp.pool.Release(c)
}

// Destroy closes a borrowed session instead of returning it.
func (rp *RedisPool) Destroy(ctx context.Context, c *Conn) error {
	return rp.pool.Destroy(ctx, c)
}

// Do borrows a session, runs fn with its client and gives the session
// back. A session whose connection broke while fn ran is destroyed
// rather than released.
func (rp *RedisPool) Do(ctx context.Context, fn func(redis.UniversalClient) error) error {
	c, err := rp.Acquire(ctx)
	if err != nil {
		return err
	}

	ferr := fn(c.Value().Client())
	if brokenConn(ferr) {
		rp.logger.Warn("destroying broken redis session", "conn", c.String(), "error", ferr)
		_ = rp.Destroy(ctx, c)
		return ferr
	}
	if rerr := rp.Release(c); rerr != nil {
		return errors.Join(ferr, rerr)
	}
	return ferr
}

// brokenConn reports whether err means the session's connection is gone.
func brokenConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// End drains the pool, destroys every session, emits disconnected and
// stops the notifier. If ctx ends while draining, End returns its error
// and may be called again; once End has succeeded further calls are
// no-ops.
func (rp *RedisPool) End(ctx context.Context) error {
	rp.endMu.Lock()
	defer rp.endMu.Unlock()
	if rp.ended {
		return nil
	}
	if err := rp.pool.End(ctx); err != nil {
		return err
	}
	rp.ended = true

	rp.logger.Info("ended all redis connections")
	rp.notifier.CloseWith(Event{Type: events.EventDisconnected})
	return nil
}

// Disconnect is End.
func (rp *RedisPool) Disconnect(ctx context.Context) error {
	return rp.End(ctx)
}

// Subscribe registers o for lifecycle events.
func (rp *RedisPool) Subscribe(o Observer) (unsubscribe func()) {
	return rp.notifier.Subscribe(o)
}

// Stats returns a snapshot of the pool.
func (rp *RedisPool) Stats() pool.Stats {
	return rp.pool.Stats()
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (rp *RedisPool) Breaker() *resilience.MetricsCircuitBreaker {
	return rp.breaker
}

// Done is closed once every session has been destroyed.
func (rp *RedisPool) Done() <-chan struct{} {
	return rp.pool.Done()
}
