package redisconn

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/events"
	"github.com/go-i2p/redispool/lib/pool"
)

var _ pool.Factory[*Session] = (*Factory)(nil)

// Breaker decides whether a connection attempt may run and learns from its
// outcome. *resilience.CircuitBreaker satisfies it.
type Breaker interface {
	ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error
}

// Factory opens and closes Redis sessions for a pool and relays their
// lifecycle to a notifier.
type Factory struct {
	driver   Driver
	opts     Options
	notifier *events.Notifier[*Session]
	breaker  Breaker
	logger   *slog.Logger

	connects atomic.Uint64
	readies  atomic.Uint64
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithNotifier relays session events to n.
func WithNotifier(n *events.Notifier[*Session]) FactoryOption {
	return func(f *Factory) {
		f.notifier = n
	}
}

// WithBreaker guards Driver.Open with b.
func WithBreaker(b Breaker) FactoryOption {
	return func(f *Factory) {
		f.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory creates a factory. A nil driver uses RedisDriver.
func NewFactory(driver Driver, opts Options, options ...FactoryOption) *Factory {
	if driver == nil {
		driver = RedisDriver{}
	}
	f := &Factory{
		driver: driver,
		opts:   opts,
	}
	for _, opt := range options {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Create opens a session. It emits connect when the first dial starts and
// ready once the session answered PING. On failure it emits exactly one
// error event and returns a *errors.CreateError.
func (f *Factory) Create(ctx context.Context) (*Session, error) {
	s := newSession()
	var opened atomic.Bool

	signal := func(sig Signal, err error) {
		switch sig {
		case SignalConnecting:
			n := f.connects.Inc()
			f.logger.Info("connecting to redis", "session", s.String(), "count", n)
			f.emit(events.EventConnect, s, nil)
		case SignalReady:
			// The first handshake is reported by Create itself.
			if opened.Load() {
				f.logger.Info("redis session ready again", "session", s.String())
				f.emit(events.EventReady, s, nil)
			}
		case SignalReconnecting:
			f.logger.Info("reconnecting to redis", "session", s.String())
			f.emit(events.EventReconnecting, s, nil)
		case SignalError:
			if opened.Load() {
				f.logger.Error("redis session error", "session", s.String(), "error", err)
				f.emit(events.EventError, s, err)
			}
		}
	}

	log.WithField("session", s.String()).WithField("addr", f.opts.Address()).Debug("opening redis session")

	var client redis.UniversalClient
	open := func(ctx context.Context) error {
		c, err := f.driver.Open(ctx, f.opts, signal)
		client = c
		return err
	}

	var err error
	if f.breaker != nil {
		err = f.breaker.ExecuteWithContext(ctx, open)
	} else {
		err = open(ctx)
	}
	if err != nil {
		f.logger.Error("redis connection failed", "session", s.String(), "error", err)
		f.emit(events.EventError, s, err)
		return nil, apperrors.NewCreateError(s.String(), err)
	}

	s.setClient(client)
	opened.Store(true)

	n := f.readies.Inc()
	f.logger.Info("redis session ready", "session", s.String(), "count", n)
	f.emit(events.EventReady, s, nil)
	return s, nil
}

// Destroy closes the session and emits close then end, both carrying the
// close error if there was one. The pool reclaims the slot regardless of
// the result.
func (f *Factory) Destroy(ctx context.Context, s *Session) error {
	err := f.driver.Close(s.Client())
	if err != nil {
		f.logger.Error("closing redis session failed", "session", s.String(), "error", err)
	} else {
		f.logger.Info("closed redis session", "session", s.String())
	}
	f.emit(events.EventClose, s, err)
	f.emit(events.EventEnd, s, err)
	return err
}

func (f *Factory) emit(t events.EventType, s *Session, err error) {
	if f.notifier != nil {
		f.notifier.EmitType(t, s, err)
	}
}
