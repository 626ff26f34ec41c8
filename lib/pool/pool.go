package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	apperrors "github.com/go-i2p/redispool/lib/errors"
)

var (
	// ErrPoolEnded is returned when operating on a pool that is draining or
	// has ended.
	ErrPoolEnded = apperrors.ErrPoolEnded
	// ErrInvalidHandle is returned when releasing or destroying a
	// connection the pool does not track as in use.
	ErrInvalidHandle = apperrors.ErrInvalidHandle
	// ErrAcquireTimeout is returned when a queued acquisition exceeds
	// Config.AcquireTimeout.
	ErrAcquireTimeout = apperrors.ErrAcquireTimeout
)

// State is the lifecycle state of a pool. It only moves forward.
type State int

const (
	// StateRunning accepts acquisitions.
	StateRunning State = iota
	// StateDraining rejects acquisitions and waits for borrowed
	// connections to come back.
	StateDraining
	// StateEnded means every connection has been destroyed.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Pool is a bounded connection pool.
type Pool[T any] struct {
	factory Factory[T]
	config  Config

	// ctx bounds connection attempts the pool starts on its own.
	// It is canceled by Clear.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	nextID        uint64
	total         int // creating + idle + in use + destroying
	creating      int
	destroying    int
	idle          []*Conn[T]
	inUse         map[*Conn[T]]struct{}
	waiters       *waitQueue[T]
	drained       chan struct{}
	drainedClosed bool
	clearing      bool
	ended         chan struct{}

	// creates tracks every connection attempt in flight, whether a caller
	// or the pool started it. Clear waits for it.
	creates   sync.WaitGroup
	evictStop chan struct{}
	evictDone chan struct{}
	stopOnce  sync.Once

	gauges poolGauges

	// Metrics
	acquireCount    atomic.Uint64
	acquireSuccess  atomic.Uint64
	acquireFailed   atomic.Uint64
	acquireTimeouts atomic.Uint64
	releaseCount    atomic.Uint64
	destroyCount    atomic.Uint64
	createFailures  atomic.Uint64
	destroyErrors   atomic.Uint64
}

// New creates a new connection pool. With cfg.Prewarm set, Min connections
// are opened in the background before New returns.
func New[T any](factory Factory[T], cfg Config) (*Pool[T], error) {
	if factory == nil {
		return nil, apperrors.ErrNoFactory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		factory:   factory,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		idle:      make([]*Conn[T], 0, cfg.Max),
		inUse:     make(map[*Conn[T]]struct{}, cfg.Max),
		waiters:   newWaitQueue[T](cfg.PriorityLevels),
		ended:     make(chan struct{}),
		evictStop: make(chan struct{}),
		evictDone: make(chan struct{}),
		gauges:    newPoolGauges(cfg.Name),
	}

	if cfg.IdleTimeout > 0 {
		go p.evictLoop()
	} else {
		close(p.evictDone)
	}

	p.mu.Lock()
	p.ensureMinimumLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.gauges.max.Set(int64(cfg.Max))
	log.WithField("pool", cfg.Name).WithField("min", cfg.Min).WithField("max", cfg.Max).Debug("pool created")
	return p, nil
}

// Acquire borrows a connection at priority 0.
func (p *Pool[T]) Acquire(ctx context.Context) (*Conn[T], error) {
	return p.AcquireWithPriority(ctx, 0)
}

// AcquireWithPriority borrows a connection. An idle connection is returned
// at once; otherwise a new one is created if the pool is below Max and
// nobody is queued; otherwise the request waits for a released connection
// or a free slot. A failed create is returned to this caller and not
// retried.
func (p *Pool[T]) AcquireWithPriority(ctx context.Context, priority int) (*Conn[T], error) {
	start := time.Now()
	p.acquireCount.Inc()
	PoolAcquireTotal.Inc()

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		p.recordAcquireFailure()
		return nil, ErrPoolEnded
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		p.recordAcquireFailure()
		return nil, fmt.Errorf("pool: acquire: %w", err)
	}

	if c := p.popIdleLocked(); c != nil {
		p.markInUseLocked(c)
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.recordAcquireSuccess(start)
		log.WithField("conn", c.id).Debug("acquired idle connection from pool")
		return c, nil
	}

	if p.waiters.Len() == 0 && p.total < p.config.Max {
		c := p.reserveLocked()
		p.creates.Add(1)
		p.updateGaugesLocked()
		p.mu.Unlock()
		return p.createForCaller(ctx, c, start)
	}

	w := p.waiters.push(priority)
	p.dispatchLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	log.WithField("priority", w.priority).Debug("waiting for available connection")
	return p.wait(ctx, w, start)
}

// createForCaller runs the factory for a slot reserved by an acquiring
// caller and hands the result to that caller. The attempt is aborted when
// either ctx or the pool's own context is canceled.
func (p *Pool[T]) createForCaller(ctx context.Context, c *Conn[T], start time.Time) (*Conn[T], error) {
	defer p.creates.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	v, err := p.factory.Create(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.total--
		c.state = ConnErrored
		p.createFailures.Inc()
		PoolCreateFailuresTotal.Inc()
		p.dispatchLocked()
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		p.recordAcquireFailure()
		log.WithError(err).Debug("failed to create new connection")
		if p.ctx.Err() != nil {
			return nil, ErrPoolEnded
		}
		return nil, p.createError(c, err)
	}

	p.setValueLocked(c, v)
	if p.acceptingLocked() {
		p.markInUseLocked(c)
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.recordAcquireSuccess(start)
		log.WithField("conn", c.id).Debug("created new connection")
		return c, nil
	}

	// Clear started while the factory was running.
	p.beginDestroyLocked(c)
	p.mu.Unlock()
	p.destroyConn(context.Background(), c)
	p.recordAcquireFailure()
	return nil, ErrPoolEnded
}

// wait blocks a queued request until it is resolved, its context is done
// or the acquire timeout fires.
func (p *Pool[T]) wait(ctx context.Context, w *waiter[T], start time.Time) (*Conn[T], error) {
	var timeout <-chan time.Time
	if p.config.AcquireTimeout > 0 {
		t := time.NewTimer(p.config.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-w.result:
		return p.resolve(r, start)
	case <-ctx.Done():
		return p.abandon(w, fmt.Errorf("pool: acquire: %w", ctx.Err()))
	case <-timeout:
		p.acquireTimeouts.Inc()
		PoolAcquireTimeoutsTotal.Inc()
		return p.abandon(w, ErrAcquireTimeout)
	}
}

func (p *Pool[T]) resolve(r waitResult[T], start time.Time) (*Conn[T], error) {
	if r.err != nil {
		p.recordAcquireFailure()
		return nil, r.err
	}
	p.recordAcquireSuccess(start)
	return r.conn, nil
}

// abandon removes a waiter that gave up. If the waiter was resolved at the
// same moment, the connection it received goes back to the pool.
func (p *Pool[T]) abandon(w *waiter[T], err error) (*Conn[T], error) {
	p.mu.Lock()
	removed := p.waiters.remove(w)
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.recordAcquireFailure()
	if removed {
		return nil, err
	}

	if r := <-w.result; r.conn != nil {
		if rerr := p.Release(r.conn); rerr != nil {
			log.WithError(rerr).Debug("returning connection of abandoned request")
		}
	}
	return nil, err
}

// Release returns a borrowed connection. It goes straight to the next
// queued request if there is one, otherwise to the idle set.
func (p *Pool[T]) Release(c *Conn[T]) error {
	if c == nil || c.pool != p {
		return ErrInvalidHandle
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateEnded {
		return ErrPoolEnded
	}
	if _, ok := p.inUse[c]; !ok {
		return ErrInvalidHandle
	}

	delete(p.inUse, c)
	c.lastUsed = time.Now()
	p.releaseCount.Inc()
	PoolReleaseTotal.Inc()

	if p.state == StateRunning && p.waiters.Len() > 0 {
		p.handOffLocked(c)
	} else {
		p.pushIdleLocked(c)
	}
	p.checkDrainedLocked()
	p.updateGaugesLocked()

	log.WithField("conn", c.id).Debug("connection released to pool")
	return nil
}

// Destroy removes a borrowed connection from the pool permanently. The
// factory closes it and the slot becomes available to queued requests.
// Errors reported while closing are logged, not returned.
func (p *Pool[T]) Destroy(ctx context.Context, c *Conn[T]) error {
	if c == nil || c.pool != p {
		return ErrInvalidHandle
	}

	p.mu.Lock()
	if p.state == StateEnded {
		p.mu.Unlock()
		return ErrPoolEnded
	}
	if _, ok := p.inUse[c]; !ok {
		p.mu.Unlock()
		return ErrInvalidHandle
	}
	delete(p.inUse, c)
	p.beginDestroyLocked(c)
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.destroyConn(ctx, c)
	return nil
}

// destroyConn closes c through the factory and reclaims its slot. The
// caller must have moved c to ConnDestroying.
func (p *Pool[T]) destroyConn(ctx context.Context, c *Conn[T]) error {
	err := p.factory.Destroy(ctx, c.value)

	p.mu.Lock()
	p.destroying--
	p.total--
	if err != nil {
		c.state = ConnErrored
		p.destroyErrors.Inc()
		PoolDestroyErrorsTotal.Inc()
	} else {
		c.state = ConnClosed
	}
	p.destroyCount.Inc()
	PoolDestroyTotal.Inc()
	p.dispatchLocked()
	p.ensureMinimumLocked()
	p.checkDrainedLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	if err != nil {
		derr := apperrors.NewDestroyError(c.String(), err)
		log.WithError(derr).Warn("error destroying connection")
		return derr
	}
	log.WithField("conn", c.id).Debug("connection destroyed")
	return nil
}

// createInBackground opens a connection the pool decided it needs: for
// the queued request w, or to reach Min when w is nil.
func (p *Pool[T]) createInBackground(c *Conn[T], w *waiter[T]) {
	defer p.creates.Done()

	ctx := p.ctx
	if p.config.CreateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.CreateTimeout)
		defer cancel()
	}

	v, err := p.factory.Create(ctx)

	p.mu.Lock()
	p.creating--
	if w != nil {
		w.creating = false
	}

	if err != nil {
		p.total--
		c.state = ConnErrored
		p.createFailures.Inc()
		PoolCreateFailuresTotal.Inc()
		// The failure belongs to the request the attempt was started for.
		// If that request already left the queue the error is dropped and
		// the remaining requests get attempts of their own.
		if w != nil && p.state == StateRunning && p.waiters.remove(w) {
			w.result <- waitResult[T]{err: p.createError(c, err)}
		}
		p.dispatchLocked()
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()
		log.WithError(err).Debug("background connection attempt failed")
		return
	}

	p.setValueLocked(c, v)
	switch {
	case p.state == StateRunning && p.waiters.Len() > 0:
		p.handOffLocked(c)
		p.dispatchLocked()
	case p.acceptingLocked():
		p.pushIdleLocked(c)
	default:
		p.beginDestroyLocked(c)
		p.mu.Unlock()
		p.destroyConn(context.Background(), c)
		return
	}
	p.checkDrainedLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()
	log.WithField("conn", c.id).Debug("created connection in background")
}

// dispatchLocked serves queued requests from the idle set, then starts a
// create for each remaining request that has none while slots are free.
func (p *Pool[T]) dispatchLocked() {
	if p.state != StateRunning {
		return
	}
	for p.waiters.Len() > 0 {
		c := p.popIdleLocked()
		if c == nil {
			break
		}
		p.handOffLocked(c)
	}
	p.waiters.each(func(w *waiter[T]) bool {
		if w.creating {
			return true
		}
		if p.total >= p.config.Max {
			return false
		}
		w.creating = true
		c := p.reserveLocked()
		p.creates.Add(1)
		go p.createInBackground(c, w)
		return true
	})
}

// ensureMinimumLocked starts creates until Min connections exist.
func (p *Pool[T]) ensureMinimumLocked() {
	if !p.config.Prewarm || p.state != StateRunning {
		return
	}
	for p.total < p.config.Min {
		c := p.reserveLocked()
		p.creates.Add(1)
		go p.createInBackground(c, nil)
	}
}

// reserveLocked takes a slot for a connection about to be created.
func (p *Pool[T]) reserveLocked() *Conn[T] {
	p.total++
	p.creating++
	p.nextID++
	return &Conn[T]{id: p.nextID, pool: p, state: ConnCreating}
}

func (p *Pool[T]) setValueLocked(c *Conn[T], v T) {
	now := time.Now()
	c.value = v
	c.createdAt = now
	c.lastUsed = now
}

// acceptingLocked reports whether a freshly created connection may join
// the pool.
func (p *Pool[T]) acceptingLocked() bool {
	return p.state == StateRunning || (p.state == StateDraining && !p.clearing)
}

func (p *Pool[T]) markInUseLocked(c *Conn[T]) {
	c.state = ConnInUse
	c.lastUsed = time.Now()
	p.inUse[c] = struct{}{}
}

// handOffLocked gives c to the next queued request.
func (p *Pool[T]) handOffLocked(c *Conn[T]) {
	w := p.waiters.pop()
	p.markInUseLocked(c)
	w.result <- waitResult[T]{conn: c}
}

func (p *Pool[T]) beginDestroyLocked(c *Conn[T]) {
	c.state = ConnDestroying
	p.destroying++
}

func (p *Pool[T]) pushIdleLocked(c *Conn[T]) {
	c.state = ConnIdle
	p.idle = append(p.idle, c)
}

func (p *Pool[T]) popIdleLocked() *Conn[T] {
	if len(p.idle) == 0 {
		return nil
	}
	var c *Conn[T]
	if p.config.LIFO {
		c = p.idle[len(p.idle)-1]
		p.idle[len(p.idle)-1] = nil
		p.idle = p.idle[:len(p.idle)-1]
	} else {
		c = p.idle[0]
		p.idle[0] = nil
		p.idle = p.idle[1:]
	}
	return c
}

func (p *Pool[T]) createError(c *Conn[T], err error) error {
	var ce *apperrors.CreateError
	if apperrors.As(err, &ce) {
		return err
	}
	return apperrors.NewCreateError(c.String(), err)
}

func (p *Pool[T]) recordAcquireSuccess(start time.Time) {
	p.acquireSuccess.Inc()
	PoolAcquireSuccessTotal.Inc()
	PoolAcquireLatency.ObserveSince(start)
}

func (p *Pool[T]) recordAcquireFailure() {
	p.acquireFailed.Inc()
	PoolAcquireFailedTotal.Inc()
}

// evictLoop periodically destroys connections idle for too long.
func (p *Pool[T]) evictLoop() {
	defer close(p.evictDone)

	ticker := time.NewTicker(p.config.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.evictStop:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

// evictIdle destroys idle connections older than IdleTimeout without going
// below Min.
func (p *Pool[T]) evictIdle() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}

	now := time.Now()
	var victims []*Conn[T]
	kept := make([]*Conn[T], 0, len(p.idle))
	for _, c := range p.idle {
		if now.Sub(c.lastUsed) > p.config.IdleTimeout && p.total-len(victims) > p.config.Min {
			p.beginDestroyLocked(c)
			victims = append(victims, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, c := range victims {
		p.destroyConn(p.ctx, c)
	}
	if len(victims) > 0 {
		log.WithField("evicted", len(victims)).Debug("evictor removed idle connections")
	}
}

func (p *Pool[T]) stopEvictor() {
	p.stopOnce.Do(func() {
		close(p.evictStop)
	})
	<-p.evictDone
}
