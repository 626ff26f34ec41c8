package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/go-i2p/redispool/lib/errors"
)

// Drain stops admitting acquisitions and waits until every borrowed
// connection has been returned and no connection attempt is in flight.
// Queued requests fail with ErrPoolEnded. Calling Drain again, or after
// End, is harmless.
//
// The wait ends early when ctx is done (the error is returned and the pool
// stays draining) or when Config.DrainTimeout expires (nil is returned and
// Clear destroys the stragglers).
func (p *Pool[T]) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateEnded {
		p.mu.Unlock()
		return nil
	}
	if p.state == StateRunning {
		p.state = StateDraining
		p.drained = make(chan struct{})
		rejected := p.waiters.drain()
		for _, w := range rejected {
			w.result <- waitResult[T]{err: ErrPoolEnded}
		}
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		log.WithField("oldState", StateRunning).WithField("newState", StateDraining).
			WithField("rejected", len(rejected)).Debug("pool state transition")
	}
	drained := p.drained
	p.mu.Unlock()

	p.stopEvictor()

	var timeout <-chan time.Time
	if p.config.DrainTimeout > 0 {
		t := time.NewTimer(p.config.DrainTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-drained:
		return nil
	case <-timeout:
		stats := p.Stats()
		log.WithField("inUse", stats.InUse).WithField("creating", stats.Creating).
			Warn("drain timed out, remaining connections will be destroyed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool: drain: %w", ctx.Err())
	}
}

// Clear destroys every connection still tracked by a draining pool, idle
// ones and stragglers alike, and moves the pool to StateEnded once all
// destroys have returned. Destroy errors are logged, never returned.
// Concurrent calls wait for the same completion; after End it returns nil.
func (p *Pool[T]) Clear(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.state == StateEnded:
		p.mu.Unlock()
		return nil
	case p.state == StateRunning:
		p.mu.Unlock()
		return apperrors.ErrNotDraining
	case p.clearing:
		ended := p.ended
		p.mu.Unlock()
		select {
		case <-ended:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("pool: clear: %w", ctx.Err())
		}
	}

	p.clearing = true
	victims := make([]*Conn[T], 0, len(p.idle)+len(p.inUse))
	victims = append(victims, p.idle...)
	for c := range p.inUse {
		victims = append(victims, c)
	}
	stragglers := len(p.inUse)
	p.idle = nil
	p.inUse = make(map[*Conn[T]]struct{})
	for _, c := range victims {
		p.beginDestroyLocked(c)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if stragglers > 0 {
		log.WithField("stragglers", stragglers).Warn("destroying connections that were never released")
	}

	// Abort every attempt in flight; one that still succeeds destroys its
	// result before creates is released.
	p.cancel()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.config.DestroyConcurrency)
	for _, c := range victims {
		g.Go(func() error {
			if err := p.destroyConn(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	p.creates.Wait()

	p.mu.Lock()
	p.state = StateEnded
	close(p.ended)
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.gauges.delete()

	if len(errs) > 0 {
		log.WithError(apperrors.Join(errs...)).WithField("failed", len(errs)).
			Warn("some connections reported errors while closing")
	}
	log.WithField("oldState", StateDraining).WithField("newState", StateEnded).
		WithField("destroyed", len(victims)).Debug("pool state transition")
	return nil
}

// End drains the pool and then clears it. A second call observes
// StateEnded and returns immediately.
func (p *Pool[T]) End(ctx context.Context) error {
	if err := p.Drain(ctx); err != nil {
		return err
	}
	return p.Clear(ctx)
}

// Done returns a channel closed when the pool reaches StateEnded.
func (p *Pool[T]) Done() <-chan struct{} {
	return p.ended
}

// State returns the pool's lifecycle state.
func (p *Pool[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// checkDrainedLocked signals Drain once nothing is borrowed, being created
// or being destroyed.
func (p *Pool[T]) checkDrainedLocked() {
	if p.state != StateDraining || p.drainedClosed {
		return
	}
	if len(p.inUse) == 0 && p.creating == 0 && p.destroying == 0 {
		p.drainedClosed = true
		close(p.drained)
	}
}
