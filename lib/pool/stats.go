package pool

// Stats is a snapshot of pool counts and counters.
type Stats struct {
	// State is the pool's lifecycle state.
	State State
	// Min and Max are the configured bounds.
	Min int
	Max int
	// Total is Creating + Idle + InUse + Destroying.
	Total      int
	Creating   int
	Idle       int
	InUse      int
	Destroying int
	// Waiting is the number of queued acquisition requests.
	Waiting int

	AcquireCount    uint64
	AcquireSuccess  uint64
	AcquireFailed   uint64
	AcquireTimeouts uint64
	ReleaseCount    uint64
	DestroyCount    uint64
	CreateFailures  uint64
	DestroyErrors   uint64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		State:           p.state,
		Min:             p.config.Min,
		Max:             p.config.Max,
		Total:           p.total,
		Creating:        p.creating,
		Idle:            len(p.idle),
		InUse:           len(p.inUse),
		Destroying:      p.destroying,
		Waiting:         p.waiters.Len(),
		AcquireCount:    p.acquireCount.Load(),
		AcquireSuccess:  p.acquireSuccess.Load(),
		AcquireFailed:   p.acquireFailed.Load(),
		AcquireTimeouts: p.acquireTimeouts.Load(),
		ReleaseCount:    p.releaseCount.Load(),
		DestroyCount:    p.destroyCount.Load(),
		CreateFailures:  p.createFailures.Load(),
		DestroyErrors:   p.destroyErrors.Load(),
	}
}

// Config returns the configuration the pool runs with, defaults applied.
func (p *Pool[T]) Config() Config {
	return p.config
}
