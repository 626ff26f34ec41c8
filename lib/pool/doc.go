// Package pool provides a bounded connection pool with an explicit
// per-connection state machine.
//
// The pool supports:
//   - Min/max sizing with optional prewarming of Min connections
//   - FIFO or LIFO reuse of idle connections
//   - Queued acquisition with priority levels (FIFO within a level)
//   - Context cancellation and an optional maximum queue wait
//   - Idle eviction that never drops below Min
//   - Orderly shutdown: Drain, then Clear, composed as End
//   - Metrics for pool utilization
//
// # Basic Usage
//
//	factory := pool.FactoryFuncs[net.Conn]{
//	    CreateFunc: func(ctx context.Context) (net.Conn, error) {
//	        var d net.Dialer
//	        return d.DialContext(ctx, "tcp", "localhost:6379")
//	    },
//	    DestroyFunc: func(ctx context.Context, c net.Conn) error {
//	        return c.Close()
//	    },
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.Max = 10
//
//	p, err := pool.New[net.Conn](factory, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.End(context.Background())
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(conn)
//
//	// Use conn.Value()...
//
// # Connection States
//
// Every handle moves forward through
//
//	Creating -> Idle <-> InUse -> Destroying -> Closed (or Errored)
//
// Creating, Idle and Destroying connections are owned by the pool; an InUse
// connection belongs to the caller until Release or Destroy. Creating +
// Idle + InUse + Destroying never exceeds Max.
//
// # Priorities
//
// Config.PriorityLevels buckets order queued requests. Level 0 is served
// first; negative priorities count as 0 and priorities past the last level
// count as the last level.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - redispool_pool_connections_max: Maximum pool size
//   - redispool_pool_connections_open: Current live connections
//   - redispool_pool_connections_idle: Current idle connections
//   - redispool_pool_connections_in_use: Connections currently borrowed
//   - redispool_pool_waiters: Queued acquisition requests
//   - redispool_pool_acquire_total: Total acquire attempts
//   - redispool_pool_acquire_success_total: Successful acquires
//   - redispool_pool_acquire_failed_total: Failed acquires
//   - redispool_pool_release_total: Total releases
//   - redispool_pool_destroy_total: Total destroyed connections
//   - redispool_pool_create_failures_total: Failed connection attempts
//   - redispool_pool_destroy_errors_total: Sessions that errored on close
package pool
