package pool

import "github.com/go-i2p/redispool/lib/metrics"

// Pool utilization metrics. Gauges carry a "pool" label with
// Config.Name so several pools in one process report separately; counters
// are process-wide totals.
var (
	// PoolConnectionsMax is the maximum pool size.
	PoolConnectionsMax = metrics.NewGaugeVec(
		"redispool_pool_connections_max",
		"Maximum number of connections in the pool",
		"pool",
	)
	// PoolConnectionsOpen is the current number of live connections.
	PoolConnectionsOpen = metrics.NewGaugeVec(
		"redispool_pool_connections_open",
		"Current number of live connections, including ones being created or destroyed",
		"pool",
	)
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = metrics.NewGaugeVec(
		"redispool_pool_connections_idle",
		"Current number of idle connections in the pool",
		"pool",
	)
	// PoolConnectionsInUse is the number of connections currently in use.
	PoolConnectionsInUse = metrics.NewGaugeVec(
		"redispool_pool_connections_in_use",
		"Number of connections currently in use",
		"pool",
	)
	// PoolWaiters is the number of queued acquisition requests.
	PoolWaiters = metrics.NewGaugeVec(
		"redispool_pool_waiters",
		"Number of acquisition requests waiting for a connection",
		"pool",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"redispool_pool_acquire_total",
		"Total number of connection acquire attempts",
	)
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = metrics.NewCounter(
		"redispool_pool_acquire_success_total",
		"Total number of successful connection acquires",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"redispool_pool_acquire_failed_total",
		"Total number of failed connection acquires",
	)
	// PoolAcquireTimeoutsTotal is the number of acquires that hit AcquireTimeout.
	PoolAcquireTimeoutsTotal = metrics.NewCounter(
		"redispool_pool_acquire_timeouts_total",
		"Total number of queued acquires rejected by the acquire timeout",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"redispool_pool_release_total",
		"Total number of connection releases",
	)
	// PoolDestroyTotal is the number of destroyed connections.
	PoolDestroyTotal = metrics.NewCounter(
		"redispool_pool_destroy_total",
		"Total number of connections destroyed",
	)
	// PoolCreateFailuresTotal is the number of failed connection attempts.
	PoolCreateFailuresTotal = metrics.NewCounter(
		"redispool_pool_create_failures_total",
		"Total number of failed connection attempts",
	)
	// PoolDestroyErrorsTotal is the number of sessions that errored on close.
	PoolDestroyErrorsTotal = metrics.NewCounter(
		"redispool_pool_destroy_errors_total",
		"Total number of connections that reported an error while closing",
	)
	// PoolAcquireLatency tracks time spent acquiring connections.
	PoolAcquireLatency = metrics.NewHistogram(
		"redispool_pool_acquire_duration_seconds",
		"Time spent acquiring a connection from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// poolGauges are the labeled gauges of one pool.
type poolGauges struct {
	name    string
	max     *metrics.Gauge
	open    *metrics.Gauge
	idle    *metrics.Gauge
	inUse   *metrics.Gauge
	waiters *metrics.Gauge
}

func newPoolGauges(name string) poolGauges {
	return poolGauges{
		name:    name,
		max:     PoolConnectionsMax.With(name),
		open:    PoolConnectionsOpen.With(name),
		idle:    PoolConnectionsIdle.With(name),
		inUse:   PoolConnectionsInUse.With(name),
		waiters: PoolWaiters.With(name),
	}
}

// delete drops the pool's series once it has ended.
func (g poolGauges) delete() {
	for _, v := range []*metrics.GaugeVec{
		PoolConnectionsMax, PoolConnectionsOpen, PoolConnectionsIdle, PoolConnectionsInUse, PoolWaiters,
	} {
		v.Delete(g.name)
	}
}

// updateGaugesLocked publishes the current counts.
func (p *Pool[T]) updateGaugesLocked() {
	p.gauges.open.Set(int64(p.total))
	p.gauges.idle.Set(int64(len(p.idle)))
	p.gauges.inUse.Set(int64(len(p.inUse)))
	p.gauges.waiters.Set(int64(p.waiters.Len()))
}
