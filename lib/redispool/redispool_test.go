package redispool_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/events"
	"github.com/go-i2p/redispool/lib/pool"
	"github.com/go-i2p/redispool/lib/redisconn"
	"github.com/go-i2p/redispool/lib/redispool"
	"github.com/go-i2p/redispool/lib/resilience"
	"github.com/go-i2p/redispool/lib/testutil"
)

type recorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recorder) HandleEvent(e redispool.Event) {
	r.mu.Lock()
	r.types = append(r.types, e.Type)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

func (r *recorder) count(t events.EventType) int {
	n := 0
	for _, got := range r.snapshot() {
		if got == t {
			n++
		}
	}
	return n
}

func sized(min, max int) pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Min = min
	cfg.Max = max
	return cfg
}

func newFakePool(t *testing.T, driver *testutil.FakeDriver, cfg pool.Config) *redispool.RedisPool {
	t.Helper()
	rp, err := redispool.New(redispool.Options{Driver: driver, Pool: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { rp.End(context.Background()) })
	return rp
}

func TestRedisPoolAgainstMiniredis(t *testing.T) {
	h := testutil.NewRedisHarness(t)
	rp, err := redispool.New(redispool.Options{Redis: h.Options()})
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := rp.GetConnection(ctx)
	require.NoError(t, err)

	client := conn.Value().Client()
	require.NoError(t, client.Set(ctx, "answer", "42", 0).Err())
	got, err := client.Get(ctx, "answer").Result()
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	require.NoError(t, rp.Release(conn))

	again, err := rp.GetConnection(ctx)
	require.NoError(t, err)
	assert.Same(t, conn, again, "idle session is reused")
	require.NoError(t, rp.Release(again))

	require.NoError(t, rp.End(ctx))
	assert.Eventually(t, func() bool {
		return h.Clients() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisPoolEndEmitsDisconnectedOnce(t *testing.T) {
	driver := &testutil.FakeDriver{}
	rp, err := redispool.New(redispool.Options{Driver: driver, Pool: sized(0, 3)})
	require.NoError(t, err)

	rec := &recorder{}
	rp.Subscribe(rec)

	ctx := context.Background()
	a, err := rp.GetConnection(ctx)
	require.NoError(t, err)
	b, err := rp.GetConnection(ctx)
	require.NoError(t, err)
	require.NoError(t, rp.Release(a))
	require.NoError(t, rp.Release(b))

	require.NoError(t, rp.End(ctx))
	require.NoError(t, rp.Disconnect(ctx), "second end is a no-op")

	select {
	case <-rp.Done():
	default:
		t.Fatal("Done must be closed after End")
	}

	types := rec.snapshot()
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventDisconnected, types[len(types)-1])
	assert.Equal(t, 1, rec.count(events.EventDisconnected))
	assert.Equal(t, 2, rec.count(events.EventConnect))
	assert.Equal(t, 2, rec.count(events.EventReady))
	assert.Equal(t, 2, rec.count(events.EventClose))
	assert.Equal(t, 2, rec.count(events.EventEnd))
	assert.Equal(t, 2, driver.Closes())

	_, err = rp.GetConnection(ctx)
	assert.ErrorIs(t, err, apperrors.ErrPoolEnded)
}

func TestRedisPoolDisconnectedSurvivesFullEventBuffer(t *testing.T) {
	driver := &testutil.FakeDriver{}
	rp, err := redispool.New(redispool.Options{
		Driver:      driver,
		Pool:        sized(0, 60),
		EventBuffer: 4,
	})
	require.NoError(t, err)

	rec := &recorder{}
	rp.Subscribe(events.ObserverFunc[*redisconn.Session](func(e redispool.Event) {
		time.Sleep(time.Millisecond)
		rec.HandleEvent(e)
	}))

	ctx := context.Background()
	conns := make([]*redispool.Conn, 0, 60)
	for i := 0; i < 60; i++ {
		c, err := rp.GetConnection(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		require.NoError(t, rp.Release(c))
	}

	require.NoError(t, rp.End(ctx))

	types := rec.snapshot()
	require.NotEmpty(t, types)
	assert.Equal(t, 1, rec.count(events.EventDisconnected))
	assert.Equal(t, events.EventDisconnected, types[len(types)-1])
	assert.Equal(t, 60, driver.Closes())
}

func TestRedisPoolDoReleasesOnCommandError(t *testing.T) {
	rp := newFakePool(t, &testutil.FakeDriver{}, sized(0, 2))

	err := rp.Do(context.Background(), func(redis.UniversalClient) error {
		return redis.Nil
	})
	assert.ErrorIs(t, err, redis.Nil)

	stats := rp.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, uint64(0), stats.DestroyCount)
}

func TestRedisPoolDoDestroysBrokenSession(t *testing.T) {
	driver := &testutil.FakeDriver{}
	rp := newFakePool(t, driver, sized(0, 2))

	err := rp.Do(context.Background(), func(redis.UniversalClient) error {
		return redis.ErrClosed
	})
	assert.ErrorIs(t, err, redis.ErrClosed)

	stats := rp.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, uint64(1), stats.DestroyCount)
	assert.Equal(t, 1, driver.Closes())
}

func TestRedisPoolDoSuccess(t *testing.T) {
	h := testutil.NewRedisHarness(t)
	rp, err := redispool.New(redispool.Options{Redis: h.Options()})
	require.NoError(t, err)
	t.Cleanup(func() { rp.End(context.Background()) })

	ctx := context.Background()
	require.NoError(t, rp.Do(ctx, func(c redis.UniversalClient) error {
		return c.Incr(ctx, "hits").Err()
	}))
	require.NoError(t, rp.Do(ctx, func(c redis.UniversalClient) error {
		return c.Incr(ctx, "hits").Err()
	}))

	v, err := h.Server.Get("hits")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, rp.Stats().Idle)
}

func TestRedisPoolPriority(t *testing.T) {
	cfg := sized(0, 1)
	cfg.PriorityLevels = 3
	rp := newFakePool(t, &testutil.FakeDriver{}, cfg)

	ctx := context.Background()
	held, err := rp.GetConnection(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup
	acquire := func(priority int) {
		defer wg.Done()
		c, err := rp.GetConnection(ctx, priority)
		if err != nil {
			return
		}
		order <- priority
		rp.Release(c)
	}

	wg.Add(1)
	go acquire(2)
	require.Eventually(t, func() bool { return rp.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	wg.Add(1)
	go acquire(0)
	require.Eventually(t, func() bool { return rp.Stats().Waiting == 2 }, time.Second, time.Millisecond)

	require.NoError(t, rp.Release(held))
	wg.Wait()
	close(order)

	var got []int
	for p := range order {
		got = append(got, p)
	}
	assert.Equal(t, []int{0, 2}, got)
}

func TestRedisPoolAcquireTimeout(t *testing.T) {
	rp := newFakePool(t, &testutil.FakeDriver{}, sized(0, 1))

	held, err := rp.Acquire(context.Background())
	require.NoError(t, err)
	defer rp.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rp.AcquireWithPriority(ctx, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, rp.Stats().Waiting)
}

func TestRedisPoolBreaker(t *testing.T) {
	driver := &testutil.FakeDriver{OpenErr: testutil.FailAlways(testutil.ErrOpenRefused)}
	rp, err := redispool.New(redispool.Options{
		Driver: driver,
		Pool:   sized(0, 2),
		Breaker: &resilience.CircuitBreakerConfig{
			FailureThreshold: 1,
			Timeout:          time.Minute,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { rp.End(context.Background()) })

	ctx := context.Background()
	_, err = rp.GetConnection(ctx)
	require.ErrorIs(t, err, testutil.ErrOpenRefused)

	require.NotNil(t, rp.Breaker())
	assert.Equal(t, resilience.CircuitOpen, rp.Breaker().State())

	_, err = rp.GetConnection(ctx)
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, 1, driver.Opens())
	assert.Equal(t, 0, rp.Stats().Total)
}

func TestRedisPoolNewValidates(t *testing.T) {
	_, err := redispool.New(redispool.Options{Redis: redisconn.Options{Addr: "no-port"}})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = redispool.New(redispool.Options{Pool: pool.Config{Min: 5, Max: 2}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSize))
}

func TestRedisPoolDefaults(t *testing.T) {
	rp := newFakePool(t, &testutil.FakeDriver{}, pool.Config{})
	stats := rp.Stats()
	assert.Equal(t, pool.DefaultConfig().Min, stats.Min)
	assert.Equal(t, pool.DefaultConfig().Max, stats.Max)
	assert.Nil(t, rp.Breaker())
}

func TestRedisPoolDefaultsKeepOtherFields(t *testing.T) {
	cfg := pool.Config{
		Min:            1,
		PriorityLevels: 3,
		AcquireTimeout: 30 * time.Millisecond,
	}
	rp := newFakePool(t, &testutil.FakeDriver{}, cfg)

	stats := rp.Stats()
	assert.Equal(t, pool.DefaultConfig().Max, stats.Max)
	assert.Equal(t, 1, stats.Min, "an explicit Min is kept")

	ctx := context.Background()
	held := make([]*redispool.Conn, 0, stats.Max)
	for i := 0; i < stats.Max; i++ {
		c, err := rp.GetConnection(ctx)
		require.NoError(t, err)
		held = append(held, c)
	}
	_, err := rp.GetConnection(ctx, 2)
	assert.ErrorIs(t, err, apperrors.ErrAcquireTimeout, "AcquireTimeout is kept")

	for _, c := range held {
		require.NoError(t, rp.Release(c))
	}
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	driver := &testutil.FakeDriver{}
	rp, err := redispool.New(redispool.Options{Driver: driver, Pool: sized(0, 1)})
	require.NoError(t, err)
	rp.Subscribe(redispool.EventLogger(logger))

	ctx := context.Background()
	c, err := rp.GetConnection(ctx)
	require.NoError(t, err)
	driver.Raise(redisconn.SignalError, errors.New("read: connection reset"))
	require.NoError(t, rp.Release(c))
	require.NoError(t, rp.End(ctx))

	out := buf.String()
	assert.Contains(t, out, "event=connect")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "connection reset")
	assert.Contains(t, out, "redis pool disconnected")
}
