package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/urfave/cli"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/redispool/lib/config"
	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/metrics"
	"github.com/go-i2p/redispool/lib/ratelimit"
	"github.com/go-i2p/redispool/lib/redisconn"
	"github.com/go-i2p/redispool/lib/redispool"
	"github.com/go-i2p/redispool/lib/validation"
)

var benchLatency = metrics.NewHistogram(
	"redispool_bench_op_seconds",
	"Latency of one benchmark operation including acquire and release",
	metrics.DefaultLatencyBuckets,
)

var cmdBench = cli.Command{
	Name:  "bench",
	Usage: "run SET/GET traffic through the pool",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "requests, n",
			Usage: "total operations",
			Value: 10000,
		},
		cli.IntFlag{
			Name:  "concurrency, C",
			Usage: "worker goroutines",
			Value: 50,
		},
		cli.Float64Flag{
			Name:  "rate",
			Usage: "overall operations per second (0 = unlimited)",
		},
		cli.Float64Flag{
			Name:  "priority-rate",
			Usage: "operations per second for each priority level (0 = unlimited)",
		},
		cli.IntFlag{
			Name:  "keys",
			Usage: "size of the key space",
			Value: 1000,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, logger, err := setup(c)
		if err != nil {
			return exitError(err)
		}
		b := &bench{
			requests:     c.Int("requests"),
			concurrency:  c.Int("concurrency"),
			rate:         c.Float64("rate"),
			priorityRate: c.Float64("priority-rate"),
			keys:         c.Int("keys"),
			priorities:   cfg.ToPool().PriorityLevels,
			logger:       logger,
		}
		if b.priorities < 1 {
			b.priorities = 1
		}
		if err := validation.All(
			func() error { return validation.Positive("requests", b.requests) },
			func() error { return validation.Positive("concurrency", b.concurrency) },
			func() error { return validation.Positive("keys", b.keys) },
			func() error { return validation.NonNegativeFloat("rate", b.rate) },
			func() error { return validation.NonNegativeFloat("priority-rate", b.priorityRate) },
		); err != nil {
			return cli.NewExitError(err.Error(), apperrors.CodeConfiguration)
		}

		ctx, stop := signalContext()
		defer stop()
		return runBench(ctx, cfg, b)
	},
}

type bench struct {
	requests     int
	concurrency  int
	rate         float64
	priorityRate float64
	keys         int
	priorities   int
	logger       *slog.Logger

	ok     atomic.Int64
	failed atomic.Int64
}

type benchResult struct {
	ok, failed int64
	elapsed    time.Duration
}

// runBench serves metrics when enabled and runs the benchmark. The metrics
// server stops when the benchmark finishes.
func runBench(ctx context.Context, cfg *config.Config, b *bench) error {
	rp, err := newPool(cfg, b.logger)
	if err != nil {
		return exitError(err)
	}
	defer endPool(rp, cfg, b.logger)

	metrics.RecordStartTime()
	g, gctx := errgroup.WithContext(ctx)
	benchDone := make(chan struct{})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			b.logger.Info("serving metrics", "listen", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-benchDone:
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	var res benchResult
	g.Go(func() error {
		defer close(benchDone)
		var err error
		res, err = b.run(gctx, rp)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(err)
	}

	stats := rp.Stats()
	fmt.Printf("ops:        %d ok, %d failed\n", res.ok, res.failed)
	fmt.Printf("elapsed:    %s\n", res.elapsed.Round(time.Millisecond))
	if res.elapsed > 0 {
		fmt.Printf("throughput: %.0f ops/s\n", float64(res.ok)/res.elapsed.Seconds())
	}
	fmt.Printf("pool:       total=%d idle=%d destroyed=%d create_failures=%d timeouts=%d\n",
		stats.Total, stats.Idle, stats.DestroyCount, stats.CreateFailures, stats.AcquireTimeouts)
	if err := ctx.Err(); err != nil {
		return exitError(err)
	}
	if res.failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d operations failed", res.failed), 1)
	}
	return nil
}

// run submits b.requests operations to a worker pool of b.concurrency
// goroutines. Submission is paced by the overall limiter; each operation
// then waits on its priority's limiter.
func (b *bench) run(ctx context.Context, rp *redispool.RedisPool) (benchResult, error) {
	workers, err := ants.NewPool(b.concurrency, ants.WithPanicHandler(func(v interface{}) {
		b.logger.Error("benchmark worker panic", "panic", v)
		b.failed.Inc()
	}))
	if err != nil {
		return benchResult{}, err
	}
	defer workers.Release()

	var overall *ratelimit.Limiter
	if b.rate > 0 {
		overall = ratelimit.New(b.rate, b.concurrency)
	}
	var perPriority *ratelimit.KeyedLimiter[int]
	if b.priorityRate > 0 {
		perPriority = ratelimit.NewKeyed[int](b.priorityRate, b.concurrency, 0)
		defer perPriority.Close()
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < b.requests; i++ {
		if overall != nil {
			if err := overall.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		n := i
		wg.Add(1)
		err := workers.Submit(func() {
			defer wg.Done()
			if err := b.op(ctx, rp, n, perPriority); err != nil {
				b.failed.Inc()
				if ctx.Err() == nil {
					b.logger.Debug("benchmark operation failed", "op", n, "error", err)
				}
				return
			}
			b.ok.Inc()
		})
		if err != nil {
			wg.Done()
			return benchResult{}, fmt.Errorf("submit: %w", err)
		}
	}
	wg.Wait()

	return benchResult{
		ok:      b.ok.Load(),
		failed:  b.failed.Load(),
		elapsed: time.Since(start),
	}, ctx.Err()
}

func (b *bench) op(ctx context.Context, rp *redispool.RedisPool, n int, perPriority *ratelimit.KeyedLimiter[int]) error {
	priority := n % b.priorities
	if perPriority != nil {
		if err := perPriority.Wait(ctx, priority); err != nil {
			return err
		}
	}

	start := time.Now()
	defer benchLatency.ObserveSince(start)

	conn, err := rp.GetConnection(ctx, priority)
	if err != nil {
		return err
	}
	client := conn.Value().Client()
	key := "redispool:bench:" + strconv.Itoa(n%b.keys)

	err = client.Set(ctx, key, n, time.Minute).Err()
	if err == nil {
		err = client.Get(ctx, key).Err()
	}
	if redisconn.IsConnectionError(err) {
		_ = rp.Destroy(ctx, conn)
		return err
	}
	if rerr := rp.Release(conn); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
