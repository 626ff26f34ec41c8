// redispool is a small tool around the redispool library: it checks that
// a Redis server is reachable through the pool, benchmarks the pool under
// load and manages configuration files.
//
// Usage:
//
//	redispool [global flags] ping
//	redispool [global flags] bench [-n 10000] [-C 50] [--rate 0]
//	redispool [global flags] config show|init
//
// Global flags:
//
//	-config, -c FILE
//	    TOML or YAML configuration (default "~/.redispool/config.toml")
//	-url URL
//	    Redis URL (overrides config)
//	-verbose, -v
//	    Enable debug logging
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/go-i2p/redispool/lib/config"
	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/redispool"
	"github.com/go-i2p/redispool/version"
)

// shutdownGrace bounds End when no drain timeout is configured.
const shutdownGrace = 30 * time.Second

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperrors.CodeInternal)
	}
}

func newApp() *cli.App {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	// -v is taken by --verbose.
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print the version",
	}

	app := cli.NewApp()
	app.Name = "redispool"
	app.Usage = "bounded Redis connection pool tool"
	app.Version = version.Full()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "Load configuration from `FILE`",
			EnvVar: "REDISPOOL_CONFIG",
			Value:  filepath.Join(homeDir, ".redispool", "config.toml"),
		},
		cli.StringFlag{
			Name:   "url",
			Usage:  "Redis `URL` (overrides config)",
			EnvVar: "REDIS_URL",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "Enable debug logging",
		},
	}
	app.Commands = []cli.Command{
		cmdPing,
		cmdBench,
		cmdConfig,
	}
	app.Action = func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	}
	return app
}

var cmdPing = cli.Command{
	Name:  "ping",
	Usage: "borrow a connection and send PING",
	Action: func(c *cli.Context) error {
		cfg, logger, err := setup(c)
		if err != nil {
			return exitError(err)
		}

		ctx, stop := signalContext()
		defer stop()

		cfg.Pool.Min = 0
		cfg.Pool.Prewarm = false
		rp, err := newPool(cfg, logger)
		if err != nil {
			return exitError(err)
		}
		defer endPool(rp, cfg, logger)

		conn, err := rp.GetConnection(ctx)
		if err != nil {
			return exitError(err)
		}

		start := time.Now()
		pong, err := conn.Value().Client().Ping(ctx).Result()
		rtt := time.Since(start)
		if err != nil {
			_ = rp.Destroy(ctx, conn)
			return exitError(err)
		}
		_ = rp.Release(conn)

		fmt.Printf("%s from %s in %s (session %s)\n", pong, cfg.ToRedis().Address(), rtt.Round(time.Microsecond), conn.Value())
		return nil
	},
}

var cmdConfig = cli.Command{
	Name:  "config",
	Usage: "inspect or create configuration files",
	Subcommands: []cli.Command{
		{
			Name:  "show",
			Usage: "print the effective configuration with secrets redacted",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "format, f",
					Usage: "output format (toml or yaml)",
					Value: string(config.FormatTOML),
				},
			},
			Action: func(c *cli.Context) error {
				cfg, _, err := setup(c)
				if err != nil {
					return exitError(err)
				}
				data, err := cfg.Redacted().Marshal(config.Format(c.String("format")))
				if err != nil {
					return exitError(err)
				}
				os.Stdout.Write(data)
				return nil
			},
		},
		{
			Name:      "init",
			Usage:     "write a default configuration file",
			ArgsUsage: "[FILE]",
			Action: func(c *cli.Context) error {
				path := c.GlobalString("config")
				if c.NArg() > 0 {
					path = c.Args().First()
				}
				if _, err := os.Stat(path); err == nil {
					return exitError(fmt.Errorf("%s already exists: %w", path, apperrors.ErrConfiguration))
				}
				if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
					return exitError(err)
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			},
		},
	},
}

// setup loads the configuration, applies flag overrides and builds the
// logger. It also sets the logger as the slog default.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	if url := c.GlobalString("url"); url != "" {
		cfg.Redis.URL = url
		cfg.Redis.Addr = ""
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.GlobalBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cfg.Log.Writer(os.Stderr), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newPool(cfg *config.Config, logger *slog.Logger) (*redispool.RedisPool, error) {
	rp, err := redispool.New(redispool.Options{
		Redis:   cfg.ToRedis(),
		Pool:    cfg.ToPool(),
		Breaker: cfg.ToBreaker(),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	rp.Subscribe(redispool.EventLogger(logger))
	return rp, nil
}

// endPool shuts the pool down with a fresh deadline so that it still runs
// after the command's context was canceled by a signal.
func endPool(rp *redispool.RedisPool, cfg *config.Config, logger *slog.Logger) {
	grace := cfg.Pool.DrainTimeout.Std()
	if grace <= 0 {
		grace = shutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace+time.Second)
	defer cancel()

	if err := rp.End(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// exitError maps err to a process exit status and a message that does not
// include connection details.
func exitError(err error) error {
	if errors.Is(err, context.Canceled) {
		return cli.NewExitError("interrupted", apperrors.CodeInternal)
	}
	e := apperrors.FromSentinel(err)
	slog.Debug("command failed", "error", err)
	return cli.NewExitError(e.SafeMessage(), e.Code)
}
