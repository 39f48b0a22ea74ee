package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"user-records/internal/db"
	"user-records/internal/server"
	"user-records/internal/store"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Printf("service=backend msg=%q err=%v", "fatal", err)
		os.Exit(1)
	}
}

func databaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "PostgreSQL connection string",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "backend",
		Usage: "user record service over raw TCP",
		Flags: serveFlags(),
		// serve is the default when no command is given.
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "initialize the users table and accept connections",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back schema migrations",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply all pending migrations",
						Flags: []cli.Flag{databaseURLFlag()},
						Action: func(c *cli.Context) error {
							return runMigration(c, "up", db.RunMigrations)
						},
					},
					{
						Name:  "down",
						Usage: "roll back all migrations (drops the users table)",
						Flags: []cli.Flag{databaseURLFlag()},
						Action: func(c *cli.Context) error {
							return runMigration(c, "down", db.RollbackMigrations)
						},
					},
				},
			},
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		databaseURLFlag(),
		&cli.StringFlag{
			Name:    "addr",
			Value:   server.DefaultAddr,
			Usage:   "TCP listen address",
			EnvVars: []string{"USERS_ADDR"},
		},
		&cli.Int64Flag{
			Name:    "max-conns",
			Value:   server.DefaultMaxConns,
			Usage:   "connections served concurrently",
			EnvVars: []string{"USERS_MAX_CONNS"},
		},
		&cli.DurationFlag{
			Name:    "read-timeout",
			Value:   server.DefaultReadTimeout,
			Usage:   "deadline for reading a request",
			EnvVars: []string{"USERS_READ_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "write-timeout",
			Value:   server.DefaultWriteTimeout,
			Usage:   "deadline for writing a response",
			EnvVars: []string{"USERS_WRITE_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "max-request-bytes",
			Value:   server.DefaultMaxRequestBytes,
			Usage:   "requests beyond this size are truncated",
			EnvVars: []string{"USERS_MAX_REQUEST_BYTES"},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "requests per second per client IP (0 disables)",
			EnvVars: []string{"USERS_RATE_LIMIT"},
		},
		&cli.BoolFlag{
			Name:    "trust-proxy-headers",
			Usage:   "key rate limits and access logs on X-Forwarded-For / X-Real-IP",
			EnvVars: []string{"USERS_TRUST_PROXY_HEADERS"},
		},
		&cli.IntFlag{
			Name:    "rate-burst",
			Value:   server.DefaultRateBurst,
			Usage:   "rate limiter burst size",
			EnvVars: []string{"USERS_RATE_BURST"},
		},
		&cli.UintFlag{
			Name:    "breaker-failures",
			Value:   server.DefaultBreakerFailures,
			Usage:   "consecutive store failures before failing fast",
			EnvVars: []string{"USERS_BREAKER_FAILURES"},
		},
		&cli.DurationFlag{
			Name:    "breaker-timeout",
			Value:   server.DefaultBreakerTimeout,
			Usage:   "how long to fail fast before probing the store again",
			EnvVars: []string{"USERS_BREAKER_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "service-version",
			Value:   "dev",
			Usage:   "version reported by /health and /metrics",
			EnvVars: []string{"USERS_VERSION"},
		},
	}
}

// serverConfig builds the server configuration from flags. Store is set
// by the caller once the database is ready.
func serverConfig(c *cli.Context) server.Config {
	return server.Config{
		Addr:              c.String("addr"),
		Version:           c.String("service-version"),
		MaxConns:          c.Int64("max-conns"),
		ReadTimeout:       c.Duration("read-timeout"),
		WriteTimeout:      c.Duration("write-timeout"),
		MaxRequestBytes:   c.Int("max-request-bytes"),
		RateLimit:         c.Float64("rate-limit"),
		RateBurst:         c.Int("rate-burst"),
		TrustProxyHeaders: c.Bool("trust-proxy-headers"),
		BreakerFailures:   uint32(c.Uint("breaker-failures")),
		BreakerTimeout:    c.Duration("breaker-timeout"),
	}
}

func serve(c *cli.Context) error {
	dsn := c.String("database-url")
	cfg := serverConfig(c)

	// Refuse to start on bad configuration.
	if err := server.ValidateConfig(cfg, dsn); err != nil {
		return err
	}

	conn, err := store.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("db_connect_failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	gateway := store.NewPostgres(conn)
	initCtx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	err = gateway.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("schema_init_failed: %w", err)
	}
	log.Printf("service=backend msg=%q", "schema_ready")

	cfg.Store = gateway
	srv := server.New(cfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("service=backend msg=%q addr=%s version=%s", "starting", cfg.Addr, cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			return fmt.Errorf("server_error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("service=backend msg=%q", "shutting_down")
		// In-flight connections get 5 seconds to finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown_error: %w", err)
		}
		log.Printf("service=backend msg=%q", "shutdown_complete")
		return nil
	})
	return g.Wait()
}

func runMigration(c *cli.Context, direction string, fn func(string) error) error {
	log.Printf("service=backend msg=%q direction=%s", "running_migrations", direction)
	if err := fn(c.String("database-url")); err != nil {
		return fmt.Errorf("migration_failed: %w", err)
	}
	log.Printf("service=backend msg=%q direction=%s", "migrations_complete", direction)
	return nil
}
