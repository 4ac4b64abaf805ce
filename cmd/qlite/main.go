// qlite server
//
// Single-binary SQS-compatible message queue backed by SQLite. Serves the
// SQS wire protocol, a JSON admin API, health endpoints and Prometheus
// metrics on one port.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/api"
	"github.com/qlite/qlite/internal/common/health"
	"github.com/qlite/qlite/internal/common/lifecycle"
	"github.com/qlite/qlite/internal/common/metrics"
	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/engine"
	"github.com/qlite/qlite/internal/notify"
	"github.com/qlite/qlite/internal/retention"
	"github.com/qlite/qlite/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("QLITE_DEV") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("Starting qlite")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	st, err := store.Open(cfg.Database.Path, store.Options{
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
		PoolSize:      cfg.Database.ConnectionPoolSize,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	log.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	notifier := notify.New()
	eng := engine.New(st, notifier, cfg.Queues)

	checker := health.NewChecker()
	checker.AddReadinessCheck("database", st.Ping)

	shutdown := lifecycle.NewManager()

	// Background workers share one context cancelled in the workers phase.
	workersCtx, stopWorkers := context.WithCancel(context.Background())

	scheduler := retention.NewScheduler(eng, cfg.Retention)
	scheduler.Start()

	go notifier.RunReaper(workersCtx, time.Minute)
	if cfg.Metrics.Enabled {
		go collectServiceMetrics(workersCtx, st, cfg.Metrics.CollectionIntervalSeconds)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewServer(eng, cfg, checker).Router(),
	}

	shutdown.Register(lifecycle.Hook{
		Name:  "http-server",
		Phase: lifecycle.PhaseHTTP,
		Shutdown: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	shutdown.Register(lifecycle.Hook{
		Name:  "retention-scheduler",
		Phase: lifecycle.PhaseWorkers,
		Shutdown: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
	shutdown.Register(lifecycle.Hook{
		Name:  "background-workers",
		Phase: lifecycle.PhaseWorkers,
		Shutdown: func(ctx context.Context) error {
			stopWorkers()
			return nil
		},
	})
	shutdown.Register(lifecycle.Hook{
		Name:  "database",
		Phase: lifecycle.PhaseDatabase,
		Shutdown: func(ctx context.Context) error {
			return st.Close()
		},
	})

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("baseUrl", cfg.QueueBaseURL()).
			Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			shutdown.Shutdown()
		}
	}()

	if err := shutdown.Run(); err != nil {
		os.Exit(1)
	}
}

// collectServiceMetrics refreshes the service-level gauges on a fixed
// cadence.
func collectServiceMetrics(ctx context.Context, st *store.Store, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	collect := func() {
		queues, err := st.ListQueues(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Metrics collection failed")
			return
		}
		metrics.QueuesTotal.Set(float64(len(queues)))
	}

	collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collect()
		}
	}
}
