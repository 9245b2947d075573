package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ammcore/internal/config"
	"ammcore/internal/engine"
	"ammcore/internal/ingestion"
	"ammcore/internal/observability"
	"ammcore/internal/op"
	"ammcore/internal/persistence"
	"ammcore/internal/projection"
	"ammcore/internal/query"
	"ammcore/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ammcore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if err := persistence.Migrate(ctx, db, cfg.Postgres.MigrationsDir, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealth()

	persistCh := make(chan engine.PersistItem, cfg.Engine.PersistBuffer)
	projectionCh := make(chan engine.PoolUpdate, cfg.Engine.ProjectionBuffer)

	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ammcore", Name: "persist_channel_depth",
			Help: "Items waiting in the persist channel.",
		}, func() float64 { return float64(len(persistCh)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ammcore", Name: "projection_channel_depth",
			Help: "Updates waiting in the projection channel.",
		}, func() float64 { return float64(len(projectionCh)) }),
	)

	eng := engine.New(engine.Options{
		IdempotencyWindow: cfg.Engine.IdempotencyWindow,
		KeyStore:          persistence.NewDBKeyStore(db),
		PersistCh:         persistCh,
		ProjectionCh:      projectionCh,
		Logger:            log,
		Metrics:           metrics,
	})

	snapshotter := persistence.NewSnapshotter(cfg.Snapshot.Dir, log)
	if snap, err := snapshotter.LoadLatest(); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	} else if snap != nil {
		if err := persistence.Restore(eng, *snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		log.Info().Int("pools", len(snap.Pools)).Time("taken_at", snap.TakenAt).Msg("state restored")
	}

	subscriber, err := ingestion.NewSubscriber(nc, cfg.NATS, log, metrics)
	if err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}
	publisher, err := ingestion.NewPublisher(nc, cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	if err := subscriber.EnsureStream(ctx); err != nil {
		return fmt.Errorf("ops stream: %w", err)
	}
	if err := publisher.EnsureStream(ctx); err != nil {
		return fmt.Errorf("receipts stream: %w", err)
	}

	persistWorker := persistence.NewWorker(persistence.WorkerOptions{
		Ch:           persistCh,
		Store:        persistence.NewStore(db),
		Publisher:    publisher,
		BatchSize:    cfg.Persistence.BatchSize,
		FlushTimeout: cfg.Persistence.FlushTimeout,
		MaxRetries:   cfg.Persistence.MaxRetries,
		Logger:       log,
		Metrics:      metrics,
	})
	projectionWorker := projection.NewWorker(projectionCh, db, log, metrics)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.New(query.NewService(db), publisher, health, log).Router(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Workers outlive the ingest context so they can drain during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := persistWorker.Run(workerCtx); err != nil {
			errCh <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		projectionWorker.Run(workerCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// The ingest loop is the engine goroutine. Snapshots are cut inline
	// between operations, so they always see a consistent state.
	lastSnapshot := time.Now()
	handle := func(handleCtx context.Context, operation op.Operation) error {
		if _, err := eng.Process(handleCtx, operation); err != nil {
			return err
		}
		if time.Since(lastSnapshot) >= cfg.Snapshot.Interval {
			if err := snapshotter.Write(persistence.Capture(eng, time.Now().UTC())); err != nil {
				log.Error().Err(err).Msg("snapshot write failed")
			} else {
				lastSnapshot = time.Now()
			}
		}
		return nil
	}

	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()

	ingestDone := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ingestDone <- subscriber.Run(ingestCtx, handle)
	}()

	health.SetReady(true)
	log.Info().Str("http", cfg.HTTP.Addr).Str("metrics", cfg.HTTP.MetricsAddr).Msg("ready")

	var (
		runErr        error
		ingestStopped bool
	)
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		runErr = err
		log.Error().Err(err).Msg("worker failed")
	case err := <-ingestDone:
		ingestStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			log.Error().Err(err).Msg("ingestion stopped")
		}
	}

	// Shutdown order: stop taking traffic, stop the engine, drain the
	// channels, cut a final snapshot, then stop the HTTP surface.
	health.SetReady(false)
	cancelIngest()
	if !ingestStopped {
		select {
		case <-ingestDone:
			ingestStopped = true
		case <-time.After(10 * time.Second):
			log.Warn().Msg("ingestion did not stop in time")
		}
	}

	// The engine goroutine owns the channels and the state; closing or
	// snapshotting while it may still be mid-operation would race, so both
	// happen only once it has confirmed exit.
	if ingestStopped {
		close(persistCh)
		close(projectionCh)
		if err := snapshotter.Write(persistence.Capture(eng, time.Now().UTC())); err != nil {
			log.Error().Err(err).Msg("final snapshot failed")
		}
	}
	cancelWorkers()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	wg.Wait()
	log.Info().Msg("stopped")
	return runErr
}
