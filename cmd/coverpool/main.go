package main

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/config"
	"CoverPool/internal/core"
	"CoverPool/internal/custody"
	"CoverPool/internal/ingestion"
	"CoverPool/internal/keeper"
	"CoverPool/internal/observability"
	"CoverPool/internal/persistence"
	"CoverPool/internal/projection"
	"CoverPool/internal/query"
	"CoverPool/internal/recorder"
	"CoverPool/internal/server"
	"CoverPool/migrations"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	persistChanSize     = 1024
	projectionChanSize  = 2048
	publishChanSize     = 4096
	rawCommandChanSize  = 4096
	persistBatchSize    = 50
	persistFlushTimeout = 10 * time.Millisecond
	replayBatchSize     = 1000
	idempotencyCapacity = 1_000_000
	snapshotCheckEvery  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv(config.PathEnv), "path to the YAML config file")
	flag.Parse()

	logger := observability.NewLogger("coverpool")
	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("CoverPool exited")
	}
	logger.Info().Msg("CoverPool shutdown complete")
}

func run(configPath string, logger zerolog.Logger) error {
	logger.Info().Str("config", configPath).Msg("CoverPool starting")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	params, err := cfg.PoolParams()
	if err != nil {
		return err
	}
	faucet, err := cfg.FaucetBalances()
	if err != nil {
		return err
	}

	// --- Context with graceful shutdown ---
	// ctx stops intake (API, NATS, keeper); pipeCtx stops the output
	// pipeline once everything applied has been handed to it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	defer cancelPipe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	var migrationFS fs.FS = migrations.FS
	if cfg.Postgres.MigrationsDir != "" {
		migrationFS = os.DirFS(cfg.Postgres.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, migrationFS, logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops
	persistCoreChan := make(chan core.CoreOutput, persistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, projectionChanSize)
	persistWorkerChan := make(chan persistence.Output, persistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, projectionChanSize)
	var publishChan chan ingestion.PublishableEvent

	// --- Engine ---
	wallets := custody.NewWallets()
	clk := clock.NewWallClock(cfg.Pool.WeekOffset)
	coreLogger := observability.NewLogger("core")
	engine := core.New(core.Config{
		DefaultParams:       params,
		Transfer:            wallets,
		Clock:               clk,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db),
		IdempotencyCapacity: idempotencyCapacity,
		Metrics:             metrics,
		Logger:              &coreLogger,
		PersistChan:         persistCoreChan,
		ProjectionChan:      projectionCoreChan,
	})

	// --- Recovery: load snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	stats, err := persistence.Recover(ctx, snapMgr, engine, replayBatchSize, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().
		Int64("snapshot_sequence", stats.SnapshotSequence).
		Int64("replayed", stats.Replayed).
		Int64("next_sequence", engine.GetSequence()).
		Dur("took", stats.Duration).
		Msg("state recovered")

	// --- Custody ---
	wallets.SetVault(vaultHolding(engine))
	for id, amount := range faucet {
		wallets.Mint(id, amount)
	}

	// --- Workers ---
	errChan := make(chan error, 16)
	var intake, pipeline sync.WaitGroup
	spawn := func(wg *sync.WaitGroup, name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, persistBatchSize, persistFlushTimeout, metrics, observability.NewLogger("persistence"))
	spawn(&pipeline, "persistence worker", func() error { return persistWorker.Run(pipeCtx) })

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics, observability.NewLogger("projection"))
	spawn(&pipeline, "projection worker", func() error { return projWorker.Run(pipeCtx) })

	// --- NATS ---
	var (
		nc         *nats.Conn
		subscriber *ingestion.NATSSubscriber
	)
	if cfg.NATS.Enabled {
		natsLogger := observability.NewLogger("ingestion")
		conn, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		nc = conn
		defer nc.Close()
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}

		rawChan := make(chan ingestion.RawCommand, rawCommandChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		dispatcher := ingestion.NewDispatcher(engine, clk, metrics, natsLogger)
		spawn(&intake, "dispatcher", func() error { return dispatcher.Run(ctx, rawChan) })

		publishChan = make(chan ingestion.PublishableEvent, publishChanSize)
		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, natsLogger)
		spawn(&pipeline, "outbound publisher", func() error { return publisher.Run(pipeCtx) })
	}

	// Core output bridge: engine output -> persistence rows, projection
	// entries and outbound events
	spawn(&pipeline, "output bridge", func() error {
		bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics)
		return nil
	})

	// --- Bootstrap ---
	commands := ingestion.NewCommandService(engine, clk, metrics, observability.NewLogger("commands"))
	if err := bootstrap(ctx, cfg, engine, logger); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// --- API ---
	var admin server.Admin
	if cfg.Server.Admin {
		admin = server.NewStoreAdmin(db, engine, metrics, observability.NewLogger("admin"))
	}
	srv, err := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Query:         query.NewQueryService(engine, db),
		Commands:      commands,
		Admin:         admin,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return err
	}
	spawn(&intake, "grpc server", func() error { return srv.StartGRPC(ctx) })
	spawn(&intake, "http server", func() error { return srv.StartHTTP(ctx) })

	// --- Keeper ---
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Recorder.SQLitePath != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		rec = sqliteRec
	}
	defer rec.Close()

	var kpr *keeper.Keeper
	if cfg.Keeper.Enabled {
		kpr = keeper.New(ctx, engine, commands, rec, cfg.KeeperID(), metrics, observability.NewLogger("keeper"))
		if err := kpr.Register(cfg.Keeper.Cron); err != nil {
			return err
		}
		kpr.Start()
		if cfg.Keeper.RunOnStart {
			go func() {
				if _, err := kpr.RunNow(ctx); err != nil {
					logger.Error().Err(err).Msg("keeper run on start failed")
				}
			}()
		}
	}

	// --- Periodic snapshots ---
	spawn(&intake, "snapshots", func() error {
		persistence.RunPeriodicSnapshots(ctx, engine, snapMgr, cfg.Postgres.SnapshotInterval, snapshotCheckEvery, metrics, observability.NewLogger("snapshot"))
		return nil
	})

	// --- Prometheus metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	spawn(&intake, "metrics server", func() error {
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Ready once every goroutine has started
	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("next_sequence", engine.GetSequence()).
		Int64("week", clk.CurrentWeek()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("CoverPool ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, drain the output pipeline, then take a final snapshot
	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	if kpr != nil {
		kpr.Stop()
	}
	cancel()
	if !waitTimeout(&intake, 30*time.Second) {
		logger.Warn().Msg("intake did not stop within 30s")
	}

	// Nothing emits any more; the bridge drains and closes its outputs
	// and the workers flush what is left.
	close(persistCoreChan)
	close(projectionCoreChan)
	if !waitTimeout(&pipeline, 30*time.Second) {
		logger.Warn().Msg("output pipeline did not drain within 30s")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := finalSnapshot(shutdownCtx, engine, snapMgr, metrics, logger); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	cancelPipe()

	return runErr
}
