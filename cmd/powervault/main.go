package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PowerVault/internal/config"
	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ingestion"
	"PowerVault/internal/observability"
	"PowerVault/internal/oracle"
	"PowerVault/internal/persistence"
	"PowerVault/internal/positions"
	"PowerVault/internal/projection"
	"PowerVault/internal/query"
	"PowerVault/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("powervault")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("powervault exited")
	}
}

func run(logger zerolog.Logger) error {
	logger.Info().Msg("PowerVault starting")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("engine params: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	tickStore := persistence.NewPriceTickStore(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Observability ---
	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Oracle pools ---
	ethQuotePool, err := oracle.NewMemoryPool(cfg.WETH.Address, cfg.Quote.Address,
		cfg.InitialEthTick, cfg.GenesisTime, cfg.PoolCardinality)
	if err != nil {
		return fmt.Errorf("eth/quote pool: %w", err)
	}
	powerPerpPool, err := oracle.NewMemoryPool(cfg.WETH.Address, cfg.PowerPerp.Address,
		cfg.InitialPowerPerpTick, cfg.GenesisTime, cfg.PoolCardinality)
	if err != nil {
		return fmt.Errorf("powerperp/eth pool: %w", err)
	}
	pools := map[string]*oracle.MemoryPool{
		cfg.EthQuotePool:  ethQuotePool,
		cfg.PowerPerpPool: powerPerpPool,
	}
	tokens := core.Tokens{WETH: cfg.WETH, Quote: cfg.Quote, PowerPerp: cfg.PowerPerp}
	feed := core.NewOracleFeed(oracle.New(), ethQuotePool, powerPerpPool, tokens)
	genesis := event.Block{Number: cfg.GenesisBlock, Time: cfg.GenesisTime}
	clock := ingestion.NewChainClock(genesis)
	prices := ingestion.NewPriceApplier(pools, tickStore, clock, metrics)

	// --- Engine ---
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	engineLog := observability.NewLogger("engine")

	positionManager := positions.NewManager()
	engine, err := core.NewEngine(core.Config{
		Address:             cfg.EngineAddress,
		Owner:               cfg.Owner,
		Tokens:              tokens,
		Params:              params,
		Genesis:             genesis,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
	}, core.Dependencies{
		Feed:           feed,
		Positions:      positionManager,
		DBChecker:      dbChecker,
		Metrics:        metrics,
		Logger:         &engineLog,
		PersistChan:    persistCoreChan,
		ProjectionChan: projectionCoreChan,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// --- Snapshot restore ---
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot load failed, replaying from the start")
		snap = nil
	}
	if snap != nil {
		coreSnap, err := snap.ToCore()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		engine.RestoreFromSnapshot(coreSnap)
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	loggedHead, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("event log head: %w", err)
	}

	// --- Workers that must run during replay ---
	errChan := make(chan error, 16)
	persistWorkerChan := make(chan persistence.Output, cfg.PersistChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeOutputs(ctx, persistCoreChan, persistWorkerChan, publishChan, loggedHead, metrics)
	}()

	history := projection.NewNormalizationHistory(cfg.HistorySize)
	projLog := observability.NewLogger("projection")
	projWorker := projection.NewProjectionWorker(db, projectionCoreChan, history, metrics, projLog)
	if err := projWorker.LoadWatermark(ctx); err != nil {
		return err
	}
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// --- Replay ---
	ticks, err := loadTicks(ctx, tickStore, cfg.GenesisTime, cfg.EthQuotePool, cfg.PowerPerpPool)
	if err != nil {
		return fmt.Errorf("load price ticks: %w", err)
	}
	startSequence := engine.GetSequence()

	dbChecker.Suspend()
	replayed, err := replayEventLog(ctx, snapMgr, engine, prices, ticks, startSequence, logger)
	dbChecker.Resume()
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if replayed > 0 {
		logger.Info().Int64("replayed", replayed).Int64("sequence", engine.GetSequence()).Msg("replay complete")
	}

	clock.Reset(engine.Head())

	// After replay: the replayed commands must not find their own keys.
	recentKeys, err := dbChecker.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("idempotency warm-up failed")
	} else {
		engine.WarmLRU(recentKeys)
	}

	if snap != nil && replayed == 0 {
		var want [32]byte
		copy(want[:], snap.StateHash)
		if got := engine.GetStateHash(); got != want {
			return fmt.Errorf("state hash mismatch after restore: want %x, got %x", want, got)
		}
		logger.Info().Msg("state hash verified after snapshot restore")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	ingestLog := observability.NewLogger("ingestion")
	gateway := ingestion.NewCommandGateway(cfg.CommandQueueSize, clock, metrics, ingestLog)
	router := ingestion.NewRouter(gateway, prices, ingestLog)

	rawChan := make(chan ingestion.RawMessage, cfg.CommandQueueSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, ingestLog)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	publisher := ingestion.NewOutboundPublisher(js, publishChan, ingestion.DefaultBreakerSettings(),
		metrics, observability.NewLogger("publisher"))

	// --- HTTP API ---
	api := server.NewAPI(server.APIConfig{
		Commands:  gateway,
		Engine:    engine,
		Queries:   query.NewQueryService(db),
		History:   history,
		Positions: positionManager,
		Admin: server.AdminFuncs{
			Snapshot: func(ctx context.Context) (int64, error) {
				return takeSnapshot(ctx, engine, snapMgr, metrics)
			},
			Rebuild: func(ctx context.Context) error {
				return projection.RebuildProjections(ctx, db, projLog)
			},
		},
		Metrics:        metrics,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		StrictEthPrice: feed.EthPriceStrict,
	}, observability.NewLogger("api"))
	srv := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, api, healthChecker, observability.NewLogger("server"))

	healthChecker.AddCheck("postgres", func() error {
		pingCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		return db.PingContext(pingCtx)
	})
	healthChecker.AddCheck("nats", func() error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	// --- Goroutines ---
	go func() {
		errChan <- gateway.Run(ctx, engine)
	}()
	go func() {
		errChan <- router.Run(ctx, rawChan)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()
	go runPeriodicSnapshots(ctx, engine, snapMgr, cfg.SnapshotInterval, metrics, logger)
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr, logger)
	}()

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("PowerVault ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()
	cancel()
	<-bridgeDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if seq, err := takeSnapshot(shutdownCtx, engine, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("PowerVault shutdown complete")
	return nil
}

// bridgeOutputs converts engine outputs into event-log rows and outbound
// events. Outputs already in the log (startup replay) are skipped.
func bridgeOutputs(
	ctx context.Context,
	in <-chan core.CoreOutput,
	persistOut chan<- persistence.Output,
	publishOut chan<- ingestion.PublishableEvent,
	loggedHead int64,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			if out.Envelope.Sequence <= loggedHead {
				continue
			}
			metrics.SetChannelMetrics("core_persist", len(in))

			select {
			case persistOut <- persistence.FromCoreOutput(out):
			case <-ctx.Done():
				return
			}

			select {
			case publishOut <- ingestion.NewPublishableEvent(out):
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
