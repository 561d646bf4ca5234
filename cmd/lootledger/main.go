package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"LootLedger/internal/catalog"
	"LootLedger/internal/chain"
	"LootLedger/internal/config"
	"LootLedger/internal/core"
	"LootLedger/internal/fairness"
	"LootLedger/internal/ingestion"
	"LootLedger/internal/janitor"
	"LootLedger/internal/observability"
	"LootLedger/internal/persistence"
	"LootLedger/internal/pricelock"
	"LootLedger/internal/projection"
	"LootLedger/internal/query"
	"LootLedger/internal/retry"
	"LootLedger/internal/server"
	"LootLedger/internal/txguard"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logOpts := observability.LogOptions{Level: cfg.LogLevel, File: cfg.LogFile}
	base := observability.NewBaseLogger(logOpts)
	component := func(name string) zerolog.Logger {
		return base.With().Str("component", name).Logger()
	}
	logger := component("main")
	if cfg.Draw.Secret == config.DevDrawSecret {
		logger.Warn().Msg("using the built-in dev draw secret, draws are predictable")
	}
	logger.Info().Str("env", cfg.Env).Msg("LootLedger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, component("migrate")).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations applied")

	// --- Catalog ---
	defaultPct, err := decimal.NewFromString(cfg.Draw.DefaultBuybackPercent)
	if err != nil {
		logger.Fatal().Err(err).Msg("draw.default_buyback_percent")
	}
	offerings, err := catalog.Load(cfg.CatalogPath, defaultPct)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("load catalog")
	}
	logger.Info().Int("offerings", len(offerings.Offerings())).Msg("catalog loaded")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Registries: Redis when configured, process memory otherwise ---
	var lockStore pricelock.Store = pricelock.NewMemoryStore()
	var sigStore txguard.SignatureStore = txguard.NewMemorySignatureStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis ping")
		}
		lockStore = pricelock.NewRedisStore(rdb)
		sigStore = txguard.NewRedisSignatureStore(rdb)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Redis registries enabled")
	} else {
		logger.Warn().Msg("registries are process-local, run a single instance")
	}

	locks := pricelock.NewRegistry(lockStore, component("pricelock"),
		pricelock.WithTTL(cfg.Locks.TTL),
		pricelock.WithMetrics(metrics),
	)
	guard := txguard.NewReplayGuard(sigStore, persistence.NewPostgresSignatureLookup(db), cfg.Replay.TTL, component("replay"), metrics)

	// --- Ledger RPC ---
	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.Retry.Attempts
	policy.AttemptTimeout = cfg.Retry.AttemptTimeout
	policy.InitialInterval = cfg.Retry.InitialInterval
	policy.MaxInterval = cfg.Retry.MaxInterval
	runner := retry.NewRunner(policy, component("retry"), metrics)

	rpcClient := chain.NewClient(cfg.Solana.RPCURL, cfg.Solana.RPS, cfg.Solana.Burst, component("chain"))
	validator := txguard.NewValidator(guard, cfg.Tx.MaxInstructions, component("txguard"), metrics).
		WithLedger(rpcClient, runner)

	var payments core.PaymentVerifier
	if cfg.Solana.VerifyPayment {
		payments = chain.NewPaymentVerifier(rpcClient, cfg.Solana.Treasury, runner, component("payments"))
	}

	// --- NATS ---
	var (
		js          jetstream.JetStream
		transfers   core.RewardTransferer = inventoryLog{logger: component("inventory")}
		unsigned    core.PaymentDispatcher
		publishChan chan core.CoreOutput
	)
	natsEnabled := cfg.NATS.URL != ""
	if natsEnabled {
		nc, jsCtx, err := ingestion.ConnectNATS(cfg.NATS.URL, component("nats"))
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		js = jsCtx

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure inbound streams")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}
		if err := ingestion.EnsureCommandStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure command stream")
		}
		commands := ingestion.NewCommandPublisher(js, component("commands"))
		transfers = commands
		unsigned = commands
		publishChan = make(chan core.CoreOutput, cfg.Persist.ChannelSize)
		logger.Info().Msg("NATS connected")
	} else {
		logger.Warn().Msg("nats.url empty: no payment ingestion, no outbound events, inventory commands are only logged")
	}
	dispatcher := chain.NewDispatcher(rpcClient, unsigned, component("dispatch"))

	// --- Orchestrator ---
	generator, err := fairness.NewGenerator(cfg.Draw.Secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("draw generator")
	}
	persistChan := make(chan core.CoreOutput, cfg.Persist.ChannelSize)
	projectionChan := make(chan core.CoreOutput, cfg.Persist.ChannelSize*2)

	deps := core.Deps{
		Generator:      generator,
		Catalog:        offerings,
		Payments:       payments,
		Store:          persistence.NewPostgresOutcomeStore(db),
		Locks:          locks,
		Validator:      validator,
		Transfers:      transfers,
		Dispatcher:     dispatcher,
		Runner:         runner,
		PersistChan:    persistChan,
		PublishChan:    publishChan,
		ProjectionChan: projectionChan,
		MaxTxSize:      cfg.Tx.MaxSize,
		VerifyOnChain:  cfg.Solana.VerifyOnChain,
		Logger:         component("orchestrator"),
		Metrics:        metrics,
	}
	orchestrator, err := core.NewOrchestrator(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator")
	}

	// --- Server ---
	api := &server.API{
		Settlement: orchestrator,
		Query:      query.NewQueryService(db),
		Locks:      locks,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db)
		},
		Logger:  component("api"),
		Metrics: metrics,
	}
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, api, healthChecker, component("server"))

	// --- Janitor ---
	jan := janitor.New(component("janitor"))
	if err := jan.Add("price_locks", cfg.Locks.SweepSchedule, locks); err != nil {
		logger.Fatal().Err(err).Msg("schedule lock sweep")
	}
	if err := jan.Add("replay_signatures", cfg.Replay.SweepSchedule, guard); err != nil {
		logger.Fatal().Err(err).Msg("schedule replay sweep")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, component("persistence"), metrics)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Balance projection
	projWorker := projection.NewProjectionWorker(db, projectionChan, component("projection"), metrics)
	go func() {
		projWorker.Run(ctx)
	}()

	// 3. Messaging: payment ingestion and outbound events
	var subscriber *ingestion.NATSSubscriber
	if natsEnabled {
		rawEventChan := make(chan ingestion.RawEvent, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, rawEventChan, component("nats"))
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}
		consumer := ingestion.NewPaymentConsumer(orchestrator, rawEventChan, component("payments"), metrics)
		go func() {
			errChan <- consumer.Run(ctx)
		}()

		publisher := ingestion.NewOutboundPublisher(js, publishChan, component("publisher"))
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// 4. Sweeps
	jan.Start(ctx)

	// 5. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 6. HTTP/JSON gateway
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 7. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 8. Channel gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
				if publishChan != nil {
					metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				}
			}
		}
	}()

	grpcServer.SetServing(true)
	logger.Info().
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("LootLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	grpcServer.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	jan.Stop()
	cancel()

	// The worker flushes what it buffered on cancellation.
	select {
	case <-persistDone:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence worker did not drain in time")
	}

	logger.Info().Msg("LootLedger shutdown complete")
}

// inventoryLog stands in for the inventory service when messaging is off.
type inventoryLog struct {
	logger zerolog.Logger
}

func (l inventoryLog) TransferReward(_ context.Context, t core.Transfer) (string, error) {
	l.logger.Info().Str("outcome_id", t.OutcomeID).Str("reward_id", t.Reward.ID).Msg("reward transfer (not delivered)")
	return "log:" + t.OutcomeID, nil
}

func (l inventoryLog) MarkSold(_ context.Context, t core.Transfer) error {
	l.logger.Info().Str("outcome_id", t.OutcomeID).Str("reward_id", t.Reward.ID).Msg("reward sold (not delivered)")
	return nil
}
