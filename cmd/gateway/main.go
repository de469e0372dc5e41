// v1
// cmd/gateway/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/psgoularte/DePIN-Sparked/internal/analysis"
	"github.com/psgoularte/DePIN-Sparked/internal/api"
	"github.com/psgoularte/DePIN-Sparked/internal/breaker"
	"github.com/psgoularte/DePIN-Sparked/internal/challenge"
	"github.com/psgoularte/DePIN-Sparked/internal/config"
	"github.com/psgoularte/DePIN-Sparked/internal/freshness"
	"github.com/psgoularte/DePIN-Sparked/internal/ledger"
	"github.com/psgoularte/DePIN-Sparked/internal/logging"
	"github.com/psgoularte/DePIN-Sparked/internal/merkle"
	"github.com/psgoularte/DePIN-Sparked/internal/observability"
	"github.com/psgoularte/DePIN-Sparked/internal/publish"
	"github.com/psgoularte/DePIN-Sparked/internal/ratelimit"
	"github.com/psgoularte/DePIN-Sparked/internal/readings"
	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/telemetry"
)

func main() {
	lg, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer lg.Close()
	log := lg.Logger

	cfg := config.FromEnv()
	log.Info("config loaded",
		"bind", cfg.BindAddr, "ledger", cfg.LedgerBaseURL,
		"rateWindow", cfg.RateLimitWindow, "maxDataAge", cfg.MaxDataAge,
		"batchWindow", cfg.BatchWindow, "kafka", cfg.KafkaEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	devices, anchors, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}

	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("redis unreachable", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
	}

	var limiter ratelimit.Limiter
	var readingStore readings.Store
	var proofStore merkle.ProofStore
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient)
		readingStore = readings.NewRedisStore(redisClient)
		proofStore = merkle.NewRedisProofStore(redisClient)
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory stores")
		limiter = ratelimit.NewMemoryLimiter()
		readingStore = readings.NewMemoryStore()
		proofStore = merkle.NewMemoryProofStore()
	}

	brk := breaker.New("ledger",
		breaker.Config{MaxFailures: cfg.BreakerMaxFailures, ResetTimeout: cfg.BreakerResetTimeout},
		log, nil)
	brk.OnStateChange(func(state breaker.State) {
		metrics.SetCircuitBreakerState("ledger", breakerGauge(state))
	})
	ledgerClient := ledger.New(cfg.LedgerBaseURL, cfg.LedgerTimeout, brk, log)

	engine := merkle.NewEngine(
		merkle.EngineConfig{BatchWindow: cfg.BatchWindow, ProofTTL: cfg.ReadingTTL},
		ledgerClient, proofStore, anchors, log)
	engine.SetMetrics(metrics)
	go engine.Run(ctx)

	publisher, err := publish.NewPublisher(publish.Config{
		Enabled:       cfg.KafkaEnabled,
		Topic:         cfg.KafkaTopic,
		Brokers:       cfg.KafkaBrokers,
		Acks:          cfg.KafkaAcks,
		SchemaVersion: "1",
	}, log, metrics)
	if err != nil {
		log.Error("publisher init failed", "err", err)
		os.Exit(1)
	}
	if err := publisher.Start(ctx); err != nil {
		log.Error("publisher start failed", "err", err)
		os.Exit(1)
	}

	classifier := analysis.New(analysis.Config{
		Enabled: cfg.AnalysisEnabled,
		BaseURL: cfg.AnalysisURL,
		Token:   cfg.AnalysisToken,
		Timeout: cfg.AnalysisTimeout,
	}, log)

	pipeline := telemetry.NewService(
		telemetry.Config{
			RateWindow: cfg.RateLimitWindow,
			ReadingTTL: cfg.ReadingTTL,
			Freshness:  freshness.Policy{MaxAge: cfg.MaxDataAge, FutureTolerance: cfg.FutureTolerance},
		},
		devices, ledgerClient, limiter, engine, readingStore, publisher, classifier, metrics, log)

	h := &api.Handlers{
		Log:          log,
		Devices:      devices,
		Challenges:   challenge.NewManager(devices, cfg.ChallengeTTL),
		Minter:       ledgerClient,
		Pipeline:     pipeline,
		Proofs:       proofStore,
		ChallengeTTL: cfg.ChallengeTTL,
	}
	srv := api.NewServer(cfg.BindAddr, log, h, metrics)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server error", "err", err)
		}
	}()
	log.Info("gateway started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	cancel()
	if err := publisher.Stop(shutdownCtx); err != nil {
		log.Error("publisher stop error", "err", err)
	}
	engine.Flush(shutdownCtx)
	log.Info("gateway stopped")
}

// breakerGauge maps breaker states onto the cb_state gauge encoding
// (0 closed, 1 half-open, 2 open).
func breakerGauge(s breaker.State) float64 {
	switch s {
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	default:
		return 0
	}
}

func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (registry.Store, merkle.AnchorStore, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN not set, using in-memory registry")
		return registry.NewMemoryStore(), merkle.NewMemoryAnchorStore(), nil
	}
	devices, err := registry.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	anchors, err := merkle.NewPostgresAnchorStore(ctx, devices.DB())
	if err != nil {
		return nil, nil, err
	}
	return devices, anchors, nil
}
