package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/libs/config"
	"github.com/md-rashed-zaman/crewdispatch/libs/db"
	"github.com/md-rashed-zaman/crewdispatch/libs/httpx"
	"github.com/md-rashed-zaman/crewdispatch/libs/kafkax"
	"github.com/md-rashed-zaman/crewdispatch/libs/metrics"
	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/libs/resilience"
	"github.com/md-rashed-zaman/crewdispatch/libs/runtime"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/commit"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/handlers"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/outbox"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/reschedule"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/scoring"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/search"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/slottoken"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/storage"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "dispatch-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if err := run(service, logger); err != nil {
		logger.Error("service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8090")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := metrics.New("dispatch")
	domainMetrics := telemetry.NewMetrics(reg)

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer pool.Close()
	if config.Bool("DB_MIGRATE", false) {
		if err := storage.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	breakerCfg, err := resilience.BreakerConfigFromEnv("store")
	if err != nil {
		return err
	}
	breakerCfg.Benign = storage.IsBenign
	breakerCfg.OnStateChange = reg.ObserveBreaker
	store := storage.NewStore(pool, resilience.NewBreaker(breakerCfg, logger))

	searchCfg, err := searchConfigFromEnv()
	if err != nil {
		return err
	}
	capacityHours, err := config.Int("UTILIZATION_WEEKLY_CAPACITY_HOURS", 40)
	if err != nil {
		return err
	}
	tokenSecret, err := config.RequiredString("COMMIT_TOKEN_SECRET")
	if err != nil {
		return err
	}
	tokenTTL, err := config.Duration("COMMIT_TOKEN_TTL", slottoken.DefaultTTL)
	if err != nil {
		return err
	}
	signer, err := slottoken.NewSigner(tokenSecret, tokenTTL)
	if err != nil {
		return err
	}

	resolver := availability.NewResolver(store, logger, availability.WithMetrics(domainMetrics))
	estimator := utilization.NewEstimator(store, time.Duration(capacityHours)*time.Hour, logger, domainMetrics)
	scorer := scoring.NewScorer(store, resolver, estimator, scoring.DefaultWeights(), logger)
	engine := search.NewEngine(store, resolver, estimator, searchCfg, logger, search.WithMetrics(domainMetrics))
	generator := reschedule.NewGenerator(store, engine, signer, logger)

	outboxRepo := outbox.NewRepository()
	commits := commit.NewService(commit.NewPostgresRunner(pool, store, outboxRepo), signer, estimator, logger, domainMetrics)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	retention, err := config.Duration("OUTBOX_RETENTION", 7*24*time.Hour)
	if err != nil {
		return err
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, reg, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: retention,
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return err
	}
	var rateLimitMW httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		limiter := httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "dispatch-rl"))
		rateLimitMW = httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rateLimitMW = httpx.RateLimit(httpx.NewMemoryLimiter(limitPerMinute, time.Minute), logger, true)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	if err := startGrpcServer(ctx, logger, service, checks); err != nil {
		return err
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", reg.Handler())
	handlers.NewDispatchHandler(resolver, generator, scorer, estimator, store, commits, logger).Register(mux, reg)

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
		httpx.WithTenant("/api/"),
		rateLimitMW,
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "dispatch"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.Serve(ctx, srv, logger, 10*time.Second)
}

func searchConfigFromEnv() (search.Config, error) {
	cfg := search.DefaultConfig()
	var err error
	if cfg.Granularity, err = config.Duration("SEARCH_GRANULARITY", cfg.Granularity); err != nil {
		return cfg, err
	}
	if cfg.MaxResults, err = config.Int("SEARCH_MAX_RESULTS", cfg.MaxResults); err != nil {
		return cfg, err
	}
	if cfg.Suggested, err = config.Int("SEARCH_SUGGESTED", cfg.Suggested); err != nil {
		return cfg, err
	}
	if cfg.Concurrency, err = config.Int("SEARCH_CONCURRENCY", cfg.Concurrency); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = config.Duration("SEARCH_TIMEOUT", cfg.Timeout); err != nil {
		return cfg, err
	}
	if cfg.MaxSearchDays, err = config.Int("SEARCH_MAX_DAYS", cfg.MaxSearchDays); err != nil {
		return cfg, err
	}
	return cfg, nil
}
