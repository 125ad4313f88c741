package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/workoutstats/internal/api"
	"example.com/workoutstats/internal/auth"
	"example.com/workoutstats/internal/cache"
	"example.com/workoutstats/internal/config"
	"example.com/workoutstats/internal/domain"
	"example.com/workoutstats/internal/outbox"
	"example.com/workoutstats/internal/persistence/memory"
	persistence "example.com/workoutstats/internal/persistence/postgres"
	httptransport "example.com/workoutstats/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, "workout-stats-api")
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store      domain.LedgerStore
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.NewStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = persistence.NewRepository(pool)

		if cfg.OutboxEnabled {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		}
	}

	opts := []domain.Option{domain.WithLogger(logger.With("component", "stats-service"))}
	if cfg.RedisAddress != "" {
		client := cache.NewRedisClient(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		opts = append(opts,
			domain.WithCache(cache.NewLedgerCache(client, cfg.LedgerCacheTTL)),
			domain.WithSessions(cache.NewSessionStore(client, cfg.SessionTTL)),
		)
	} else {
		opts = append(opts, domain.WithSessions(cache.NewMemorySessionStore()))
	}
	service := domain.NewService(store, opts...)

	mux := http.NewServeMux()
	api.NewHandler(service).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	proxies, err := httptransport.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}
	ipLimiter := httptransport.NewRateLimiter(cfg.IPRateLimitRPS, cfg.IPRateLimitBurst, httptransport.ByClientIP(proxies))
	subjectLimiter := httptransport.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, httptransport.BySubject)
	go ipLimiter.Run(ctx)
	go subjectLimiter.Run(ctx)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, nil)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		httptransport.CORS(cfg.CORSOrigins),
		ipLimiter.Middleware,
		authMiddleware.Wrap,
		subjectLimiter.Middleware,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("workout-stats listening", "address", cfg.HTTPAddress, "backend", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
