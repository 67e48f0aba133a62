package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callerid-gateway/callerid/application"
	"callerid-gateway/callerid/domain"
	"callerid-gateway/callerid/infra"
	"callerid-gateway/callerid/infra/postgres"
	"callerid-gateway/callerid/infra/postgres/migrations"
	"callerid-gateway/callerid/infra/sqlite"
	"callerid-gateway/config"
	"callerid-gateway/logging"
	"callerid-gateway/transport/httpapi"
)

func main() {
	configFile := flag.String("config", "", "caminho do config.yaml (opcional)")
	envFile := flag.String("env", ".env", "arquivo .env (opcional)")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// catalogBackend junta o catálogo escolhido com seu health check e o fechamento.
type catalogBackend struct {
	catalog domain.Catalog
	audit   domain.EventSink
	history httpapi.HistoryReader
	ping    httpapi.HealthCheck
	close   func()
}

func openCatalog(ctx context.Context, cfg config.Config, logger *zap.Logger) (catalogBackend, error) {
	switch cfg.CatalogDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return catalogBackend{}, err
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return catalogBackend{}, err
		}
		logger.Info("catalog: postgres", zap.Int32("max_conns", pool.Config().MaxConns))
		audit := postgres.NewAuditLog(pool)
		return catalogBackend{
			catalog: postgres.NewCatalog(pool),
			audit:   audit,
			history: audit,
			ping:    pool.Ping,
			close:   pool.Close,
		}, nil

	case config.DriverSQLite:
		cat, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return catalogBackend{}, err
		}
		logger.Info("catalog: sqlite", zap.String("path", cfg.SQLitePath))
		return catalogBackend{
			catalog: cat,
			ping:    cat.Ping,
			close:   func() { _ = cat.Close() },
		}, nil

	default:
		logger.Warn("catalog: memory (numbers are lost on restart)")
		return catalogBackend{catalog: infra.NewMemoryCatalog(), close: func() {}}, nil
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	backend, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	requestLog := infra.NewRedisRequestLog(rdb,
		infra.WithRequestLogKey(cfg.RedisPrefix+":recent_requests"),
		infra.WithRequestLogLimit(cfg.RequestLogLimit),
	)
	sinks := []domain.EventSink{requestLog, backend.audit}

	if cfg.NATSURL != "" {
		nc, err := infra.ConnectNATS(cfg.NATSURL, "callerid-gateway", func(msg string, err error) {
			logger.Warn(msg, zap.Error(err))
		})
		if err != nil {
			return err
		}
		defer nc.Close()
		sinks = append(sinks, infra.NewNATSSink(nc, cfg.NATSSubject))
		logger.Info("events: nats", zap.String("url", cfg.NATSURL), zap.String("subject", cfg.NATSSubject))
	}

	events := infra.NewFanoutSink(sinks...)
	logger.Info("event sinks ready", zap.Int("sinks", events.Len()))

	stats := infra.NewRedisStatsStore(rdb,
		infra.WithStatsPrefix(cfg.RedisPrefix+":stats"),
		infra.WithStatsTTL(cfg.StatsTTL),
		infra.WithStatsBucket("minute"),
	)

	store := infra.NewRedisStore(rdb, infra.WithScanCount(cfg.RedisScanCount))
	co := application.NewCoordinator(backend.catalog, store,
		application.WithLogger(logger),
		application.WithKeyPrefix(cfg.RedisPrefix),
		application.WithReservationTTL(cfg.ReservationTTL),
		application.WithCandidatePageSize(cfg.CandidatePageSize),
		application.WithAgentRateLimit(cfg.AgentRateLimitPerMin),
		application.WithOpTimeout(cfg.StoreOpTimeout),
		application.WithNumberDefaults(application.NumberDefaults{
			DailyLimit:      cfg.DefaultDailyLimit,
			HourlyLimit:     cfg.DefaultHourlyLimit,
			CooldownSeconds: int(cfg.DefaultCooldown / time.Second),
		}),
		application.WithEventSink(events),
		application.WithStats(stats),
	)

	if cfg.SeedFile != "" {
		res, err := infra.LoadSeedFile(ctx, cfg.SeedFile, co, logger)
		if err != nil {
			return err
		}
		logger.Info("seed applied", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
	}
	if cfg.PreloadRotation {
		loaded, err := co.PreloadRotation(ctx)
		if err != nil {
			return err
		}
		logger.Info("rotation preload", zap.Bool("rebuilt", loaded))
	}

	var guard *httpapi.ClientLimiterStore
	if cfg.IPRatePerMin > 0 {
		guard = httpapi.NewClientLimiterStore(cfg.IPRatePerMin, cfg.IPRateBurst)
		guard.StartJanitor(ctx)
	}

	handlerOpts := []httpapi.HandlerOption{
		httpapi.WithLogger(logger),
		httpapi.WithStatsReader(stats),
		httpapi.WithRecentLog(requestLog),
		httpapi.WithMinuteCounter(stats),
		httpapi.WithHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}
	if backend.ping != nil {
		handlerOpts = append(handlerOpts, httpapi.WithHealthCheck(cfg.CatalogDriver, backend.ping))
	}
	if backend.history != nil {
		handlerOpts = append(handlerOpts, httpapi.WithHistory(backend.history))
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewRouter(httpapi.NewHandler(co, handlerOpts...), httpapi.RouterConfig{
			ClientLimiter:      guard,
			ClientKey:          httpapi.ClientKey(cfg.ClientKeyHeader, cfg.TrustXFF),
			ConcurrencyMax:     cfg.ConcurrencyMax,
			ConcurrencyTimeout: cfg.ConcurrencyTimeout,
			Logger:             logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("catalog", cfg.CatalogDriver),
		zap.Duration("reservation_ttl", cfg.ReservationTTL),
		zap.Int("agent_rate_limit_per_min", cfg.AgentRateLimitPerMin),
		zap.Float64("ip_rate_per_min", cfg.IPRatePerMin),
		zap.Int("concurrency_max", cfg.ConcurrencyMax),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
