package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/realleaders/portal/pkg/audit"
	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/config"
	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/middleware"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/web"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Portal exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	// Tracing and metrics
	telemetry, err := observability.InitTelemetry(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	shutdown.Register("telemetry", telemetry.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// Storage
	store, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	shutdown.Register("client storage", func(context.Context) error { return store.Close() })

	tabBackend := kvstore.NewLRUBackend(cfg.Storage.SessionCapacity, cfg.Storage.SessionTTL)
	shutdown.Register("tab storage", func(context.Context) error { return tabBackend.Close() })

	// Routes
	prefixes := cfg.Session.ProtectedPrefixes
	defaultRoute := cfg.Session.DefaultRoute
	if cfg.Session.RoutesFile != "" {
		routes, err := config.LoadRoutes(cfg.Session.RoutesFile)
		if err != nil {
			return err
		}
		prefixes = routes.Protected
		if routes.DefaultRoute != "" {
			defaultRoute = routes.DefaultRoute
		}
	}
	protected := sso.NewRoutes(prefixes)

	// Refresh timers
	clk := clock.New()
	if cfg.Session.UseCron {
		c := cron.New()
		c.Start()
		clk = clock.NewCron(c)
		shutdown.Register("cron", func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	identityClient, err := identity.NewClient(identity.Config{
		HostURL:    cfg.Identity.HostURL,
		APIBaseURL: cfg.Identity.APIBaseURL,
		Timeout:    cfg.Identity.RequestTimeout,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity client: %w", err)
	}

	loginLimiter := newLoginLimiter(ctx, cfg.Server, store, clk)

	auditLogger, err := newAuditLogger(cfg.Observability, logger)
	if err != nil {
		return err
	}
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })

	server := web.NewServer(web.Deps{
		Client:   store.backend,
		Session:  tabBackend,
		Identity: identityClient,
		Routes:   protected,
		Clock:    clk,
		Logger:   logger,
		Metrics:  metrics,

		LoginLimiter: loginLimiter,
		Audit:        auditLogger,
	}, web.Config{
		AppBaseURL:      cfg.Identity.AppBaseURL,
		LoginPath:       cfg.Session.LoginPath,
		DefaultRoute:    defaultRoute,
		RefreshInterval: cfg.Session.RefreshInterval,
		ReloadDelay:     cfg.Session.ReloadDelay,
		LogoutTimeout:   cfg.Identity.LogoutTimeout,
		WizardSteps:     cfg.Session.WizardSteps,
		MaxTabs:         cfg.Session.MaxTabs,
		TabTTL:          cfg.Session.TabTTL,
		SecureCookies:   cfg.Server.SecureCookies,
	})
	shutdown.Register("sessions", func(context.Context) error {
		server.Close()
		return nil
	})

	appServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthRouter := mux.NewRouter()
	checker := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion)
	if store.db != nil {
		checker.Require("sqlite", observability.SQLProbe(store.db))
	}
	if store.redis != nil {
		checker.Require("redis", observability.RedisProbe(store.redis))
	}
	// pages keep serving cached users while the identity host is down
	checker.Observe("identity", observability.HTTPProbe(nil, cfg.Identity.HostURL))
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":    appServer.Addr,
			"storage": cfg.Storage.Type,
			"cron":    cfg.Session.UseCron,
		}).Info("Starting portal server")
		return listen(appServer)
	})

	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return listen(healthServer)
	})

	if cfg.Session.RoutesFile != "" {
		g.Go(func() error {
			return config.WatchRoutes(gctx, cfg.Session.RoutesFile, logger, func(routes *config.Routes) {
				protected.Replace(routes.Protected)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP servers")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(appServer.Shutdown(sctx), healthServer.Shutdown(sctx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Portal stopped")
	return nil
}

// newLoginLimiter shares sign-in throttling across replicas when Redis is
// available and keeps it in process otherwise
func newLoginLimiter(ctx context.Context, cfg config.ServerConfig, store *storage, clk clock.Clock) middleware.Limiter {
	if cfg.LoginRateLimit <= 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.LoginRateLimit,
		WindowDuration:    cfg.LoginRateWindow,
		BurstSize:         cfg.LoginRateBurst,
	}
	if store.redis != nil {
		return middleware.NewDistributedRateLimiter(store.redis, limits, "rl:ratelimit")
	}
	limiter := middleware.NewRateLimiter(limits, clk)
	limiter.StartCleanup(ctx)
	return limiter
}

// newAuditLogger mirrors audit events into the application log and, when a
// directory is configured, into a rotating JSON-lines file
func newAuditLogger(cfg config.ObservabilityConfig, logger *observability.Logger) (audit.Logger, error) {
	mirror := audit.NewLogrusLogger(logger)
	if cfg.AuditDir == "" {
		return mirror, nil
	}
	file, err := audit.NewFileLogger(audit.FileLoggerConfig{
		BasePath: cfg.AuditDir,
		Rotate:   true,
		MaxSize:  cfg.AuditMaxSize,
		MaxFiles: cfg.AuditMaxFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return audit.NewMultiLogger(file, mirror), nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// storage is the browser-wide backend plus the handles the health checker pings
type storage struct {
	backend kvstore.Backend
	db      *sql.DB
	redis   *redis.Client
}

// Close stops the backend and then its client
func (s *storage) Close() error {
	err := s.backend.Close()
	if s.redis != nil {
		err = errors.Join(err, s.redis.Close())
	}
	return err
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *observability.Logger) (*storage, error) {
	switch cfg.Type {
	case config.StorageRedis:
		client, err := kvstore.NewRedisClient(ctx, kvstore.RedisOptions{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			return nil, err
		}
		backend, err := kvstore.NewRedisBackend(ctx, client, cfg.RedisPrefix, cfg.RedisChannel, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		logger.WithField("channel", cfg.RedisChannel).Info("Using Redis storage")
		return &storage{backend: backend, redis: client}, nil

	case config.StorageSQLite:
		backend, err := kvstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("Using SQLite storage")
		return &storage{backend: backend, db: backend.DB()}, nil

	default:
		logger.Info("Using in-memory storage")
		return &storage{backend: kvstore.NewMemoryBackend()}, nil
	}
}
