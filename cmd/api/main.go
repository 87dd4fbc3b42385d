package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/cache"
	"offer-chain-api/internal/config"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/events"
	"offer-chain-api/internal/features"
	"offer-chain-api/internal/handler"
	"offer-chain-api/internal/logging"
	"offer-chain-api/internal/middleware"
	"offer-chain-api/internal/service"
	"offer-chain-api/internal/tracing"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.App.Env,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Driver == database.DriverPostgres && cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, cfg.Cache.Enabled, "Read chains through the Redis cache")
	flags.Register(features.FeatureEventHooksEnabled, cfg.App.EventHooks, "Publish chain lifecycle events")
	flags.Register(features.FeatureDevErrorDetails, cfg.App.IsDevelopment(), "Return internal error details to clients")

	var chainCache cache.Cache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   "offer-chain:",
		})
		if err != nil {
			// The service works without a cache; reads go to the database.
			logger.Warn("redis unavailable, chain cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
			flags.Set(features.FeatureCacheEnabled, false)
		} else {
			defer redisCache.Close()
			chainCache = redisCache
		}
	}

	bus := events.NewManager(cfg.App.EventHooks, logger)
	bus.SubscribeAudit(logger)
	defer bus.Shutdown()

	svc := service.NewServiceWithOptions(db, service.Options{
		Cache:    chainCache,
		CacheTTL: cfg.CacheTTL(),
		Events:   bus,
		Features: flags,
		Tracer:   tracer,
		Logger:   logger,
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger,
		Features:    flags,
	})

	routerOpts := handler.RouterOptions{
		AllowedOrigins: splitOrigins(cfg.Security.AllowedOrigins),
		Verifier:       auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AuthEnabled:    cfg.Auth.Enabled,
		Tracer:         tracer.Tracer(),
		Logger:         logger,
	}
	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		routerOpts.RateLimiter = rateLimiter
	}
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled, all requests run as superadmin")
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           handler.NewRouter(h, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.EnableTLS {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", server.Addr,
			"tls", cfg.Server.EnableTLS,
			"database", cfg.Database.Driver,
			"auth", cfg.Auth.Enabled,
			"cache", flags.IsEnabled(features.FeatureCacheEnabled),
			"rate_limit", cfg.RateLimit.Rate,
			"rate_window_seconds", cfg.RateLimit.Window,
		)

		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
