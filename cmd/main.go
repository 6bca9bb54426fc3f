package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"inventory-analytics-service/internal/analytics"
	"inventory-analytics-service/internal/api"
	"inventory-analytics-service/internal/config"
	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/store"
)

func main() {
	logging.Info().Msg("Starting service...")

	// --- Configuration Loading ---
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Error loading configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})

	// --- Store Connection ---
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	if d := cfg.ConnectTimeout(); d > 0 {
		connectCtx, cancelConnect = context.WithTimeout(context.Background(), d)
	}
	src, err := openStore(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to connect to store")
	}
	logging.Info().Str("driver", cfg.Store.Driver).Str("database", cfg.DatabaseName()).Msg("Store connection established")

	svcCfg, err := serviceConfig(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid feed configuration")
	}
	svc := analytics.NewService(src, svcCfg)

	// --- Setup & Start HTTP Server ---
	router := api.NewRouter(api.NewHTTPHandler(svc), routerOptions(cfg))
	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      router,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		logging.Info().Str("port", cfg.HttpServer.Port).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server ListenAndServe error")
		}
		logging.Info().Msg("HTTP server has stopped")
	}()

	// --- Setup & Start gRPC Server ---
	healthServer := health.NewServer()
	grpcServer := api.NewGRPCServer(api.NewGRPCHandler(svc), healthServer)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		logging.Fatal().Err(err).Str("port", cfg.GrpcServer.Port).Msg("Failed to listen for gRPC")
	}

	go func() {
		logging.Info().Str("port", cfg.GrpcServer.Port).Msg("gRPC server listening")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Fatal().Err(err).Msg("gRPC server Serve error")
		}
		logging.Info().Msg("gRPC server has stopped")
	}()

	// --- Store Health Watcher ---
	watchCtx, stopWatch := context.WithCancel(context.Background())
	go api.WatchStoreHealth(watchCtx, svc, healthServer, cfg.HealthCheckInterval)

	// --- Graceful Shutdown ---
	shutdownComplete := make(chan struct{})
	go waitForShutdown(cfg.HttpServer.ShutdownTimeout, httpServer, grpcServer, healthServer, src, stopWatch, shutdownComplete)

	<-shutdownComplete
	logging.Info().Msg("Service shutdown sequence finished")
}

// openStore connects to the configured backend and wraps it in the circuit
// breaker when enabled.
func openStore(ctx context.Context, cfg *config.Config) (store.Source, error) {
	src, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Mongo: store.MongoOptions{
			URI:                    cfg.Mongo.URI,
			Database:               cfg.Mongo.Database,
			ConnectTimeout:         cfg.Mongo.ConnectTimeout,
			ServerSelectionTimeout: cfg.Mongo.ServerSelectionTimeout,
			MaxPoolSize:            cfg.Mongo.MaxPoolSize,
			QueryTimeout:           cfg.Store.QueryTimeout,
		},
		PostgresDSN: cfg.Postgres.DSN(),
		Postgres: store.PostgresPool{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			QueryTimeout:    cfg.Store.QueryTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Breaker.Enabled {
		return src, nil
	}
	return store.NewBreakerSource(src, store.BreakerSettings{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	}), nil
}

func serviceConfig(cfg *config.Config) (analytics.Config, error) {
	start, err := domain.ParseDate(cfg.Feed.DefaultStart)
	if err != nil {
		return analytics.Config{}, err
	}
	end, err := domain.ParseDate(cfg.Feed.DefaultEnd)
	if err != nil {
		return analytics.Config{}, err
	}
	return analytics.Config{
		Database:     cfg.DatabaseName(),
		DefaultStart: start,
		DefaultEnd:   end,
		MaxLimit:     cfg.Feed.MaxLimit,
		Now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func routerOptions(cfg *config.Config) api.RouterOptions {
	opts := api.RouterOptions{AllowedOrigins: cfg.CORS.AllowedOrigins}
	if cfg.RateLimit.Enabled {
		opts.RateLimitRequests = cfg.RateLimit.Requests
		opts.RateLimitWindow = cfg.RateLimit.Window
	}
	return opts
}

func waitForShutdown(
	timeout time.Duration,
	httpServer *http.Server,
	grpcServer *grpc.Server,
	healthServer *health.Server,
	src store.Source,
	stopWatch context.CancelFunc,
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	receivedSignal := <-sigChan
	logging.Info().Str("signal", receivedSignal.String()).Msg("Starting graceful shutdown")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	stopWatch()
	healthServer.Shutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server graceful shutdown failed")
	} else {
		logging.Info().Msg("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		logging.Info().Msg("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		logging.Warn().Err(shutdownCtx.Err()).Msg("gRPC server graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
	}

	// Shutdown may already have used the whole budget.
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	if err := src.Close(closeCtx); err != nil {
		logging.Warn().Err(err).Msg("Error closing store connection")
	}

	logging.Info().Msg("Graceful shutdown sequence completed")
}
