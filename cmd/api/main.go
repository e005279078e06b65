// Package main is the entry point for the booking API server.
//
// It loads the configuration (SSM-backed outside local), opens the database
// pool, builds the AWS and Redis clients, wires the booking and schedule
// services into the core chassis, and serves HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"classbook/internal/api/handlers"
	"classbook/internal/auth"
	"classbook/internal/booking"
	"classbook/internal/config"
	"classbook/internal/core"
	"classbook/internal/db"
	"classbook/internal/metrics"
	"classbook/internal/queue"
	"classbook/internal/quota"
	"classbook/internal/ratelimit"
	"classbook/internal/schedule"
	"classbook/internal/tenant"
	"classbook/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// apiDeps are the storage, messaging and identity backends of the server.
type apiDeps struct {
	Tenants       tenant.Store
	Bookings      booking.Store
	Templates     schedule.TemplateStore
	Jobs          schedule.JobStore
	Publisher     schedule.JobPublisher
	Authenticator core.Authenticator

	// RateLimitStore may be nil, which disables rate limiting.
	RateLimitStore core.RateLimitStore
	HealthProbes   []core.HealthProbe
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("classbook API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"multi_tenant", cfg.Tenancy.MultiTenant,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	deps := apiDeps{
		Tenants:       db.NewTenantRepository(pool),
		Bookings:      db.NewBookingStore(pool),
		Templates:     db.NewTemplateRepository(pool),
		Jobs:          db.NewJobHistoryRepository(pool),
		Publisher:     queue.NewExpansionTrigger(sqsClient, cfg.AWS, logger),
		Authenticator: auth.NewJWTAuthenticator(cfg.Auth, logger),
		HealthProbes:  []core.HealthProbe{db.PoolProbe{Pool: pool}},
	}

	redisClient := ratelimit.NewClient(cfg.Redis)
	if redisClient != nil {
		deps.RateLimitStore = ratelimit.NewRedisStore(redisClient, "classbook:rl:")
		deps.HealthProbes = append(deps.HealthProbes, ratelimit.Probe{Client: redisClient})
	} else {
		logger.Warn("REDIS_ADDR not set; rate limiting disabled")
	}

	srv, err := buildServer(cfg, deps, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	if redisClient != nil {
		srv.Closers = append(srv.Closers, func(context.Context) error { return redisClient.Close() })
	}
	srv.Closers = append(srv.Closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the services and handlers onto a core.Server and mounts
// the routes.
func buildServer(cfg *config.Config, deps apiDeps, logger *slog.Logger) (*core.Server, error) {
	resolver := tenant.NewResolver(deps.Tenants, cfg.Tenancy, logger)

	srv, err := core.NewServer(cfg, resolver, logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = deps.Authenticator
	srv.HealthProbes = deps.HealthProbes
	if deps.RateLimitStore != nil {
		srv.RateLimitStore = deps.RateLimitStore
	}

	var coordinatorOpts []booking.CoordinatorOption
	if cfg.Observability.EnableMetrics {
		collector := metrics.NewBookingCollector(cfg.Observability.MetricNamespace)
		srv.Metrics = collector
		srv.MetricsHandler = collector.Handler()
		coordinatorOpts = append(coordinatorOpts, booking.WithOutcomeRecorder(collector))
	}

	clock := types.RealClock{}
	loc := cfg.Booking.Location()

	views := booking.NewScheduleService(deps.Bookings, clock, loc, logger)
	coordinator := booking.NewCoordinator(deps.Bookings, quota.NewChecker(loc, logger), views, clock, logger, coordinatorOpts...)
	templates := schedule.NewService(deps.Templates, deps.Jobs, deps.Publisher, clock, logger)

	lessonHandler := handlers.NewLessonHandler(views, coordinator, srv.Validator, logger)
	templateHandler := handlers.NewTemplateHandler(templates, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		lessonHandler.RegisterRoutes,
		templateHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// loadAWSConfig loads the SDK configuration for the configured region.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Pool and Redis client.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
