package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/handlers"
	"github.com/asakaida/customattrs/internal/infrastructure/cache"
	"github.com/asakaida/customattrs/internal/infrastructure/config"
	"github.com/asakaida/customattrs/internal/infrastructure/database"
	"github.com/asakaida/customattrs/internal/infrastructure/metrics"
	"github.com/asakaida/customattrs/internal/repositories/postgres"
	"github.com/asakaida/customattrs/internal/services"
	"github.com/asakaida/customattrs/internal/services/validation"
	"github.com/asakaida/customattrs/pkg/cache/memorycache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

const (
	defaultEnv  = "dev"
	defaultPort = "50051"

	metricsInterval = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

type ref = entities.OwnerRef

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(logger *slog.Logger) error {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Get port from PORT variable or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	policy, err := entities.ParseOwnerPolicy(cfg.Attributes.OwnerPolicy)
	if err != nil {
		return err
	}

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	logger.Info("connected to database",
		"user", cfg.Database.User,
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Database)

	if cfg.Attributes.Migrate {
		if err := pg.RunEmbeddedMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("migrations applied")
	}

	// Value formats
	validator, err := validation.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	if cfg.Attributes.FormatsFile != "" {
		n, err := validation.LoadFormats(validator, cfg.Attributes.FormatsFile)
		if err != nil {
			return err
		}
		logger.Info("custom formats loaded", "file", cfg.Attributes.FormatsFile, "count", n)
	}

	// Metrics
	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	exporter := metrics.NewPrometheusExporter(collector, registry)

	// Initialize repositories
	typeRepo := postgres.NewPostgresAttributeTypeRepository[ref](pg.DB, entities.ParseOwnerRef)
	attrRepo := postgres.NewPostgresInstanceAttributeRepository[ref](pg.DB)

	// Initialize services
	attributeService := services.NewAttributeService[ref](typeRepo, attrRepo, validator, services.Options{
		OwnerPolicy: policy,
		Recorder:    metrics.NewAttributeRecorder(collector, exporter),
		Logger:      logger,
	})

	var watcher *cache.TypeWatcher
	if cfg.Cache.Enabled {
		typeCache, err := memorycache.New(&memorycache.Config[[]*entities.AttributeType[ref]]{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
			SizeOf:        typeListSize,
		})
		if err != nil {
			return fmt.Errorf("failed to create attribute type cache: %w", err)
		}
		defer typeCache.Close()
		attributeService.SetTypeCache(typeCache)
		collector.SetCache(typeCache)

		// Other replicas announce attribute type changes on the notify channel
		watcher = cache.NewTypeWatcher(
			cfg.Database.ConnectionString(),
			cfg.Attributes.NotifyChannel,
			cache.InvalidatorFunc(attributeService.Invalidate),
			attributeService.InvalidateAll,
			logger,
		)
		if err := watcher.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start attribute type watcher: %w", err)
		}
		logger.Info("attribute type cache enabled",
			"max_bytes", cfg.Cache.MaxMemoryBytes,
			"ttl_minutes", cfg.Cache.TTLMinutes,
			"channel", cfg.Attributes.NotifyChannel)
	}

	attributeHandler := handlers.NewAttributeHandler(attributeService, logger)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter)),
	)
	handlers.RegisterAttributesServer(grpcServer, attributeHandler)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	// Start listening
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux(registry, pg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "port", port)
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	updateCtx, stopUpdates := context.WithCancel(context.Background())
	defer stopUpdates()
	go updateMetrics(updateCtx, exporter, metricsInterval)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Channel to notify when graceful stop completes
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	// Wait for graceful stop or timeout
	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error stopping metrics server", "error", err)
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("error stopping attribute type watcher", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func metricsMux(registry *prometheus.Registry, pg *database.Postgres) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := pg.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// updateMetrics pushes the cache gauges to Prometheus until ctx is done
func updateMetrics(ctx context.Context, exporter *metrics.PrometheusExporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.Update()
		}
	}
}

// typeListSize estimates the memory held by a cached attribute type list
func typeListSize(types []*entities.AttributeType[ref]) int64 {
	var size int64
	for _, t := range types {
		size += 128 + int64(len(t.UUID)+len(t.Name)+len(t.Description)+len(t.RetireReason)+len(t.Format())+len(t.RegExp()))
	}
	return size
}
