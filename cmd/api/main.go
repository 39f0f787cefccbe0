package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"docvault/docs"
	"docvault/internal/config"
	"docvault/internal/database"
	"docvault/internal/database/migration"
	"docvault/internal/encryption"
	handlers "docvault/internal/http/handler"
	"docvault/internal/http/middleware"
	"docvault/internal/logging"
	"docvault/internal/metrics"
	"docvault/internal/otel"
	"docvault/internal/repository"
	"docvault/internal/repository/memory"
	"docvault/internal/repository/postgres"
	"docvault/internal/service"
	"docvault/internal/storage"
	"docvault/internal/token"
	"docvault/internal/worker"
)

// @title Document Vault API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Location())

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server_exit")
	}
}

func run(cfg *config.AppConfig, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		log.WithError(err).Warn("tracing_init_failed")
	} else {
		defer shutdownTracing(context.Background())
	}

	db, docRepo, err := openRepository(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, database.ApplicationName))
	}

	pipelineMetrics, err := metrics.NewPipeline(reg)
	if err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}

	objStore, err := openStorage(ctx, cfg, log, pipelineMetrics)
	if err != nil {
		return err
	}

	tokenStore, closeTokens, err := openTokenStore(ctx, cfg.Token)
	if err != nil {
		return err
	}
	defer closeTokens()

	engine, err := encryption.NewEngineFromBase64(cfg.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	broker := token.NewBroker(tokenStore, cfg.Token.TTL, token.WithLogger(log.WithField("component", "token")))
	pool := worker.NewPool(cfg.Upload.ProcessingWorkers, log.WithField("component", "worker"))

	docSvc := service.NewDocumentService(objStore, docRepo, engine, broker, service.Options{
		MaxSizeBytes:    cfg.Upload.MaxSizeBytes,
		UploadTimeout:   cfg.Upload.Timeout,
		AsyncProcessing: cfg.Upload.AsyncProcessing,
		Pool:            pool,
		Metrics:         pipelineMetrics,
		Logger:          log.WithField("component", "pipeline"),
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		// Multipart overhead on top of the largest accepted document
		BodyLimit: int(cfg.Upload.MaxSizeBytes) + 1<<20,
	})

	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.LoggerWithLogger(log.WithField("component", "http")))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	var pinger handlers.Pinger
	if db != nil {
		pinger = db
	}
	handlers.RegisterRoutes(app, pinger, docSvc)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.WithField("addr", addr).Info("server_listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("http_shutdown_failed")
	}
	if err := pool.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("worker_drain_failed")
	}
	return nil
}

// openRepository returns the document repository selected by DB_DRIVER.
// db is nil for the memory driver.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, log *logrus.Logger) (*sql.DB, repository.DocumentRepository, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("document records are kept in memory and lost on restart")
		return nil, memory.NewDocumentMemory(), nil
	case "postgres", "":
		db, err := database.NewPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Host); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		return db, postgres.NewDocumentPostgres(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}
}

// openStorage builds the object store selected by STORAGE_DRIVER, wrapped with retries.
func openStorage(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger, m *metrics.Pipeline) (storage.Storage, error) {
	var (
		st  storage.Storage
		err error
	)
	switch cfg.Storage.Driver {
	case "minio", "":
		st, err = storage.NewMinIO(cfg.Storage.MinIO, cfg.Storage.SSE)
	case "s3":
		st, err = storage.NewS3(ctx, cfg.Storage.S3, cfg.Storage.SSE)
	case "memory":
		log.Warn("objects are kept in memory and lost on restart")
		st = storage.NewMemory("vault")
	default:
		err = fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	policy := storage.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	return storage.WithRetry(st, policy,
		storage.WithRetryLogger(log.WithField("component", "storage")),
		storage.WithRetryHook(m.StorageRetry),
	), nil
}

// openTokenStore returns the download token store selected by TOKEN_STORE and its closer.
func openTokenStore(ctx context.Context, cfg config.TokenConfig) (token.Store, func(), error) {
	switch cfg.Store {
	case "badger":
		bs, err := token.OpenBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return bs, func() { _ = bs.Close() }, nil
	case "memory", "":
		ms := token.NewMemoryStore(nil)
		go ms.RunSweeper(ctx, time.Minute)
		return ms, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown TOKEN_STORE %q", cfg.Store)
	}
}
