package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/storage"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/birbparty/countly-nest/internal/worker"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		telemetry.WithError(err).Warn("Failed to load .env file")
	}

	workerConfig, err := worker.NewConfigFromEnv()
	if err != nil {
		telemetry.WithError(err).Fatal("Failed to load worker config")
	}

	if err := telemetry.Init(telemetry.NewConfigFromEnv(workerConfig.ServiceName)); err != nil {
		telemetry.WithError(err).Fatal("Failed to initialize telemetry")
	}
	if err := tracer.Start(tracer.WithService(workerConfig.ServiceName)); err != nil {
		telemetry.WithError(err).Warn("Datadog tracer not started")
	}
	defer tracer.Stop()

	log := telemetry.WithFields(map[string]interface{}{"worker_id": workerConfig.WorkerID})
	log.Info("🐦 Countly Nest Worker starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig, err := database.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load database config")
	}

	queueConfig, err := queue.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load queue config")
	}

	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to apply journal schema")
	}
	log.Info("✅ Connected to PostgreSQL")

	queueClient, err := queue.NewClient(queueConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer queueClient.Close()
	log.Info("✅ Connected to NATS JetStream")

	metrics := worker.NewMetrics()
	journal := database.NewJournalRepository(db)

	// Archival is optional
	var archiver *worker.Archiver
	storageConfig := storage.NewConfigFromEnv()
	switch {
	case !workerConfig.ArchivalEnabled():
		log.Info("Archival disabled (ARCHIVE_AFTER unset)")
	case !storageConfig.Enabled():
		log.Warn("⚠️ ARCHIVE_AFTER is set but ARCHIVE_BUCKET is not. Archival will be disabled.")
	default:
		archive, err := storage.NewArchiveClient(storageConfig)
		if err != nil {
			log.WithError(err).Warn("⚠️ Failed to initialize archive client. Archival will be disabled.")
		} else {
			archiver = worker.NewArchiver(workerConfig, journal, archive, metrics)
			log.WithField("bucket", storageConfig.Bucket).Info("✅ Archiving journal to object storage")
		}
	}

	processor := worker.NewProcessor(workerConfig, queueClient, journal, archiver, metrics)

	health := newHealthServer(workerConfig, metrics, db)
	go func() {
		addr := fmt.Sprintf(":%d", workerConfig.HealthCheckPort)
		log.WithField("address", addr).Info("🏥 Health check server listening")
		if err := health.Listen(addr); err != nil {
			log.WithError(err).Error("Health server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	processorDone := make(chan error, 1)
	go func() {
		processorDone <- processor.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("🛑 Shutting down gracefully...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		select {
		case <-processorDone:
			log.Info("✅ Worker shutdown complete")
		case <-shutdownCtx.Done():
			log.Warn("⚠️ Worker shutdown timeout")
		}
		health.ShutdownWithContext(shutdownCtx)
		telemetry.Shutdown(shutdownCtx)

	case err := <-processorDone:
		if err != nil {
			log.WithError(err).Fatal("Processor error")
		}
	}
}

// newHealthServer serves /health, /stats and Prometheus /metrics
func newHealthServer(cfg *worker.Config, metrics *worker.Metrics, db *database.DB) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.StatusOK
		state := "healthy"
		if !metrics.IsHealthy() || db.Health(c.UserContext()) != nil {
			status = fiber.StatusServiceUnavailable
			state = "unhealthy"
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    state,
			"service":   cfg.ServiceName,
			"worker_id": cfg.WorkerID,
		})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(metrics.GetStats())
	})

	prom := fasthttpadaptor.NewFastHTTPHandler(telemetry.PrometheusHandler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		prom(c.Context())
		return nil
	})

	return app
}
