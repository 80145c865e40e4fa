package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/birbparty/countly-nest/internal/api"
	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		telemetry.WithError(err).Warn("Failed to load .env file")
	}

	cfg, err := api.LoadConfig()
	if err != nil {
		telemetry.WithError(err).Fatal("Failed to load configuration")
	}

	if err := telemetry.Init(telemetry.NewConfigFromEnv(cfg.ServiceName)); err != nil {
		telemetry.WithError(err).Fatal("Failed to initialize telemetry")
	}
	if err := tracer.Start(tracer.WithService(cfg.ServiceName)); err != nil {
		telemetry.WithError(err).Warn("Datadog tracer not started")
	}
	defer tracer.Stop()

	log := telemetry.L()
	log.Info("🐦 Countly Nest API starting...")

	queueConfig, err := queue.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load queue configuration")
	}
	queueClient, err := queue.NewClient(queueConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer queueClient.Close()
	log.Info("✅ Connected to NATS JetStream")

	deps := api.Dependencies{
		Publisher: queueClient,
		Checks: map[string]api.HealthCheck{
			"nats": func(context.Context) error { return queueClient.Health() },
		},
	}

	// Remote config is optional; commands still flow without Redis
	cacheConfig, err := cache.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load cache configuration")
	}
	if redisClient, err := cache.NewClient(cacheConfig); err != nil {
		log.WithError(err).Warn("⚠️ Redis unavailable, remote config disabled")
	} else {
		defer redisClient.Close()
		deps.RemoteConfig = cache.NewRemoteConfigStore(redisClient, cacheConfig.KeyPrefix, cacheConfig.RemoteConfigTTL)
		deps.Checks["redis"] = func(ctx context.Context) error {
			telemetry.UpdateRedisConnections(int(redisClient.PoolStats().TotalConns))
			return redisClient.Ping(ctx).Err()
		}
		log.Info("✅ Connected to Redis")
	}

	if os.Getenv("POSTGRES_ENABLED") != "false" {
		dbConfig, err := database.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load database configuration")
		}
		if db, err := database.NewDB(dbConfig); err != nil {
			log.WithError(err).Warn("⚠️ PostgreSQL unavailable, journal counts disabled")
		} else {
			defer db.Close()
			deps.Journal = database.NewJournalRepository(db)
			deps.Checks["postgres"] = db.Health
			log.Info("✅ Connected to PostgreSQL")
		}
	}

	if cfg.KafkaMirror {
		producer, err := queue.NewKafkaProducer(queueConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Kafka")
		}
		defer producer.Close()
		deps.Mirror = api.NewAsyncMirror(
			api.NewKafkaSink(producer, queueConfig.KafkaTopic),
			cfg.MirrorQueue, cfg.MirrorWorkers, cfg.MirrorMaxRetry,
		)
		log.WithField("topic", queueConfig.KafkaTopic).Info("✅ Mirroring commands to Kafka")
	}

	app := fiber.New(fiber.Config{
		AppName:               "Countly Nest API",
		Immutable:             true,
		ErrorHandler:          api.ErrorHandler,
		ReadTimeout:           time.Duration(cfg.RequestTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.RequestTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	api.SetupMiddleware(app, cfg)
	api.SetupRoutes(app, api.NewHandler(cfg, deps), cfg)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("🛑 Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("Server forced to shutdown")
		}

		// Drain the mirror after the last request has pushed
		if deps.Mirror != nil {
			deps.Mirror.Shutdown()
		}
		telemetry.Shutdown(shutdownCtx)
	}()

	log.WithField("address", cfg.Address()).Info("🚀 Countly Nest API listening")
	if err := app.Listen(cfg.Address()); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}
