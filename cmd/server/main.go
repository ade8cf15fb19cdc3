package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.LoadConfig()
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Warn("failed to load .env file", "error", envErr)
	}

	ctx := context.Background()

	db, err := repository.NewDB(ctx, cfg.PostgresURI)
	if err != nil {
		fatal(log, "database is unreachable", err)
	}
	defer closeDB(log, db)

	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			fatal(log, "failed to migrate database", err)
		}
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI, Password: cfg.RedisPassword}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI, Password: cfg.RedisPassword})
	defer rdb.Close()

	m := metrics.New(nil)
	policy := queue.DefaultRetryPolicy()

	delayQueue := queue.NewAsynqQueue(redisConn, cfg.QueueName, log)
	defer delayQueue.Close()

	entryRepo := repository.NewEntryRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	transactor := repository.NewTransactor(db)

	r2Service, err := service.NewR2Service(ctx, cfg.R2)
	if err != nil {
		fatal(log, "failed to configure r2", err)
	}
	publisher, err := service.NewPublishService(cfg.PublishEndpoint, cfg.PublishAPIKey, cfg.PublishRatePerSec, nil)
	if err != nil {
		fatal(log, "failed to configure publisher", err)
	}

	schedulerService := service.NewSchedulerService(delayQueue, cfg.JobNamespace, policy, m, log)
	entryService := service.NewEntryService(transactor, entryRepo, mediaAssetRepo, socialAccountRepo, schedulerService, r2Service, log)
	dispatchService := service.NewDispatchService(entryRepo, mediaAssetRepo, socialAccountRepo, publisher,
		service.DispatchConfig{SecretKey: []byte(cfg.SecretKey), PublishTimeout: cfg.PublishTimeout},
		nil, m, log)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Error("unhandled request error", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	health := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	app.Get("/healthz", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	entries := handlers.NewEntryHandler(entryService)
	api.Post("/entries", entries.CreateEntry)
	api.Get("/entries", entries.ListEntries)
	api.Get("/entries/:id", entries.GetEntry)
	api.Put("/entries/:id", entries.UpdateEntry)
	api.Delete("/entries/:id", entries.RemoveEntry)

	// cron jobs
	lock := job.NewRedisLock(rdb, cfg.JobNamespace+":resync:lock", time.Hour)
	resyncJob := job.NewResyncJob(entryRepo, mediaAssetRepo, schedulerService, lock, cfg.ResyncWindow, cfg.ResyncLookback, m, log)

	c := cron.New()
	if err := c.AddFunc(cfg.ResyncSpec, resyncJob.Run); err != nil {
		fatal(log, "invalid resync schedule", err)
	}
	c.Start()
	defer c.Stop()

	if cfg.ResyncOnStart {
		go resyncJob.Run()
	}

	// queue
	worker := queue.NewWorker(dispatchService, policy, log)
	server := queue.NewServer(redisConn, cfg.QueueName, cfg.WorkerConcurrency, policy, log)
	go func() {
		log.Info("starting the asynq server", "queue", cfg.QueueName, "concurrency", cfg.WorkerConcurrency)
		if err := server.Run(queue.NewServeMux(worker)); err != nil {
			fatal(log, "could not start asynq server", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			fatal(log, "failed to start server", err)
		}
	}()
	log.Info("server is running", "port", cfg.Port)

	gracefulShutdown(log, app, server)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

func closeDB(log *slog.Logger, db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Error("failed to close database", "error", err)
		return
	}
	log.Info("database connection closed")
}

func gracefulShutdown(log *slog.Logger, app *fiber.App, server *asynq.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	sig := <-quit
	log.Info("shutting down", "signal", fmt.Sprint(sig))

	if err := app.Shutdown(); err != nil {
		log.Error("failed to shut down http server", "error", err)
	}

	// Stops fetching new jobs and waits for running ones up to the
	// configured shutdown timeout.
	server.Shutdown()
	log.Info("server shutdown complete")
}
