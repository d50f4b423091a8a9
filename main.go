package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"wablast/config"
	"wablast/engine"
	"wablast/gateway"
	"wablast/middleware"
	"wablast/notifier"
	"wablast/queue"
	"wablast/routes"
	"wablast/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Warnf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.ConnectRedis(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	// Wire the dispatch pipeline
	gw := gateway.NewClient(config.AppConfig.Gateway, logger)
	jobQueue := queue.NewQueue(config.Redis, logger)
	hub := notifier.NewHub(logger)
	events := notifier.New(config.DB, hub, logger)
	effects := worker.NewSideEffects(config.DB, logger)
	dispatcher := gateway.NewDispatcher()

	eng := engine.New(config.DB, gw, jobQueue, events, effects, logger, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	effects.Start()
	pool := worker.NewDispatchPool(
		jobQueue,
		eng,
		config.AppConfig.WorkerCount,
		time.Duration(config.AppConfig.WorkerPollMs)*time.Millisecond,
		logger,
	)
	pool.Start(ctx)

	quotaReset := worker.NewQuotaReset(config.DB, logger)
	go quotaReset.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName: "wablast",
	})
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		DB:         config.DB,
		Engine:     eng,
		Dispatcher: dispatcher,
		Notifier:   events,
		Hub:        hub,
		Logger:     logger,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Graceful shutdown: stop taking requests, then drain workers
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down...")
		_ = app.Shutdown()
	}()

	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	cancel()
	pool.Stop()
	effects.Stop()
	logger.Info("Shutdown complete")
}
