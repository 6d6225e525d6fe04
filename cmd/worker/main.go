package main

import (
	"context"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/roomgate/booking-backend/internal/bootstrap"
	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/database"
	"github.com/roomgate/booking-backend/internal/services"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting RoomGate booking worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Redis.Addr == "" {
		logger.Fatal("REDIS_ADDR is required for the worker")
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	sqlxDB, ok := db.(*database.PostgresDB)
	if !ok {
		logger.Fatal("Failed to cast database connection to PostgresDB")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	components, err := bootstrap.Build(startupCtx, cfg, sqlxDB.Sqlx(), logger)
	cancelStartup()
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer components.Close()

	// Certificate and email delivery are external; log them until a
	// delivery backend is configured
	notificationHandlers := services.NewNotificationHandlers(components.Bookings, &services.LogNotifier{Logger: logger}, logger)

	srv := asynq.NewServer(
		bootstrap.RedisClientOpt(cfg.Redis),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"notifications": 10,
			},
			Logger: logger,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				entry := logger.WithFields(logrus.Fields{
					"task":      task.Type(),
					"retried":   retried,
					"max_retry": maxRetry,
				}).WithError(err)
				if retried >= maxRetry {
					entry.Error("CRITICAL: Task exhausted retries")
					return
				}
				entry.Warn("Task failed")
			}),
		},
	)

	// Reconcile PENDING bookings whose payment window has passed
	var sweeper *services.ExpirationService
	if cfg.Booking.ExpirySchedule != "" {
		sweeper = services.NewExpirationService(components.Bookings, components.Orchestrator, components.Gateway, cfg.Booking.PendingTTL, logger)
		if err := sweeper.Start(cfg.Booking.ExpirySchedule); err != nil {
			logger.Fatalf("Failed to start pending booking sweep: %v", err)
		}
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(services.TaskBookingCertificate, notificationHandlers.HandleCertificateTask)
	mux.HandleFunc(services.TaskBookingEmail, notificationHandlers.HandleEmailTask)
	mux.HandleFunc(services.TaskPaymentEvent, components.PaymentEvents.HandlePaymentEventTask)

	// Run blocks until SIGTERM/SIGINT and drains in-flight tasks
	err = srv.Run(mux)
	if sweeper != nil {
		sweeper.Stop()
	}
	if err != nil {
		logger.Fatalf("Worker stopped: %v", err)
	}
	logger.Info("Worker exited successfully")
}
