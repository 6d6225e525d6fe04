// Package bootstrap wires repositories, providers and services from
// configuration. Shared by cmd/server and cmd/worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/database"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/roomgate/booking-backend/internal/services"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Components holds the wired services
type Components struct {
	Bookings      *database.BookingRepository
	Audit         *database.ProviderAuditRepository
	Gateway       *services.HTTPPaymentGateway
	Orchestrator  *services.BookingOrchestratorService
	PaymentEvents *services.PaymentEventService
	Notifications *services.NotificationService

	// Redis is nil when REDIS_ADDR is unset
	Redis *redis.Client

	closers []func() error
}

// Build wires every component on top of an open database. Redis and Kafka
// are optional: without Redis there is no confirm lock and webhooks are
// applied inline; without Kafka lifecycle events are not published.
func Build(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *logrus.Logger) (*Components, error) {
	c := &Components{}

	// Repositories
	c.Bookings = database.NewBookingRepository(db, logger)
	c.Audit = database.NewProviderAuditRepository(db, logger)
	discountRepo := database.NewDiscountRepository(db)
	rateRepo := database.NewRoomRateRepository(db)

	// Providers
	c.Gateway = services.NewHTTPPaymentGateway(&cfg.Payment, c.Audit, logger)
	if !c.Gateway.IsConfigured() {
		logger.Warn("Payment gateway secret key not set - authorization calls will fail")
	}

	var supplierAudit services.AuditRecorder
	if cfg.Supplier.AuditEnabled {
		supplierAudit = c.Audit
	}
	supplier := services.NewGraphQLSupplierClient(&cfg.Supplier, supplierAudit, logger)

	// Queue and event stream
	var tasks services.TaskEnqueuer
	var locker services.BookingLocker
	if cfg.Redis.Addr != "" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, c.Redis.Close)

		queue := asynq.NewClient(RedisClientOpt(cfg.Redis))
		c.closers = append(c.closers, queue.Close)
		tasks = queue

		locker = services.NewRedisBookingLocker(c.Redis, cfg.Redis.LockTTL, logger)
		logger.WithField("addr", cfg.Redis.Addr).Info("Redis connected - confirm lock and task queue enabled")
	} else {
		logger.Warn("REDIS_ADDR not set - running without confirm lock or task queue")
	}

	var events services.EventWriter
	if len(cfg.Kafka.Brokers) > 0 {
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		}
		c.closers = append(c.closers, writer.Close)
		events = writer
		logger.WithField("topic", cfg.Kafka.BookingEventsTopic).Info("Kafka booking events enabled")
	}

	c.Notifications = services.NewNotificationService(tasks, events, cfg.Kafka.BookingEventsTopic, logger)

	// Orchestrator
	orchestratorConfig := services.DefaultOrchestratorConfig()
	if cfg.Booking.DefaultCurrency != "" {
		orchestratorConfig.DefaultCurrency = cfg.Booking.DefaultCurrency
	}
	if cfg.Booking.AmountTolerance > 0 {
		orchestratorConfig.AmountTolerance = cfg.Booking.AmountTolerance
	}
	if mode := models.CaptureMode(cfg.Payment.DefaultCaptureMode); mode == models.CaptureAutomatic || mode == models.CaptureManual {
		orchestratorConfig.DefaultCaptureMode = mode
	}
	if cfg.Payment.Provider != "" {
		orchestratorConfig.PaymentProvider = cfg.Payment.Provider
	}

	drafts := services.NewReservationDraftService(c.Bookings, services.NewBookingRefGenerator(cfg.Booking.RefMaxAttempts), logger)
	c.Orchestrator = services.NewBookingOrchestratorService(
		c.Bookings,
		drafts,
		rateRepo,
		services.NewDiscountService(discountRepo, logger),
		services.NewMarkupEngine(cfg.Markup.Baseline),
		c.Gateway,
		supplier,
		c.Notifications,
		orchestratorConfig,
		logger,
	).WithAudit(c.Audit)
	if locker != nil {
		c.Orchestrator.WithLocker(locker)
	}

	c.PaymentEvents = services.NewPaymentEventService(c.Gateway, c.Audit, tasks, c.Orchestrator, logger)

	return c, nil
}

// RedisClientOpt converts the redis config for asynq
func RedisClientOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Close releases queue, stream and redis connections
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}
