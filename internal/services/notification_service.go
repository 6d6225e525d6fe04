package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Task types handled by cmd/worker
const (
	TaskBookingCertificate = "booking:certificate"
	TaskBookingEmail       = "booking:email"
	TaskPaymentEvent       = "payment:event"
)

// Booking lifecycle event types published to Kafka
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

const notificationQueue = "notifications"

// TaskEnqueuer is implemented by *asynq.Client
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventWriter is implemented by *kafka.Writer
type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// BookingTaskPayload is the payload of booking notification tasks
type BookingTaskPayload struct {
	BookingID  string `json:"booking_id"`
	BookingRef string `json:"booking_ref"`
	Event      string `json:"event"`
}

// BookingEvent is the lifecycle event published to Kafka
type BookingEvent struct {
	Type                string               `json:"type"`
	BookingID           string               `json:"booking_id"`
	BookingRef          string               `json:"booking_ref"`
	SourceChannel       models.SourceChannel `json:"source_channel"`
	Status              models.BookingStatus `json:"status"`
	PaymentStatus       models.PaymentStatus `json:"payment_status"`
	ExternalSupplierRef *string              `json:"external_supplier_ref,omitempty"`
	GrossPrice          float64              `json:"gross_price"`
	Currency            string               `json:"currency"`
	OccurredAt          time.Time            `json:"occurred_at"`
}

// PostCommitTask is a side effect that runs after a booking transition
// has been committed. Failures are logged and never undo the transition.
type PostCommitTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// NotificationService schedules certificate generation, guest email and
// lifecycle events. Either backend may be nil.
type NotificationService struct {
	tasks  TaskEnqueuer
	events EventWriter
	topic  string
	logger *logrus.Logger
	now    func() time.Time
}

// NewNotificationService creates a notification service
func NewNotificationService(tasks TaskEnqueuer, events EventWriter, topic string, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		tasks:  tasks,
		events: events,
		topic:  topic,
		logger: logger,
		now:    time.Now,
	}
}

// ConfirmedTasks returns the post-commit tasks for a confirmed booking
func (s *NotificationService) ConfirmedTasks(booking *models.Booking) []PostCommitTask {
	return []PostCommitTask{
		{Name: "certificate", Run: func(ctx context.Context) error {
			return s.enqueue(ctx, TaskBookingCertificate, booking, EventBookingConfirmed)
		}},
		{Name: "confirmation_email", Run: func(ctx context.Context) error {
			return s.enqueue(ctx, TaskBookingEmail, booking, EventBookingConfirmed)
		}},
		{Name: "confirmed_event", Run: func(ctx context.Context) error {
			return s.publish(ctx, EventBookingConfirmed, booking)
		}},
	}
}

// CancelledTasks returns the post-commit tasks for a cancelled booking
func (s *NotificationService) CancelledTasks(booking *models.Booking) []PostCommitTask {
	return []PostCommitTask{
		{Name: "cancellation_email", Run: func(ctx context.Context) error {
			return s.enqueue(ctx, TaskBookingEmail, booking, EventBookingCancelled)
		}},
		{Name: "cancelled_event", Run: func(ctx context.Context) error {
			return s.publish(ctx, EventBookingCancelled, booking)
		}},
	}
}

// RunPostCommit runs tasks in order, logging failures
func RunPostCommit(ctx context.Context, logger *logrus.Logger, bookingRef string, tasks []PostCommitTask) {
	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"booking_ref": bookingRef,
				"task":        task.Name,
			}).WithError(err).Error("Post-commit task failed")
		}
	}
}

func (s *NotificationService) enqueue(ctx context.Context, taskType string, booking *models.Booking, event string) error {
	if s.tasks == nil {
		s.logger.WithFields(logrus.Fields{
			"booking_ref": booking.BookingRef,
			"task":        taskType,
		}).Debug("Task queue not configured, skipping")
		return nil
	}

	payload, err := json.Marshal(BookingTaskPayload{
		BookingID:  booking.ID.String(),
		BookingRef: booking.BookingRef,
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(taskType, payload)
	info, err := s.tasks.EnqueueContext(ctx, task,
		asynq.Queue(notificationQueue),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", taskType, event, booking.BookingRef)),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_ref": booking.BookingRef,
		"task":        taskType,
		"task_id":     info.ID,
	}).Info("Notification task enqueued")
	return nil
}

func (s *NotificationService) publish(ctx context.Context, eventType string, booking *models.Booking) error {
	if s.events == nil {
		return nil
	}

	value, err := json.Marshal(BookingEvent{
		Type:                eventType,
		BookingID:           booking.ID.String(),
		BookingRef:          booking.BookingRef,
		SourceChannel:       booking.SourceChannel,
		Status:              booking.Status,
		PaymentStatus:       booking.PaymentStatus,
		ExternalSupplierRef: booking.ExternalSupplierRef,
		GrossPrice:          booking.GrossPrice,
		Currency:            booking.Currency,
		OccurredAt:          s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal booking event: %w", err)
	}

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(booking.BookingRef),
		Value: value,
		Time:  s.now(),
	}
	if err := s.events.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// ============================================================================
// WORKER HANDLERS
// ============================================================================

// BookingNotifier delivers notifications for a booking.
// Rendering and delivery live outside this service.
type BookingNotifier interface {
	IssueCertificate(ctx context.Context, booking *models.Booking) error
	SendBookingEmail(ctx context.Context, booking *models.Booking, event string) error
}

// NotificationHandlers processes notification tasks in cmd/worker
type NotificationHandlers struct {
	store    BookingStore
	notifier BookingNotifier
	logger   *logrus.Logger
}

// NewNotificationHandlers creates the notification task handlers
func NewNotificationHandlers(store BookingStore, notifier BookingNotifier, logger *logrus.Logger) *NotificationHandlers {
	return &NotificationHandlers{store: store, notifier: notifier, logger: logger}
}

// HandleCertificateTask handles booking:certificate
func (h *NotificationHandlers) HandleCertificateTask(ctx context.Context, t *asynq.Task) error {
	booking, payload, err := h.load(ctx, t)
	if err != nil || booking == nil {
		return err
	}
	if booking.Status != models.BookingStatusConfirmed {
		h.logger.WithField("booking_ref", payload.BookingRef).Warn("Booking no longer confirmed, skipping certificate")
		return nil
	}
	return h.notifier.IssueCertificate(ctx, booking)
}

// HandleEmailTask handles booking:email
func (h *NotificationHandlers) HandleEmailTask(ctx context.Context, t *asynq.Task) error {
	booking, payload, err := h.load(ctx, t)
	if err != nil || booking == nil {
		return err
	}
	return h.notifier.SendBookingEmail(ctx, booking, payload.Event)
}

func (h *NotificationHandlers) load(ctx context.Context, t *asynq.Task) (*models.Booking, *BookingTaskPayload, error) {
	var payload BookingTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.WithError(err).Error("Invalid notification task payload")
		return nil, nil, fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	booking, err := h.store.GetByRef(ctx, payload.BookingRef)
	if err != nil {
		return nil, nil, err
	}
	if booking == nil {
		h.logger.WithField("booking_ref", payload.BookingRef).Warn("Booking for notification task not found")
		return nil, &payload, nil
	}
	return booking, &payload, nil
}

// LogNotifier records notifications in the log. Used by cmd/worker when
// no delivery backend is wired.
type LogNotifier struct {
	Logger *logrus.Logger
}

// IssueCertificate logs the certificate request
func (n *LogNotifier) IssueCertificate(ctx context.Context, booking *models.Booking) error {
	n.Logger.WithFields(logrus.Fields{
		"booking_ref":           booking.BookingRef,
		"external_supplier_ref": booking.ExternalSupplierRef,
	}).Info("Booking certificate requested")
	return nil
}

// SendBookingEmail logs the email request
func (n *LogNotifier) SendBookingEmail(ctx context.Context, booking *models.Booking, event string) error {
	n.Logger.WithFields(logrus.Fields{
		"booking_ref": booking.BookingRef,
		"guest_email": booking.GuestEmail,
		"event":       event,
	}).Info("Booking email requested")
	return nil
}
