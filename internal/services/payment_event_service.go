package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// WebhookAudit records webhook deliveries and detects redeliveries.
// Implemented by database.ProviderAuditRepository.
type WebhookAudit interface {
	AuditRecorder
	CheckDuplicate(ctx context.Context, eventType models.AuditEventType, idempotencyKey string) (bool, error)
}

// PaymentEventApplier is implemented by BookingOrchestratorService
type PaymentEventApplier interface {
	ApplyPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

// WebhookRequestMeta describes where a webhook came from
type WebhookRequestMeta struct {
	IPAddress string
	UserAgent string
	Client    string
}

// WebhookReceipt is the outcome of accepting a webhook
type WebhookReceipt struct {
	EventID   string                  `json:"event_id"`
	EventType models.PaymentEventType `json:"event_type"`
	Duplicate bool                    `json:"duplicate"`
	Queued    bool                    `json:"queued"`
}

// PaymentEventService accepts gateway webhooks. Verified events are audited
// and queued for cmd/worker; without a queue they are applied inline.
type PaymentEventService struct {
	verifier WebhookVerifier
	audit    WebhookAudit
	tasks    TaskEnqueuer
	applier  PaymentEventApplier
	logger   *logrus.Logger
}

// NewPaymentEventService creates the webhook intake service. tasks may be nil.
func NewPaymentEventService(
	verifier WebhookVerifier,
	audit WebhookAudit,
	tasks TaskEnqueuer,
	applier PaymentEventApplier,
	logger *logrus.Logger,
) *PaymentEventService {
	return &PaymentEventService{
		verifier: verifier,
		audit:    audit,
		tasks:    tasks,
		applier:  applier,
		logger:   logger,
	}
}

// Receive verifies, deduplicates and dispatches one webhook delivery.
// Returns ErrInvalidSignature (wrapped) for unsigned or tampered bodies.
func (s *PaymentEventService) Receive(ctx context.Context, body []byte, signature string, meta WebhookRequestMeta) (*WebhookReceipt, error) {
	startTime := time.Now()

	// 1. Verify signature
	event, err := s.verifier.VerifyWebhook(body, signature)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"ip_address": meta.IPAddress,
		}).WithError(err).Warn("Rejected payment webhook")
		return nil, err
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event id missing", ErrInvalidSignature)
	}

	log := s.logger.WithFields(logrus.Fields{
		"event_id":         event.ID,
		"event_type":       event.Type,
		"authorization_id": event.AuthorizationID,
	})
	receipt := &WebhookReceipt{EventID: event.ID, EventType: event.Type}

	entry := models.NewProviderAudit(models.AuditProviderPayment, models.AuditEventWebhookReceived).
		SetBookingRef(event.Metadata["booking_ref"]).
		SetExternalID(event.AuthorizationID).
		SetIdempotencyKey(event.ID).
		SetRawBody(string(body)).
		SetMetadata(meta.IPAddress, meta.UserAgent, meta.Client)

	// 2. Deduplicate on event id
	if s.audit != nil {
		duplicate, err := s.audit.CheckDuplicate(ctx, models.AuditEventWebhookReceived, event.ID)
		if err != nil {
			log.WithError(err).Warn("Webhook duplicate check failed, processing anyway")
		}
		if duplicate {
			entry.MarkAsDuplicate().SetProcessingTime(startTime)
			s.logAudit(ctx, entry)
			log.Info("Duplicate payment webhook ignored")
			receipt.Duplicate = true
			return receipt, nil
		}
	}

	// 3. Dispatch
	if s.tasks != nil {
		err = s.enqueue(ctx, event)
		receipt.Queued = err == nil
	} else {
		err = s.applier.ApplyPaymentEvent(ctx, event)
	}

	entry.SetError(err).SetProcessingTime(startTime)
	s.logAudit(ctx, entry)

	if err != nil {
		log.WithError(err).Error("Failed to process payment webhook")
		return nil, err
	}

	log.WithField("queued", receipt.Queued).Info("Payment webhook accepted")
	return receipt, nil
}

func (s *PaymentEventService) enqueue(ctx context.Context, event *models.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	_, err = s.tasks.EnqueueContext(ctx, asynq.NewTask(TaskPaymentEvent, payload),
		asynq.Queue(notificationQueue),
		asynq.MaxRetry(5),
		asynq.TaskID(TaskPaymentEvent+":"+event.ID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue payment event: %w", err)
	}
	return nil
}

func (s *PaymentEventService) logAudit(ctx context.Context, entry *models.ProviderAudit) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("Failed to record webhook audit")
	}
}

// HandlePaymentEventTask handles payment:event in cmd/worker. Outcomes
// that a retry cannot change are not retried.
func (s *PaymentEventService) HandlePaymentEventTask(ctx context.Context, t *asynq.Task) error {
	var event models.PaymentEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		s.logger.WithError(err).Error("Invalid payment event task payload")
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	err := s.applier.ApplyPaymentEvent(ctx, &event)
	if err == nil {
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type}).WithError(err)
	if isPermanentBookingError(err) {
		log.Warn("Payment event rejected, not retrying")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.Error("Payment event failed, will retry")
	return err
}

// isPermanentBookingError reports errors that repeat on every retry
func isPermanentBookingError(err error) bool {
	var validation *models.ValidationError
	var notFound *models.NotFoundError
	var mismatch *models.AmountMismatchError
	var business *models.ProviderBusinessError
	switch {
	case errors.As(err, &validation), errors.As(err, &notFound), errors.As(err, &mismatch), errors.As(err, &business):
		return true
	case errors.Is(err, models.ErrInvalidState):
		return true
	}
	return false
}
