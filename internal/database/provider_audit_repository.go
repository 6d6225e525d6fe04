package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ProviderAuditRepository stores verbatim provider exchanges
type ProviderAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewProviderAuditRepository creates a new provider audit repository
func NewProviderAuditRepository(db *sqlx.DB, logger *logrus.Logger) *ProviderAuditRepository {
	return &ProviderAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new provider audit entry
func (r *ProviderAuditRepository) Log(ctx context.Context, audit *models.ProviderAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	// Ensure ID and timestamp are set
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO provider_audits (
			id, provider, event_type, booking_ref, external_id,
			request_payload, response_payload, raw_body,
			http_status_code, http_method, endpoint_url, attempt,
			error_message, processing_time_ms, is_duplicate, idempotency_key,
			ip_address, user_agent, client, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.Provider, audit.EventType, audit.BookingRef, audit.ExternalID,
		audit.RequestPayload, audit.ResponsePayload, audit.RawBody,
		audit.HTTPStatusCode, audit.HTTPMethod, audit.EndpointURL, audit.Attempt,
		audit.ErrorMessage, audit.ProcessingTimeMs, audit.IsDuplicate, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.Client, audit.CreatedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"provider":    audit.Provider,
			"event_type":  audit.EventType,
			"external_id": audit.ExternalID,
		}).Error("CRITICAL: Failed to log provider audit")
		return fmt.Errorf("failed to log provider audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"provider":   audit.Provider,
		"event_type": audit.EventType,
	}).Debug("Provider audit logged")

	return nil
}

// CheckDuplicate reports whether an exchange with the same idempotency key
// was already processed successfully (used for webhook event ids). Failed
// deliveries do not count, so a redelivery after a transient error is
// processed again.
func (r *ProviderAuditRepository) CheckDuplicate(ctx context.Context, eventType models.AuditEventType, idempotencyKey string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM provider_audits
		WHERE event_type = $1
		AND idempotency_key = $2
		AND is_duplicate = FALSE
		AND error_message IS NULL`

	err := r.db.GetContext(ctx, &count, query, eventType, idempotencyKey)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}

	return count > 0, nil
}

// GetByBookingRef returns all exchanges recorded for a booking, oldest first
func (r *ProviderAuditRepository) GetByBookingRef(ctx context.Context, bookingRef string) ([]models.ProviderAudit, error) {
	var audits []models.ProviderAudit
	query := `
		SELECT * FROM provider_audits
		WHERE booking_ref = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingRef); err != nil {
		return nil, fmt.Errorf("failed to get provider audits: %w", err)
	}
	return audits, nil
}
