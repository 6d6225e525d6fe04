package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// DiscountService prices discount codes at intent time and records their
// use once a booking is confirmed
type DiscountService struct {
	store  DiscountStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewDiscountService creates a discount service
func NewDiscountService(store DiscountStore, logger *logrus.Logger) *DiscountService {
	return &DiscountService{store: store, logger: logger, now: time.Now}
}

// NormalizeCode upper-cases and trims a code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Price returns the discounted gross for a code.
// An unknown or unusable code is a validation error.
func (s *DiscountService) Price(ctx context.Context, code string, gross float64) (float64, *models.DiscountCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return gross, nil, nil
	}

	discount, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load discount code: %w", err)
	}
	if discount == nil || !discount.IsUsable(s.now()) {
		return 0, nil, models.NewValidationError("discount_code", "Discount code is invalid or expired")
	}

	return discount.Apply(gross), discount, nil
}

// Finalize records the redemption of a code by a confirmed booking.
// Repeated calls for the same booking are no-ops. Inactive codes are skipped.
func (s *DiscountService) Finalize(ctx context.Context, code string, bookingID uuid.UUID) error {
	code = NormalizeCode(code)
	if code == "" {
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{"discount_code": code, "booking_id": bookingID})

	existing, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to load discount code: %w", err)
	}
	if existing != nil && !existing.Active {
		log.Warn("Discount code deactivated before finalization, skipping")
		return nil
	}

	applied, err := s.store.Finalize(ctx, code, bookingID)
	if err != nil {
		return fmt.Errorf("failed to finalize discount code: %w", err)
	}

	if applied {
		log.Info("Discount code finalized")
	} else {
		log.Debug("Discount code already finalized for booking")
	}
	return nil
}
