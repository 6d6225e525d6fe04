package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// StalePendingSource is implemented by database.BookingRepository
type StalePendingSource interface {
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Booking, error)
}

// BookingResolver is implemented by BookingOrchestratorService
type BookingResolver interface {
	ConfirmBooking(ctx context.Context, caller *models.Caller, req *models.ConfirmBookingRequest) (*models.ConfirmBookingResponse, error)
	CancelBooking(ctx context.Context, caller *models.Caller, req *models.CancelBookingRequest) (*models.CancelBookingResponse, error)
}

// ExpirationStats summarizes one sweep
type ExpirationStats struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
	Rejected  int `json:"rejected"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

const (
	expiredReason  = "payment_window_expired"
	rejectedReason = "supplier_rejected"
)

// ExpirationService reconciles PENDING bookings that outlived the payment
// window. A paid authorization whose webhook never arrived is confirmed;
// anything else is cancelled and its hold released. Bookings the supplier
// already rejected are cancelled, never sent back to the supplier.
type ExpirationService struct {
	source   StalePendingSource
	bookings BookingResolver
	gateway  PaymentGateway
	ttl      time.Duration
	batch    int
	cron     *cron.Cron
	logger   *logrus.Logger
	now      func() time.Time
}

// NewExpirationService creates the sweeper
func NewExpirationService(
	source StalePendingSource,
	bookings BookingResolver,
	gateway PaymentGateway,
	ttl time.Duration,
	logger *logrus.Logger,
) *ExpirationService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ExpirationService{
		source:   source,
		bookings: bookings,
		gateway:  gateway,
		ttl:      ttl,
		batch:    100,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules the sweep (second minute hour day month weekday)
func (s *ExpirationService) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweepJob); err != nil {
		return fmt.Errorf("failed to schedule pending booking sweep: %w", err)
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": spec,
		"ttl":      s.ttl.String(),
	}).Info("Pending booking sweep scheduled")
	return nil
}

// Stop waits for a running sweep to finish
func (s *ExpirationService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Pending booking sweep stopped")
}

func (s *ExpirationService) sweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	startTime := time.Now()
	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Pending booking sweep failed")
		return
	}
	if stats.Scanned > 0 {
		s.logger.WithFields(logrus.Fields{
			"scanned":     stats.Scanned,
			"confirmed":   stats.Confirmed,
			"expired":     stats.Expired,
			"rejected":    stats.Rejected,
			"skipped":     stats.Skipped,
			"failed":      stats.Failed,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Info("Pending booking sweep completed")
	}
}

// RunOnce runs a single sweep over one batch
func (s *ExpirationService) RunOnce(ctx context.Context) (*ExpirationStats, error) {
	stale, err := s.source.ListStalePending(ctx, s.now().Add(-s.ttl), s.batch)
	if err != nil {
		return nil, err
	}

	stats := &ExpirationStats{Scanned: len(stale)}
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.resolve(ctx, &stale[i])
		log := s.logger.WithFields(logrus.Fields{
			"booking_ref": stale[i].BookingRef,
			"outcome":     outcome,
		})
		switch {
		case err != nil:
			stats.Failed++
			log.WithError(err).Warn("Failed to reconcile stale pending booking")
		case outcome == "confirmed":
			stats.Confirmed++
			log.Warn("Stale booking was paid, confirmed without webhook")
		case outcome == "expired":
			stats.Expired++
			log.Info("Stale pending booking expired")
		case outcome == "rejected":
			stats.Rejected++
			log.Error("CRITICAL: Supplier-rejected booking cancelled, check payment for refund")
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

func (s *ExpirationService) resolve(ctx context.Context, booking *models.Booking) (string, error) {
	cancel := func(reason, outcome string) (string, error) {
		_, err := s.bookings.CancelBooking(ctx, nil, &models.CancelBookingRequest{
			BookingRef: booking.BookingRef,
			Reason:     reason,
		})
		if errors.Is(err, ErrBookingLocked) {
			return "skipped", nil
		}
		if err != nil {
			return "", err
		}
		return outcome, nil
	}

	if booking.IsSupplier() && booking.SupplierRejected() {
		return cancel(rejectedReason, "rejected")
	}

	if booking.PaymentAuthorizationID == nil || *booking.PaymentAuthorizationID == "" {
		return cancel(expiredReason, "expired")
	}

	auth, err := s.gateway.Retrieve(ctx, *booking.PaymentAuthorizationID)
	if err != nil {
		// Never cancel a booking whose payment state is unknown
		return "", fmt.Errorf("failed to retrieve authorization: %w", err)
	}

	switch {
	case auth.IsConfirmable(booking.CaptureMode):
		_, err := s.bookings.ConfirmBooking(ctx, nil, &models.ConfirmBookingRequest{
			AuthorizationID: auth.ID,
			BookingRef:      booking.BookingRef,
		})
		if errors.Is(err, ErrBookingLocked) {
			return "skipped", nil
		}
		if err != nil {
			return "", err
		}
		return "confirmed", nil
	case auth.Status == models.AuthStatusProcessing:
		// Settles on its own; the next sweep decides
		return "skipped", nil
	}
	return cancel(expiredReason, "expired")
}
