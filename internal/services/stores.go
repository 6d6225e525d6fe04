package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/database"
	"github.com/roomgate/booking-backend/internal/models"
)

// BookingStore is the persistence surface the booking services need.
// Implemented by database.BookingRepository.
type BookingStore interface {
	CreateDraft(ctx context.Context, draft *models.BookingDraft, nextRef database.BookingRefFunc, maxAttempts int) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByRef(ctx context.Context, ref string) (*models.Booking, error)
	GetByAuthorizationID(ctx context.Context, authorizationID string) (*models.Booking, error)
	GetMeta(ctx context.Context, bookingID uuid.UUID) (*models.SupplierBookingMeta, error)
	AttachAuthorization(ctx context.Context, bookingID uuid.UUID, authorizationID string) error
	ConfirmBooking(ctx context.Context, c *models.BookingConfirmation) (bool, error)
	MarkPaid(ctx context.Context, bookingID uuid.UUID) (bool, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, from models.BookingStatus, cancelRef *string) (bool, error)
	RecordSnapshot(ctx context.Context, bookingID uuid.UUID, key string, value models.JSONB) error
}

// DiscountStore is implemented by database.DiscountRepository
type DiscountStore interface {
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	Finalize(ctx context.Context, code string, bookingID uuid.UUID) (bool, error)
}

// RoomRateStore is implemented by database.RoomRateRepository
type RoomRateStore interface {
	GetActiveRate(ctx context.Context, hotelID, roomID int64) (*models.RoomRate, error)
}

// AuditRecorder persists provider exchanges. Implemented by
// database.ProviderAuditRepository.
type AuditRecorder interface {
	Log(ctx context.Context, audit *models.ProviderAudit) error
}

var (
	_ BookingStore  = (*database.BookingRepository)(nil)
	_ DiscountStore = (*database.DiscountRepository)(nil)
	_ RoomRateStore = (*database.RoomRateRepository)(nil)
	_ AuditRecorder = (*database.ProviderAuditRepository)(nil)
)
