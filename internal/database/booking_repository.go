package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrBookingRefExhausted is returned when every booking reference attempt collided
var ErrBookingRefExhausted = errors.New("failed to allocate a unique booking reference")

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// BookingRefFunc returns the booking reference to try for the given attempt (1-based)
type BookingRefFunc func(attempt int) string

// BookingRepository handles booking database operations
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{
		db:     db,
		logger: logger,
	}
}

const bookingColumns = `
	id, booking_ref, source_channel, status, payment_status,
	payment_provider, payment_authorization_id, capture_mode,
	external_supplier_ref, supplier_hotel_id,
	gross_price, net_cost, markup_percentage, currency, discount_code,
	check_in, check_out, hotel_id, room_code, adults, children,
	guest_first_name, guest_last_name, guest_email, guest_phone,
	user_id, caller_role, snapshot,
	booked_at, cancelled_at, created_at, updated_at`

const metaColumns = `
	id, booking_id, option_ref_id, access_code, hotel_code,
	client_reference, supplier_reference, hotel_reference, supplier_booking_id, cancel_reference,
	price_snapshot, cancel_policy, raw_book_response,
	created_at, updated_at`

// ============================================================================
// DRAFT CREATION
// ============================================================================

// CreateDraft persists a PENDING booking in one transaction:
// 1. find-or-create the supplier hotel mapping (SUPPLIER only)
// 2. insert the booking, retrying on booking_ref collisions inside a savepoint
// 3. insert the supplier booking meta (SUPPLIER only)
// Any other failure aborts the whole transaction.
func (r *BookingRepository) CreateDraft(ctx context.Context, draft *models.BookingDraft, nextRef BookingRefFunc, maxAttempts int) error {
	if draft == nil || draft.Booking == nil {
		return fmt.Errorf("draft booking cannot be nil")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking := draft.Booking

	// 1. Supplier hotel mapping
	if draft.Hotel != nil {
		hotelID, err := r.upsertSupplierHotel(ctx, tx, draft.Hotel)
		if err != nil {
			return err
		}
		booking.SupplierHotelID = &hotelID
	}

	// 2. Booking row with bounded reference retry
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if err := r.insertBookingWithRetry(ctx, tx, booking, nextRef, maxAttempts); err != nil {
		return err
	}

	// 3. Supplier meta
	if draft.Meta != nil {
		draft.Meta.BookingID = booking.ID
		if err := r.insertMeta(ctx, tx, draft.Meta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit draft: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"booking_ref":    booking.BookingRef,
		"source_channel": booking.SourceChannel,
	}).Info("Booking draft persisted")

	return nil
}

// upsertSupplierHotel finds or creates the mapping row and returns its id
func (r *BookingRepository) upsertSupplierHotel(ctx context.Context, tx *sqlx.Tx, hotel *models.SupplierHotel) (uuid.UUID, error) {
	if hotel.ID == uuid.Nil {
		hotel.ID = uuid.New()
	}

	query := `
		INSERT INTO supplier_hotels (
			id, access_scope, supplier_hotel_code, name, city, country_code
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (access_scope, supplier_hotel_code)
		DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id`

	var id uuid.UUID
	err := tx.QueryRowxContext(ctx, query,
		hotel.ID, hotel.AccessScope, hotel.SupplierHotelCode, hotel.Name, hotel.City, hotel.CountryCode,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert supplier hotel: %w", err)
	}

	hotel.ID = id
	return id, nil
}

func (r *BookingRepository) insertBookingWithRetry(ctx context.Context, tx *sqlx.Tx, booking *models.Booking, nextRef BookingRefFunc, maxAttempts int) error {
	query := `
		INSERT INTO bookings (
			id, booking_ref, source_channel, status, payment_status,
			payment_provider, capture_mode, supplier_hotel_id,
			gross_price, net_cost, markup_percentage, currency, discount_code,
			check_in, check_out, hotel_id, room_code, adults, children,
			guest_first_name, guest_last_name, guest_email, guest_phone,
			user_id, caller_role, snapshot
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		) RETURNING created_at, updated_at`

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		booking.BookingRef = nextRef(attempt)

		if _, err := tx.ExecContext(ctx, "SAVEPOINT booking_ref_attempt"); err != nil {
			return fmt.Errorf("failed to create savepoint: %w", err)
		}

		err := tx.QueryRowxContext(ctx, query,
			booking.ID, booking.BookingRef, booking.SourceChannel, booking.Status, booking.PaymentStatus,
			booking.PaymentProvider, booking.CaptureMode, booking.SupplierHotelID,
			booking.GrossPrice, booking.NetCost, booking.MarkupPercentage, booking.Currency, booking.DiscountCode,
			booking.CheckIn, booking.CheckOut, booking.HotelID, booking.RoomCode, booking.Adults, booking.Children,
			booking.GuestFirstName, booking.GuestLastName, booking.GuestEmail, booking.GuestPhone,
			booking.UserID, booking.CallerRole, booking.Snapshot,
		).Scan(&booking.CreatedAt, &booking.UpdatedAt)

		if err == nil {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT booking_ref_attempt"); err != nil {
				return fmt.Errorf("failed to release savepoint: %w", err)
			}
			return nil
		}

		if !isBookingRefCollision(err) {
			return fmt.Errorf("failed to create booking: %w", err)
		}

		r.logger.WithFields(logrus.Fields{
			"booking_ref": booking.BookingRef,
			"attempt":     attempt,
		}).Warn("Booking reference collision, retrying")

		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT booking_ref_attempt"); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrBookingRefExhausted, maxAttempts)
}

func (r *BookingRepository) insertMeta(ctx context.Context, tx *sqlx.Tx, meta *models.SupplierBookingMeta) error {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}

	query := `
		INSERT INTO supplier_booking_meta (
			id, booking_id, option_ref_id, access_code, hotel_code,
			client_reference, price_snapshot, cancel_policy
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		meta.ID, meta.BookingID, meta.OptionRefID, meta.AccessCode, meta.HotelCode,
		meta.ClientReference, meta.PriceSnapshot, meta.CancelPolicy,
	).Scan(&meta.CreatedAt, &meta.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create supplier booking meta: %w", err)
	}
	return nil
}

// isBookingRefCollision reports whether err is a unique violation on booking_ref
func isBookingRefCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && strings.Contains(pqErr.Constraint, "booking_ref")
}

// ============================================================================
// READS
// ============================================================================

// GetByID retrieves a booking by id
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, "id", id)
}

// GetByRef retrieves a booking by booking reference
func (r *BookingRepository) GetByRef(ctx context.Context, ref string) (*models.Booking, error) {
	return r.getOne(ctx, "booking_ref", ref)
}

// GetByAuthorizationID retrieves a booking by its payment authorization id
func (r *BookingRepository) GetByAuthorizationID(ctx context.Context, authorizationID string) (*models.Booking, error) {
	return r.getOne(ctx, "payment_authorization_id", authorizationID)
}

// ListStalePending returns PENDING bookings created before the cutoff,
// oldest first
func (r *BookingRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, bookingColumns)

	if err := r.db.SelectContext(ctx, &bookings, query, models.BookingStatusPending, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return bookings, nil
}

func (r *BookingRepository) getOne(ctx context.Context, column string, value interface{}) (*models.Booking, error) {
	var booking models.Booking
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE %s = $1`, bookingColumns, column)

	err := r.db.GetContext(ctx, &booking, query, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking by %s: %w", column, err)
	}
	return &booking, nil
}

// GetMeta retrieves the supplier booking meta for a booking
func (r *BookingRepository) GetMeta(ctx context.Context, bookingID uuid.UUID) (*models.SupplierBookingMeta, error) {
	var meta models.SupplierBookingMeta
	query := fmt.Sprintf(`SELECT %s FROM supplier_booking_meta WHERE booking_id = $1`, metaColumns)

	err := r.db.GetContext(ctx, &meta, query, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get supplier booking meta: %w", err)
	}
	return &meta, nil
}

// ============================================================================
// STATUS TRANSITIONS
// ============================================================================

// AttachAuthorization links a payment authorization to a PENDING booking
func (r *BookingRepository) AttachAuthorization(ctx context.Context, bookingID uuid.UUID, authorizationID string) error {
	query := `
		UPDATE bookings
		SET payment_authorization_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND payment_authorization_id IS NULL`

	result, err := r.db.ExecContext(ctx, query, bookingID, authorizationID)
	if err != nil {
		return fmt.Errorf("failed to attach authorization: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &models.StateConflictError{Message: "booking is not pending or already has an authorization"}
	}
	return nil
}

// ConfirmBooking moves a booking PENDING -> CONFIRMED and merges supplier
// references into the meta row, in one transaction. The status update is
// guarded on PENDING; it returns false without error when another writer
// already moved the booking.
func (r *BookingRepository) ConfirmBooking(ctx context.Context, c *models.BookingConfirmation) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE bookings
		SET status = 'CONFIRMED',
		    external_supplier_ref = COALESCE(external_supplier_ref, $2),
		    booked_at = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	result, err := tx.ExecContext(ctx, query, c.BookingID, c.ExternalSupplierRef, c.BookedAt)
	if err != nil {
		return false, fmt.Errorf("failed to confirm booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if c.Meta != nil {
		metaQuery := `
			UPDATE supplier_booking_meta
			SET supplier_reference = $2,
			    hotel_reference = $3,
			    supplier_booking_id = $4,
			    cancel_policy = COALESCE($5, cancel_policy),
			    raw_book_response = $6,
			    updated_at = NOW()
			WHERE booking_id = $1`

		_, err := tx.ExecContext(ctx, metaQuery,
			c.BookingID, c.Meta.SupplierReference, c.Meta.HotelReference,
			c.Meta.SupplierBookingID, c.Meta.CancelPolicy, c.Meta.RawBookResponse,
		)
		if err != nil {
			return false, fmt.Errorf("failed to update supplier booking meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return true, nil
}

// MarkPaid moves payment_status UNPAID -> PAID. Returns false when the
// booking was not UNPAID.
func (r *BookingRepository) MarkPaid(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'PAID', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'UNPAID'`

	result, err := r.db.ExecContext(ctx, query, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CancelBooking moves a booking from the expected status to CANCELLED,
// flipping PAID to REFUNDED, and stores the supplier cancel reference.
// Returns false without error when the booking was no longer in from.
func (r *BookingRepository) CancelBooking(ctx context.Context, bookingID uuid.UUID, from models.BookingStatus, cancelRef *string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE bookings
		SET status = 'CANCELLED',
		    payment_status = CASE WHEN payment_status = 'PAID' THEN 'REFUNDED' ELSE payment_status END,
		    cancelled_at = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := tx.ExecContext(ctx, query, bookingID, from, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if cancelRef != nil {
		_, err := tx.ExecContext(ctx,
			`UPDATE supplier_booking_meta SET cancel_reference = $2, updated_at = NOW() WHERE booking_id = $1`,
			bookingID, *cancelRef,
		)
		if err != nil {
			return false, fmt.Errorf("failed to store cancel reference: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return true, nil
}

// RecordSnapshot merges a keyed entry into bookings.snapshot for replay
func (r *BookingRepository) RecordSnapshot(ctx context.Context, bookingID uuid.UUID, key string, value models.JSONB) error {
	query := `
		UPDATE bookings
		SET snapshot = COALESCE(snapshot, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, bookingID, key, value); err != nil {
		return fmt.Errorf("failed to record booking snapshot: %w", err)
	}
	return nil
}
