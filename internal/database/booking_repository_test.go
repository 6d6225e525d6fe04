package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func supplierDraft() *models.BookingDraft {
	checkIn := time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)
	return &models.BookingDraft{
		Booking: &models.Booking{
			SourceChannel:    models.SourceSupplier,
			Status:           models.BookingStatusPending,
			PaymentStatus:    models.PaymentStatusUnpaid,
			PaymentProvider:  "stripe",
			CaptureMode:      models.CaptureManual,
			GrossPrice:       140.00,
			NetCost:          100.00,
			MarkupPercentage: 0.40,
			Currency:         "EUR",
			CheckIn:          checkIn,
			CheckOut:         checkIn.AddDate(0, 0, 2),
			RoomCode:         "DBL",
			Adults:           2,
			GuestFirstName:   "Ana",
			GuestLastName:    "Silva",
			GuestEmail:       "ana@example.com",
			CallerRole:       "staff",
		},
		Hotel: &models.SupplierHotel{
			AccessScope:       "ctx-1",
			SupplierHotelCode: "H-77",
			Name:              "Harbour View",
		},
		Meta: &models.SupplierBookingMeta{
			OptionRefID: "SUP-123",
			AccessCode:  "AC-1",
			HotelCode:   "H-77",
		},
	}
}

func refSequence(refs ...string) BookingRefFunc {
	return func(attempt int) string {
		return refs[attempt-1]
	}
}

func refCollision() error {
	return &pq.Error{Code: "23505", Constraint: "bookings_booking_ref_key", Message: "duplicate key value"}
}

func TestBookingRepository_CreateDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())
		draft := supplierDraft()
		hotelID := uuid.New()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO supplier_hotels`).
			WithArgs(sqlmock.AnyArg(), "ctx-1", "H-77", "Harbour View", nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(hotelID.String()))
		mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`RELEASE SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO supplier_booking_meta`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		err := repo.CreateDraft(ctx, draft, refSequence("HB-20261215-AAAAAA"), 3)
		require.NoError(t, err)

		assert.Equal(t, "HB-20261215-AAAAAA", draft.Booking.BookingRef)
		require.NotNil(t, draft.Booking.SupplierHotelID)
		assert.Equal(t, hotelID, *draft.Booking.SupplierHotelID)
		assert.Equal(t, draft.Booking.ID, draft.Meta.BookingID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Retries on booking_ref collision", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())
		draft := supplierDraft()
		draft.Hotel = nil
		draft.Meta = nil
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO bookings`).WillReturnError(refCollision())
		mock.ExpectExec(`ROLLBACK TO SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`RELEASE SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := repo.CreateDraft(ctx, draft, refSequence("HB-1", "HB-2", "HB-3"), 3)
		require.NoError(t, err)
		assert.Equal(t, "HB-2", draft.Booking.BookingRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Gives up after max attempts", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())
		draft := supplierDraft()
		draft.Hotel = nil
		draft.Meta = nil

		mock.ExpectBegin()
		for i := 0; i < 2; i++ {
			mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`INSERT INTO bookings`).WillReturnError(refCollision())
			mock.ExpectExec(`ROLLBACK TO SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectRollback()

		err := repo.CreateDraft(ctx, draft, refSequence("HB-1", "HB-1"), 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBookingRefExhausted))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Other unique violation aborts", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())
		draft := supplierDraft()
		draft.Hotel = nil
		draft.Meta = nil

		mock.ExpectBegin()
		mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "bookings_payment_authorization_id_key"})
		mock.ExpectRollback()

		err := repo.CreateDraft(ctx, draft, refSequence("HB-1", "HB-2"), 2)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrBookingRefExhausted))
		assert.Contains(t, err.Error(), "failed to create booking")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Meta failure rolls back everything", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())
		draft := supplierDraft()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO supplier_hotels`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
		mock.ExpectExec(`^SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`RELEASE SAVEPOINT booking_ref_attempt`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO supplier_booking_meta`).WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		err := repo.CreateDraft(ctx, draft, refSequence("HB-1"), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create supplier booking meta")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_GetByRef(t *testing.T) {
	ctx := context.Background()

	t.Run("Not found returns nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE booking_ref`).
			WithArgs("HB-404").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		booking, err := repo.GetByRef(ctx, "HB-404")
		require.NoError(t, err)
		assert.Nil(t, booking)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE payment_authorization_id`).
			WithArgs("pi_1").
			WillReturnError(fmt.Errorf("database error"))

		booking, err := repo.GetByAuthorizationID(ctx, "pi_1")
		require.Error(t, err)
		assert.Nil(t, booking)
		assert.Contains(t, err.Error(), "failed to get booking by payment_authorization_id")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_AttachAuthorization(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectExec(`UPDATE bookings\s+SET payment_authorization_id`).
			WithArgs(id, "pi_1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.AttachAuthorization(ctx, id, "pi_1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not pending", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectExec(`UPDATE bookings\s+SET payment_authorization_id`).
			WithArgs(id, "pi_1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.AttachAuthorization(ctx, id, "pi_1")
		var conflict *models.StateConflictError
		assert.True(t, errors.As(err, &conflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_ConfirmBooking(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	supplierRef := "SUP-REF-9"
	bookingID := "SB-1"

	confirmation := &models.BookingConfirmation{
		BookingID:           id,
		ExternalSupplierRef: &supplierRef,
		BookedAt:            time.Now(),
		Meta: &models.SupplierBookingMeta{
			SupplierReference: &supplierRef,
			SupplierBookingID: &bookingID,
		},
	}

	t.Run("Confirms pending booking and updates meta", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'CONFIRMED'`).
			WithArgs(id, supplierRef, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE supplier_booking_meta`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := repo.ConfirmBooking(ctx, confirmation)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lost race returns false", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'CONFIRMED'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := repo.ConfirmBooking(ctx, confirmation)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Meta failure rolls back status", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'CONFIRMED'`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE supplier_booking_meta`).
			WillReturnError(fmt.Errorf("deadlock detected"))
		mock.ExpectRollback()

		ok, err := repo.ConfirmBooking(ctx, confirmation)
		require.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_CancelBooking(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	cancelRef := "CXL-1"

	t.Run("Cancels and stores reference", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'CANCELLED'`).
			WithArgs(id, models.BookingStatusConfirmed, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE supplier_booking_meta SET cancel_reference`).
			WithArgs(id, cancelRef).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := repo.CancelBooking(ctx, id, models.BookingStatusConfirmed, &cancelRef)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Status moved underneath", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'CANCELLED'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := repo.CancelBooking(ctx, id, models.BookingStatusPending, nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_MarkPaid(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db, newTestLogger())
	id := uuid.New()

	mock.ExpectExec(`SET payment_status = 'PAID'`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET payment_status = 'PAID'`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkPaid(context.Background(), id)
	require.NoError(t, err)
	second, err := repo.MarkPaid(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListStalePending(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Returns pending rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		id := uuid.New()
		mock.ExpectQuery(`SELECT (.+) FROM bookings\s+WHERE status = \$1 AND created_at < \$2`).
			WithArgs(models.BookingStatusPending, cutoff, 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "booking_ref", "status"}).
				AddRow(id.String(), "HB-20261201-AAAAAA", "PENDING"))

		bookings, err := repo.ListStalePending(ctx, cutoff, 50)
		require.NoError(t, err)
		require.Len(t, bookings, 1)
		assert.Equal(t, id, bookings[0].ID)
		assert.Equal(t, "HB-20261201-AAAAAA", bookings[0].BookingRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBookingRepository(db, newTestLogger())

		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WillReturnError(errors.New("connection refused"))

		_, err := repo.ListStalePending(ctx, cutoff, 50)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list stale pending bookings")
	})
}
