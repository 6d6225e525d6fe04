package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAuditRepository_Log(t *testing.T) {
	ctx := context.Background()

	t.Run("Fills id and timestamp", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProviderAuditRepository(db, newTestLogger())

		mock.ExpectExec(`INSERT INTO provider_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		entry := &models.ProviderAudit{
			Provider:  models.AuditProviderSupplier,
			EventType: models.AuditEventSupplierBook,
		}
		entry.SetBookingRef("HB-20261215-A1B2C3").SetHTTPDetails("POST", "https://supplier.test/graphql", 200)

		require.NoError(t, repo.Log(ctx, entry))
		assert.NotEqual(t, uuid.Nil, entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nil entry", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewProviderAuditRepository(db, newTestLogger())

		assert.Error(t, repo.Log(ctx, nil))
	})

	t.Run("Insert failure is returned", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProviderAuditRepository(db, newTestLogger())

		mock.ExpectExec(`INSERT INTO provider_audits`).
			WillReturnError(errors.New("disk full"))

		err := repo.Log(ctx, models.NewProviderAudit(models.AuditProviderPayment, models.AuditEventWebhookReceived))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestProviderAuditRepository_CheckDuplicate(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  bool
	}{
		{"First delivery", 0, false},
		{"Redelivery", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewProviderAuditRepository(db, newTestLogger())

			mock.ExpectQuery(`SELECT COUNT\(\*\) FROM provider_audits\s+WHERE event_type = \$1\s+AND idempotency_key = \$2\s+AND is_duplicate = FALSE\s+AND error_message IS NULL`).
				WithArgs(models.AuditEventWebhookReceived, "evt_123").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			dup, err := repo.CheckDuplicate(context.Background(), models.AuditEventWebhookReceived, "evt_123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, dup)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProviderAuditRepository_GetByBookingRef(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProviderAuditRepository(db, newTestLogger())
	ref := "HB-20261215-A1B2C3"
	first := time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM provider_audits\s+WHERE booking_ref = \$1\s+ORDER BY created_at ASC`).
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "provider", "event_type", "booking_ref", "attempt", "is_duplicate", "created_at",
		}).
			AddRow(uuid.New().String(), "payment_gateway", "authorization_create", ref, 1, false, first).
			AddRow(uuid.New().String(), "supplier", "supplier_book", ref, 2, false, first.Add(time.Minute)))

	entries, err := repo.GetByBookingRef(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditProviderPayment, entries[0].Provider)
	assert.Equal(t, models.AuditEventSupplierBook, entries[1].EventType)
	assert.Equal(t, 2, entries[1].Attempt)
	require.NotNil(t, entries[1].BookingRef)
	assert.Equal(t, ref, *entries[1].BookingRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}
