package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refPattern = regexp.MustCompile(`^HB-\d{8}-[0-9A-F]{6}$`)

func TestBookingRefGenerator(t *testing.T) {
	gen := NewBookingRefGenerator(3)
	gen.now = func() time.Time { return time.Date(2026, 12, 15, 10, 0, 0, 0, time.UTC) }

	first := gen.Next(1)
	assert.Regexp(t, refPattern, first)
	assert.Contains(t, first, "HB-20261215-")

	// Last attempt carries an extra suffix
	last := gen.Next(3)
	assert.Regexp(t, `^HB-20261215-[0-9A-F]{6}-[0-9A-F]{8}$`, last)
}

func TestBookingRefGenerator_SingleAttemptUsesLongSuffix(t *testing.T) {
	gen := NewBookingRefGenerator(1)

	assert.Equal(t, 1, gen.MaxAttempts())
	assert.Regexp(t, `^HB-\d{8}-[0-9A-F]{6}-[0-9A-F]{8}$`, gen.Next(1))
}

func validIntent() *models.CreateBookingIntentRequest {
	checkIn, checkOut := stayDates()
	phone := "+351 912 345 678"
	return &models.CreateBookingIntentRequest{
		SourceChannel: models.SourcePartner,
		HotelID:       "10",
		RoomID:        "20",
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Adults:        2,
		Guest:         models.GuestRequest{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: &phone},
		TotalAmount:   100,
	}
}

func TestValidateIntentRequest(t *testing.T) {
	svc := NewReservationDraftService(newMemoryStore(), NewBookingRefGenerator(3), testLogger())

	t.Run("valid partner request", func(t *testing.T) {
		out, err := svc.ValidateIntentRequest(validIntent())
		require.NoError(t, err)
		assert.Equal(t, 3, out.Nights)
		assert.Equal(t, int64(10), out.HotelID)
		assert.Equal(t, int64(20), out.RoomID)
		require.NotNil(t, out.Phone)
		assert.Equal(t, "+351912345678", *out.Phone)
	})

	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingIntentRequest)
		field  string
	}{
		{"past check-in", func(r *models.CreateBookingIntentRequest) {
			r.CheckIn = time.Now().AddDate(0, 0, -5).Format("2006-01-02")
			r.CheckOut = time.Now().AddDate(0, 0, -2).Format("2006-01-02")
		}, "check_in"},
		{"check-out before check-in", func(r *models.CreateBookingIntentRequest) { r.CheckOut = r.CheckIn }, "check_out"},
		{"stay too long", func(r *models.CreateBookingIntentRequest) {
			in, _ := time.Parse("2006-01-02", r.CheckIn)
			r.CheckOut = in.AddDate(0, 0, 31).Format("2006-01-02")
		}, "check_out"},
		{"bad date", func(r *models.CreateBookingIntentRequest) { r.CheckIn = "15/12/2026" }, "check_in"},
		{"missing hotel id", func(r *models.CreateBookingIntentRequest) { r.HotelID = "" }, "hotel_id"},
		{"supplier without option", func(r *models.CreateBookingIntentRequest) {
			r.SourceChannel = models.SourceSupplier
			r.HotelID, r.RoomID = "", ""
		}, "option_ref_id"},
		{"national phone", func(r *models.CreateBookingIntentRequest) {
			phone := "912345678"
			r.Guest.Phone = &phone
		}, "guest.phone"},
		{"bad email", func(r *models.CreateBookingIntentRequest) { r.Guest.Email = "not-an-email" }, "guest.email"},
		{"zero adults", func(r *models.CreateBookingIntentRequest) { r.Adults = 0 }, "adults"},
		{"unknown channel", func(r *models.CreateBookingIntentRequest) { r.SourceChannel = "DIRECT" }, "source_channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validIntent()
			tt.mutate(req)

			_, err := svc.ValidateIntentRequest(req)

			var validation *models.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Fields, tt.field)
		})
	}
}

func TestCreateDraft_ForcesPendingAndSyncsClientReference(t *testing.T) {
	store := newMemoryStore()
	svc := NewReservationDraftService(store, NewBookingRefGenerator(3), testLogger())
	authID := "pi_stale"
	supplierRef := "SUP-OLD"

	draft := &models.BookingDraft{
		Booking: &models.Booking{
			ID:                     uuid.New(),
			SourceChannel:          models.SourceSupplier,
			Status:                 models.BookingStatusConfirmed,
			PaymentStatus:          models.PaymentStatusPaid,
			PaymentAuthorizationID: &authID,
			ExternalSupplierRef:    &supplierRef,
			CaptureMode:            models.CaptureAutomatic,
			GrossPrice:             140,
			Currency:               "EUR",
			CheckIn:                time.Now().AddDate(0, 1, 0),
			CheckOut:               time.Now().AddDate(0, 1, 2),
			GuestFirstName:         "Ana",
			GuestLastName:          "Silva",
			GuestEmail:             "ana@example.com",
		},
		Hotel: &models.SupplierHotel{AccessScope: "ACC1", SupplierHotelCode: "H-77"},
		Meta:  &models.SupplierBookingMeta{OptionRefID: "OPT-1"},
	}

	require.NoError(t, svc.CreateDraft(context.Background(), draft))

	stored := store.only(t)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, stored.PaymentStatus)
	assert.Nil(t, stored.PaymentAuthorizationID)
	assert.Nil(t, stored.ExternalSupplierRef)
	assert.Regexp(t, refPattern, stored.BookingRef)
	assert.Equal(t, stored.BookingRef, draft.Meta.ClientReference)
}

func TestCreateDraft_RejectsIncompleteSupplierDraft(t *testing.T) {
	svc := NewReservationDraftService(newMemoryStore(), NewBookingRefGenerator(3), testLogger())

	err := svc.CreateDraft(context.Background(), &models.BookingDraft{
		Booking: &models.Booking{
			ID:            uuid.New(),
			SourceChannel: models.SourceSupplier,
			CaptureMode:   models.CaptureManual,
			GrossPrice:    0,
			Currency:      "EURO",
		},
	})

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	for _, field := range []string{"gross_price", "currency", "hotel", "option_ref_id", "check_out", "guest"} {
		assert.Contains(t, validation.Fields, field)
	}
}
