package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/roomgate/booking-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

const (
	dateLayout    = "2006-01-02"
	maxStayNights = 30
)

// ============================================================================
// BOOKING REFERENCE GENERATION
// ============================================================================

// BookingRefGenerator produces short booking references
// Format: HB-YYYYMMDD-XXXXXX (6 hex chars)
// Example: HB-20261215-A1B2C3
// The last allowed attempt appends 8 extra hex chars so a collision run
// always terminates.
type BookingRefGenerator struct {
	prefix      string
	maxAttempts int
	now         func() time.Time
}

// NewBookingRefGenerator creates a generator for the given attempt budget
func NewBookingRefGenerator(maxAttempts int) *BookingRefGenerator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BookingRefGenerator{
		prefix:      "HB",
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// MaxAttempts returns the attempt budget
func (g *BookingRefGenerator) MaxAttempts() int {
	return g.maxAttempts
}

// Next returns the reference for the given 1-based attempt
func (g *BookingRefGenerator) Next(attempt int) string {
	ref := fmt.Sprintf("%s-%s-%s", g.prefix, g.now().UTC().Format("20060102"), randomHex(3))
	if attempt >= g.maxAttempts {
		ref += "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return ref
}

// randomHex returns 2*n upper-case hex chars
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n*2])
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// ============================================================================
// DRAFT SERVICE
// ============================================================================

// ValidatedIntent is a CreateBookingIntentRequest after validation and parsing
type ValidatedIntent struct {
	CheckIn  time.Time
	CheckOut time.Time
	Nights   int
	HotelID  int64   // PARTNER / OUTSIDE only
	RoomID   int64   // PARTNER / OUTSIDE only
	Phone    *string // E.164
}

// ReservationDraftService validates intent input and persists PENDING drafts
type ReservationDraftService struct {
	store     BookingStore
	refs      *BookingRefGenerator
	validator *validator.RequestValidator
	phones    *validator.PhoneValidator
	now       func() time.Time
	logger    *logrus.Logger
}

// NewReservationDraftService creates a new draft service
func NewReservationDraftService(store BookingStore, refs *BookingRefGenerator, logger *logrus.Logger) *ReservationDraftService {
	return &ReservationDraftService{
		store:     store,
		refs:      refs,
		validator: validator.NewRequestValidator(),
		phones:    validator.NewPhoneValidator(),
		now:       time.Now,
		logger:    logger,
	}
}

// ValidateIntentRequest checks struct rules and domain rules:
// stay dates, channel-specific identifiers and the guest phone
func (s *ReservationDraftService) ValidateIntentRequest(req *models.CreateBookingIntentRequest) (*ValidatedIntent, error) {
	if req == nil {
		return nil, &models.ValidationError{Message: "request body is required"}
	}

	if fields := s.validator.Struct(req); fields != nil {
		return nil, &models.ValidationError{Message: "validation failed", Fields: fields}
	}

	fields := make(map[string]string)
	out := &ValidatedIntent{}

	checkIn, errIn := time.Parse(dateLayout, req.CheckIn)
	checkOut, errOut := time.Parse(dateLayout, req.CheckOut)
	if errIn != nil {
		fields["check_in"] = "Must be a date in format 2006-01-02"
	}
	if errOut != nil {
		fields["check_out"] = "Must be a date in format 2006-01-02"
	}
	if errIn == nil && errOut == nil {
		today := s.now().UTC().Truncate(24 * time.Hour)
		switch {
		case !checkOut.After(checkIn):
			fields["check_out"] = "Must be after check_in"
		case checkIn.Before(today):
			fields["check_in"] = "Must not be in the past"
		case int(checkOut.Sub(checkIn).Hours()/24) > maxStayNights:
			fields["check_out"] = fmt.Sprintf("Stay cannot exceed %d nights", maxStayNights)
		}
		out.CheckIn = checkIn
		out.CheckOut = checkOut
		out.Nights = int(checkOut.Sub(checkIn).Hours() / 24)
	}

	switch req.SourceChannel {
	case models.SourceSupplier:
		if strings.TrimSpace(req.OptionRefID) == "" {
			fields["option_ref_id"] = "Required for SUPPLIER bookings"
		}
	case models.SourcePartner, models.SourceOutside:
		hotelID, err := strconv.ParseInt(req.HotelID, 10, 64)
		if err != nil || hotelID <= 0 {
			fields["hotel_id"] = "Must be a positive numeric id"
		}
		roomID, err := strconv.ParseInt(req.RoomID, 10, 64)
		if err != nil || roomID <= 0 {
			fields["room_id"] = "Must be a positive numeric id"
		}
		out.HotelID = hotelID
		out.RoomID = roomID
	}

	if req.Guest.Phone != nil && strings.TrimSpace(*req.Guest.Phone) != "" {
		phone, err := s.phones.Validate(*req.Guest.Phone)
		if err != nil {
			fields["guest.phone"] = err.Error()
		} else {
			out.Phone = &phone
		}
	}

	if len(fields) > 0 {
		return nil, &models.ValidationError{Message: "validation failed", Fields: fields}
	}
	return out, nil
}

// CreateDraft persists a PENDING/UNPAID booking with its supplier mapping
// and meta in one transaction. The booking reference is allocated here.
func (s *ReservationDraftService) CreateDraft(ctx context.Context, draft *models.BookingDraft) error {
	if err := s.validateDraft(draft); err != nil {
		return err
	}

	booking := draft.Booking
	booking.Status = models.BookingStatusPending
	booking.PaymentStatus = models.PaymentStatusUnpaid
	booking.ExternalSupplierRef = nil
	booking.PaymentAuthorizationID = nil

	if err := s.store.CreateDraft(ctx, draft, s.nextRef(draft), s.refs.MaxAttempts()); err != nil {
		return fmt.Errorf("failed to create booking draft: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_ref":    booking.BookingRef,
		"source_channel": booking.SourceChannel,
		"gross_price":    booking.GrossPrice,
		"currency":       booking.Currency,
	}).Info("Booking draft created")

	return nil
}

// nextRef generates refs and keeps the supplier client reference in sync,
// since the booking ref doubles as the supplier dedup key
func (s *ReservationDraftService) nextRef(draft *models.BookingDraft) func(int) string {
	return func(attempt int) string {
		ref := s.refs.Next(attempt)
		if draft.Meta != nil {
			draft.Meta.ClientReference = ref
		}
		return ref
	}
}

func (s *ReservationDraftService) validateDraft(draft *models.BookingDraft) error {
	if draft == nil || draft.Booking == nil {
		return &models.ValidationError{Message: "draft booking is required"}
	}

	b := draft.Booking
	fields := make(map[string]string)

	if !b.SourceChannel.IsValid() {
		fields["source_channel"] = "Must be one of: SUPPLIER, PARTNER, OUTSIDE"
	}
	if !b.CaptureMode.IsValid() {
		fields["capture_mode"] = "Must be one of: automatic, manual"
	}
	if b.CheckIn.IsZero() || b.CheckOut.IsZero() || !b.CheckOut.After(b.CheckIn) {
		fields["check_out"] = "Must be after check_in"
	}
	if b.GrossPrice <= 0 {
		fields["gross_price"] = "Must be greater than 0"
	}
	if len(b.Currency) != 3 {
		fields["currency"] = "Must be exactly 3 characters"
	}
	if b.GuestFirstName == "" || b.GuestLastName == "" || b.GuestEmail == "" {
		fields["guest"] = "Guest name and email are required"
	}

	if b.SourceChannel == models.SourceSupplier {
		if draft.Hotel == nil || draft.Hotel.SupplierHotelCode == "" || draft.Hotel.AccessScope == "" {
			fields["hotel"] = "Supplier hotel code and access scope are required"
		}
		if draft.Meta == nil || draft.Meta.OptionRefID == "" {
			fields["option_ref_id"] = "Supplier option reference is required"
		}
	} else if b.HotelID == nil || *b.HotelID <= 0 {
		fields["hotel_id"] = "Must be a positive numeric id"
	}

	if len(fields) > 0 {
		return &models.ValidationError{Message: "invalid booking draft", Fields: fields}
	}
	return nil
}
