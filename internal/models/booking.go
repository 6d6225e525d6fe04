package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING ENUMS (matches DB ENUMs)
// ============================================================================

// SourceChannel identifies where the booked inventory comes from
// Matches PostgreSQL ENUM: booking_source_channel
type SourceChannel string

const (
	SourceSupplier SourceChannel = "SUPPLIER" // Third-party supplier inventory, booked over GraphQL
	SourcePartner  SourceChannel = "PARTNER"  // Partner hotel with locally managed rates
	SourceOutside  SourceChannel = "OUTSIDE"  // Outside listing with locally managed rates
)

// IsValid reports whether the channel is one of the known channels
func (s SourceChannel) IsValid() bool {
	switch s {
	case SourceSupplier, SourcePartner, SourceOutside:
		return true
	}
	return false
}

// BookingStatus represents the lifecycle status of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"   // Draft persisted, waiting for payment
	BookingStatusConfirmed BookingStatus = "CONFIRMED" // Supplier secured (if any) and committed locally
	BookingStatusCancelled BookingStatus = "CANCELLED" // Terminal
)

// CanTransitionTo reports whether moving to next is a legal transition
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled
	}
	return false
}

// PaymentStatus represents the money state of a booking
// Matches PostgreSQL ENUM: booking_payment_status
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// CanTransitionTo reports whether moving to next is a legal transition
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusUnpaid:
		return next == PaymentStatusPaid
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded
	}
	return false
}

// CaptureMode controls whether the gateway captures funds on its own
type CaptureMode string

const (
	CaptureAutomatic CaptureMode = "automatic" // Gateway captures on payment success
	CaptureManual    CaptureMode = "manual"    // Funds held until we capture explicitly
)

// IsValid reports whether the capture mode is known
func (m CaptureMode) IsValid() bool {
	return m == CaptureAutomatic || m == CaptureManual
}

// ============================================================================
// BOOKING MODEL
// ============================================================================

// Booking is the persistent reservation record
type Booking struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	BookingRef    string        `json:"booking_ref" db:"booking_ref"`
	SourceChannel SourceChannel `json:"source_channel" db:"source_channel"`
	Status        BookingStatus `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	// Payment linkage
	PaymentProvider        string      `json:"payment_provider" db:"payment_provider"`
	PaymentAuthorizationID *string     `json:"payment_authorization_id,omitempty" db:"payment_authorization_id"`
	CaptureMode            CaptureMode `json:"capture_mode" db:"capture_mode"`

	// Supplier linkage (set once on supplier success)
	ExternalSupplierRef *string    `json:"external_supplier_ref,omitempty" db:"external_supplier_ref"`
	SupplierHotelID     *uuid.UUID `json:"supplier_hotel_id,omitempty" db:"supplier_hotel_id"`

	// Pricing
	GrossPrice       float64 `json:"gross_price" db:"gross_price"`
	NetCost          float64 `json:"net_cost" db:"net_cost"`
	MarkupPercentage float64 `json:"markup_percentage" db:"markup_percentage"`
	Currency         string  `json:"currency" db:"currency"`
	DiscountCode     *string `json:"discount_code,omitempty" db:"discount_code"`

	// Stay
	CheckIn  time.Time `json:"check_in" db:"check_in"`
	CheckOut time.Time `json:"check_out" db:"check_out"`
	HotelID  *int64    `json:"hotel_id,omitempty" db:"hotel_id"`
	RoomCode string    `json:"room_code" db:"room_code"`
	Adults   int       `json:"adults" db:"adults"`
	Children int       `json:"children" db:"children"`

	// Guest
	GuestFirstName string  `json:"guest_first_name" db:"guest_first_name"`
	GuestLastName  string  `json:"guest_last_name" db:"guest_last_name"`
	GuestEmail     string  `json:"guest_email" db:"guest_email"`
	GuestPhone     *string `json:"guest_phone,omitempty" db:"guest_phone"`

	// Caller
	UserID     *string `json:"user_id,omitempty" db:"user_id"`
	CallerRole string  `json:"caller_role" db:"caller_role"`

	// Replay / audit snapshot
	Snapshot JSONB `json:"snapshot,omitempty" db:"snapshot"`

	// Timestamps
	BookedAt    *time.Time `json:"booked_at,omitempty" db:"booked_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Nights returns the number of nights between check-in and check-out
func (b *Booking) Nights() int {
	d := b.CheckOut.Sub(b.CheckIn)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// IsSupplier reports whether the booking needs a supplier leg
func (b *Booking) IsSupplier() bool {
	return b.SourceChannel == SourceSupplier
}

// AuthorizationID returns the attached authorization id or ""
func (b *Booking) AuthorizationID() string {
	if b.PaymentAuthorizationID == nil {
		return ""
	}
	return *b.PaymentAuthorizationID
}

// SnapshotKeySupplierFailure holds the last failed supplier book() outcome
const SnapshotKeySupplierFailure = "supplier_failure"

// SupplierRejected reports whether the supplier definitively refused this
// booking. Transport failures leave the outcome unknown and do not count.
func (b *Booking) SupplierRejected() bool {
	var failure map[string]interface{}
	switch v := b.Snapshot[SnapshotKeySupplierFailure].(type) {
	case JSONB:
		failure = v
	case map[string]interface{}:
		failure = v
	default:
		return false
	}
	rejected, _ := failure["rejected"].(bool)
	return rejected
}

// GuestFullName returns "First Last"
func (b *Booking) GuestFullName() string {
	if b.GuestLastName == "" {
		return b.GuestFirstName
	}
	return b.GuestFirstName + " " + b.GuestLastName
}

// BookingDraft carries everything needed to persist a PENDING booking
// together with its supplier mapping and meta in one transaction
type BookingDraft struct {
	Booking *Booking
	Hotel   *SupplierHotel       // nil for PARTNER / OUTSIDE
	Meta    *SupplierBookingMeta // nil for PARTNER / OUTSIDE
}

// BookingConfirmation carries the fields written when a booking is confirmed
type BookingConfirmation struct {
	BookingID           uuid.UUID
	ExternalSupplierRef *string
	Meta                *SupplierBookingMeta // supplier references to merge into meta, nil for local channels
	BookedAt            time.Time
}
