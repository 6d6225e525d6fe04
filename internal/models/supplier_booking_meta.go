package models

import (
	"time"

	"github.com/google/uuid"
)

// SupplierHotel maps a supplier hotel code to a local row.
// Unique on (access_scope, supplier_hotel_code).
type SupplierHotel struct {
	ID                uuid.UUID `json:"id" db:"id"`
	AccessScope       string    `json:"access_scope" db:"access_scope"`
	SupplierHotelCode string    `json:"supplier_hotel_code" db:"supplier_hotel_code"`
	Name              string    `json:"name" db:"name"`
	City              *string   `json:"city,omitempty" db:"city"`
	CountryCode       *string   `json:"country_code,omitempty" db:"country_code"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// SupplierBookingMeta stores supplier correlation data for a SUPPLIER booking (1:1)
type SupplierBookingMeta struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BookingID uuid.UUID `json:"booking_id" db:"booking_id"`

	// Quote / option identifiers
	OptionRefID string `json:"option_ref_id" db:"option_ref_id"`
	AccessCode  string `json:"access_code" db:"access_code"`
	HotelCode   string `json:"hotel_code" db:"hotel_code"`

	// References returned by the supplier (nil until booked)
	ClientReference   string  `json:"client_reference" db:"client_reference"`
	SupplierReference *string `json:"supplier_reference,omitempty" db:"supplier_reference"`
	HotelReference    *string `json:"hotel_reference,omitempty" db:"hotel_reference"`
	SupplierBookingID *string `json:"supplier_booking_id,omitempty" db:"supplier_booking_id"`
	CancelReference   *string `json:"cancel_reference,omitempty" db:"cancel_reference"`

	// Snapshots
	PriceSnapshot   JSONB `json:"price_snapshot,omitempty" db:"price_snapshot"`
	CancelPolicy    JSONB `json:"cancel_policy,omitempty" db:"cancel_policy"`
	RawBookResponse JSONB `json:"raw_book_response,omitempty" db:"raw_book_response"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasCancelKeys reports whether the meta carries enough correlation data
// to address the booking at the supplier
func (m *SupplierBookingMeta) HasCancelKeys() bool {
	if m == nil {
		return false
	}
	if m.SupplierBookingID != nil && *m.SupplierBookingID != "" {
		return true
	}
	return m.AccessCode != "" && m.HotelCode != "" &&
		m.ClientReference != "" && m.SupplierReference != nil && *m.SupplierReference != ""
}
