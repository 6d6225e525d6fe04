package models

import "strings"

// SupplierError is one entry of the errors/warnings list the supplier
// returns inside every operation payload
type SupplierError struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// SupplierErrors is a list of supplier-reported problems
type SupplierErrors []SupplierError

// Summary joins codes and descriptions into one line
func (e SupplierErrors) Summary() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		switch {
		case item.Code != "" && item.Description != "":
			parts = append(parts, item.Code+": "+item.Description)
		case item.Code != "":
			parts = append(parts, item.Code)
		default:
			parts = append(parts, item.Description)
		}
	}
	return strings.Join(parts, "; ")
}

// FirstCode returns the first error code or ""
func (e SupplierErrors) FirstCode() string {
	if len(e) == 0 {
		return ""
	}
	return e[0].Code
}

// SupplierPrice is a price block in a supplier payload
type SupplierPrice struct {
	Currency string  `json:"currency"`
	Net      float64 `json:"net"`
	Gross    float64 `json:"gross,omitempty"`
	Binding  bool    `json:"binding,omitempty"`
}

// SupplierCancelPenalty is one penalty window of a cancel policy
type SupplierCancelPenalty struct {
	Deadline string  `json:"deadline"`
	Type     string  `json:"penaltyType"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// SupplierCancelPolicy describes the cancellation terms of an option
type SupplierCancelPolicy struct {
	Refundable bool                    `json:"refundable"`
	Penalties  []SupplierCancelPenalty `json:"cancelPenalties"`
}

// ============================================================================
// QUOTE
// ============================================================================

// SupplierQuote is a fresh quote for a previously searched option
type SupplierQuote struct {
	OptionRefID  string                `json:"optionRefId"`
	Status       string                `json:"status"`
	AccessCode   string                `json:"accessCode"`
	HotelCode    string                `json:"hotelCode"`
	HotelName    string                `json:"hotelName"`
	RoomCode     string                `json:"roomCode"`
	BoardCode    string                `json:"boardCode,omitempty"`
	Price        SupplierPrice         `json:"price"`
	CancelPolicy *SupplierCancelPolicy `json:"cancelPolicy,omitempty"`
	Errors       SupplierErrors        `json:"errors,omitempty"`
	Warnings     SupplierErrors        `json:"warnings,omitempty"`
}

// ============================================================================
// BOOK
// ============================================================================

// SupplierHolder is the lead guest sent to the supplier
type SupplierHolder struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// SupplierRoomPaxes describes the occupancy of one room
type SupplierRoomPaxes struct {
	OccupancyRefID int   `json:"occupancyRefId"`
	Adults         int   `json:"adults"`
	ChildAges      []int `json:"childAges,omitempty"`
}

// SupplierBookInput is the input for a supplier booking
type SupplierBookInput struct {
	OptionRefID     string              `json:"optionRefId"`
	ClientReference string              `json:"clientReference"`
	Holder          SupplierHolder      `json:"holder"`
	Rooms           []SupplierRoomPaxes `json:"rooms"`
	Remarks         string              `json:"remarks,omitempty"`
}

// SupplierReference holds the correlation identifiers of a booking
type SupplierReference struct {
	Client   string `json:"client"`
	Supplier string `json:"supplier"`
	Hotel    string `json:"hotel,omitempty"`
}

// SupplierBookResult is the payload returned by book
type SupplierBookResult struct {
	BookingID    string                `json:"bookingID"`
	Status       string                `json:"status"`
	Reference    SupplierReference     `json:"reference"`
	Price        SupplierPrice         `json:"price"`
	CancelPolicy *SupplierCancelPolicy `json:"cancelPolicy,omitempty"`
	Errors       SupplierErrors        `json:"errors,omitempty"`
	Warnings     SupplierErrors        `json:"warnings,omitempty"`
	Raw          JSONB                 `json:"-"`
}

// SupplierStatusOK is the only book() status that confirms a reservation.
// ON_REQUEST and failure statuses are not confirmations even with an id.
const SupplierStatusOK = "OK"

// Succeeded reports whether the supplier accepted the booking
func (r *SupplierBookResult) Succeeded() bool {
	return r != nil &&
		len(r.Errors) == 0 &&
		strings.EqualFold(strings.TrimSpace(r.Status), SupplierStatusOK) &&
		r.ExternalRef() != ""
}

// ExternalRef returns the supplier booking id, falling back to the
// supplier reference
func (r *SupplierBookResult) ExternalRef() string {
	if r.BookingID != "" {
		return r.BookingID
	}
	return r.Reference.Supplier
}

// ============================================================================
// CANCEL
// ============================================================================

// SupplierCancelInput addresses a booking either by its supplier booking id
// or by access code, hotel code and references
type SupplierCancelInput struct {
	BookingID  string            `json:"bookingID,omitempty"`
	AccessCode string            `json:"accessCode,omitempty"`
	HotelCode  string            `json:"hotelCode,omitempty"`
	Reference  SupplierReference `json:"reference"`
}

// CancelInputFromMeta builds cancel input from stored correlation data
func CancelInputFromMeta(meta *SupplierBookingMeta) SupplierCancelInput {
	in := SupplierCancelInput{
		AccessCode: meta.AccessCode,
		HotelCode:  meta.HotelCode,
		Reference:  SupplierReference{Client: meta.ClientReference},
	}
	if meta.SupplierBookingID != nil {
		in.BookingID = *meta.SupplierBookingID
	}
	if meta.SupplierReference != nil {
		in.Reference.Supplier = *meta.SupplierReference
	}
	return in
}

// SupplierCancelResult is the payload returned by cancel
type SupplierCancelResult struct {
	CancelReference string         `json:"cancelReference"`
	Status          string         `json:"status"`
	Errors          SupplierErrors `json:"errors,omitempty"`
	Warnings        SupplierErrors `json:"warnings,omitempty"`
}
