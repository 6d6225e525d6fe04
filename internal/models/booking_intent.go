package models

// ============================================================================
// CALLER
// ============================================================================

// Caller identifies who is creating or managing a booking
type Caller struct {
	UserID string
	Roles  []string
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// GuestRequest is the lead guest of a booking
type GuestRequest struct {
	FirstName string  `json:"first_name" binding:"required,max=100"`
	LastName  string  `json:"last_name" binding:"required,max=100"`
	Email     string  `json:"email" binding:"required,email"`
	Phone     *string `json:"phone,omitempty" binding:"omitempty,max=32"`
}

// CreateBookingIntentRequest is the request to price a stay, persist a
// PENDING booking and open a payment authorization
type CreateBookingIntentRequest struct {
	SourceChannel SourceChannel `json:"source_channel" binding:"required,oneof=SUPPLIER PARTNER OUTSIDE"`

	// SUPPLIER inventory: the option returned by a previous supplier search
	OptionRefID string `json:"option_ref_id,omitempty" binding:"omitempty,max=512"`

	// PARTNER / OUTSIDE inventory: local numeric identifiers
	HotelID string `json:"hotel_id,omitempty" binding:"omitempty,numeric"`
	RoomID  string `json:"room_id,omitempty" binding:"omitempty,numeric"`

	// Stay
	CheckIn   string `json:"check_in" binding:"required,datetime=2006-01-02"`  // "2026-12-15"
	CheckOut  string `json:"check_out" binding:"required,datetime=2006-01-02"` // "2026-12-18"
	Adults    int    `json:"adults" binding:"required,min=1,max=10"`
	ChildAges []int  `json:"child_ages,omitempty" binding:"omitempty,max=6,dive,min=0,max=17"`

	Guest GuestRequest `json:"guest" binding:"required"`

	// Client-submitted total, verified against the server-computed gross
	TotalAmount float64 `json:"total_amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"omitempty,len=3"`

	DiscountCode *string     `json:"discount_code,omitempty" binding:"omitempty,max=64"`
	CaptureMode  CaptureMode `json:"capture_mode,omitempty" binding:"omitempty,oneof=automatic manual"`
	Remarks      string      `json:"remarks,omitempty" binding:"omitempty,max=500"`
}

// CreateBookingIntentResponse is returned after an intent is created
type CreateBookingIntentResponse struct {
	BookingID        string        `json:"booking_id"`
	BookingRef       string        `json:"booking_ref"`
	Status           BookingStatus `json:"status"`
	AuthorizationID  string        `json:"authorization_id"`
	ClientSecret     string        `json:"client_secret"` // Used by the client to complete payment
	CaptureMode      CaptureMode   `json:"capture_mode"`
	Amount           float64       `json:"amount"`
	Currency         string        `json:"currency"`
	NetCost          float64       `json:"net_cost"`
	MarkupPercentage float64       `json:"markup_percentage"`
	DiscountApplied  *string       `json:"discount_applied,omitempty"`
}

// ConfirmBookingRequest identifies the booking to confirm. Either field may
// be used; lookup tries the authorization id first.
type ConfirmBookingRequest struct {
	AuthorizationID string `json:"authorization_id,omitempty" binding:"required_without=BookingRef"`
	BookingRef      string `json:"booking_ref,omitempty" binding:"required_without=AuthorizationID"`
}

// ConfirmBookingResponse is returned by a successful confirm
type ConfirmBookingResponse struct {
	Success          bool     `json:"success"`
	AuthorizationID  string   `json:"authorization_id"`
	Captured         bool     `json:"captured"`
	Booking          *Booking `json:"booking"`
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency"`
	AlreadyConfirmed bool     `json:"already_confirmed"`
}

// CancelBookingRequest identifies the booking to cancel
type CancelBookingRequest struct {
	BookingRef      string `json:"booking_ref,omitempty"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	Reason          string `json:"reason,omitempty" binding:"omitempty,max=500"`
}

// CancelBookingResponse is returned by a successful cancel
type CancelBookingResponse struct {
	Success                bool     `json:"success"`
	Booking                *Booking `json:"booking"`
	AlreadyCancelled       bool     `json:"already_cancelled"`
	SupplierCancelRef      *string  `json:"supplier_cancel_reference,omitempty"`
	AuthorizationCancelled bool     `json:"authorization_cancelled"`
}

// BookingDetailsResponse is returned by the booking read endpoint
type BookingDetailsResponse struct {
	Booking *Booking             `json:"booking"`
	Meta    *SupplierBookingMeta `json:"supplier_meta,omitempty"`
}
