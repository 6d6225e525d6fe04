package models

import "time"

// AuthorizationStatus mirrors the gateway's payment intent status
type AuthorizationStatus string

const (
	AuthStatusRequiresPaymentMethod AuthorizationStatus = "requires_payment_method" // Created, client has not paid yet
	AuthStatusRequiresConfirmation  AuthorizationStatus = "requires_confirmation"
	AuthStatusRequiresAction        AuthorizationStatus = "requires_action" // 3DS or similar
	AuthStatusProcessing            AuthorizationStatus = "processing"
	AuthStatusRequiresCapture       AuthorizationStatus = "requires_capture" // Manual mode: funds held
	AuthStatusSucceeded             AuthorizationStatus = "succeeded"        // Funds captured
	AuthStatusCanceled              AuthorizationStatus = "canceled"
)

// PaymentAuthorization is the gateway's view of an authorization
type PaymentAuthorization struct {
	ID             string              `json:"id"`
	Status         AuthorizationStatus `json:"status"`
	Amount         float64             `json:"amount"`          // Major units
	AmountReceived float64             `json:"amount_received"` // Major units, set once captured
	Currency       string              `json:"currency"`
	CaptureMode    CaptureMode         `json:"capture_mode"`
	ClientSecret   string              `json:"client_secret,omitempty"` // Returned to the client to complete payment
	Metadata       map[string]string   `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// IsCaptured reports whether funds have been captured
func (a *PaymentAuthorization) IsCaptured() bool {
	return a.Status == AuthStatusSucceeded
}

// IsConfirmable reports whether the authorization is in a state that lets
// the booking be confirmed under the given capture mode
func (a *PaymentAuthorization) IsConfirmable(mode CaptureMode) bool {
	if mode == CaptureManual {
		return a.Status == AuthStatusRequiresCapture || a.Status == AuthStatusSucceeded
	}
	return a.Status == AuthStatusSucceeded
}

// CreateAuthorizationParams are the inputs for a new authorization
type CreateAuthorizationParams struct {
	Amount         float64
	Currency       string
	CaptureMode    CaptureMode
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string // booking_ref / booking_id used by lookup strategies
	IdempotencyKey string
}

// PaymentEventType is the type of a gateway webhook event
type PaymentEventType string

const (
	PaymentEventSucceeded        PaymentEventType = "payment_intent.succeeded"
	PaymentEventAmountCapturable PaymentEventType = "payment_intent.amount_capturable_updated"
	PaymentEventFailed           PaymentEventType = "payment_intent.payment_failed"
	PaymentEventCanceled         PaymentEventType = "payment_intent.canceled"
)

// TriggersConfirmation reports whether the event should drive a confirm
func (t PaymentEventType) TriggersConfirmation() bool {
	return t == PaymentEventSucceeded || t == PaymentEventAmountCapturable
}

// PaymentEvent is a verified webhook event
type PaymentEvent struct {
	ID              string            `json:"id"`
	Type            PaymentEventType  `json:"type"`
	AuthorizationID string            `json:"authorization_id"`
	Status          string            `json:"status,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Created         int64             `json:"created"`
}
