package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditProvider identifies which external system the exchange was with
type AuditProvider string

const (
	AuditProviderPayment  AuditProvider = "payment_gateway"
	AuditProviderSupplier AuditProvider = "supplier"
)

// AuditEventType represents the type of audited exchange
type AuditEventType string

const (
	AuditEventAuthorizationCreate  AuditEventType = "authorization_create"
	AuditEventAuthorizationCapture AuditEventType = "authorization_capture"
	AuditEventAuthorizationCancel  AuditEventType = "authorization_cancel"
	AuditEventWebhookReceived      AuditEventType = "webhook_received"
	AuditEventSupplierQuote        AuditEventType = "supplier_quote"
	AuditEventSupplierBook         AuditEventType = "supplier_book"
	AuditEventSupplierCancel       AuditEventType = "supplier_cancel"
	AuditEventCaptureFailed        AuditEventType = "capture_failed"
	AuditEventCompensation         AuditEventType = "compensation"
)

// ProviderAudit is an immutable record of one request/response exchange
// with an external provider, kept verbatim for forensic replay
type ProviderAudit struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Provider   AuditProvider  `json:"provider" db:"provider"`
	EventType  AuditEventType `json:"event_type" db:"event_type"`
	BookingRef *string        `json:"booking_ref,omitempty" db:"booking_ref"`
	ExternalID *string        `json:"external_id,omitempty" db:"external_id"` // authorization id, supplier booking id, event id

	// Raw payloads - CRITICAL for debugging
	RequestPayload  JSONB   `json:"request_payload,omitempty" db:"request_payload"`
	ResponsePayload JSONB   `json:"response_payload,omitempty" db:"response_payload"`
	RawBody         *string `json:"raw_body,omitempty" db:"raw_body"`

	// HTTP details
	HTTPStatusCode *int    `json:"http_status_code,omitempty" db:"http_status_code"`
	HTTPMethod     *string `json:"http_method,omitempty" db:"http_method"`
	EndpointURL    *string `json:"endpoint_url,omitempty" db:"endpoint_url"`
	Attempt        int     `json:"attempt" db:"attempt"`

	// Error tracking
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	// Processing info
	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool    `json:"is_duplicate" db:"is_duplicate"`
	IdempotencyKey   *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	// Metadata
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	Client    *string `json:"client,omitempty" db:"client"` // "Chrome 120 on Windows"

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewProviderAudit creates a new audit entry with required fields
func NewProviderAudit(provider AuditProvider, eventType AuditEventType) *ProviderAudit {
	return &ProviderAudit{
		ID:        uuid.New(),
		Provider:  provider,
		EventType: eventType,
		Attempt:   1,
		CreatedAt: time.Now(),
	}
}

// SetBookingRef sets the booking reference for the audit
func (pa *ProviderAudit) SetBookingRef(ref string) *ProviderAudit {
	if ref != "" {
		pa.BookingRef = &ref
	}
	return pa
}

// SetExternalID sets the provider-side identifier
func (pa *ProviderAudit) SetExternalID(id string) *ProviderAudit {
	if id != "" {
		pa.ExternalID = &id
	}
	return pa
}

// SetHTTPDetails sets HTTP request/response details
func (pa *ProviderAudit) SetHTTPDetails(method string, url string, statusCode int) *ProviderAudit {
	pa.HTTPMethod = &method
	pa.EndpointURL = &url
	if statusCode > 0 {
		pa.HTTPStatusCode = &statusCode
	}
	return pa
}

// SetAttempt records which retry attempt produced this exchange
func (pa *ProviderAudit) SetAttempt(attempt int) *ProviderAudit {
	pa.Attempt = attempt
	return pa
}

// SetRequestPayload sets the request payload sent
func (pa *ProviderAudit) SetRequestPayload(payload JSONB) *ProviderAudit {
	pa.RequestPayload = payload
	return pa
}

// SetResponsePayload sets the response payload received
func (pa *ProviderAudit) SetResponsePayload(payload JSONB) *ProviderAudit {
	pa.ResponsePayload = payload
	return pa
}

// SetRawBody stores the raw response body before parsing
func (pa *ProviderAudit) SetRawBody(body string) *ProviderAudit {
	pa.RawBody = &body
	return pa
}

// SetError sets error information
func (pa *ProviderAudit) SetError(err error) *ProviderAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetMetadata sets request metadata
func (pa *ProviderAudit) SetMetadata(ip, userAgent, client string) *ProviderAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if client != "" {
		pa.Client = &client
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *ProviderAudit) SetProcessingTime(startTime time.Time) *ProviderAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// SetIdempotencyKey sets the idempotency key
func (pa *ProviderAudit) SetIdempotencyKey(key string) *ProviderAudit {
	pa.IdempotencyKey = &key
	return pa
}

// MarkAsDuplicate marks this event as a duplicate
func (pa *ProviderAudit) MarkAsDuplicate() *ProviderAudit {
	pa.IsDuplicate = true
	return pa
}
