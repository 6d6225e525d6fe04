package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const paymentProviderName = "payment_gateway"

// PaymentGateway is the authorize/capture/cancel surface of the payment
// processor. Implementations must not retry: a blind retry can double-charge.
type PaymentGateway interface {
	CreateAuthorization(ctx context.Context, params *models.CreateAuthorizationParams) (*models.PaymentAuthorization, error)
	Retrieve(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error)
	Capture(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error)
	Cancel(ctx context.Context, authorizationID string, reason string) (*models.PaymentAuthorization, error)
}

// WebhookVerifier checks a signed webhook and returns the decoded event
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signatureHeader string) (*models.PaymentEvent, error)
}

// ErrInvalidSignature is returned when a webhook signature does not verify
var ErrInvalidSignature = errors.New("invalid webhook signature")

// zeroDecimalCurrencies are charged in whole units
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true,
}

// HTTPPaymentGateway talks to the gateway REST API
type HTTPPaymentGateway struct {
	config *config.PaymentConfig
	audit  AuditRecorder
	logger *logrus.Logger
	client *http.Client
	now    func() time.Time
}

// gatewayIntent is the wire form of an authorization
type gatewayIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`          // Minor units
	AmountReceived int64             `json:"amount_received"` // Minor units
	Currency       string            `json:"currency"`
	CaptureMethod  string            `json:"capture_method"`
	ClientSecret   string            `json:"client_secret"`
	Metadata       map[string]string `json:"metadata"`
	Created        int64             `json:"created"`
}

// gatewayCreateRequest is the body of a create call
type gatewayCreateRequest struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CaptureMethod string            `json:"capture_method"`
	Description   string            `json:"description,omitempty"`
	ReceiptEmail  string            `json:"receipt_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// gatewayError is the error envelope
type gatewayError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// gatewayEvent is the webhook envelope
type gatewayEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object gatewayIntent `json:"object"`
	} `json:"data"`
}

// NewHTTPPaymentGateway creates a gateway client. audit may be nil.
func NewHTTPPaymentGateway(cfg *config.PaymentConfig, audit AuditRecorder, logger *logrus.Logger) *HTTPPaymentGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPaymentGateway{
		config: cfg,
		audit:  audit,
		logger: logger,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// IsConfigured checks if the gateway credentials are set
func (g *HTTPPaymentGateway) IsConfigured() bool {
	return g.config.SecretKey != "" && g.config.BaseURL != ""
}

// CreateAuthorization opens a new authorization for the amount.
// The idempotency key (booking ref) makes a repeated create return the same intent.
func (g *HTTPPaymentGateway) CreateAuthorization(ctx context.Context, params *models.CreateAuthorizationParams) (*models.PaymentAuthorization, error) {
	captureMethod := string(params.CaptureMode)
	if captureMethod == "" {
		captureMethod = string(models.CaptureAutomatic)
	}

	body := &gatewayCreateRequest{
		Amount:        toMinorUnits(params.Amount, params.Currency),
		Currency:      strings.ToLower(params.Currency),
		CaptureMethod: captureMethod,
		Description:   params.Description,
		ReceiptEmail:  params.ReceiptEmail,
		Metadata:      params.Metadata,
	}

	g.logger.WithFields(logrus.Fields{
		"booking_ref":  params.Metadata["booking_ref"],
		"amount":       params.Amount,
		"currency":     params.Currency,
		"capture_mode": captureMethod,
	}).Info("Creating payment authorization")

	return g.do(ctx, "create_authorization", models.AuditEventAuthorizationCreate,
		http.MethodPost, "/payment_intents", body, params.IdempotencyKey, params.Metadata["booking_ref"])
}

// Retrieve fetches the current state of an authorization
func (g *HTTPPaymentGateway) Retrieve(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error) {
	return g.do(ctx, "retrieve", "", http.MethodGet, "/payment_intents/"+authorizationID, nil, "", "")
}

// Capture captures a held (manual mode) authorization
func (g *HTTPPaymentGateway) Capture(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error) {
	return g.do(ctx, "capture", models.AuditEventAuthorizationCapture,
		http.MethodPost, "/payment_intents/"+authorizationID+"/capture", map[string]string{}, "capture-"+authorizationID, "")
}

// Cancel voids an uncaptured authorization
func (g *HTTPPaymentGateway) Cancel(ctx context.Context, authorizationID string, reason string) (*models.PaymentAuthorization, error) {
	body := map[string]string{"cancellation_reason": reason}
	return g.do(ctx, "cancel", models.AuditEventAuthorizationCancel,
		http.MethodPost, "/payment_intents/"+authorizationID+"/cancel", body, "cancel-"+authorizationID, "")
}

// do performs one request. No retries.
func (g *HTTPPaymentGateway) do(ctx context.Context, operation string, auditEvent models.AuditEventType, method, path string, payload interface{}, idempotencyKey, bookingRef string) (*models.PaymentAuthorization, error) {
	startTime := time.Now()
	url := strings.TrimRight(g.config.BaseURL, "/") + path

	var reqBody io.Reader
	var jsonBody []byte
	if payload != nil {
		var err error
		jsonBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.config.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("operation", operation).Error("Failed to call payment gateway")
		g.record(ctx, auditEvent, bookingRef, "", method, url, 0, jsonBody, nil, err, startTime)
		return nil, &models.ProviderTransportError{Provider: paymentProviderName, Operation: operation, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.record(ctx, auditEvent, bookingRef, "", method, url, resp.StatusCode, jsonBody, nil, err, startTime)
		return nil, &models.ProviderTransportError{Provider: paymentProviderName, Operation: operation, Attempts: 1, Err: err}
	}

	if resp.StatusCode >= 300 {
		gwErr := g.mapError(operation, resp.StatusCode, respBody)
		g.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		}).Warn("Payment gateway returned error")
		g.record(ctx, auditEvent, bookingRef, "", method, url, resp.StatusCode, jsonBody, respBody, gwErr, startTime)
		return nil, gwErr
	}

	var intent gatewayIntent
	if err := json.Unmarshal(respBody, &intent); err != nil {
		g.record(ctx, auditEvent, bookingRef, "", method, url, resp.StatusCode, jsonBody, respBody, err, startTime)
		return nil, fmt.Errorf("failed to parse payment gateway response: %w", err)
	}

	auth := intent.toModel()
	if bookingRef == "" {
		bookingRef = auth.Metadata["booking_ref"]
	}
	g.record(ctx, auditEvent, bookingRef, auth.ID, method, url, resp.StatusCode, jsonBody, respBody, nil, startTime)

	g.logger.WithFields(logrus.Fields{
		"operation":        operation,
		"authorization_id": auth.ID,
		"status":           auth.Status,
	}).Debug("Payment gateway call completed")

	return auth, nil
}

// mapError turns an HTTP error response into the error taxonomy
func (g *HTTPPaymentGateway) mapError(operation string, status int, body []byte) error {
	var envelope gatewayError
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &models.ProviderTransportError{
			Provider:  paymentProviderName,
			Operation: operation,
			Attempts:  1,
			Err:       fmt.Errorf("status %d: %s", status, msg),
		}
	case status == http.StatusConflict || envelope.Error.Code == "payment_intent_unexpected_state":
		return &models.StateConflictError{Message: fmt.Sprintf("%s: %s", operation, msg)}
	default:
		return &models.ProviderBusinessError{
			Provider:  paymentProviderName,
			Operation: operation,
			Code:      envelope.Error.Code,
			Message:   msg,
			RawStatus: status,
		}
	}
}

// record writes an audit entry; audit failures never affect the call
func (g *HTTPPaymentGateway) record(ctx context.Context, event models.AuditEventType, bookingRef, externalID, method, url string, status int, reqBody, respBody []byte, callErr error, startTime time.Time) {
	if g.audit == nil || event == "" {
		return
	}

	audit := models.NewProviderAudit(models.AuditProviderPayment, event).
		SetBookingRef(bookingRef).
		SetExternalID(externalID).
		SetHTTPDetails(method, url, status).
		SetError(callErr).
		SetProcessingTime(startTime)
	if len(reqBody) > 0 {
		audit.SetRequestPayload(rawToJSONB(reqBody))
	}
	if len(respBody) > 0 {
		audit.SetRawBody(string(respBody))
		audit.SetResponsePayload(rawToJSONB(respBody))
	}

	if err := g.audit.Log(ctx, audit); err != nil {
		g.logger.WithError(err).Warn("Failed to record payment audit")
	}
}

// ============================================================================
// WEBHOOKS
// ============================================================================

// VerifyWebhook checks the signature header ("t=<unix>,v1=<hex>[,v1=<hex>]")
// against HMAC-SHA256(secret, "<t>.<body>") and the timestamp tolerance,
// then decodes the event
func (g *HTTPPaymentGateway) VerifyWebhook(body []byte, signatureHeader string) (*models.PaymentEvent, error) {
	if g.config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret not configured")
	}

	timestamp, signatures := parseSignatureHeader(signatureHeader)
	if timestamp == "" || len(signatures) == 0 {
		return nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance := g.config.WebhookTolerance; tolerance > 0 {
		age := g.now().Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := SignWebhookPayload(g.config.WebhookSecret, timestamp, body)
	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var envelope gatewayEvent
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	return &models.PaymentEvent{
		ID:              envelope.ID,
		Type:            models.PaymentEventType(envelope.Type),
		AuthorizationID: envelope.Data.Object.ID,
		Status:          envelope.Data.Object.Status,
		Metadata:        envelope.Data.Object.Metadata,
		Created:         envelope.Created,
	}, nil
}

// SignWebhookPayload returns the hex HMAC-SHA256 of "<timestamp>.<body>"
func SignWebhookPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	return timestamp, signatures
}

// ============================================================================
// HELPERS
// ============================================================================

func (i *gatewayIntent) toModel() *models.PaymentAuthorization {
	currency := strings.ToUpper(i.Currency)
	return &models.PaymentAuthorization{
		ID:             i.ID,
		Status:         models.AuthorizationStatus(i.Status),
		Amount:         fromMinorUnits(i.Amount, currency),
		AmountReceived: fromMinorUnits(i.AmountReceived, currency),
		Currency:       currency,
		CaptureMode:    models.CaptureMode(i.CaptureMethod),
		ClientSecret:   i.ClientSecret,
		Metadata:       i.Metadata,
		CreatedAt:      time.Unix(i.Created, 0),
	}
}

func toMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func fromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}

// rawToJSONB decodes a JSON body for audit storage, keeping non-object
// bodies under "raw"
func rawToJSONB(body []byte) models.JSONB {
	out := models.JSONB{}
	if err := json.Unmarshal(body, &out); err != nil {
		return models.JSONB{"raw": string(body)}
	}
	return out
}
