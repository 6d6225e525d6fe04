package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/machinebox/graphql"
	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const supplierProviderName = "supplier"

// SupplierClient is the hotel inventory provider.
// A populated Errors list on a result is a business failure returned as
// data; only transport failures come back as errors.
type SupplierClient interface {
	Quote(ctx context.Context, optionRefID string) (*models.SupplierQuote, error)
	Book(ctx context.Context, input *models.SupplierBookInput) (*models.SupplierBookResult, error)
	Cancel(ctx context.Context, input *models.SupplierCancelInput) (*models.SupplierCancelResult, error)
}

// ============================================================================
// GRAPHQL DOCUMENTS
// ============================================================================

const errorFields = `errors { code type description } warnings { code type description }`

const priceFields = `price { currency net gross binding }`

const cancelPolicyFields = `cancelPolicy { refundable cancelPenalties { deadline penaltyType value currency } }`

var quoteQuery = `query Quote($optionRefId: String!, $settings: SupplierSettingsInput) {
  quote(criteria: { optionRefId: $optionRefId }, settings: $settings) {
    optionQuote { optionRefId status accessCode hotelCode hotelName roomCode boardCode ` + priceFields + ` ` + cancelPolicyFields + ` }
    ` + errorFields + `
  }
}`

var bookMutation = `mutation Book($input: BookInput!, $settings: SupplierSettingsInput) {
  book(input: $input, settings: $settings) {
    booking { bookingID status reference { client supplier hotel } ` + priceFields + ` ` + cancelPolicyFields + ` }
    ` + errorFields + `
  }
}`

var cancelMutation = `mutation Cancel($input: CancelInput!, $settings: SupplierSettingsInput) {
  cancel(input: $input, settings: $settings) {
    cancellation { cancelReference status }
    ` + errorFields + `
  }
}`

// ============================================================================
// WIRE TYPES
// ============================================================================

// graphQLError carries the supplier code in extensions, which the
// graphql client does not expose, so errors are read from the raw body
type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLErrors struct {
	Errors []graphQLError `json:"errors"`
}

type supplierSettings struct {
	Client    string `json:"client,omitempty"`
	Context   string `json:"context,omitempty"`
	TimeoutMs int64  `json:"timeout,omitempty"`
}

type quotePayload struct {
	OptionQuote *models.SupplierQuote `json:"optionQuote"`
	Errors      models.SupplierErrors `json:"errors"`
	Warnings    models.SupplierErrors `json:"warnings"`
}

type bookPayload struct {
	Booking  *models.SupplierBookResult `json:"booking"`
	Errors   models.SupplierErrors      `json:"errors"`
	Warnings models.SupplierErrors      `json:"warnings"`
}

type cancelPayload struct {
	Cancellation *struct {
		CancelReference string `json:"cancelReference"`
		Status          string `json:"status"`
	} `json:"cancellation"`
	Errors   models.SupplierErrors `json:"errors"`
	Warnings models.SupplierErrors `json:"warnings"`
}

// statusError is a transport-class HTTP status from the supplier
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supplier returned status %d", e.status)
}

// ============================================================================
// CLIENT
// ============================================================================

// GraphQLSupplierClient calls the supplier GraphQL endpoint with bounded
// retries on transport failures
type GraphQLSupplierClient struct {
	config *config.SupplierConfig
	audit  AuditRecorder
	logger *logrus.Logger
	gql    *graphql.Client
}

// NewGraphQLSupplierClient creates a supplier client. audit may be nil;
// it is only used when SUPPLIER_AUDIT_ENABLED is set.
func NewGraphQLSupplierClient(cfg *config.SupplierConfig, audit AuditRecorder, logger *logrus.Logger) *GraphQLSupplierClient {
	// Per-attempt deadlines come from the request context
	httpClient := &http.Client{Transport: &capturingTransport{base: http.DefaultTransport}}

	return &GraphQLSupplierClient{
		config: cfg,
		audit:  audit,
		logger: logger,
		gql:    graphql.NewClient(cfg.Endpoint, graphql.WithHTTPClient(httpClient)),
	}
}

// Quote re-prices a previously searched option
func (c *GraphQLSupplierClient) Quote(ctx context.Context, optionRefID string) (*models.SupplierQuote, error) {
	vars := map[string]interface{}{
		"optionRefId": optionRefID,
		"settings":    c.settings(),
	}

	data, topErrors, err := c.execute(ctx, "quote", models.AuditEventSupplierQuote, "", quoteQuery, vars)
	if err != nil {
		return nil, err
	}

	var payload quotePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode supplier quote: %w", err)
	}

	quote := payload.OptionQuote
	errs := append(topErrors, payload.Errors...)
	if quote == nil {
		quote = &models.SupplierQuote{OptionRefID: optionRefID}
		if len(errs) == 0 {
			errs = models.SupplierErrors{{Code: "NO_QUOTE", Type: "EMPTY_RESPONSE", Description: "supplier returned no option quote"}}
		}
	}
	quote.Errors = errs
	quote.Warnings = payload.Warnings
	return quote, nil
}

// Book submits the reservation. The client reference is the booking ref,
// which the supplier uses to deduplicate repeated submissions.
func (c *GraphQLSupplierClient) Book(ctx context.Context, input *models.SupplierBookInput) (*models.SupplierBookResult, error) {
	vars := map[string]interface{}{
		"input":    input,
		"settings": c.settings(),
	}

	data, topErrors, err := c.execute(ctx, "book", models.AuditEventSupplierBook, input.ClientReference, bookMutation, vars)
	if err != nil {
		return nil, err
	}

	var payload bookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode supplier booking: %w", err)
	}

	result := payload.Booking
	if result == nil {
		result = &models.SupplierBookResult{}
	}
	result.Errors = append(topErrors, payload.Errors...)
	result.Warnings = payload.Warnings
	result.Raw = rawToJSONB(data)

	c.logger.WithFields(logrus.Fields{
		"booking_ref":         input.ClientReference,
		"supplier_booking_id": result.BookingID,
		"status":              result.Status,
		"errors":              result.Errors.Summary(),
	}).Info("Supplier book completed")

	return result, nil
}

// Cancel cancels a booking by supplier booking id or by its compound key
func (c *GraphQLSupplierClient) Cancel(ctx context.Context, input *models.SupplierCancelInput) (*models.SupplierCancelResult, error) {
	vars := map[string]interface{}{
		"input":    input,
		"settings": c.settings(),
	}

	data, topErrors, err := c.execute(ctx, "cancel", models.AuditEventSupplierCancel, input.Reference.Client, cancelMutation, vars)
	if err != nil {
		return nil, err
	}

	var payload cancelPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode supplier cancellation: %w", err)
	}

	result := &models.SupplierCancelResult{
		Errors:   append(topErrors, payload.Errors...),
		Warnings: payload.Warnings,
	}
	if payload.Cancellation != nil {
		result.CancelReference = payload.Cancellation.CancelReference
		result.Status = payload.Cancellation.Status
	}
	return result, nil
}

func (c *GraphQLSupplierClient) settings() supplierSettings {
	return supplierSettings{
		Client:    c.config.Client,
		Context:   c.config.Context,
		TimeoutMs: c.config.Timeout.Milliseconds(),
	}
}

// execute runs one GraphQL document with retries and returns the payload
// of the named root field plus any top-level GraphQL errors
func (c *GraphQLSupplierClient) execute(ctx context.Context, operation string, auditEvent models.AuditEventType, bookingRef, query string, vars map[string]interface{}) (json.RawMessage, models.SupplierErrors, error) {
	maxAttempts := c.config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expBackoff := backoff.NewExponentialBackOff()
	if c.config.InitialBackoff > 0 {
		expBackoff.InitialInterval = c.config.InitialBackoff
	}
	expBackoff.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(maxAttempts-1)), ctx)

	attempt := 0
	var respBody []byte
	var respData map[string]json.RawMessage

	op := func() error {
		attempt++
		ex, data, err := c.run(ctx, operation, auditEvent, bookingRef, query, vars, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		switch status := ex.status; {
		case isRetryableStatus(status):
			return &statusError{status: status}
		case status >= http.StatusInternalServerError:
			// A 500 on a mutation may have side effects; surface it without retrying
			return backoff.Permanent(&statusError{status: status})
		case status >= http.StatusMultipleChoices:
			return backoff.Permanent(&models.ProviderBusinessError{
				Provider:  supplierProviderName,
				Operation: operation,
				Message:   fmt.Sprintf("supplier returned status %d", status),
				RawStatus: status,
			})
		}

		respBody, respData = ex.response, data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"attempt":     attempt,
			"booking_ref": bookingRef,
			"retry_in":    wait.String(),
		}).WithError(err).Warn("Supplier call failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var business *models.ProviderBusinessError
		if errors.As(err, &business) {
			return nil, nil, business
		}
		c.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"attempts":    attempt,
			"booking_ref": bookingRef,
		}).WithError(err).Error("Supplier call failed after retries")
		return nil, nil, &models.ProviderTransportError{
			Provider:  supplierProviderName,
			Operation: operation,
			Attempts:  attempt,
			Err:       err,
		}
	}

	var envelope graphQLErrors
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, nil, fmt.Errorf("failed to parse supplier response: %w", err)
	}

	var topErrors models.SupplierErrors
	for _, gqlErr := range envelope.Errors {
		topErrors = append(topErrors, models.SupplierError{
			Code:        gqlErr.Extensions.Code,
			Type:        "GRAPHQL",
			Description: gqlErr.Message,
		})
	}

	data := respData[operation]
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage(`{}`)
	}
	return data, topErrors, nil
}

// run performs a single attempt bounded by the configured timeout. The
// returned error is set only when no HTTP response arrived; status
// handling is left to the caller.
func (c *GraphQLSupplierClient) run(ctx context.Context, operation string, auditEvent models.AuditEventType, bookingRef, query string, vars map[string]interface{}, attempt int) (*exchange, map[string]json.RawMessage, error) {
	startTime := time.Now()

	attemptCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	ex := &exchange{}
	attemptCtx = context.WithValue(attemptCtx, exchangeKey{}, ex)

	req := graphql.NewRequest(query)
	for name, value := range vars {
		req.Var(name, value)
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.config.APIKey)
	}

	// Top-level GraphQL errors and non-2xx statuses also surface here;
	// both are read back from the captured exchange instead
	var data map[string]json.RawMessage
	runErr := c.gql.Run(attemptCtx, req, &data)

	if ex.status == 0 {
		if runErr == nil {
			runErr = errors.New("supplier returned no response")
		}
		c.record(ctx, auditEvent, bookingRef, attempt, 0, ex.request, nil, runErr, startTime)
		return ex, nil, runErr
	}

	var callErr error
	if ex.status >= http.StatusMultipleChoices {
		callErr = fmt.Errorf("status %d", ex.status)
	}
	c.record(ctx, auditEvent, bookingRef, attempt, ex.status, ex.request, ex.response, callErr, startTime)

	c.logger.WithFields(logrus.Fields{
		"operation":   operation,
		"attempt":     attempt,
		"status_code": ex.status,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Supplier call completed")

	return ex, data, nil
}

func (c *GraphQLSupplierClient) record(ctx context.Context, event models.AuditEventType, bookingRef string, attempt, status int, reqBody, respBody []byte, callErr error, startTime time.Time) {
	if !c.config.AuditEnabled || c.audit == nil {
		return
	}

	audit := models.NewProviderAudit(models.AuditProviderSupplier, event).
		SetBookingRef(bookingRef).
		SetHTTPDetails(http.MethodPost, c.config.Endpoint, status).
		SetAttempt(attempt).
		SetRequestPayload(rawToJSONB(reqBody)).
		SetError(callErr).
		SetProcessingTime(startTime)
	if len(respBody) > 0 {
		audit.SetRawBody(string(respBody))
		audit.SetResponsePayload(rawToJSONB(respBody))
	}

	if err := c.audit.Log(ctx, audit); err != nil {
		c.logger.WithError(err).Warn("Failed to record supplier audit")
	}
}

// exchange is one HTTP round trip as seen on the wire
type exchange struct {
	request  []byte
	response []byte
	status   int
}

type exchangeKey struct{}

// capturingTransport copies the request and response bodies of every
// round trip into the exchange carried by the request context
type capturingTransport struct {
	base http.RoundTripper
}

func (t *capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ex, _ := req.Context().Value(exchangeKey{}).(*exchange)
	if ex != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			ex.request, _ = io.ReadAll(body)
			body.Close()
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || ex == nil {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	ex.status = resp.StatusCode
	ex.response = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}
