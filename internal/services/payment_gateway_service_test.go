package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingAudit struct {
	entries []*models.ProviderAudit
	err     error
}

func (r *recordingAudit) Log(_ context.Context, audit *models.ProviderAudit) error {
	r.entries = append(r.entries, audit)
	return r.err
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*HTTPPaymentGateway, *recordingAudit) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	audit := &recordingAudit{}
	gw := NewHTTPPaymentGateway(&config.PaymentConfig{
		BaseURL:          server.URL,
		SecretKey:        "sk_test",
		WebhookSecret:    "whsec_test",
		WebhookTolerance: 5 * time.Minute,
		Timeout:          2 * time.Second,
	}, audit, testLogger())
	return gw, audit
}

func TestHTTPPaymentGateway_CreateAuthorization(t *testing.T) {
	var gotBody gatewayCreateRequest
	var gotHeaders http.Header

	gw, audit := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_intents", r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_1","status":"requires_payment_method","amount":14000,"currency":"eur",
			"capture_method":"manual","client_secret":"pi_1_secret","metadata":{"booking_ref":"HB-1"}}`)
	})

	auth, err := gw.CreateAuthorization(context.Background(), &models.CreateAuthorizationParams{
		Amount:         140.00,
		Currency:       "EUR",
		CaptureMode:    models.CaptureManual,
		Metadata:       map[string]string{"booking_ref": "HB-1"},
		IdempotencyKey: "HB-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(14000), gotBody.Amount)
	assert.Equal(t, "eur", gotBody.Currency)
	assert.Equal(t, "manual", gotBody.CaptureMethod)
	assert.Equal(t, "Bearer sk_test", gotHeaders.Get("Authorization"))
	assert.Equal(t, "HB-1", gotHeaders.Get("Idempotency-Key"))

	assert.Equal(t, "pi_1", auth.ID)
	assert.Equal(t, 140.00, auth.Amount)
	assert.Equal(t, "EUR", auth.Currency)
	assert.Equal(t, models.CaptureManual, auth.CaptureMode)
	assert.Equal(t, "pi_1_secret", auth.ClientSecret)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditEventAuthorizationCreate, audit.entries[0].EventType)
	require.NotNil(t, audit.entries[0].BookingRef)
	assert.Equal(t, "HB-1", *audit.entries[0].BookingRef)
}

func TestHTTPPaymentGateway_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "server error is transport",
			status: http.StatusBadGateway,
			body:   `{"error":{"message":"upstream"}}`,
			check: func(t *testing.T, err error) {
				var transport *models.ProviderTransportError
				assert.True(t, errors.As(err, &transport))
				assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
			},
		},
		{
			name:   "conflict is invalid state",
			status: http.StatusConflict,
			body:   `{"error":{"message":"not capturable"}}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, models.ErrInvalidState))
			},
		},
		{
			name:   "unexpected state code is invalid state",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":"payment_intent_unexpected_state","message":"already captured"}}`,
			check: func(t *testing.T, err error) {
				var conflict *models.StateConflictError
				assert.True(t, errors.As(err, &conflict))
			},
		},
		{
			name:   "unauthorized is auth failed",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"bad key"}}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, models.ErrAuthFailed))
				var business *models.ProviderBusinessError
				require.True(t, errors.As(err, &business))
				assert.Equal(t, http.StatusUnauthorized, business.RawStatus)
			},
		},
		{
			name:   "card declined is business error",
			status: http.StatusPaymentRequired,
			body:   `{"error":{"code":"card_declined","message":"declined"}}`,
			check: func(t *testing.T, err error) {
				var business *models.ProviderBusinessError
				require.True(t, errors.As(err, &business))
				assert.Equal(t, "card_declined", business.Code)
				assert.False(t, errors.Is(err, models.ErrAuthFailed))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := gw.Capture(context.Background(), "pi_1")
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 1, calls, "payment calls are never retried")
		})
	}
}

func TestHTTPPaymentGateway_NetworkFailure(t *testing.T) {
	gw := NewHTTPPaymentGateway(&config.PaymentConfig{
		BaseURL:   "http://127.0.0.1:1",
		SecretKey: "sk_test",
		Timeout:   500 * time.Millisecond,
	}, nil, testLogger())

	_, err := gw.Retrieve(context.Background(), "pi_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
}

func TestHTTPPaymentGateway_VerifyWebhook(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	now := time.Unix(1_800_000_000, 0)
	gw.now = func() time.Time { return now }

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1800000000,
		"data":{"object":{"id":"pi_1","status":"succeeded","metadata":{"booking_ref":"HB-1"}}}}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	valid := "t=" + ts + ",v1=" + SignWebhookPayload("whsec_test", ts, body)

	t.Run("valid signature", func(t *testing.T) {
		event, err := gw.VerifyWebhook(body, valid)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, models.PaymentEventSucceeded, event.Type)
		assert.Equal(t, "pi_1", event.AuthorizationID)
		assert.Equal(t, "HB-1", event.Metadata["booking_ref"])
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := append(append([]byte{}, body...), ' ')
		_, err := gw.VerifyWebhook(tampered, valid)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := "t=" + ts + ",v1=" + SignWebhookPayload("other", ts, body)
		_, err := gw.VerifyWebhook(body, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
		header := "t=" + old + ",v1=" + SignWebhookPayload("whsec_test", old, body)
		_, err := gw.VerifyWebhook(body, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		_, err := gw.VerifyWebhook(body, "garbage")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(39130), toMinorUnits(391.30, "EUR"))
	assert.Equal(t, int64(1500), toMinorUnits(1500, "JPY"))
	assert.Equal(t, 391.30, fromMinorUnits(39130, "EUR"))
}
