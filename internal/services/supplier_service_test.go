package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookOKResponse = `{"data":{"book":{
	"booking":{"bookingID":"SUP-123","status":"OK",
		"reference":{"client":"HB-20261215-A1B2C3","supplier":"SR-9","hotel":"H-77"},
		"price":{"currency":"EUR","net":100,"gross":140,"binding":true},
		"cancelPolicy":{"refundable":true,"cancelPenalties":[]}},
	"errors":[],"warnings":[]}}}`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func newTestSupplier(t *testing.T, handler http.HandlerFunc, audit AuditRecorder) *GraphQLSupplierClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewGraphQLSupplierClient(&config.SupplierConfig{
		Endpoint:       server.URL,
		APIKey:         "key",
		Client:         "roomgate",
		Context:        "HOTELBEDS",
		Timeout:        time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		AuditEnabled:   audit != nil,
	}, audit, testLogger())
}

func testBookInput() *models.SupplierBookInput {
	return &models.SupplierBookInput{
		OptionRefID:     "opt-1",
		ClientReference: "HB-20261215-A1B2C3",
		Holder:          models.SupplierHolder{Name: "Ada", Surname: "Lovelace"},
		Rooms:           []models.SupplierRoomPaxes{{OccupancyRefID: 1, Adults: 2}},
	}
}

func TestGraphQLSupplierClient_Book(t *testing.T) {
	var gotRequest graphQLRequest
	var gotAuth string

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		fmt.Fprint(w, bookOKResponse)
	}, nil)

	result, err := client.Book(context.Background(), testBookInput())
	require.NoError(t, err)

	assert.Equal(t, "Apikey key", gotAuth)
	assert.Contains(t, gotRequest.Query, "mutation Book")
	input, ok := gotRequest.Variables["input"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "HB-20261215-A1B2C3", input["clientReference"])

	assert.True(t, result.Succeeded())
	assert.Equal(t, "SUP-123", result.ExternalRef())
	assert.Equal(t, "SR-9", result.Reference.Supplier)
	assert.Equal(t, 100.0, result.Price.Net)
	assert.NotEmpty(t, result.Raw)
}

func TestGraphQLSupplierClient_OnRequestIsNotConfirmed(t *testing.T) {
	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"book":{"booking":{"bookingID":"SUP-9","status":"ON_REQUEST"},"errors":[],"warnings":[]}}}`)
	}, nil)

	result, err := client.Book(context.Background(), testBookInput())
	require.NoError(t, err)
	assert.Equal(t, "SUP-9", result.ExternalRef())
	assert.False(t, result.Succeeded())
}

func TestGraphQLSupplierClient_AuditsWirePayloads(t *testing.T) {
	audit := &recordingAudit{}

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bookOKResponse)
	}, audit)

	_, err := client.Book(context.Background(), testBookInput())
	require.NoError(t, err)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.NotNil(t, entry.HTTPStatusCode)
	assert.Equal(t, http.StatusOK, *entry.HTTPStatusCode)
	require.NotNil(t, entry.RawBody)
	assert.Contains(t, *entry.RawBody, "SUP-123")
	assert.Contains(t, entry.RequestPayload["query"], "mutation Book")
	assert.Nil(t, entry.ErrorMessage)
}

func TestGraphQLSupplierClient_RetriesTransportFailures(t *testing.T) {
	var calls int32
	audit := &recordingAudit{}

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, bookOKResponse)
	}, audit)

	result, err := client.Book(context.Background(), testBookInput())
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	require.Len(t, audit.entries, 2)
	assert.Equal(t, 1, audit.entries[0].Attempt)
	assert.Equal(t, 2, audit.entries[1].Attempt)
	assert.Equal(t, models.AuditEventSupplierBook, audit.entries[1].EventType)
}

func TestGraphQLSupplierClient_BusinessErrorsAreNotRetried(t *testing.T) {
	var calls int32

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"data":{"book":{"booking":null,
			"errors":[{"code":"ROOM_UNAVAILABLE","type":"SUPPLIER","description":"no allotment"}],
			"warnings":[]}}}`)
	}, nil)

	result, err := client.Book(context.Background(), testBookInput())
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Equal(t, "ROOM_UNAVAILABLE", result.Errors.FirstCode())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGraphQLSupplierClient_ExhaustedRetries(t *testing.T) {
	var calls int32

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := client.Book(context.Background(), testBookInput())
	require.Error(t, err)

	var transport *models.ProviderTransportError
	require.True(t, errors.As(err, &transport))
	assert.Equal(t, 3, transport.Attempts)
	assert.Equal(t, "book", transport.Operation)
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGraphQLSupplierClient_ClientErrorIsTerminal(t *testing.T) {
	var calls int32

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	_, err := client.Quote(context.Background(), "opt-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuthFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGraphQLSupplierClient_Quote(t *testing.T) {
	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"quote":{"optionQuote":{
			"optionRefId":"opt-1","status":"OK","accessCode":"AC1","hotelCode":"HC1","hotelName":"Harbour View",
			"roomCode":"DBL","price":{"currency":"EUR","net":100,"binding":true}},
			"errors":[],"warnings":[{"code":"PRICE_CHANGED","type":"INFO","description":"price updated"}]}}}`)
	}, nil)

	quote, err := client.Quote(context.Background(), "opt-1")
	require.NoError(t, err)
	assert.Empty(t, quote.Errors)
	assert.Equal(t, "HC1", quote.HotelCode)
	assert.Equal(t, 100.0, quote.Price.Net)
	require.Len(t, quote.Warnings, 1)
}

func TestGraphQLSupplierClient_QuoteWithoutOption(t *testing.T) {
	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"quote":null},"errors":[{"message":"option expired","extensions":{"code":"OPTION_EXPIRED"}}]}`)
	}, nil)

	quote, err := client.Quote(context.Background(), "opt-1")
	require.NoError(t, err)
	require.Len(t, quote.Errors, 1)
	assert.Equal(t, "OPTION_EXPIRED", quote.Errors.FirstCode())
}

func TestGraphQLSupplierClient_Cancel(t *testing.T) {
	var gotInput map[string]interface{}

	client := newTestSupplier(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInput, _ = req.Variables["input"].(map[string]interface{})
		fmt.Fprint(w, `{"data":{"cancel":{"cancellation":{"cancelReference":"CX-1","status":"CANCELLED"},"errors":[],"warnings":[]}}}`)
	}, nil)

	supplierRef := "SR-9"
	in := models.CancelInputFromMeta(&models.SupplierBookingMeta{
		AccessCode:        "AC1",
		HotelCode:         "HC1",
		ClientReference:   "HB-1",
		SupplierReference: &supplierRef,
	})

	result, err := client.Cancel(context.Background(), &in)
	require.NoError(t, err)
	assert.Equal(t, "CX-1", result.CancelReference)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "AC1", gotInput["accessCode"])
}
