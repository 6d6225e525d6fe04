package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/roomgate/booking-backend/internal/middleware"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/roomgate/booking-backend/internal/services"
	"github.com/roomgate/booking-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// WebhookSignatureHeader carries the gateway's HMAC signature
const WebhookSignatureHeader = "Gateway-Signature"

// BookingOperations is implemented by services.BookingOrchestratorService
type BookingOperations interface {
	CreateIntent(ctx context.Context, caller *models.Caller, req *models.CreateBookingIntentRequest) (*models.CreateBookingIntentResponse, error)
	ConfirmBooking(ctx context.Context, caller *models.Caller, req *models.ConfirmBookingRequest) (*models.ConfirmBookingResponse, error)
	CancelBooking(ctx context.Context, caller *models.Caller, req *models.CancelBookingRequest) (*models.CancelBookingResponse, error)
	GetBooking(ctx context.Context, caller *models.Caller, bookingRef string) (*models.BookingDetailsResponse, error)
}

// AuditTrail is implemented by database.ProviderAuditRepository
type AuditTrail interface {
	GetByBookingRef(ctx context.Context, bookingRef string) ([]models.ProviderAudit, error)
}

// WebhookReceiver is implemented by services.PaymentEventService
type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string, meta services.WebhookRequestMeta) (*services.WebhookReceipt, error)
}

// BookingOrchestratorHandler handles booking intent, confirmation and
// payment webhook endpoints
type BookingOrchestratorHandler struct {
	bookings BookingOperations
	webhooks WebhookReceiver
	audits   AuditTrail
	logger   *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(
	bookings BookingOperations,
	webhooks WebhookReceiver,
	logger *logrus.Logger,
) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		bookings: bookings,
		webhooks: webhooks,
		logger:   logger,
	}
}

// WithAuditTrail enables the back-office audit endpoint
func (h *BookingOrchestratorHandler) WithAuditTrail(audits AuditTrail) *BookingOrchestratorHandler {
	h.audits = audits
	return h
}

// callerFrom returns the authenticated caller or writes a 401
func callerFrom(c *gin.Context) (*models.Caller, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return nil, false
	}
	return userCtx.Caller(), true
}

// ============================================================================
// CREATE INTENT - POST /api/v1/bookings/intent
// ============================================================================

// CreateIntent prices a stay, stores a PENDING booking and opens a payment
// authorization
// @Summary Create booking intent
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreateBookingIntentRequest true "Booking intent request"
// @Success 201 {object} models.CreateBookingIntentResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Amount mismatch"
// @Failure 422 {object} map[string]interface{} "Supplier or gateway rejected"
// @Failure 503 {object} map[string]interface{} "Provider unavailable"
// @Router /bookings/intent [post]
func (h *BookingOrchestratorHandler) CreateIntent(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.CreateBookingIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, "create_intent", bindingError(err))
		return
	}

	response, err := h.bookings.CreateIntent(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.logger, "create_intent", err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// ============================================================================
// CONFIRM BOOKING - POST /api/v1/bookings/confirm
// ============================================================================

// ConfirmBooking runs the confirmation saga for a paid booking. Repeating
// the call for a confirmed booking returns already_confirmed.
// @Summary Confirm booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.ConfirmBookingRequest true "Authorization id or booking ref"
// @Success 200 {object} models.ConfirmBookingResponse
// @Failure 403 {object} map[string]interface{} "Not the booking owner"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Invalid state or booking locked"
// @Router /bookings/confirm [post]
func (h *BookingOrchestratorHandler) ConfirmBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.ConfirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, "confirm_booking", bindingError(err))
		return
	}

	response, err := h.bookings.ConfirmBooking(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.logger, "confirm_booking", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// CANCEL BOOKING - POST /api/v1/bookings/:booking_ref/cancel
// ============================================================================

// CancelBooking cancels a booking, its supplier reservation and any open
// authorization hold
// @Summary Cancel booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param booking_ref path string true "Booking reference"
// @Param request body models.CancelBookingRequest false "Cancellation reason"
// @Success 200 {object} models.CancelBookingResponse
// @Failure 403 {object} map[string]interface{} "Not the booking owner"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /bookings/{booking_ref}/cancel [post]
func (h *BookingOrchestratorHandler) CancelBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	// Body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, h.logger, "cancel_booking", bindingError(err))
		return
	}
	req.BookingRef = strings.TrimSpace(c.Param("booking_ref"))

	response, err := h.bookings.CancelBooking(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.logger, "cancel_booking", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/:booking_ref
// ============================================================================

// GetBooking returns a booking with its supplier metadata
// @Summary Get booking
// @Tags Bookings
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param booking_ref path string true "Booking reference"
// @Success 200 {object} models.BookingDetailsResponse
// @Failure 403 {object} map[string]interface{} "Not the booking owner"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /bookings/{booking_ref} [get]
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	response, err := h.bookings.GetBooking(c.Request.Context(), caller, strings.TrimSpace(c.Param("booking_ref")))
	if err != nil {
		respondError(c, h.logger, "get_booking", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// AUDIT TRAIL - GET /api/v1/admin/bookings/:booking_ref/audit
// ============================================================================

// GetBookingAudit lists every provider exchange recorded for a booking.
// Mounted behind RequireRole for back-office roles.
// @Summary Booking provider audit trail
// @Tags Admin
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param booking_ref path string true "Booking reference"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{} "Back-office role required"
// @Router /admin/bookings/{booking_ref}/audit [get]
func (h *BookingOrchestratorHandler) GetBookingAudit(c *gin.Context) {
	if h.audits == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit trail not available"})
		return
	}

	bookingRef := strings.TrimSpace(c.Param("booking_ref"))
	entries, err := h.audits.GetByBookingRef(c.Request.Context(), bookingRef)
	if err != nil {
		respondError(c, h.logger, "get_booking_audit", err)
		return
	}
	if entries == nil {
		entries = []models.ProviderAudit{}
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_ref": bookingRef,
		"entries":     entries,
		"count":       len(entries),
	})
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// PaymentWebhook accepts signed gateway events. Verified events are
// acknowledged immediately and processed by the worker.
// @Summary Payment gateway webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Param Gateway-Signature header string true "t=<unix>,v1=<hmac>"
// @Success 200 {object} services.WebhookReceipt
// @Failure 400 {object} map[string]interface{} "Invalid signature"
// @Router /payments/webhook [post]
func (h *BookingOrchestratorHandler) PaymentWebhook(c *gin.Context) {
	// Read raw body for verification
	bodyBytes, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	userAgent := utils.GetUserAgent(c)
	meta := services.WebhookRequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: userAgent,
		Client:    utils.DescribeClient(userAgent),
	}

	receipt, err := h.webhooks.Receive(c.Request.Context(), bodyBytes, c.GetHeader(WebhookSignatureHeader), meta)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature", "code": "INVALID_SIGNATURE"})
			return
		}

		// Acknowledge outcomes a redelivery cannot change
		if status, code := statusForError(err); status < http.StatusInternalServerError {
			h.logger.WithError(err).WithField("code", code).Warn("Payment webhook processed with rejection")
			c.JSON(http.StatusOK, gin.H{
				"message":      "webhook acknowledged",
				"acknowledged": true,
				"error":        code,
			})
			return
		}

		// Ask the gateway to redeliver
		h.logger.WithError(err).Error("Payment webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "webhook acknowledged",
		"acknowledged": true,
		"receipt":      receipt,
	})
}
