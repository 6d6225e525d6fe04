package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/roomgate/booking-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// statusForError maps service errors onto HTTP status codes and a stable
// machine-readable code for clients
func statusForError(err error) (int, string) {
	var validation *models.ValidationError
	var mismatch *models.AmountMismatchError
	var notFound *models.NotFoundError
	var business *models.ProviderBusinessError
	var transport *models.ProviderTransportError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &mismatch):
		return http.StatusConflict, "AMOUNT_MISMATCH"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, services.ErrBookingLocked):
		return http.StatusConflict, "BOOKING_LOCKED"
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConcurrentTransition):
		return http.StatusConflict, "INVALID_STATE"
	case errors.As(err, &business):
		return http.StatusUnprocessableEntity, "PROVIDER_REJECTED"
	case errors.As(err, &transport):
		return http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondError writes the error body. 5xx responses hide the underlying
// message; everything else is safe to show the caller.
func respondError(c *gin.Context, logger *logrus.Logger, operation string, err error) {
	status, code := statusForError(err)
	log := logger.WithFields(logrus.Fields{
		"operation": operation,
		"status":    status,
		"code":      code,
	}).WithError(err)

	body := gin.H{"error": err.Error(), "code": code}

	var validation *models.ValidationError
	var mismatch *models.AmountMismatchError
	var business *models.ProviderBusinessError
	switch {
	case errors.As(err, &validation) && len(validation.Fields) > 0:
		body["fields"] = validation.Fields
	case errors.As(err, &mismatch):
		body["submitted"] = mismatch.Submitted
		body["expected"] = mismatch.Expected
	case errors.As(err, &business) && len(business.Errors) > 0:
		body["provider_errors"] = business.Errors
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
		if status == http.StatusInternalServerError {
			body["error"] = "internal server error"
		}
	} else {
		log.Warn("Request rejected")
	}

	c.JSON(status, body)
}

// bindingError wraps a gin binding failure as a validation error
func bindingError(err error) error {
	return &models.ValidationError{Message: "invalid request: " + err.Error()}
}
