package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// lookupStrategy finds a booking by one kind of identifier
type lookupStrategy struct {
	name string
	find func(ctx context.Context) (*models.Booking, error)
}

// BookingLookup resolves a booking from whatever identifiers a caller has.
// Strategies run in order: authorization id, booking ref, then the
// identifiers stored in the authorization's metadata.
type BookingLookup struct {
	store   BookingStore
	gateway PaymentGateway
	logger  *logrus.Logger
}

// NewBookingLookup creates a lookup. gateway may be nil, which disables
// the metadata strategy.
func NewBookingLookup(store BookingStore, gateway PaymentGateway, logger *logrus.Logger) *BookingLookup {
	return &BookingLookup{store: store, gateway: gateway, logger: logger}
}

// Find returns the first booking any strategy resolves, or a NotFoundError
// listing every identifier that was searched
func (l *BookingLookup) Find(ctx context.Context, authorizationID, bookingRef string) (*models.Booking, error) {
	searched := make(map[string]string)

	for _, strategy := range l.strategies(authorizationID, bookingRef, searched) {
		booking, err := strategy.find(ctx)
		if err != nil {
			return nil, fmt.Errorf("booking lookup by %s failed: %w", strategy.name, err)
		}
		if booking != nil {
			l.logger.WithFields(logrus.Fields{
				"booking_ref": booking.BookingRef,
				"strategy":    strategy.name,
			}).Debug("Booking located")
			return booking, nil
		}
	}

	if len(searched) == 0 {
		return nil, &models.ValidationError{Message: "authorization_id or booking_ref is required"}
	}
	return nil, &models.NotFoundError{Resource: "booking", Searched: searched}
}

func (l *BookingLookup) strategies(authorizationID, bookingRef string, searched map[string]string) []lookupStrategy {
	var out []lookupStrategy

	if authorizationID != "" {
		out = append(out, lookupStrategy{
			name: "authorization_id",
			find: func(ctx context.Context) (*models.Booking, error) {
				searched["authorization_id"] = authorizationID
				return l.store.GetByAuthorizationID(ctx, authorizationID)
			},
		})
	}

	if bookingRef != "" {
		out = append(out, lookupStrategy{
			name: "booking_ref",
			find: func(ctx context.Context) (*models.Booking, error) {
				searched["booking_ref"] = bookingRef
				return l.store.GetByRef(ctx, bookingRef)
			},
		})
	}

	if authorizationID != "" && l.gateway != nil {
		out = append(out, lookupStrategy{
			name: "authorization_metadata",
			find: func(ctx context.Context) (*models.Booking, error) {
				return l.findByMetadata(ctx, authorizationID, bookingRef, searched)
			},
		})
	}

	return out
}

// findByMetadata reads booking identifiers the intent flow stored on the
// authorization
func (l *BookingLookup) findByMetadata(ctx context.Context, authorizationID, bookingRef string, searched map[string]string) (*models.Booking, error) {
	auth, err := l.gateway.Retrieve(ctx, authorizationID)
	if err != nil {
		return nil, err
	}

	if ref := auth.Metadata["booking_ref"]; ref != "" && ref != bookingRef {
		searched["metadata.booking_ref"] = ref
		booking, err := l.store.GetByRef(ctx, ref)
		if err != nil || booking != nil {
			return booking, err
		}
	}

	if rawID := auth.Metadata["booking_id"]; rawID != "" {
		searched["metadata.booking_id"] = rawID
		id, err := uuid.Parse(rawID)
		if err != nil {
			l.logger.WithField("booking_id", rawID).Warn("Authorization metadata has malformed booking id")
			return nil, nil
		}
		return l.store.GetByID(ctx, id)
	}

	return nil, nil
}
