package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roomgate/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	DefaultCurrency    string             // Used when the inventory source has no currency (default EUR)
	DefaultCaptureMode models.CaptureMode // Used when the intent does not ask for one (default automatic)
	AmountTolerance    float64            // Max accepted difference between submitted and computed totals (default 0.01)
	PaymentProvider    string             // Stored on bookings.payment_provider
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		DefaultCurrency:    "EUR",
		DefaultCaptureMode: models.CaptureAutomatic,
		AmountTolerance:    0.01,
		PaymentProvider:    paymentProviderName,
	}
}

// BookingOrchestratorService handles the Intent → Payment → Confirm booking flow
// across the payment gateway and the hotel supplier
type BookingOrchestratorService struct {
	store         BookingStore
	drafts        *ReservationDraftService
	rates         RoomRateStore
	discounts     *DiscountService
	markup        *MarkupEngine
	gateway       PaymentGateway
	supplier      SupplierClient
	lookup        *BookingLookup
	notifications *NotificationService
	locker        BookingLocker
	audit         AuditRecorder
	config        BookingOrchestratorConfig
	logger        *logrus.Logger
	now           func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	store BookingStore,
	drafts *ReservationDraftService,
	rates RoomRateStore,
	discounts *DiscountService,
	markup *MarkupEngine,
	gateway PaymentGateway,
	supplier SupplierClient,
	notifications *NotificationService,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		store:         store,
		drafts:        drafts,
		rates:         rates,
		discounts:     discounts,
		markup:        markup,
		gateway:       gateway,
		supplier:      supplier,
		lookup:        NewBookingLookup(store, gateway, logger),
		notifications: notifications,
		config:        config,
		logger:        logger,
		now:           time.Now,
	}
}

// WithLocker enables the per-booking distributed lock
func (s *BookingOrchestratorService) WithLocker(locker BookingLocker) *BookingOrchestratorService {
	s.locker = locker
	return s
}

// WithAudit records compensation and capture failures
func (s *BookingOrchestratorService) WithAudit(audit AuditRecorder) *BookingOrchestratorService {
	s.audit = audit
	return s
}

// ============================================================================
// CREATE INTENT (Phase 1)
// ============================================================================

// pricedStay is the server-side price of a requested stay
type pricedStay struct {
	markup   MarkupResult
	gross    float64
	currency string
	discount *models.DiscountCode
	quote    *models.SupplierQuote
	rate     *models.RoomRate
}

// CreateIntent prices the stay, rejects tampered totals, persists a PENDING
// booking and opens a payment authorization for it
func (s *BookingOrchestratorService) CreateIntent(
	ctx context.Context,
	caller *models.Caller,
	req *models.CreateBookingIntentRequest,
) (*models.CreateBookingIntentResponse, error) {
	// 1. Validate request
	validated, err := s.drafts.ValidateIntentRequest(req)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		caller = &models.Caller{}
	}
	role := ResolveRole(caller.Roles)

	// 2. Price the stay from a fresh quote or the local rate table
	priced, err := s.priceStay(ctx, role, req, validated)
	if err != nil {
		return nil, err
	}

	// 3. Anti-tampering check, before any write or authorization
	if req.Currency != "" && !strings.EqualFold(req.Currency, priced.currency) {
		return nil, models.NewValidationError("currency", fmt.Sprintf("Must be %s for this stay", priced.currency))
	}
	if !AmountsMatch(req.TotalAmount, priced.gross, s.config.AmountTolerance) {
		s.logger.WithFields(logrus.Fields{
			"user_id":   caller.UserID,
			"role":      role,
			"submitted": req.TotalAmount,
			"expected":  priced.gross,
		}).Warn("Booking intent rejected: amount mismatch")
		return nil, &models.AmountMismatchError{Submitted: req.TotalAmount, Expected: priced.gross}
	}

	// 4. Persist the PENDING draft
	captureMode := req.CaptureMode
	if captureMode == "" {
		captureMode = s.config.DefaultCaptureMode
	}
	draft := s.buildDraft(caller, role, req, validated, priced, captureMode)
	if err := s.drafts.CreateDraft(ctx, draft); err != nil {
		return nil, err
	}
	booking := draft.Booking

	// 5. Open the payment authorization
	auth, err := s.gateway.CreateAuthorization(ctx, &models.CreateAuthorizationParams{
		Amount:       booking.GrossPrice,
		Currency:     booking.Currency,
		CaptureMode:  captureMode,
		Description:  fmt.Sprintf("Hotel booking %s", booking.BookingRef),
		ReceiptEmail: booking.GuestEmail,
		Metadata: map[string]string{
			"booking_ref":    booking.BookingRef,
			"booking_id":     booking.ID.String(),
			"source_channel": string(booking.SourceChannel),
		},
		IdempotencyKey: booking.BookingRef,
	})
	if err != nil {
		s.recordSnapshot(ctx, booking, "authorization_error", models.JSONB{"error": err.Error(), "at": s.now().UTC()})
		return nil, fmt.Errorf("failed to create payment authorization: %w", err)
	}

	// 6. Link the authorization to the booking
	if err := s.store.AttachAuthorization(ctx, booking.ID, auth.ID); err != nil {
		if _, cancelErr := s.gateway.Cancel(ctx, auth.ID, "abandoned"); cancelErr != nil {
			s.logger.WithError(cancelErr).WithField("authorization_id", auth.ID).Error("Failed to cancel orphaned authorization")
		}
		return nil, fmt.Errorf("failed to attach authorization: %w", err)
	}
	booking.PaymentAuthorizationID = &auth.ID

	s.logger.WithFields(logrus.Fields{
		"booking_ref":       booking.BookingRef,
		"authorization_id":  auth.ID,
		"role":              role,
		"net_cost":          booking.NetCost,
		"markup_percentage": booking.MarkupPercentage,
		"gross_price":       booking.GrossPrice,
		"capture_mode":      captureMode,
	}).Info("Booking intent created successfully")

	resp := &models.CreateBookingIntentResponse{
		BookingID:        booking.ID.String(),
		BookingRef:       booking.BookingRef,
		Status:           booking.Status,
		AuthorizationID:  auth.ID,
		ClientSecret:     auth.ClientSecret,
		CaptureMode:      captureMode,
		Amount:           booking.GrossPrice,
		Currency:         booking.Currency,
		NetCost:          booking.NetCost,
		MarkupPercentage: booking.MarkupPercentage,
	}
	if priced.discount != nil {
		resp.DiscountApplied = &priced.discount.Code
	}
	return resp, nil
}

// priceStay computes net, markup and discount for the request
func (s *BookingOrchestratorService) priceStay(
	ctx context.Context,
	role string,
	req *models.CreateBookingIntentRequest,
	validated *ValidatedIntent,
) (*pricedStay, error) {
	priced := &pricedStay{currency: s.config.DefaultCurrency}
	var net float64

	switch req.SourceChannel {
	case models.SourceSupplier:
		quote, err := s.supplier.Quote(ctx, req.OptionRefID)
		if err != nil {
			return nil, fmt.Errorf("failed to quote supplier option: %w", err)
		}
		if len(quote.Errors) > 0 {
			return nil, &models.ProviderBusinessError{
				Provider:  supplierProviderName,
				Operation: "quote",
				Code:      quote.Errors.FirstCode(),
				Message:   quote.Errors.Summary(),
				Errors:    quote.Errors,
			}
		}
		net = quote.Price.Net
		if quote.Price.Currency != "" {
			priced.currency = strings.ToUpper(quote.Price.Currency)
		}
		priced.quote = quote

	default:
		rate, err := s.rates.GetActiveRate(ctx, validated.HotelID, validated.RoomID)
		if err != nil {
			return nil, fmt.Errorf("failed to load room rate: %w", err)
		}
		if rate == nil {
			return nil, &models.NotFoundError{
				Resource: "room_rate",
				Searched: map[string]string{"hotel_id": req.HotelID, "room_id": req.RoomID},
			}
		}
		if guests := req.Adults + len(req.ChildAges); rate.MaxOccupancy > 0 && guests > rate.MaxOccupancy {
			return nil, models.NewValidationError("adults", fmt.Sprintf("Room sleeps at most %d guests", rate.MaxOccupancy))
		}
		net = rate.NetForStay(validated.Nights)
		if rate.Currency != "" {
			priced.currency = strings.ToUpper(rate.Currency)
		}
		priced.rate = rate
	}

	if net <= 0 {
		return nil, &models.StateConflictError{Message: "inventory returned no price for this stay"}
	}

	priced.markup = s.markup.Apply(role, net)
	priced.gross = priced.markup.Gross

	if req.DiscountCode != nil && strings.TrimSpace(*req.DiscountCode) != "" {
		discounted, code, err := s.discounts.Price(ctx, *req.DiscountCode, priced.gross)
		if err != nil {
			return nil, err
		}
		priced.gross = discounted
		priced.discount = code
	}

	return priced, nil
}

// buildDraft assembles the booking, supplier mapping and meta rows
func (s *BookingOrchestratorService) buildDraft(
	caller *models.Caller,
	role string,
	req *models.CreateBookingIntentRequest,
	validated *ValidatedIntent,
	priced *pricedStay,
	captureMode models.CaptureMode,
) *models.BookingDraft {
	booking := &models.Booking{
		ID:               uuid.New(),
		SourceChannel:    req.SourceChannel,
		PaymentProvider:  s.config.PaymentProvider,
		CaptureMode:      captureMode,
		GrossPrice:       priced.gross,
		NetCost:          priced.markup.Net,
		MarkupPercentage: priced.markup.Percentage,
		Currency:         priced.currency,
		CheckIn:          validated.CheckIn,
		CheckOut:         validated.CheckOut,
		Adults:           req.Adults,
		Children:         len(req.ChildAges),
		GuestFirstName:   strings.TrimSpace(req.Guest.FirstName),
		GuestLastName:    strings.TrimSpace(req.Guest.LastName),
		GuestEmail:       strings.ToLower(strings.TrimSpace(req.Guest.Email)),
		GuestPhone:       validated.Phone,
		CallerRole:       role,
		Snapshot: models.JSONB{
			"request": models.ToJSONB(map[string]interface{}{
				"child_ages":   req.ChildAges,
				"remarks":      req.Remarks,
				"total_amount": req.TotalAmount,
			}),
			"pricing": models.ToJSONB(priced.markup),
		},
	}
	if caller.UserID != "" {
		userID := caller.UserID
		booking.UserID = &userID
	}
	if priced.discount != nil {
		code := priced.discount.Code
		booking.DiscountCode = &code
	}

	draft := &models.BookingDraft{Booking: booking}

	if quote := priced.quote; quote != nil {
		booking.RoomCode = quote.RoomCode
		hotelName := quote.HotelName
		draft.Hotel = &models.SupplierHotel{
			AccessScope:       quote.AccessCode,
			SupplierHotelCode: quote.HotelCode,
			Name:              hotelName,
		}
		draft.Meta = &models.SupplierBookingMeta{
			BookingID:     booking.ID,
			OptionRefID:   req.OptionRefID,
			AccessCode:    quote.AccessCode,
			HotelCode:     quote.HotelCode,
			PriceSnapshot: models.ToJSONB(quote.Price),
		}
		if quote.CancelPolicy != nil {
			draft.Meta.CancelPolicy = models.ToJSONB(quote.CancelPolicy)
		}
	}

	if rate := priced.rate; rate != nil {
		hotelID := rate.HotelID
		booking.HotelID = &hotelID
		booking.RoomCode = rate.RoomCode
	}

	return draft
}

// ============================================================================
// CONFIRM BOOKING (Phase 2)
// ============================================================================

// ConfirmBooking turns an authorized payment into a confirmed reservation.
// Safe to call repeatedly: a CONFIRMED booking returns the stored result
// without touching the supplier or the gateway again. A nil caller is an
// internal actor (webhook worker, expiration sweep).
func (s *BookingOrchestratorService) ConfirmBooking(
	ctx context.Context,
	caller *models.Caller,
	req *models.ConfirmBookingRequest,
) (*models.ConfirmBookingResponse, error) {
	if req == nil || (req.AuthorizationID == "" && req.BookingRef == "") {
		return nil, &models.ValidationError{Message: "authorization_id or booking_ref is required"}
	}

	// 1. Locate booking
	booking, err := s.lookup.Find(ctx, req.AuthorizationID, req.BookingRef)
	if err != nil {
		return nil, err
	}
	if err := authorizeCaller(caller, booking); err != nil {
		return nil, err
	}

	// 2. Serialize concurrent runs for this booking
	unlock, booking, err := s.acquire(ctx, booking)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.logger.WithFields(logrus.Fields{
		"booking_ref":      booking.BookingRef,
		"authorization_id": booking.AuthorizationID(),
	})

	// 3. Idempotency gate
	switch booking.Status {
	case models.BookingStatusConfirmed:
		log.Info("Booking already confirmed, returning stored result")
		return s.confirmResponse(booking, true), nil
	case models.BookingStatusCancelled:
		return nil, &models.StateConflictError{Message: "booking has been cancelled", CurrentState: string(booking.Status)}
	}
	if booking.IsSupplier() && booking.SupplierRejected() {
		// A rejected supplier leg is final for this booking
		return nil, &models.StateConflictError{Message: "supplier rejected this booking; cancel it instead of retrying", CurrentState: string(booking.Status)}
	}

	// 4. Verify payment
	auth, err := s.verifyAuthorization(ctx, booking, req.AuthorizationID)
	if err != nil {
		log.WithError(err).Warn("Payment verification failed")
		return nil, err
	}

	// 5. Run the saga: hold -> supplier book -> local commit
	lostRace := false
	if err := s.confirmSaga(booking, auth, &lostRace).Run(ctx); err != nil {
		var sagaErr *SagaError
		if errors.As(err, &sagaErr) {
			err = sagaErr.Err
		}
		log.WithError(err).Error("Booking confirmation failed")
		return nil, err
	}

	if lostRace {
		current, err := s.store.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload booking: %w", err)
		}
		log.Info("Booking confirmed by a concurrent request")
		return s.confirmResponse(current, true), nil
	}

	// 6. Capture held funds now that the reservation is secured
	captured := s.captureIfHeld(ctx, booking, auth)
	if captured {
		if _, err := s.store.MarkPaid(ctx, booking.ID); err != nil {
			log.WithError(err).Error("Failed to mark booking paid")
		}
	}

	// 7. Finalize discount
	if booking.DiscountCode != nil {
		if err := s.discounts.Finalize(ctx, *booking.DiscountCode, booking.ID); err != nil {
			log.WithError(err).Error("Failed to finalize discount code")
		}
	}

	// 8. Refresh booking and run post-commit tasks
	if current, err := s.store.GetByID(ctx, booking.ID); err == nil && current != nil {
		booking = current
	}
	if s.notifications != nil {
		RunPostCommit(ctx, s.logger, booking.BookingRef, s.notifications.ConfirmedTasks(booking))
	}

	log.WithFields(logrus.Fields{
		"external_supplier_ref": booking.ExternalSupplierRef,
		"captured":              captured,
	}).Info("Booking confirmed successfully")

	resp := s.confirmResponse(booking, false)
	resp.Captured = captured
	return resp, nil
}

// verifyAuthorization checks that the authorization belongs to the booking,
// matches its amount and is in a confirmable state
func (s *BookingOrchestratorService) verifyAuthorization(
	ctx context.Context,
	booking *models.Booking,
	requestedAuthID string,
) (*models.PaymentAuthorization, error) {
	authID := booking.AuthorizationID()
	if authID == "" {
		return nil, &models.StateConflictError{Message: "booking has no payment authorization", CurrentState: string(booking.Status)}
	}
	if requestedAuthID != "" && requestedAuthID != authID {
		return nil, &models.StateConflictError{Message: "authorization does not belong to this booking"}
	}

	auth, err := s.gateway.Retrieve(ctx, authID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment authorization: %w", err)
	}

	if ref := auth.Metadata["booking_ref"]; ref != "" && ref != booking.BookingRef {
		return nil, &models.StateConflictError{Message: "authorization does not belong to this booking"}
	}
	if auth.Currency != "" && !strings.EqualFold(auth.Currency, booking.Currency) {
		return nil, &models.StateConflictError{Message: fmt.Sprintf("authorization currency %s does not match booking currency %s", auth.Currency, booking.Currency)}
	}
	if !AmountsMatch(auth.Amount, booking.GrossPrice, s.config.AmountTolerance) {
		return nil, &models.AmountMismatchError{Submitted: auth.Amount, Expected: booking.GrossPrice}
	}
	if !auth.IsConfirmable(booking.CaptureMode) {
		return nil, &models.StateConflictError{Message: "payment is not authorized", CurrentState: string(auth.Status)}
	}
	return auth, nil
}

// confirmSaga builds the confirmation steps for one run
func (s *BookingOrchestratorService) confirmSaga(
	booking *models.Booking,
	auth *models.PaymentAuthorization,
	lostRace *bool,
) *Saga {
	var meta *models.SupplierBookingMeta
	var externalRef *string

	saga := NewSaga("confirm_booking", s.logger, logrus.Fields{"booking_ref": booking.BookingRef})

	saga.Step(SagaStep{
		Name:    "authorization_hold",
		Forward: func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context, cause error) error {
			return s.releaseAuthorization(ctx, booking, auth, cause)
		},
	})

	if booking.IsSupplier() {
		saga.Step(SagaStep{
			Name: "supplier_book",
			Forward: func(ctx context.Context) error {
				if s.locker == nil {
					// Unlocked runs re-read the status so a booking confirmed
					// since the lookup is not sent to the supplier twice
					done, err := s.settledElsewhere(ctx, booking)
					if err != nil || done {
						*lostRace = done
						return err
					}
				}
				m, ref, err := s.bookWithSupplier(ctx, booking)
				if err != nil {
					return err
				}
				meta, externalRef = m, ref
				return nil
			},
			Compensate: func(ctx context.Context, cause error) error {
				return s.cancelSupplierBooking(ctx, booking, meta)
			},
		})
	}

	saga.Step(SagaStep{
		Name: "local_commit",
		Forward: func(ctx context.Context) error {
			if *lostRace {
				return nil
			}
			bookedAt := s.now().UTC()
			ok, err := s.store.ConfirmBooking(ctx, &models.BookingConfirmation{
				BookingID:           booking.ID,
				ExternalSupplierRef: externalRef,
				Meta:                meta,
				BookedAt:            bookedAt,
			})
			if err != nil {
				return err
			}
			if ok {
				booking.Status = models.BookingStatusConfirmed
				booking.ExternalSupplierRef = externalRef
				booking.BookedAt = &bookedAt
				return nil
			}

			// Lost the compare-and-swap; fine if the winner confirmed
			current, err := s.store.GetByID(ctx, booking.ID)
			if err != nil {
				return fmt.Errorf("failed to reload booking: %w", err)
			}
			if current != nil && current.Status == models.BookingStatusConfirmed {
				*lostRace = true
				return nil
			}
			state := ""
			if current != nil {
				state = string(current.Status)
			}
			return &models.StateConflictError{Message: models.ErrConcurrentTransition.Error(), CurrentState: state}
		},
	})

	return saga
}

// settledElsewhere reloads the booking and reports whether a concurrent run
// already confirmed it. A booking cancelled meanwhile is a conflict.
func (s *BookingOrchestratorService) settledElsewhere(ctx context.Context, booking *models.Booking) (bool, error) {
	current, err := s.store.GetByID(ctx, booking.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload booking: %w", err)
	}
	if current == nil {
		return false, nil
	}
	switch current.Status {
	case models.BookingStatusConfirmed:
		return true, nil
	case models.BookingStatusCancelled:
		return false, &models.StateConflictError{Message: "booking has been cancelled", CurrentState: string(current.Status)}
	}
	return false, nil
}

// bookWithSupplier calls book() and returns the meta to persist
func (s *BookingOrchestratorService) bookWithSupplier(ctx context.Context, booking *models.Booking) (*models.SupplierBookingMeta, *string, error) {
	meta, err := s.store.GetMeta(ctx, booking.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load supplier booking meta: %w", err)
	}
	if meta == nil {
		return nil, nil, &models.StateConflictError{Message: "supplier booking meta is missing"}
	}

	input := &models.SupplierBookInput{
		OptionRefID:     meta.OptionRefID,
		ClientReference: booking.BookingRef,
		Holder: models.SupplierHolder{
			Name:    booking.GuestFirstName,
			Surname: booking.GuestLastName,
			Email:   booking.GuestEmail,
		},
		Rooms: []models.SupplierRoomPaxes{{
			OccupancyRefID: 1,
			Adults:         booking.Adults,
			ChildAges:      snapshotChildAges(booking.Snapshot),
		}},
		Remarks: snapshotString(booking.Snapshot, "remarks"),
	}
	if booking.GuestPhone != nil {
		input.Holder.Phone = *booking.GuestPhone
	}

	result, err := s.supplier.Book(ctx, input)
	if err != nil {
		var business *models.ProviderBusinessError
		s.recordSnapshot(ctx, booking, models.SnapshotKeySupplierFailure, models.JSONB{
			"error":    err.Error(),
			"rejected": errors.As(err, &business),
			"at":       s.now().UTC(),
		})
		return nil, nil, err
	}

	if !result.Succeeded() {
		s.recordSnapshot(ctx, booking, models.SnapshotKeySupplierFailure, models.JSONB{
			"errors":   models.ToJSONB(map[string]interface{}{"items": result.Errors}),
			"status":   result.Status,
			"response": result.Raw,
			"rejected": true,
			"at":       s.now().UTC(),
		})
		message, code := result.Errors.Summary(), result.Errors.FirstCode()
		switch {
		case message != "":
		case result.ExternalRef() != "":
			// Not confirmed, but the supplier holds a record that may need manual release
			message = fmt.Sprintf("supplier booking %s returned status %q", result.ExternalRef(), result.Status)
			code = result.Status
		default:
			message = "supplier returned no booking reference"
		}
		return nil, nil, &models.ProviderBusinessError{
			Provider:  supplierProviderName,
			Operation: "book",
			Code:      code,
			Message:   message,
			Errors:    result.Errors,
		}
	}

	ref := result.ExternalRef()
	meta.SupplierBookingID = optionalString(result.BookingID)
	meta.SupplierReference = optionalString(result.Reference.Supplier)
	meta.HotelReference = optionalString(result.Reference.Hotel)
	meta.RawBookResponse = result.Raw
	if result.CancelPolicy != nil {
		meta.CancelPolicy = models.ToJSONB(result.CancelPolicy)
	}
	return meta, &ref, nil
}

// releaseAuthorization is the compensation for the payment hold.
// Transport failures leave the supplier outcome unknown, so the hold is kept
// and the booking stays retryable.
func (s *BookingOrchestratorService) releaseAuthorization(
	ctx context.Context,
	booking *models.Booking,
	auth *models.PaymentAuthorization,
	cause error,
) error {
	log := s.logger.WithFields(logrus.Fields{"booking_ref": booking.BookingRef, "authorization_id": auth.ID})

	if errors.Is(cause, models.ErrProviderUnavailable) {
		log.Warn("Supplier outcome unknown, keeping payment authorization")
		return nil
	}
	if auth.IsCaptured() {
		log.Error("CRITICAL: Funds already captured for failed booking, refund required")
		s.auditCompensation(ctx, booking, auth.ID, "captured_funds_require_refund", nil)
		return nil
	}

	_, err := s.gateway.Cancel(ctx, auth.ID, "supplier_booking_failed")
	s.auditCompensation(ctx, booking, auth.ID, "authorization_cancel", err)
	if err != nil {
		return fmt.Errorf("failed to cancel authorization: %w", err)
	}
	log.Info("Payment authorization cancelled")
	return nil
}

// cancelSupplierBooking is the compensation for a supplier booking whose
// local commit failed
func (s *BookingOrchestratorService) cancelSupplierBooking(ctx context.Context, booking *models.Booking, meta *models.SupplierBookingMeta) error {
	if !meta.HasCancelKeys() {
		return fmt.Errorf("supplier booking cannot be addressed for cancellation")
	}

	input := models.CancelInputFromMeta(meta)
	result, err := s.supplier.Cancel(ctx, &input)
	if err == nil && len(result.Errors) > 0 {
		err = fmt.Errorf("supplier rejected cancellation: %s", result.Errors.Summary())
	}
	s.auditCompensation(ctx, booking, input.BookingID, "supplier_cancel", err)
	return err
}

// captureIfHeld captures a manual-mode hold. Failures are logged and never
// unwind the confirmed reservation. Returns whether funds are captured.
func (s *BookingOrchestratorService) captureIfHeld(ctx context.Context, booking *models.Booking, auth *models.PaymentAuthorization) bool {
	if auth.IsCaptured() {
		return true
	}
	if booking.CaptureMode != models.CaptureManual || auth.Status != models.AuthStatusRequiresCapture {
		return false
	}

	captured, err := s.gateway.Capture(ctx, auth.ID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_ref":      booking.BookingRef,
			"authorization_id": auth.ID,
		}).WithError(err).Error("CRITICAL: Capture failed after booking confirmation")

		if s.audit != nil {
			entry := models.NewProviderAudit(models.AuditProviderPayment, models.AuditEventCaptureFailed).
				SetBookingRef(booking.BookingRef).
				SetExternalID(auth.ID).
				SetError(err)
			if auditErr := s.audit.Log(ctx, entry); auditErr != nil {
				s.logger.WithError(auditErr).Warn("Failed to record capture failure")
			}
		}
		s.recordSnapshot(ctx, booking, "capture_failure", models.JSONB{"error": err.Error(), "at": s.now().UTC()})
		return false
	}

	return captured.IsCaptured()
}

// ============================================================================
// CANCEL BOOKING
// ============================================================================

// CancelBooking cancels a booking with the supplier (when it was booked
// there), releases any uncaptured hold and marks the booking CANCELLED
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	caller *models.Caller,
	req *models.CancelBookingRequest,
) (*models.CancelBookingResponse, error) {
	if req == nil || (req.AuthorizationID == "" && req.BookingRef == "") {
		return nil, &models.ValidationError{Message: "authorization_id or booking_ref is required"}
	}

	// 1. Locate booking
	booking, err := s.lookup.Find(ctx, req.AuthorizationID, req.BookingRef)
	if err != nil {
		return nil, err
	}
	if err := authorizeCaller(caller, booking); err != nil {
		return nil, err
	}

	unlock, booking, err := s.acquire(ctx, booking)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.logger.WithField("booking_ref", booking.BookingRef)

	// 2. Already cancelled: no-op
	if booking.Status == models.BookingStatusCancelled {
		return &models.CancelBookingResponse{Success: true, Booking: booking, AlreadyCancelled: true}, nil
	}

	resp := &models.CancelBookingResponse{Success: true}

	// 3. Supplier-side cancel for confirmed supplier bookings
	if booking.IsSupplier() && booking.Status == models.BookingStatusConfirmed {
		meta, err := s.store.GetMeta(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load supplier booking meta: %w", err)
		}
		if !meta.HasCancelKeys() {
			return nil, &models.StateConflictError{
				Message:      "supplier correlation keys were never recorded; the booking cannot be cancelled with the supplier",
				CurrentState: string(booking.Status),
			}
		}

		input := models.CancelInputFromMeta(meta)
		result, err := s.supplier.Cancel(ctx, &input)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel with supplier: %w", err)
		}
		if len(result.Errors) > 0 {
			s.recordSnapshot(ctx, booking, "supplier_cancel_failure", models.JSONB{
				"errors": models.ToJSONB(map[string]interface{}{"items": result.Errors}),
				"at":     s.now().UTC(),
			})
			return nil, &models.ProviderBusinessError{
				Provider:  supplierProviderName,
				Operation: "cancel",
				Code:      result.Errors.FirstCode(),
				Message:   result.Errors.Summary(),
				Errors:    result.Errors,
			}
		}
		resp.SupplierCancelRef = optionalString(result.CancelReference)
	}

	// 4. Release an uncaptured hold (best-effort)
	resp.AuthorizationCancelled = s.releaseHoldOnCancel(ctx, booking, req.Reason)

	// 5. Persist CANCELLED (PAID -> REFUNDED)
	ok, err := s.store.CancelBooking(ctx, booking.ID, booking.Status, resp.SupplierCancelRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload booking: %w", err)
		}
		if current != nil && current.Status == models.BookingStatusCancelled {
			return &models.CancelBookingResponse{Success: true, Booking: current, AlreadyCancelled: true}, nil
		}
		state := ""
		if current != nil {
			state = string(current.Status)
		}
		return nil, &models.StateConflictError{Message: models.ErrConcurrentTransition.Error(), CurrentState: state}
	}

	if current, err := s.store.GetByID(ctx, booking.ID); err == nil && current != nil {
		booking = current
	}
	resp.Booking = booking

	if s.notifications != nil {
		RunPostCommit(ctx, s.logger, booking.BookingRef, s.notifications.CancelledTasks(booking))
	}

	log.WithFields(logrus.Fields{
		"supplier_cancel_ref":     resp.SupplierCancelRef,
		"authorization_cancelled": resp.AuthorizationCancelled,
		"reason":                  req.Reason,
	}).Info("Booking cancelled")

	return resp, nil
}

// releaseHoldOnCancel cancels the authorization when funds are still held
func (s *BookingOrchestratorService) releaseHoldOnCancel(ctx context.Context, booking *models.Booking, reason string) bool {
	authID := booking.AuthorizationID()
	if authID == "" {
		return false
	}

	log := s.logger.WithFields(logrus.Fields{"booking_ref": booking.BookingRef, "authorization_id": authID})

	auth, err := s.gateway.Retrieve(ctx, authID)
	if err != nil {
		log.WithError(err).Warn("Could not read authorization during cancellation")
		return false
	}
	if auth.IsCaptured() || auth.Status == models.AuthStatusCanceled {
		return false
	}

	if reason == "" {
		reason = "requested_by_customer"
	}
	if _, err := s.gateway.Cancel(ctx, authID, reason); err != nil {
		log.WithError(err).Warn("Failed to cancel authorization during booking cancellation")
		return false
	}
	return true
}

// ============================================================================
// READ / WEBHOOK EVENTS
// ============================================================================

// GetBooking returns a booking and its supplier meta by reference
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, caller *models.Caller, bookingRef string) (*models.BookingDetailsResponse, error) {
	booking, err := s.store.GetByRef(ctx, bookingRef)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, &models.NotFoundError{Resource: "booking", Searched: map[string]string{"booking_ref": bookingRef}}
	}
	if err := authorizeCaller(caller, booking); err != nil {
		return nil, err
	}

	resp := &models.BookingDetailsResponse{Booking: booking}
	if booking.IsSupplier() {
		meta, err := s.store.GetMeta(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get supplier booking meta: %w", err)
		}
		resp.Meta = meta
	}
	return resp, nil
}

// ApplyPaymentEvent processes a verified gateway event. Success events
// drive ConfirmBooking; failure events are only recorded on the booking.
func (s *BookingOrchestratorService) ApplyPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	log := s.logger.WithFields(logrus.Fields{
		"event_id":         event.ID,
		"event_type":       event.Type,
		"authorization_id": event.AuthorizationID,
	})

	if event.Type.TriggersConfirmation() {
		resp, err := s.ConfirmBooking(ctx, nil, &models.ConfirmBookingRequest{
			AuthorizationID: event.AuthorizationID,
			BookingRef:      event.Metadata["booking_ref"],
		})
		if err != nil {
			return err
		}
		log.WithField("already_confirmed", resp.AlreadyConfirmed).Info("Payment event applied")
		return nil
	}

	booking, err := s.lookup.Find(ctx, event.AuthorizationID, event.Metadata["booking_ref"])
	if err != nil {
		return err
	}
	s.recordSnapshot(ctx, booking, "payment_event_"+string(event.Type), models.JSONB{
		"event_id": event.ID,
		"status":   event.Status,
		"at":       s.now().UTC(),
	})
	log.WithField("booking_ref", booking.BookingRef).Info("Payment event recorded")
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// authorizeCaller lets the booking owner and back-office roles through.
// A nil caller is trusted.
func authorizeCaller(caller *models.Caller, booking *models.Booking) error {
	if caller == nil {
		return nil
	}
	for _, role := range caller.Roles {
		for _, allowed := range BackOfficeRoles {
			if strings.EqualFold(strings.TrimSpace(role), allowed) {
				return nil
			}
		}
	}
	if caller.UserID != "" && booking.UserID != nil && *booking.UserID == caller.UserID {
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrForbidden, booking.BookingRef)
}

// acquire takes the booking lock and reloads the booking under it
func (s *BookingOrchestratorService) acquire(ctx context.Context, booking *models.Booking) (func(), *models.Booking, error) {
	if s.locker == nil {
		return func() {}, booking, nil
	}

	unlock, err := s.locker.Lock(ctx, booking.BookingRef)
	if err != nil {
		return nil, nil, err
	}

	current, err := s.store.GetByID(ctx, booking.ID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("failed to reload booking: %w", err)
	}
	if current == nil {
		unlock()
		return nil, nil, &models.NotFoundError{Resource: "booking", Searched: map[string]string{"booking_ref": booking.BookingRef}}
	}
	return unlock, current, nil
}

func (s *BookingOrchestratorService) confirmResponse(booking *models.Booking, already bool) *models.ConfirmBookingResponse {
	return &models.ConfirmBookingResponse{
		Success:          true,
		AuthorizationID:  booking.AuthorizationID(),
		Captured:         booking.PaymentStatus == models.PaymentStatusPaid,
		Booking:          booking,
		Amount:           booking.GrossPrice,
		Currency:         booking.Currency,
		AlreadyConfirmed: already,
	}
}

func (s *BookingOrchestratorService) recordSnapshot(ctx context.Context, booking *models.Booking, key string, value models.JSONB) {
	if err := s.store.RecordSnapshot(ctx, booking.ID, key, value); err != nil {
		s.logger.WithError(err).WithField("booking_ref", booking.BookingRef).Warn("Failed to record booking snapshot")
	}
}

func (s *BookingOrchestratorService) auditCompensation(ctx context.Context, booking *models.Booking, externalID, action string, callErr error) {
	if s.audit == nil {
		return
	}
	entry := models.NewProviderAudit(models.AuditProviderPayment, models.AuditEventCompensation).
		SetBookingRef(booking.BookingRef).
		SetExternalID(externalID).
		SetRequestPayload(models.JSONB{"action": action}).
		SetError(callErr)
	if action == "supplier_cancel" {
		entry.Provider = models.AuditProviderSupplier
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("Failed to record compensation audit")
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// snapshotChildAges reads the child ages stored with the intent
func snapshotChildAges(snapshot models.JSONB) []int {
	request, ok := snapshot["request"].(map[string]interface{})
	if !ok {
		if typed, isJSONB := snapshot["request"].(models.JSONB); isJSONB {
			request = typed
		} else {
			return nil
		}
	}
	raw, ok := request["child_ages"].([]interface{})
	if !ok {
		return nil
	}
	ages := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			ages = append(ages, int(f))
		}
	}
	return ages
}

func snapshotString(snapshot models.JSONB, key string) string {
	request, ok := snapshot["request"].(map[string]interface{})
	if !ok {
		if typed, isJSONB := snapshot["request"].(models.JSONB); isJSONB {
			request = typed
		} else {
			return ""
		}
	}
	v, _ := request[key].(string)
	return v
}
