package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/database"
	"github.com/sirupsen/logrus"
)

// Prints every provider exchange and the snapshot for one booking.
// Usage: go run ./cmd/audit-trail -ref HB-20261215-A1B2C3 [-raw]
func main() {
	ref := flag.String("ref", "", "booking reference")
	raw := flag.Bool("raw", false, "print request/response payloads")
	flag.Parse()

	if *ref == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	sqlxDB, ok := db.(*database.PostgresDB)
	if !ok {
		log.Fatal("Failed to cast database connection to PostgresDB")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bookings := database.NewBookingRepository(sqlxDB.Sqlx(), logger)
	audits := database.NewProviderAuditRepository(sqlxDB.Sqlx(), logger)

	booking, err := bookings.GetByRef(ctx, *ref)
	if err != nil {
		log.Fatalf("Failed to load booking: %v", err)
	}
	if booking == nil {
		log.Fatalf("Booking %s not found", *ref)
	}

	fmt.Printf("=== %s ===\n", booking.BookingRef)
	fmt.Printf("channel=%s status=%s payment=%s gross=%.2f %s\n",
		booking.SourceChannel, booking.Status, booking.PaymentStatus, booking.GrossPrice, booking.Currency)
	if booking.PaymentAuthorizationID != nil {
		fmt.Printf("authorization=%s\n", *booking.PaymentAuthorizationID)
	}
	if booking.ExternalSupplierRef != nil {
		fmt.Printf("supplier_ref=%s\n", *booking.ExternalSupplierRef)
	}

	if meta, err := bookings.GetMeta(ctx, booking.ID); err == nil && meta != nil {
		fmt.Printf("option_ref=%s hotel_code=%s client_ref=%s\n", meta.OptionRefID, meta.HotelCode, meta.ClientReference)
		if meta.CancelReference != nil {
			fmt.Printf("cancel_ref=%s\n", *meta.CancelReference)
		}
	}

	if len(booking.Snapshot) > 0 {
		snapshot, _ := json.MarshalIndent(booking.Snapshot, "", "  ")
		fmt.Printf("\nSnapshot:\n%s\n", snapshot)
	}

	entries, err := audits.GetByBookingRef(ctx, *ref)
	if err != nil {
		log.Fatalf("Failed to load audit trail: %v", err)
	}

	fmt.Printf("\nProvider exchanges (%d):\n", len(entries))
	for _, e := range entries {
		status := "-"
		if e.HTTPStatusCode != nil {
			status = fmt.Sprint(*e.HTTPStatusCode)
		}
		line := fmt.Sprintf("  %s  %-8s %-28s attempt=%d status=%s",
			e.CreatedAt.Format(time.RFC3339), e.Provider, e.EventType, e.Attempt, status)
		if e.IsDuplicate {
			line += " duplicate"
		}
		if e.ErrorMessage != nil {
			line += " error=" + *e.ErrorMessage
		}
		fmt.Println(line)

		if *raw {
			if len(e.RequestPayload) > 0 {
				body, _ := json.Marshal(e.RequestPayload)
				fmt.Printf("    request:  %s\n", body)
			}
			if len(e.ResponsePayload) > 0 {
				body, _ := json.Marshal(e.ResponsePayload)
				fmt.Printf("    response: %s\n", body)
			}
		}
	}
}
