package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/database"
)

// Transactional booking data. Room rates and discount codes are reference
// data and survive unless -all is given.
var bookingTables = []string{
	"provider_audits",
	"discount_redemptions",
	"supplier_booking_meta",
	"bookings",
}

var referenceTables = []string{
	"supplier_hotels",
	"discount_codes",
	"room_rates",
}

func main() {
	var dbURLFlag string
	var all bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&all, "all", false, "also clear room rates, discount codes and supplier hotels")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		log.Fatal("refusing to clear data with ENVIRONMENT=production")
	}

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Build minimal database config without loading full app config
	dbCfg := config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}

	db, err := database.NewConnection(dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	tables := bookingTables
	if all {
		tables = append(tables, referenceTables...)
	}

	fmt.Println("Connected to database. Truncating tables...")

	truncateSQL := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := db.Exec(truncateSQL); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	fmt.Println("Booking data cleared.")

	fmt.Println("Post-clear row counts:")
	for _, t := range tables {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			fmt.Printf("  %s: error: %v\n", t, err)
			continue
		}
		fmt.Printf("  %s: %d\n", t, count)
	}
}
