package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration (validation only, tokens are issued elsewhere)
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Supplier GraphQL API configuration
	Supplier SupplierConfig

	// Markup configuration
	Markup MarkupConfig

	// Booking configuration
	Booking BookingConfig

	// Redis configuration (confirm lock + task queue)
	Redis RedisConfig

	// Kafka configuration (booking lifecycle events)
	Kafka KafkaConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	Provider           string        // Recorded on bookings.payment_provider
	BaseURL            string        // Gateway REST API base URL
	SecretKey          string        // Server-side API key (SECRET - never expose to client)
	WebhookSecret      string        // HMAC secret for webhook signatures
	WebhookTolerance   time.Duration // Max age of a signed webhook timestamp
	DefaultCaptureMode string        // "automatic" or "manual"
	Timeout            time.Duration
}

// SupplierConfig holds supplier GraphQL API configuration
type SupplierConfig struct {
	Endpoint       string
	APIKey         string
	Client         string // Client code sent with every request
	Context        string // Supplier context / access scope
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	AuditEnabled   bool
}

// MarkupConfig holds pricing configuration
type MarkupConfig struct {
	Baseline float64 // Applied to unknown roles
}

// BookingConfig holds booking lifecycle configuration
type BookingConfig struct {
	DefaultCurrency string
	RefMaxAttempts  int
	AmountTolerance float64
	PendingTTL      time.Duration // PENDING bookings older than this are reconciled
	ExpirySchedule  string        // Cron spec with seconds; empty disables the sweep
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string // Empty disables the confirm lock and task queue
	Password string
	DB       int
	LockTTL  time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers            []string // Empty disables event publishing
	BookingEventsTopic string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "roomgate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Payment: PaymentConfig{
			Provider:           getEnv("PAYMENT_PROVIDER", "stripe"),
			BaseURL:            getEnv("PAYMENT_BASE_URL", "https://api.stripe.com/v1"),
			SecretKey:          getEnv("PAYMENT_SECRET_KEY", ""),
			WebhookSecret:      getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			WebhookTolerance:   time.Duration(getEnvAsInt("PAYMENT_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
			DefaultCaptureMode: getEnv("PAYMENT_CAPTURE_MODE", "manual"),
			Timeout:            time.Duration(getEnvAsInt("PAYMENT_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Supplier: SupplierConfig{
			Endpoint:       getEnv("SUPPLIER_ENDPOINT", ""),
			APIKey:         getEnv("SUPPLIER_API_KEY", ""),
			Client:         getEnv("SUPPLIER_CLIENT", ""),
			Context:        getEnv("SUPPLIER_CONTEXT", ""),
			Timeout:        time.Duration(getEnvAsInt("SUPPLIER_TIMEOUT_SECONDS", 25)) * time.Second,
			MaxAttempts:    getEnvAsInt("SUPPLIER_MAX_ATTEMPTS", 3),
			InitialBackoff: time.Duration(getEnvAsInt("SUPPLIER_INITIAL_BACKOFF_MS", 500)) * time.Millisecond,
			AuditEnabled:   getEnvAsBool("SUPPLIER_AUDIT_ENABLED", false),
		},
		Markup: MarkupConfig{
			Baseline: getEnvAsFloat("MARKUP_BASELINE", 0.25),
		},
		Booking: BookingConfig{
			DefaultCurrency: getEnv("BOOKING_DEFAULT_CURRENCY", "EUR"),
			RefMaxAttempts:  getEnvAsInt("BOOKING_REF_MAX_ATTEMPTS", 5),
			AmountTolerance: getEnvAsFloat("BOOKING_AMOUNT_TOLERANCE", 0.01),
			PendingTTL:      time.Duration(getEnvAsInt("BOOKING_PENDING_TTL_MINUTES", 60)) * time.Minute,
			ExpirySchedule:  getEnv("BOOKING_EXPIRY_SCHEDULE", "0 */5 * * * *"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  time.Duration(getEnvAsInt("CONFIRM_LOCK_TTL_SECONDS", 120)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvAsSlice("KAFKA_BROKERS", nil),
			BookingEventsTopic: getEnv("KAFKA_BOOKING_EVENTS_TOPIC", "booking.events"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}

	if c.Supplier.Endpoint == "" {
		return fmt.Errorf("SUPPLIER_ENDPOINT is required")
	}

	if c.Payment.DefaultCaptureMode != "automatic" && c.Payment.DefaultCaptureMode != "manual" {
		return fmt.Errorf("invalid PAYMENT_CAPTURE_MODE: %s (must be 'automatic' or 'manual')", c.Payment.DefaultCaptureMode)
	}

	if c.Supplier.MaxAttempts < 1 {
		return fmt.Errorf("SUPPLIER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Booking.RefMaxAttempts < 1 {
		return fmt.Errorf("BOOKING_REF_MAX_ATTEMPTS must be at least 1")
	}

	if c.Booking.PendingTTL <= 0 {
		return fmt.Errorf("BOOKING_PENDING_TTL_MINUTES must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
