package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bookings")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("SUPPLIER_ENDPOINT", "https://supplier.example.com/graphql")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "manual", cfg.Payment.DefaultCaptureMode)
	assert.Equal(t, 3, cfg.Supplier.MaxAttempts)
	assert.Equal(t, 25.0, cfg.Supplier.Timeout.Seconds())
	assert.Equal(t, 0.25, cfg.Markup.Baseline)
	assert.Equal(t, 0.01, cfg.Booking.AmountTolerance)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 60.0, cfg.Booking.PendingTTL.Minutes())
	assert.Equal(t, "0 */5 * * * *", cfg.Booking.ExpirySchedule)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SUPPLIER_MAX_ATTEMPTS", "5")
	t.Setenv("MARKUP_BASELINE", "0.3")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SUPPLIER_AUDIT_ENABLED", "true")
	t.Setenv("SUPPLIER_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Supplier.MaxAttempts)
	assert.Equal(t, 0.3, cfg.Markup.Baseline)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Supplier.AuditEnabled)
	assert.Equal(t, 25.0, cfg.Supplier.Timeout.Seconds())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"missing webhook secret", map[string]string{"PAYMENT_WEBHOOK_SECRET": ""}, "PAYMENT_WEBHOOK_SECRET"},
		{"missing supplier endpoint", map[string]string{"SUPPLIER_ENDPOINT": ""}, "SUPPLIER_ENDPOINT"},
		{"bad capture mode", map[string]string{"PAYMENT_CAPTURE_MODE": "later"}, "PAYMENT_CAPTURE_MODE"},
		{"zero attempts", map[string]string{"SUPPLIER_MAX_ATTEMPTS": "0"}, "SUPPLIER_MAX_ATTEMPTS"},
		{"zero pending ttl", map[string]string{"BOOKING_PENDING_TTL_MINUTES": "0"}, "BOOKING_PENDING_TTL_MINUTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
