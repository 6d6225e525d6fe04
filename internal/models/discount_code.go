package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DiscountCode represents a promotional code applied at intent time
type DiscountCode struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"`
	Percentage    *float64   `json:"percentage,omitempty" db:"percentage"`         // 0.10 = 10% off
	OverridePrice *float64   `json:"override_price,omitempty" db:"override_price"` // Fixed gross price
	UsageCount    int        `json:"usage_count" db:"usage_count"`
	MaxUsage      *int       `json:"max_usage,omitempty" db:"max_usage"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"` // Last finalized booking
	Active        bool       `json:"active" db:"active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsUsable reports whether the code can still be applied at the given time
func (d *DiscountCode) IsUsable(now time.Time) bool {
	if d == nil || !d.Active {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	if d.MaxUsage != nil && d.UsageCount >= *d.MaxUsage {
		return false
	}
	return true
}

// Apply returns the discounted gross, rounded to 2 decimals.
// Override price wins over percentage; the result never goes below zero.
func (d *DiscountCode) Apply(gross float64) float64 {
	if d == nil {
		return gross
	}
	if d.OverridePrice != nil {
		return math.Max(0, math.Round(*d.OverridePrice*100)/100)
	}
	if d.Percentage != nil {
		return math.Max(0, math.Round(gross*(1-*d.Percentage)*100)/100)
	}
	return gross
}

// DiscountRedemption links a discount code to exactly one booking
type DiscountRedemption struct {
	ID             uuid.UUID `json:"id" db:"id"`
	DiscountCodeID uuid.UUID `json:"discount_code_id" db:"discount_code_id"`
	BookingID      uuid.UUID `json:"booking_id" db:"booking_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
