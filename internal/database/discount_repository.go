package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/roomgate/booking-backend/internal/models"
)

// DiscountRepository handles discount code operations
type DiscountRepository struct {
	db *sqlx.DB
}

// NewDiscountRepository creates a new DiscountRepository
func NewDiscountRepository(db *sqlx.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

const discountColumns = `
	id, code, percentage, override_price, usage_count, max_usage,
	booking_id, active, expires_at, created_at, updated_at`

// GetByCode retrieves a discount code (case-insensitive)
func (r *DiscountRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var discount models.DiscountCode
	query := fmt.Sprintf(`SELECT %s FROM discount_codes WHERE code = $1`, discountColumns)

	err := r.db.GetContext(ctx, &discount, query, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return &discount, nil
}

// Finalize records that the code was redeemed by the booking and bumps the
// usage counter. The redemption row is unique per booking, so a repeated
// call for the same booking leaves the counter untouched and returns false.
//
// 1. Find-or-create the code row (the upsert also locks it)
// 2. Insert the redemption (ON CONFLICT DO NOTHING)
// 3. Only when inserted, increment usage and link the booking
func (r *DiscountRepository) Finalize(ctx context.Context, code string, bookingID uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Find-or-create and lock the code row
	var discountID uuid.UUID
	err = tx.GetContext(ctx, &discountID, `
		INSERT INTO discount_codes (id, code, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (code) DO UPDATE SET updated_at = NOW()
		RETURNING id`,
		uuid.New(), strings.ToUpper(strings.TrimSpace(code)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve discount code: %w", err)
	}

	// 2. Redemption gate
	result, err := tx.ExecContext(ctx, `
		INSERT INTO discount_redemptions (id, discount_code_id, booking_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (booking_id) DO NOTHING`,
		uuid.New(), discountID, bookingID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record discount redemption: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Already finalized for this booking
		return false, nil
	}

	// 3. Usage counter
	_, err = tx.ExecContext(ctx, `
		UPDATE discount_codes
		SET usage_count = usage_count + 1, booking_id = $2, updated_at = NOW()
		WHERE id = $1`,
		discountID, bookingID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to increment discount usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit discount finalization: %w", err)
	}
	return true, nil
}
