package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/roomgate/booking-backend/internal/models"
)

// RoomRateRepository reads locally managed room rates
type RoomRateRepository struct {
	db *sqlx.DB
}

// NewRoomRateRepository creates a new RoomRateRepository
func NewRoomRateRepository(db *sqlx.DB) *RoomRateRepository {
	return &RoomRateRepository{db: db}
}

// GetActiveRate returns the active rate for a hotel room, or nil if none
func (r *RoomRateRepository) GetActiveRate(ctx context.Context, hotelID, roomID int64) (*models.RoomRate, error) {
	var rate models.RoomRate
	query := `
		SELECT rr.id, rr.hotel_id, rr.room_id, rr.room_code, h.name AS hotel_name,
		       rr.nightly_net, rr.currency, rr.max_occupancy, rr.active, rr.updated_at
		FROM room_rates rr
		JOIN hotels h ON h.id = rr.hotel_id
		WHERE rr.hotel_id = $1 AND rr.room_id = $2 AND rr.active = TRUE
		ORDER BY rr.updated_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &rate, query, hotelID, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room rate: %w", err)
	}
	return &rate, nil
}
