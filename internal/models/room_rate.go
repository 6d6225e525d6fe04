package models

import "time"

// RoomRate is a locally managed nightly net rate for PARTNER / OUTSIDE
// inventory. Owned by the hotel catalogue; read-only here.
type RoomRate struct {
	ID           int64     `json:"id" db:"id"`
	HotelID      int64     `json:"hotel_id" db:"hotel_id"`
	RoomID       int64     `json:"room_id" db:"room_id"`
	RoomCode     string    `json:"room_code" db:"room_code"`
	HotelName    string    `json:"hotel_name" db:"hotel_name"`
	NightlyNet   float64   `json:"nightly_net" db:"nightly_net"`
	Currency     string    `json:"currency" db:"currency"`
	MaxOccupancy int       `json:"max_occupancy" db:"max_occupancy"`
	Active       bool      `json:"active" db:"active"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NetForStay returns the net cost for the given number of nights
func (r *RoomRate) NetForStay(nights int) float64 {
	return r.NightlyNet * float64(nights)
}
