package model

import "time"

// RoomCategory is a bookable class of room.  Rooms within a category are
// fungible, so only the number of physical units matters.
//
// Fields:
//
//	ID         – room_categories.id
//	Name       – unique display name
//	TotalUnits – physical rooms of this category; fixed once reservations exist
//	Active     – inactive categories cannot be booked
type RoomCategory struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	TotalUnits int       `db:"total_units" json:"total_units"`
	Active     bool      `db:"is_active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
