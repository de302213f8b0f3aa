package model

import "time"

// Staff roles accepted by the administrative API.
const (
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

// User represents a staff account as stored in the `users` table.
// Guests never have accounts; they identify themselves with a booking
// reference plus the contact they booked with.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – STAFF or ADMIN.
//	IsActive     – whether the account may log in.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
