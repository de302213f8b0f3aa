package model

import "time"

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusTentative  Status = "tentative"
	StatusCheckedIn  Status = "checked-in"
	StatusCheckedOut Status = "checked-out"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// ConsumingStatuses lists every status that counts against a room
// category's capacity for the nights of the stay.
var ConsumingStatuses = []Status{StatusPending, StatusConfirmed, StatusTentative, StatusCheckedIn}

// TerminalStatuses lists the statuses no transition may leave.
var TerminalStatuses = []Status{StatusCancelled, StatusCheckedOut, StatusNoShow}

// transitions is the full lifecycle graph.  A status missing from the
// map has no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusTentative: {StatusConfirmed, StatusCancelled},
	StatusCheckedIn: {StatusCheckedOut},
}

// ConsumesInventory reports whether a reservation in this status occupies
// a unit for its nights.
func (s Status) ConsumesInventory() bool {
	for _, c := range ConsumingStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.ConsumesInventory() || s.Terminal()
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Reason values recorded on status changes made by the system.
const (
	ReasonExpired = "expired"
)

// Reservation is a booking of one unit of a room category for a stay.
//
// ExpiresAt is set for tentative holds and, when a pending TTL is
// configured, for pending bookings.  Confirming clears it.  StatusReason
// and StatusChangedBy describe the most recent status change for audit.
type Reservation struct {
	ID              int64      `db:"id" json:"-"`
	Reference       string     `db:"reference" json:"reference"`
	RoomCategoryID  int64      `db:"room_category_id" json:"room_category_id"`
	CheckIn         time.Time  `db:"check_in" json:"check_in"`
	CheckOut        time.Time  `db:"check_out" json:"check_out"`
	GuestContact    string     `db:"guest_contact" json:"guest_contact"`
	Status          Status     `db:"status" json:"status"`
	IsTentative     bool       `db:"is_tentative" json:"is_tentative"`
	ExpiresAt       *time.Time `db:"expires_at" json:"tentative_expires_at,omitempty"`
	StatusReason    *string    `db:"status_reason" json:"status_reason,omitempty"`
	StatusChangedBy *string    `db:"status_changed_by" json:"status_changed_by,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Stay returns the reservation's night range.
func (r Reservation) Stay() Stay {
	return Stay{CheckIn: r.CheckIn, CheckOut: r.CheckOut}
}

// Expired reports whether the reservation carries an expiry at or before now.
func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Clone returns a deep copy so callers can never alias stored records.
func (r Reservation) Clone() Reservation {
	out := r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if r.StatusReason != nil {
		s := *r.StatusReason
		out.StatusReason = &s
	}
	if r.StatusChangedBy != nil {
		s := *r.StatusChangedBy
		out.StatusChangedBy = &s
	}
	return out
}
