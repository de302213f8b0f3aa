package booking

import (
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Policy holds the stay rules checked before any store access.
type Policy struct {
	MaxAdvanceDays int
	MinNights      int
	MaxNights      int
	DefaultHoldTTL time.Duration
	MaxHoldTTL     time.Duration
	// PendingTTL, when positive, gives confirm-now bookings an expiry so
	// abandoned pending reservations are swept like holds.
	PendingTTL time.Duration
}

// DefaultPolicy mirrors the BOOKING_* configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAdvanceDays: 365,
		MinNights:      1,
		MaxNights:      30,
		DefaultHoldTTL: 15 * time.Minute,
		MaxHoldTTL:     24 * time.Hour,
	}
}

// ValidateStay rejects ranges that are empty, in the past, too far ahead
// or outside the night limits.  today is compared by calendar day in UTC.
func (p Policy) ValidateStay(s model.Stay, now time.Time) error {
	if !s.Valid() {
		return invalidRange("check_out must be after check_in")
	}
	today := model.Day(now)
	if s.CheckIn.Before(today) {
		return invalidRange("check_in %s is in the past", s.CheckIn.Format(model.DateLayout))
	}
	if p.MaxAdvanceDays > 0 && s.CheckIn.After(today.AddDate(0, 0, p.MaxAdvanceDays)) {
		return invalidRange("check_in may be at most %d days ahead", p.MaxAdvanceDays)
	}
	nights := s.Nights()
	if p.MinNights > 0 && nights < p.MinNights {
		return invalidRange("stay must be at least %d nights", p.MinNights)
	}
	if p.MaxNights > 0 && nights > p.MaxNights {
		return invalidRange("stay must be at most %d nights", p.MaxNights)
	}
	return nil
}

// HoldTTL resolves the requested hold lifetime.  nil selects the default;
// zero is allowed and produces a hold that is already due for sweeping.
func (p Policy) HoldTTL(requested *time.Duration) (time.Duration, error) {
	if requested == nil {
		return p.DefaultHoldTTL, nil
	}
	ttl := *requested
	if ttl < 0 {
		return 0, invalidRange("hold ttl must not be negative")
	}
	if p.MaxHoldTTL > 0 && ttl > p.MaxHoldTTL {
		return 0, invalidRange("hold ttl may be at most %s", p.MaxHoldTTL)
	}
	return ttl, nil
}
