package model

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of check-in/check-out dates.
const DateLayout = "2006-01-02"

// Stay is a half-open range of nights [CheckIn, CheckOut).  Both ends are
// calendar dates at midnight UTC.
type Stay struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewStay truncates both dates to midnight UTC.
func NewStay(checkIn, checkOut time.Time) Stay {
	return Stay{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
}

// ParseStay parses two YYYY-MM-DD dates.  It does not validate ordering.
func ParseStay(checkIn, checkOut string) (Stay, error) {
	in, err := time.ParseInLocation(DateLayout, checkIn, time.UTC)
	if err != nil {
		return Stay{}, fmt.Errorf("check_in: %w", err)
	}
	out, err := time.ParseInLocation(DateLayout, checkOut, time.UTC)
	if err != nil {
		return Stay{}, fmt.Errorf("check_out: %w", err)
	}
	return Stay{CheckIn: in, CheckOut: out}, nil
}

// Day returns t's calendar date at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Valid reports whether check-out is strictly after check-in.
func (s Stay) Valid() bool {
	return s.CheckOut.After(s.CheckIn)
}

// Nights is the number of whole nights in the stay.
func (s Stay) Nights() int {
	return int(Day(s.CheckOut).Sub(Day(s.CheckIn)).Hours() / 24)
}

// Overlaps uses half-open intervals, so a stay ending on the day another
// begins does not overlap it.
func (s Stay) Overlaps(o Stay) bool {
	return s.CheckIn.Before(o.CheckOut) && s.CheckOut.After(o.CheckIn)
}

func (s Stay) String() string {
	return "[" + s.CheckIn.Format(DateLayout) + ", " + s.CheckOut.Format(DateLayout) + ")"
}
