package booking

import (
	"context"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Notifier delivers booking events to guests or downstream systems.  Calls
// happen after the ledger write has committed; an error is logged and
// never undoes the reservation.
type Notifier interface {
	NotifyBookingCreated(ctx context.Context, r model.Reservation) error
	NotifyBookingCancelled(ctx context.Context, r model.Reservation, reason string) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) NotifyBookingCreated(context.Context, model.Reservation) error { return nil }

func (NopNotifier) NotifyBookingCancelled(context.Context, model.Reservation, string) error {
	return nil
}

// RequesterKind tells who initiated a status change.  It is recorded for
// audit only; authorization happens before the service is called.
type RequesterKind string

const (
	RequesterGuest  RequesterKind = "guest"
	RequesterStaff  RequesterKind = "staff"
	RequesterSystem RequesterKind = "system"
)

// Requester identifies the initiator of a status change.
type Requester struct {
	Kind RequesterKind
	ID   string
}

// Guest is the requester for self-service calls.
func Guest() Requester { return Requester{Kind: RequesterGuest} }

// Staff is the requester for an authenticated staff member.
func Staff(userID string) Requester { return Requester{Kind: RequesterStaff, ID: userID} }

// Sweeper is the requester recorded on expiries.
func Sweeper() Requester { return Requester{Kind: RequesterSystem, ID: "sweeper"} }

// String is the value stored in status_changed_by, e.g. "staff:12".
func (r Requester) String() string {
	if r.ID == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ":" + r.ID
}
