// Package queue carries booking notifications over RabbitMQ: a publisher
// that implements booking.Notifier and a consumer that records every
// event in logs/notifications.log.
package queue

import (
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Queue names.  Both are durable and bound to the default exchange.
const (
	QueueBookingCreated   = "booking.created"
	QueueBookingCancelled = "booking.cancelled"
)

// Queues lists every queue the consumer reads.
var Queues = []string{QueueBookingCreated, QueueBookingCancelled}

// BookingEvent is the JSON body of both queues.  It carries enough for a
// downstream mailer to contact the guest without reading the ledger.
type BookingEvent struct {
	Event          string `json:"event"`
	Reference      string `json:"reference"`
	RoomCategoryID int64  `json:"room_category_id"`
	CheckIn        string `json:"check_in"`
	CheckOut       string `json:"check_out"`
	Status         string `json:"status"`
	GuestContact   string `json:"guest_contact"`
	Reason         string `json:"reason,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

// NewBookingEvent snapshots r for the given queue.
func NewBookingEvent(event string, r model.Reservation, reason string, at time.Time) BookingEvent {
	ev := BookingEvent{
		Event:          event,
		Reference:      r.Reference,
		RoomCategoryID: r.RoomCategoryID,
		CheckIn:        r.CheckIn.Format(model.DateLayout),
		CheckOut:       r.CheckOut.Format(model.DateLayout),
		Status:         string(r.Status),
		GuestContact:   r.GuestContact,
		Reason:         reason,
		OccurredAt:     at.UTC().Format(time.RFC3339),
	}
	if r.ExpiresAt != nil {
		ev.ExpiresAt = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return ev
}
