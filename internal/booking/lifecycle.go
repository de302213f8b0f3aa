package booking

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// guard vetoes a transition after the row has been locked and reloaded.
type guard func(r *model.Reservation, now time.Time) error

// Get returns a reservation by reference for staff tools.  Guests use
// Lookup, which also checks the contact.
func (s *Service) Get(ctx context.Context, reference string) (*model.Reservation, error) {
	r, err := s.ledger.FindByReference(ctx, normalizeReference(reference))
	if err != nil {
		return nil, storeError(err)
	}
	return r, nil
}

// Cancel moves a pending, confirmed or tentative reservation to cancelled.
// The units it held become bookable the moment the write commits.
// Cancelling a terminal reservation returns InvalidTransition.
func (s *Service) Cancel(ctx context.Context, reference string, who Requester, reason string) (*model.Reservation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by " + string(who.Kind)
	}
	r, err := s.transition(ctx, reference, model.StatusCancelled, who, reason, nil)
	if err != nil {
		return nil, err
	}
	s.notifyCancelled(ctx, r.Clone(), reason)
	return r, nil
}

// Confirm turns a pending booking or a live tentative hold into a
// confirmed one.  A hold whose expiry has passed cannot be confirmed even
// if the sweeper has not reached it yet.
func (s *Service) Confirm(ctx context.Context, reference string, who Requester) (*model.Reservation, error) {
	return s.transition(ctx, reference, model.StatusConfirmed, who, "", func(r *model.Reservation, now time.Time) error {
		if r.Expired(now) {
			return reject(CodeInvalidTransition, "hold expired")
		}
		return nil
	})
}

// CheckIn marks a confirmed guest as arrived.  The unit stays occupied.
func (s *Service) CheckIn(ctx context.Context, reference string, who Requester) (*model.Reservation, error) {
	return s.transition(ctx, reference, model.StatusCheckedIn, who, "", nil)
}

// CheckOut marks departure and releases the unit.
func (s *Service) CheckOut(ctx context.Context, reference string, who Requester) (*model.Reservation, error) {
	return s.transition(ctx, reference, model.StatusCheckedOut, who, "", nil)
}

// MarkNoShow records that a pending or confirmed guest never arrived.
func (s *Service) MarkNoShow(ctx context.Context, reference string, who Requester, reason string) (*model.Reservation, error) {
	return s.transition(ctx, reference, model.StatusNoShow, who, strings.TrimSpace(reason), nil)
}

// Purge physically deletes a reservation.  Only terminal reservations may
// be purged, so purging never changes availability.
func (s *Service) Purge(ctx context.Context, reference string, who Requester) error {
	current, err := s.ledger.FindByReference(ctx, normalizeReference(reference))
	if err != nil {
		return storeError(err)
	}
	err = s.withRetry(ctx, func() error {
		return s.ledger.WithCategoryLock(ctx, current.RoomCategoryID, func(tx ledger.Tx) error {
			r, err := tx.Reservation(ctx, current.ID)
			if err != nil {
				return err
			}
			if !r.Status.Terminal() {
				return reject(CodeInvalidTransition, "only cancelled, checked-out or no-show reservations can be purged")
			}
			return tx.Delete(ctx, r.ID)
		})
	})
	if err != nil {
		return storeError(err)
	}
	s.log.Warn("reservation purged",
		zap.String("reference", current.Reference),
		zap.String("by", who.String()))
	return nil
}

// transition loads the row under the category lock, checks the lifecycle
// graph and applies a conditional update.  Losing a race to another
// writer surfaces as InvalidTransition.
func (s *Service) transition(ctx context.Context, reference string, to model.Status, who Requester, reason string, check guard) (*model.Reservation, error) {
	current, err := s.ledger.FindByReference(ctx, normalizeReference(reference))
	if err != nil {
		return nil, storeError(err)
	}

	var updated model.Reservation
	var from model.Status
	err = s.withRetry(ctx, func() error {
		return s.ledger.WithCategoryLock(ctx, current.RoomCategoryID, func(tx ledger.Tx) error {
			r, err := tx.Reservation(ctx, current.ID)
			if err != nil {
				return err
			}
			if !r.Status.CanTransitionTo(to) {
				return invalidTransition(r.Status, to)
			}
			now := s.clock()
			if check != nil {
				if err := check(r, now); err != nil {
					return err
				}
			}
			t := ledger.Transition{
				ID:          r.ID,
				From:        r.Status,
				To:          to,
				Reason:      reason,
				ChangedBy:   who.String(),
				ClearExpiry: to == model.StatusConfirmed,
				At:          now,
			}
			ok, err := tx.Transition(ctx, t)
			if err != nil {
				return err
			}
			if !ok {
				return invalidTransition(r.Status, to)
			}
			from = r.Status
			updated = applied(*r, t)
			return nil
		})
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.metrics.IncTransition(string(from), string(to))
	s.log.Info("reservation status changed",
		zap.String("reference", updated.Reference),
		zap.String("from", string(from)),
		zap.String("status", string(to)),
		zap.String("by", who.String()))
	return &updated, nil
}

// applied returns r as it looks after t has been written.
func applied(r model.Reservation, t ledger.Transition) model.Reservation {
	out := r.Clone()
	out.Status = t.To
	if t.Reason != "" {
		reason := t.Reason
		out.StatusReason = &reason
	}
	if t.ChangedBy != "" {
		by := t.ChangedBy
		out.StatusChangedBy = &by
	}
	if t.ClearExpiry {
		out.ExpiresAt = nil
		out.IsTentative = false
	}
	out.UpdatedAt = t.At
	return out
}

func normalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}
