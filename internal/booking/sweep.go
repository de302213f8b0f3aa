package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// SweepExpiredHolds cancels every tentative hold (and, with a pending TTL,
// every pending booking) whose expiry is at or before now, recording the
// reason "expired".  Each row goes through the same conditional update as
// a cancellation, so concurrent sweeps and a racing Confirm settle on
// exactly one winner.  It returns how many reservations it released; a
// failure on one row does not stop the others.
func (s *Service) SweepExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	statuses := []model.Status{model.StatusTentative}
	if s.policy.PendingTTL > 0 {
		statuses = append(statuses, model.StatusPending)
	}
	now = now.UTC()

	released := 0
	var errs error
	for {
		batch, err := s.ledger.ExpiredHolds(ctx, statuses, now, s.sweepBatch)
		if err != nil {
			return released, multierr.Append(errs, storeUnavailable(err))
		}
		progressed := 0
		for _, r := range batch {
			ok, err := s.expire(ctx, r, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", r.Reference, err))
				continue
			}
			if !ok {
				continue
			}
			progressed++
			released++
			reason := model.ReasonExpired
			r.Status = model.StatusCancelled
			r.StatusReason = &reason
			s.notifyCancelled(ctx, r, model.ReasonExpired)
		}
		if len(batch) < s.sweepBatch || progressed == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return released, multierr.Append(errs, err)
		}
	}

	if released > 0 || errs != nil {
		s.log.Info("expiry sweep finished",
			zap.Int("released", released),
			zap.Int("failed", len(multierr.Errors(errs))))
	}
	return released, errs
}

// expire reports false when the row changed since it was listed.
func (s *Service) expire(ctx context.Context, listed model.Reservation, now time.Time) (bool, error) {
	var released bool
	err := s.ledger.WithCategoryLock(ctx, listed.RoomCategoryID, func(tx ledger.Tx) error {
		r, err := tx.Reservation(ctx, listed.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != listed.Status || !r.Expired(now) {
			return nil
		}
		released, err = tx.Transition(ctx, ledger.Transition{
			ID:        r.ID,
			From:      r.Status,
			To:        model.StatusCancelled,
			Reason:    model.ReasonExpired,
			ChangedBy: Sweeper().String(),
			At:        now,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if released {
		s.metrics.IncTransition(string(listed.Status), string(model.StatusCancelled))
	}
	return released, nil
}
