package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// Mode selects what Book creates.
type Mode string

const (
	// ModeConfirm books immediately with status pending.
	ModeConfirm Mode = "confirm"
	// ModeHold creates a tentative hold that expires after its TTL.
	ModeHold Mode = "hold"
)

// BookingRequest is the input to Book.  HoldTTL only applies to ModeHold;
// nil selects the policy default.
type BookingRequest struct {
	RoomCategoryID int64
	Stay           model.Stay
	GuestContact   string
	Mode           Mode
	HoldTTL        *time.Duration
}

// Book admits a reservation if the category still has a free unit for
// every night of the stay.  The overlap count and the insert run under the
// category lock, so concurrent bookers can never both take the last unit.
// Lock conflicts are retried a few times and then reported as
// CapacityExceeded.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*model.Reservation, error) {
	started := time.Now()
	res, err := s.book(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(CodeOf(err))
	}
	s.metrics.ObserveAdmission(string(req.Mode), outcome, time.Since(started))
	if err != nil {
		s.log.Info("booking rejected",
			zap.Int64("room_category_id", req.RoomCategoryID),
			zap.String("stay", req.Stay.String()),
			zap.String("code", outcome),
			zap.Error(err))
		return nil, err
	}
	s.log.Info("booking admitted",
		zap.String("reference", res.Reference),
		zap.Int64("room_category_id", res.RoomCategoryID),
		zap.String("status", string(res.Status)))
	s.notifyCreated(ctx, res.Clone())
	return res, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*model.Reservation, error) {
	contact := strings.TrimSpace(req.GuestContact)
	if contact == "" {
		return nil, reject(CodeInvalidRequest, "guest_contact is required")
	}
	if req.RoomCategoryID <= 0 {
		return nil, reject(CodeInvalidRequest, "room_category_id is required")
	}
	var ttl time.Duration
	switch req.Mode {
	case ModeConfirm:
		ttl = s.policy.PendingTTL
	case ModeHold:
		var err error
		if ttl, err = s.policy.HoldTTL(req.HoldTTL); err != nil {
			return nil, err
		}
	default:
		return nil, reject(CodeInvalidRequest, "mode must be confirm or hold")
	}
	stay := model.NewStay(req.Stay.CheckIn, req.Stay.CheckOut)
	if err := s.policy.ValidateStay(stay, s.now()); err != nil {
		return nil, err
	}

	var admitted model.Reservation
	err := s.withRetry(ctx, func() error {
		return s.ledger.WithCategoryLock(ctx, req.RoomCategoryID, func(tx ledger.Tx) error {
			r, err := s.admit(ctx, tx, req, stay, contact, ttl)
			if err != nil {
				return err
			}
			admitted = r
			return nil
		})
	})
	switch {
	case err == nil:
		return &admitted, nil
	case errors.Is(err, ledger.ErrConflict):
		r := capacityExceeded(nil)
		r.Err = err
		return nil, r
	case errors.Is(err, ledger.ErrNotFound):
		return nil, categoryNotFound()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, storeUnavailable(err)
	}
	return nil, storeError(err)
}

// admit is the critical section: count, compare, allocate, insert.
func (s *Service) admit(ctx context.Context, tx ledger.Tx, req BookingRequest, stay model.Stay, contact string, ttl time.Duration) (model.Reservation, error) {
	cat, err := tx.RoomCategory(ctx, req.RoomCategoryID)
	if err != nil {
		return model.Reservation{}, err
	}
	if !cat.Active {
		return model.Reservation{}, categoryNotFound()
	}
	conflicts, err := tx.Overlapping(ctx, cat.ID, stay)
	if err != nil {
		return model.Reservation{}, err
	}
	if len(conflicts) >= cat.TotalUnits {
		return model.Reservation{}, capacityExceeded(conflicts)
	}

	now := s.clock()
	r := model.Reservation{
		RoomCategoryID: cat.ID,
		CheckIn:        stay.CheckIn,
		CheckOut:       stay.CheckOut,
		GuestContact:   contact,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Mode == ModeHold {
		r.Status = model.StatusTentative
		r.IsTentative = true
		exp := now.Add(ttl)
		r.ExpiresAt = &exp
	} else if ttl > 0 {
		exp := now.Add(ttl)
		r.ExpiresAt = &exp
	}

	_, err = s.refs.Allocate(ctx, func(ref string) error {
		taken, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return err
		}
		if taken {
			return errReferenceTaken
		}
		r.Reference = ref
		return tx.Insert(ctx, &r)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return r.Clone(), nil
}
