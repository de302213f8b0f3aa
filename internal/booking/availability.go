package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// Availability is the answer to "can I book this category for these
// nights".  It is a read, not a reservation: a later Book may still be
// rejected.
type Availability struct {
	RoomCategoryID int64               `json:"room_category_id"`
	CheckIn        string              `json:"check_in"`
	CheckOut       string              `json:"check_out"`
	TotalUnits     int                 `json:"total_units"`
	FreeUnits      int                 `json:"free_units"`
	Nights         int                 `json:"nights"`
	Available      bool                `json:"available"`
	Message        string              `json:"message"`
	Conflicts      []model.Reservation `json:"-"`
}

// CheckAvailability counts the consuming reservations overlapping stay.
// Rooms are fungible, so every overlapping reservation occupies one unit.
func (s *Service) CheckAvailability(ctx context.Context, categoryID int64, stay model.Stay) (*Availability, error) {
	if err := s.policy.ValidateStay(stay, s.now()); err != nil {
		return nil, err
	}
	cat, err := s.ledger.RoomCategory(ctx, categoryID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, categoryNotFound()
		}
		return nil, storeUnavailable(err)
	}
	if !cat.Active {
		return nil, categoryNotFound()
	}
	conflicts, err := s.ledger.Overlapping(ctx, categoryID, stay)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return summarize(cat, stay, conflicts), nil
}

func summarize(cat *model.RoomCategory, stay model.Stay, conflicts []model.Reservation) *Availability {
	free := cat.TotalUnits - len(conflicts)
	if free < 0 {
		free = 0
	}
	a := &Availability{
		RoomCategoryID: cat.ID,
		CheckIn:        stay.CheckIn.Format(model.DateLayout),
		CheckOut:       stay.CheckOut.Format(model.DateLayout),
		TotalUnits:     cat.TotalUnits,
		FreeUnits:      free,
		Nights:         stay.Nights(),
		Available:      free > 0,
		Conflicts:      conflicts,
	}
	if a.Available {
		a.Message = fmt.Sprintf("%d of %d rooms available for %d night(s)", free, cat.TotalUnits, a.Nights)
	} else {
		a.Message = "sold out for these dates"
	}
	return a
}
