// Package ledger defines the authoritative store of reservations and the
// room catalog it is checked against.  Implementations must serialize every
// WithCategoryLock callback per room category while letting different
// categories proceed in parallel.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

var (
	// ErrNotFound is returned when a category or reservation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReference is returned by Insert when the reference is taken.
	ErrDuplicateReference = errors.New("duplicate reservation reference")
	// ErrConflict signals a retryable concurrency failure such as a deadlock
	// or lock wait timeout.  Nothing was written.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrCapacityLocked is returned when changing the capacity of a category
	// that already has reservations.
	ErrCapacityLocked = errors.New("capacity is fixed once reservations exist")
	// ErrDuplicateName is returned when a category name is already in use.
	ErrDuplicateName = errors.New("room category name already exists")
)

// Transition describes a conditional status update: it applies only while
// the row still has status From.
type Transition struct {
	ID          int64
	From        model.Status
	To          model.Status
	Reason      string
	ChangedBy   string
	ClearExpiry bool
	At          time.Time
}

// Reader is the read side shared by the ledger and its transactions.
type Reader interface {
	RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error)
	// Overlapping returns the inventory-consuming reservations of the
	// category whose stay overlaps the given one.
	Overlapping(ctx context.Context, categoryID int64, stay model.Stay) ([]model.Reservation, error)
}

// Tx is the view handed to a WithCategoryLock callback.  Everything done
// through it commits or rolls back together.
type Tx interface {
	Reader
	Reservation(ctx context.Context, id int64) (*model.Reservation, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	Insert(ctx context.Context, r *model.Reservation) error
	// Transition reports false when the row no longer has status From.
	Transition(ctx context.Context, t Transition) (bool, error)
	Delete(ctx context.Context, id int64) error
}

// Ledger owns reservation records.
type Ledger interface {
	Reader
	FindByReference(ctx context.Context, reference string) (*model.Reservation, error)
	// ExpiredHolds lists reservations in one of statuses whose expiry is at
	// or before now, oldest first.
	ExpiredHolds(ctx context.Context, statuses []model.Status, now time.Time, limit int) ([]model.Reservation, error)
	// WithCategoryLock runs fn while holding the category's admission lock.
	// fn's error aborts the unit of work and is returned unchanged.
	WithCategoryLock(ctx context.Context, categoryID int64, fn func(tx Tx) error) error
}

// Catalog manages room categories.  It is read-mostly from the booking
// engine's point of view.
type Catalog interface {
	ListCategories(ctx context.Context) ([]model.RoomCategory, error)
	RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error)
	CreateCategory(ctx context.Context, c *model.RoomCategory) error
	// UpdateCategory saves name, active flag and capacity.  A capacity
	// change fails with ErrCapacityLocked once reservations exist.
	UpdateCategory(ctx context.Context, c *model.RoomCategory) error
}
