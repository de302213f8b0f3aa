package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

const categoryColumns = `id, name, total_units, is_active, created_at, updated_at`

// RoomCategoryRepo manages the room_categories table.
type RoomCategoryRepo struct {
	db   *sqlx.DB
	lock locking
}

// NewRoomCategoryRepo returns a RoomCategoryRepo bound to db.
func NewRoomCategoryRepo(db *sqlx.DB) *RoomCategoryRepo {
	return &RoomCategoryRepo{db: db, lock: lockingFor(db)}
}

var _ ledger.Catalog = (*RoomCategoryRepo)(nil)

// ListCategories returns every category ordered by id, inactive ones included.
func (r *RoomCategoryRepo) ListCategories(ctx context.Context) ([]model.RoomCategory, error) {
	out := []model.RoomCategory{}
	if err := r.db.SelectContext(ctx, &out, `SELECT `+categoryColumns+` FROM room_categories ORDER BY id`); err != nil {
		return nil, classify("list room categories", err)
	}
	return out, nil
}

// RoomCategory returns ErrNotFound for an unknown id.
func (r *RoomCategoryRepo) RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error) {
	return getCategory(ctx, r.db, id)
}

// CreateCategory inserts c and populates ID and timestamps.
func (r *RoomCategoryRepo) CreateCategory(ctx context.Context, c *model.RoomCategory) error {
	c.Name = strings.TrimSpace(c.Name)
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO room_categories (name, total_units, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.TotalUnits, c.Active, formatTimestamp(now), formatTimestamp(now))
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateName
		}
		return classify("insert room category", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// UpdateCategory locks the category row, the same lock admission takes, so
// a capacity change cannot slip between an availability check and its
// insert.  Capacity is frozen once any reservation references the category.
func (r *RoomCategoryRepo) UpdateCategory(ctx context.Context, c *model.RoomCategory) error {
	tx, err := r.db.BeginTxx(ctx, r.lock.txOpts)
	if err != nil {
		return classify("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current model.RoomCategory
	if err := tx.GetContext(ctx, &current, `SELECT `+categoryColumns+` FROM room_categories WHERE id = ?`+r.lock.clause, c.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return classify("lock room category", err)
	}
	if c.TotalUnits != current.TotalUnits {
		var used bool
		if err := tx.GetContext(ctx, &used, `SELECT EXISTS(SELECT 1 FROM reservations WHERE room_category_id = ?)`, c.ID); err != nil {
			return classify("check reservations", err)
		}
		if used {
			return ErrCapacityLocked
		}
	}

	c.Name = strings.TrimSpace(c.Name)
	now := time.Now().UTC().Truncate(time.Second)
	_, err = tx.ExecContext(ctx,
		`UPDATE room_categories SET name = ?, total_units = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.TotalUnits, c.Active, formatTimestamp(now), c.ID)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateName
		}
		return classify("update room category", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	c.CreatedAt, c.UpdatedAt = current.CreatedAt, now
	return nil
}

func getCategory(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.RoomCategory, error) {
	var c model.RoomCategory
	if err := sqlx.GetContext(ctx, q, &c, `SELECT `+categoryColumns+` FROM room_categories WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room category %d: %w", id, classify("query", err))
	}
	return &c, nil
}
