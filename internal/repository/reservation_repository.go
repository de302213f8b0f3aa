package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

const reservationColumns = `id, reference, room_category_id, check_in, check_out, guest_contact,
	status, is_tentative, expires_at, status_reason, status_changed_by, created_at, updated_at`

// ReservationRepo is the SQL ledger.  Admission and status changes run
// inside WithCategoryLock, which locks the room_categories row so all
// check-then-insert sequences for one category are serialized while other
// categories proceed.
type ReservationRepo struct {
	db   *sqlx.DB
	lock locking
}

// NewReservationRepo returns a ReservationRepo bound to db.
func NewReservationRepo(db *sqlx.DB) *ReservationRepo {
	return &ReservationRepo{db: db, lock: lockingFor(db)}
}

var _ ledger.Ledger = (*ReservationRepo)(nil)

// RoomCategory loads a category outside any lock.
func (r *ReservationRepo) RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error) {
	return getCategory(ctx, r.db, id)
}

// Overlapping runs the half-open overlap query against committed rows.
func (r *ReservationRepo) Overlapping(ctx context.Context, categoryID int64, stay model.Stay) ([]model.Reservation, error) {
	return overlapping(ctx, r.db, categoryID, stay)
}

// FindByReference returns ErrNotFound when no reservation has the reference.
func (r *ReservationRepo) FindByReference(ctx context.Context, reference string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.GetContext(ctx, &res, `SELECT `+reservationColumns+` FROM reservations WHERE reference = ? LIMIT 1`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("find reservation", err)
	}
	return &res, nil
}

// ExpiredHolds lists rows whose expiry has passed, oldest expiry first.
func (r *ReservationRepo) ExpiredHolds(ctx context.Context, statuses []model.Status, now time.Time, limit int) ([]model.Reservation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+reservationColumns+` FROM reservations
		WHERE status IN (?) AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, id LIMIT ?`,
		statusStrings(statuses), formatTimestamp(now), limit)
	if err != nil {
		return nil, err
	}
	var out []model.Reservation
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, classify("list expired holds", err)
	}
	return out, nil
}

// WithCategoryLock opens a transaction, locks the category row and runs fn.
// The transaction commits only when fn returns nil.
func (r *ReservationRepo) WithCategoryLock(ctx context.Context, categoryID int64, fn func(tx ledger.Tx) error) error {
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

	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT id FROM room_categories WHERE id = ?`+r.lock.clause, categoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return classify("lock room category", err)
	}

	if err := fn(&sqlTx{tx: tx, categoryID: categoryID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

// sqlTx implements ledger.Tx on an open *sqlx.Tx scoped to one category.
type sqlTx struct {
	tx         *sqlx.Tx
	categoryID int64
}

func (t *sqlTx) RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error) {
	return getCategory(ctx, t.tx, id)
}

func (t *sqlTx) Overlapping(ctx context.Context, categoryID int64, stay model.Stay) ([]model.Reservation, error) {
	return overlapping(ctx, t.tx, categoryID, stay)
}

func (t *sqlTx) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	var res model.Reservation
	err := t.tx.GetContext(ctx, &res, `SELECT `+reservationColumns+` FROM reservations WHERE id = ? AND room_category_id = ?`, id, t.categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("load reservation", err)
	}
	return &res, nil
}

func (t *sqlTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM reservations WHERE reference = ?)`, reference)
	if err != nil {
		return false, classify("check reference", err)
	}
	return exists, nil
}

// Insert writes res and fills in its ID.  CreatedAt and UpdatedAt are
// taken from res when set, otherwise from the clock.
func (t *sqlTx) Insert(ctx context.Context, res *model.Reservation) error {
	if res.RoomCategoryID != t.categoryID {
		return ErrNotFound
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = res.CreatedAt
	}
	var expires interface{}
	if res.ExpiresAt != nil {
		expires = formatTimestamp(*res.ExpiresAt)
	}
	var reason, by interface{}
	if res.StatusReason != nil {
		reason = *res.StatusReason
	}
	if res.StatusChangedBy != nil {
		by = *res.StatusChangedBy
	}
	const q = `INSERT INTO reservations
		(reference, room_category_id, check_in, check_out, guest_contact, status, is_tentative,
		 expires_at, status_reason, status_changed_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := t.tx.ExecContext(ctx, q,
		res.Reference, res.RoomCategoryID, formatDate(res.CheckIn), formatDate(res.CheckOut),
		res.GuestContact, string(res.Status), res.IsTentative,
		expires, reason, by, formatTimestamp(res.CreatedAt), formatTimestamp(res.UpdatedAt))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("insert reservation %s: %w", res.Reference, ErrDuplicateReference)
		}
		return classify("insert reservation", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = id
	return nil
}

// Transition applies the update only while the row still has status From.
func (t *sqlTx) Transition(ctx context.Context, tr ledger.Transition) (bool, error) {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	q := `UPDATE reservations
		SET status = ?, status_reason = COALESCE(?, status_reason),
		    status_changed_by = COALESCE(?, status_changed_by), updated_at = ?`
	if tr.ClearExpiry {
		q += `, expires_at = NULL, is_tentative = 0`
	}
	q += ` WHERE id = ? AND room_category_id = ? AND status = ?`

	result, err := t.tx.ExecContext(ctx, q,
		string(tr.To), nullable(tr.Reason), nullable(tr.ChangedBy), formatTimestamp(at),
		tr.ID, t.categoryID, string(tr.From))
	if err != nil {
		return false, classify("update reservation status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *sqlTx) Delete(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ? AND room_category_id = ?`, id, t.categoryID)
	if err != nil {
		return classify("delete reservation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func overlapping(ctx context.Context, q sqlx.QueryerContext, categoryID int64, stay model.Stay) ([]model.Reservation, error) {
	query, args, err := sqlx.In(`SELECT `+reservationColumns+` FROM reservations
		WHERE room_category_id = ? AND status IN (?) AND check_in < ? AND check_out > ?
		ORDER BY check_in, id`,
		categoryID, statusStrings(model.ConsumingStatuses), formatDate(stay.CheckOut), formatDate(stay.CheckIn))
	if err != nil {
		return nil, err
	}
	var out []model.Reservation
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, classify("query overlapping reservations", err)
	}
	return out, nil
}
