package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db.DB, "sqlite3"))
	return db
}

func newCategory(t *testing.T, repo *RoomCategoryRepo, name string, units int) *model.RoomCategory {
	t.Helper()
	c := &model.RoomCategory{Name: name, TotalUnits: units, Active: true}
	require.NoError(t, repo.CreateCategory(context.Background(), c))
	return c
}

func mustStay(t *testing.T, in, out string) model.Stay {
	t.Helper()
	s, err := model.ParseStay(in, out)
	require.NoError(t, err)
	return s
}

func book(t *testing.T, repo *ReservationRepo, categoryID int64, ref string, s model.Stay, status model.Status, expires *time.Time) *model.Reservation {
	t.Helper()
	r := &model.Reservation{
		Reference:      ref,
		RoomCategoryID: categoryID,
		CheckIn:        s.CheckIn,
		CheckOut:       s.CheckOut,
		GuestContact:   "guest@example.com",
		Status:         status,
		IsTentative:    status == model.StatusTentative,
		ExpiresAt:      expires,
	}
	err := repo.WithCategoryLock(context.Background(), categoryID, func(tx ledger.Tx) error {
		return tx.Insert(context.Background(), r)
	})
	require.NoError(t, err)
	require.NotZero(t, r.ID)
	return r
}

func TestRoomCategoryRepo(t *testing.T) {
	db := newTestDB(t)
	cats := NewRoomCategoryRepo(db)
	ctx := context.Background()

	double := newCategory(t, cats, "Double", 2)
	newCategory(t, cats, "Suite", 1)

	err := cats.CreateCategory(ctx, &model.RoomCategory{Name: "double", TotalUnits: 1, Active: true})
	assert.ErrorIs(t, err, ErrDuplicateName)

	list, err := cats.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Double", list[0].Name)
	assert.True(t, list[0].Active)

	got, err := cats.RoomCategory(ctx, double.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalUnits)

	_, err = cats.RoomCategory(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	got.TotalUnits = 3
	require.NoError(t, cats.UpdateCategory(ctx, got))

	book(t, NewReservationRepo(db), double.ID, "RB26000001", mustStay(t, "2026-05-01", "2026-05-02"), model.StatusCancelled, nil)
	got.TotalUnits = 5
	assert.ErrorIs(t, cats.UpdateCategory(ctx, got), ErrCapacityLocked)

	got.TotalUnits = 3
	got.Active = false
	got.Name = "Double Deluxe"
	require.NoError(t, cats.UpdateCategory(ctx, got))
	reloaded, err := cats.RoomCategory(ctx, double.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Active)
	assert.Equal(t, "Double Deluxe", reloaded.Name)
	assert.Equal(t, 3, reloaded.TotalUnits)
}

func TestReservationRepoOverlapIsHalfOpen(t *testing.T) {
	db := newTestDB(t)
	cats := NewRoomCategoryRepo(db)
	repo := NewReservationRepo(db)
	ctx := context.Background()
	cat := newCategory(t, cats, "Twin", 3)
	other := newCategory(t, cats, "Single", 3)

	book(t, repo, cat.ID, "A", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusConfirmed, nil)
	book(t, repo, cat.ID, "B", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusCheckedOut, nil)
	book(t, repo, other.ID, "C", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusPending, nil)

	got, err := repo.Overlapping(ctx, cat.ID, mustStay(t, "2026-06-02", "2026-06-04"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Reference)
	assert.Equal(t, "2026-06-01", got[0].CheckIn.Format(model.DateLayout))
	assert.Equal(t, model.StatusConfirmed, got[0].Status)

	got, err = repo.Overlapping(ctx, cat.ID, mustStay(t, "2026-06-03", "2026-06-05"))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.Overlapping(ctx, cat.ID, mustStay(t, "2026-05-28", "2026-06-01"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReservationRepoDuplicateReference(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepo(db)
	cat := newCategory(t, NewRoomCategoryRepo(db), "Twin", 3)
	ctx := context.Background()
	book(t, repo, cat.ID, "RB26123456", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusPending, nil)

	err := repo.WithCategoryLock(ctx, cat.ID, func(tx ledger.Tx) error {
		exists, err := tx.ReferenceExists(ctx, "RB26123456")
		require.NoError(t, err)
		assert.True(t, exists)
		s := mustStay(t, "2026-07-01", "2026-07-03")
		return tx.Insert(ctx, &model.Reservation{
			Reference: "RB26123456", RoomCategoryID: cat.ID, CheckIn: s.CheckIn, CheckOut: s.CheckOut,
			GuestContact: "x@example.com", Status: model.StatusPending,
		})
	})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestReservationRepoRollbackOnError(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepo(db)
	cat := newCategory(t, NewRoomCategoryRepo(db), "Twin", 1)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithCategoryLock(ctx, cat.ID, func(tx ledger.Tx) error {
		s := mustStay(t, "2026-06-01", "2026-06-03")
		require.NoError(t, tx.Insert(ctx, &model.Reservation{
			Reference: "GONE", RoomCategoryID: cat.ID, CheckIn: s.CheckIn, CheckOut: s.CheckOut,
			GuestContact: "x@example.com", Status: model.StatusPending,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.FindByReference(ctx, "GONE")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.WithCategoryLock(ctx, 4242, func(tx ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReservationRepoConditionalTransition(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepo(db)
	cat := newCategory(t, NewRoomCategoryRepo(db), "Twin", 1)
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	r := book(t, repo, cat.ID, "HOLD1", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusTentative, &exp)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var confirmed, late bool
	err := repo.WithCategoryLock(ctx, cat.ID, func(tx ledger.Tx) error {
		var err error
		confirmed, err = tx.Transition(ctx, ledger.Transition{
			ID: r.ID, From: model.StatusTentative, To: model.StatusConfirmed,
			ChangedBy: "staff:7", ClearExpiry: true, At: at,
		})
		if err != nil {
			return err
		}
		late, err = tx.Transition(ctx, ledger.Transition{
			ID: r.ID, From: model.StatusTentative, To: model.StatusCancelled,
			Reason: model.ReasonExpired, ChangedBy: "system:sweeper", At: at,
		})
		return err
	})
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.False(t, late)

	got, err := repo.FindByReference(ctx, "HOLD1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Nil(t, got.ExpiresAt)
	assert.False(t, got.IsTentative)
	assert.Nil(t, got.StatusReason)
	require.NotNil(t, got.StatusChangedBy)
	assert.Equal(t, "staff:7", *got.StatusChangedBy)
	assert.True(t, got.UpdatedAt.Equal(at))
}

func TestReservationRepoExpiredHolds(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepo(db)
	cat := newCategory(t, NewRoomCategoryRepo(db), "Twin", 5)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := mustStay(t, "2026-06-01", "2026-06-03")

	older, newer, future := now.Add(-2*time.Minute), now.Add(-time.Minute), now.Add(time.Minute)
	book(t, repo, cat.ID, "NEWER", s, model.StatusTentative, &newer)
	book(t, repo, cat.ID, "OLDER", s, model.StatusTentative, &older)
	book(t, repo, cat.ID, "FUTURE", s, model.StatusTentative, &future)
	book(t, repo, cat.ID, "EXACT", s, model.StatusPending, &now)

	got, err := repo.ExpiredHolds(ctx, []model.Status{model.StatusTentative}, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "OLDER", got[0].Reference)
	assert.Equal(t, "NEWER", got[1].Reference)
	require.NotNil(t, got[0].ExpiresAt)
	assert.True(t, got[0].ExpiresAt.Equal(older))

	got, err = repo.ExpiredHolds(ctx, []model.Status{model.StatusTentative, model.StatusPending}, now, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = repo.ExpiredHolds(ctx, []model.Status{model.StatusTentative}, now, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReservationRepoDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepo(db)
	cat := newCategory(t, NewRoomCategoryRepo(db), "Twin", 1)
	ctx := context.Background()
	r := book(t, repo, cat.ID, "PURGE", mustStay(t, "2026-06-01", "2026-06-03"), model.StatusCancelled, nil)

	require.NoError(t, repo.WithCategoryLock(ctx, cat.ID, func(tx ledger.Tx) error {
		return tx.Delete(ctx, r.ID)
	}))
	_, err := repo.FindByReference(ctx, "PURGE")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.WithCategoryLock(ctx, cat.ID, func(tx ledger.Tx) error {
		return tx.Delete(ctx, r.ID)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	ctx := context.Background()

	id, err := users.Create(ctx, "  Desk@Hotel.test ", "password1", model.RoleStaff, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = users.Create(ctx, "desk@hotel.test", "password2", model.RoleStaff, bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrEmailExists)

	u, err := users.GetByEmail(ctx, "DESK@hotel.test")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "desk@hotel.test", u.Email)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "password1", u.PasswordHash)

	byID, err := users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, byID.Role)

	_, err = users.GetByEmail(ctx, "nobody@hotel.test")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUserRepoEnsureAdmin(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	ctx := context.Background()

	created, err := users.EnsureAdmin(ctx, "", "secret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = users.EnsureAdmin(ctx, "root@hotel.test", "password1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, created)

	u, err := users.GetByEmail(ctx, "root@hotel.test")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)

	created, err = users.EnsureAdmin(ctx, "other@hotel.test", "password1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClassifyContention(t *testing.T) {
	err := classify("insert", errors.New("database is locked"))
	assert.ErrorIs(t, err, ErrConflict)
	err = classify("insert", errors.New("syntax error"))
	assert.NotErrorIs(t, err, ErrConflict)
	assert.True(t, isDuplicate(errors.New("UNIQUE constraint failed: reservations.reference")))
}
