package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Memory is a process-local Ledger and Catalog.  Each room category has
// its own mutex, so admissions for one category never wait on another.
// Writes made inside WithCategoryLock are staged and only become visible
// when the callback returns nil.
type Memory struct {
	mu           sync.RWMutex
	categories   map[int64]model.RoomCategory
	reservations map[int64]model.Reservation
	byReference  map[string]int64
	claimed      map[string]struct{} // references inserted by uncommitted transactions
	nextCategory int64
	nextID       int64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		categories:   make(map[int64]model.RoomCategory),
		reservations: make(map[int64]model.Reservation),
		byReference:  make(map[string]int64),
		claimed:      make(map[string]struct{}),
		locks:        make(map[int64]*sync.Mutex),
		now:          time.Now,
	}
}

func (m *Memory) categoryLock(id int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// ListCategories returns all categories ordered by ID.
func (m *Memory) ListCategories(ctx context.Context) ([]model.RoomCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RoomCategory, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RoomCategory returns a copy of the category.
func (m *Memory) RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// CreateCategory stores c and fills in its ID and timestamps.
func (m *Memory) CreateCategory(ctx context.Context, c *model.RoomCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return ErrDuplicateName
		}
	}
	m.nextCategory++
	now := m.now().UTC().Truncate(time.Second)
	c.ID = m.nextCategory
	c.CreatedAt, c.UpdatedAt = now, now
	m.categories[c.ID] = *c
	return nil
}

// UpdateCategory holds the category lock so a capacity change cannot
// interleave with an admission.
func (m *Memory) UpdateCategory(ctx context.Context, c *model.RoomCategory) error {
	lock := m.categoryLock(c.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.categories[c.ID]
	if !ok {
		return ErrNotFound
	}
	for id, existing := range m.categories {
		if id != c.ID && strings.EqualFold(existing.Name, c.Name) {
			return ErrDuplicateName
		}
	}
	if c.TotalUnits != current.TotalUnits {
		for _, r := range m.reservations {
			if r.RoomCategoryID == c.ID {
				return ErrCapacityLocked
			}
		}
	}
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = m.now().UTC().Truncate(time.Second)
	m.categories[c.ID] = *c
	return nil
}

// Overlapping returns committed consuming reservations overlapping stay.
func (m *Memory) Overlapping(ctx context.Context, categoryID int64, stay model.Stay) ([]model.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlappingLocked(categoryID, stay, nil, nil), nil
}

func (m *Memory) overlappingLocked(categoryID int64, stay model.Stay, staged map[int64]model.Reservation, deleted map[int64]bool) []model.Reservation {
	var out []model.Reservation
	match := func(r model.Reservation) {
		if r.RoomCategoryID == categoryID && r.Status.ConsumesInventory() && r.Stay().Overlaps(stay) {
			out = append(out, r.Clone())
		}
	}
	for id, r := range m.reservations {
		if deleted[id] {
			continue
		}
		if _, ok := staged[id]; ok {
			continue
		}
		match(r)
	}
	for _, r := range staged {
		match(r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].CheckIn.Before(out[j].CheckIn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindByReference returns a copy of the reservation with that reference.
func (m *Memory) FindByReference(ctx context.Context, reference string) (*model.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byReference[reference]
	if !ok {
		return nil, ErrNotFound
	}
	r := m.reservations[id].Clone()
	return &r, nil
}

// ExpiredHolds lists expired reservations in the given statuses.
func (m *Memory) ExpiredHolds(ctx context.Context, statuses []model.Status, now time.Time, limit int) ([]model.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Reservation
	for _, r := range m.reservations {
		if !r.Expired(now) {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(*out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithCategoryLock runs fn under the category's mutex.
func (m *Memory) WithCategoryLock(ctx context.Context, categoryID int64, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := m.categoryLock(categoryID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.RoomCategory(ctx, categoryID); err != nil {
		return err
	}
	tx := &memoryTx{
		m:          m,
		categoryID: categoryID,
		staged:     make(map[int64]model.Reservation),
		deleted:    make(map[int64]bool),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	m          *Memory
	categoryID int64
	staged     map[int64]model.Reservation
	deleted    map[int64]bool
	inserted   []string
}

func (tx *memoryTx) RoomCategory(ctx context.Context, id int64) (*model.RoomCategory, error) {
	return tx.m.RoomCategory(ctx, id)
}

func (tx *memoryTx) Overlapping(ctx context.Context, categoryID int64, stay model.Stay) ([]model.Reservation, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return tx.m.overlappingLocked(categoryID, stay, tx.staged, tx.deleted), nil
}

func (tx *memoryTx) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	if tx.deleted[id] {
		return nil, ErrNotFound
	}
	if r, ok := tx.staged[id]; ok {
		c := r.Clone()
		return &c, nil
	}
	tx.m.mu.RLock()
	r, ok := tx.m.reservations[id]
	tx.m.mu.RUnlock()
	if !ok || r.RoomCategoryID != tx.categoryID {
		return nil, ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (tx *memoryTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if _, ok := tx.m.byReference[reference]; ok {
		return true, nil
	}
	_, ok := tx.m.claimed[reference]
	return ok, nil
}

func (tx *memoryTx) Insert(ctx context.Context, r *model.Reservation) error {
	if r.RoomCategoryID != tx.categoryID {
		return ErrNotFound
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	if _, ok := tx.m.byReference[r.Reference]; ok {
		return ErrDuplicateReference
	}
	if _, ok := tx.m.claimed[r.Reference]; ok {
		return ErrDuplicateReference
	}
	tx.m.claimed[r.Reference] = struct{}{}
	tx.m.nextID++
	r.ID = tx.m.nextID
	tx.staged[r.ID] = r.Clone()
	tx.inserted = append(tx.inserted, r.Reference)
	return nil
}

func (tx *memoryTx) Transition(ctx context.Context, t Transition) (bool, error) {
	r, err := tx.Reservation(ctx, t.ID)
	if err != nil {
		return false, err
	}
	if r.Status != t.From {
		return false, nil
	}
	r.Status = t.To
	if t.Reason != "" {
		reason := t.Reason
		r.StatusReason = &reason
	}
	if t.ChangedBy != "" {
		by := t.ChangedBy
		r.StatusChangedBy = &by
	}
	if t.ClearExpiry {
		r.ExpiresAt = nil
		r.IsTentative = false
	}
	r.UpdatedAt = t.At
	tx.staged[r.ID] = *r
	return true, nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	if _, err := tx.Reservation(ctx, id); err != nil {
		return err
	}
	delete(tx.staged, id)
	tx.deleted[id] = true
	return nil
}

func (tx *memoryTx) commit() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for id, r := range tx.staged {
		tx.m.reservations[id] = r
		tx.m.byReference[r.Reference] = id
	}
	for id := range tx.deleted {
		if r, ok := tx.m.reservations[id]; ok {
			delete(tx.m.byReference, r.Reference)
			delete(tx.m.reservations, id)
		}
	}
	for _, ref := range tx.inserted {
		delete(tx.m.claimed, ref)
	}
}

func (tx *memoryTx) rollback() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for _, ref := range tx.inserted {
		delete(tx.m.claimed, ref)
	}
}
