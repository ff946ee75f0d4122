package menu

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aqarfund/aqar/internal/shared"
)

type memRepo struct {
	// lock serializes Locked callers; mu guards the maps
	lock   sync.Mutex
	mu     sync.Mutex
	items  map[int64]Item
	perms  map[string]struct{}
	nextID int64
}

func newMemRepo(perms ...string) *memRepo {
	repo := &memRepo{items: map[int64]Item{}, perms: map[string]struct{}{}}
	for _, p := range perms {
		repo.perms[p] = struct{}{}
	}
	return repo
}

func (m *memRepo) put(item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	if item.ID > m.nextID {
		m.nextID = item.ID
	}
}

func (m *memRepo) ListAll(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (m *memRepo) Insert(ctx context.Context, input Input) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	item := fromInput(m.nextID, input)
	item.IsActive = true
	item.CreatedAt = time.Now()
	m.items[item.ID] = item
	return item, nil
}

func (m *memRepo) Update(ctx context.Context, id int64, input Input) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	item := fromInput(id, input)
	item.IsActive = current.IsActive
	m.items[id] = item
	return item, nil
}

func (m *memRepo) SetActive(ctx context.Context, id int64, active bool) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	item.IsActive = active
	m.items[id] = item
	return item, nil
}

func (m *memRepo) ActiveKeyOwner(ctx context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.IsActive && item.Key == key {
			return item.ID, true, nil
		}
	}
	return 0, false, nil
}

func (m *memRepo) PermissionExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.perms[name]
	return ok, nil
}

func (m *memRepo) Locked(ctx context.Context, fn func(Repository) error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return fn(m)
}

func fromInput(id int64, input Input) Item {
	return Item{
		ID:                 id,
		Key:                input.Key,
		LabelEn:            input.LabelEn,
		LabelAr:            input.LabelAr,
		Path:               input.Path,
		ParentID:           input.ParentID,
		RequiredPermission: input.RequiredPermission,
		IsPublic:           input.IsPublic,
		DisplayOrder:       input.DisplayOrder,
	}
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func ptr(id int64) *int64 { return &id }
