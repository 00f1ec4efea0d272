package billing

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/filter"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]User
	spaces  map[uuid.UUID]Space
	content map[uuid.UUID]ContentItem
	subs    map[string]Subscription
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[uuid.UUID]User),
		spaces:  make(map[uuid.UUID]Space),
		content: make(map[uuid.UUID]ContentItem),
		subs:    make(map[string]Subscription),
		now:     time.Now,
	}
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) FindUsers(_ context.Context, q filter.Query) (filter.Page[User], error) {
	if err := validateQuery(q, UserFields); err != nil {
		return filter.Page[User]{}, err
	}
	m.mu.RLock()
	items := slices.Collect(maps.Values(m.users))
	m.mu.RUnlock()
	return filter.Apply(items, q)
}

func (m *MemoryStore) CountUsers(ctx context.Context, f filter.Filter) (int64, error) {
	page, err := m.FindUsers(ctx, filter.Query{Filter: f, PageSize: 1})
	return page.TotalItems, err
}

func (m *MemoryStore) SaveUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, exists := m.users[u.ID]; exists {
		return User{}, ErrAlreadyExists
	}
	now := m.now().UTC()
	u.Version = 1
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) SwapUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	if cur.Version != u.Version {
		return User{}, ErrConcurrentUpdate
	}
	u.Version++
	u.UpdatedAt = m.now().UTC()
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetSpace(_ context.Context, id uuid.UUID) (Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.spaces[id]
	if !ok {
		return Space{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) FindSpaces(_ context.Context, q filter.Query) (filter.Page[Space], error) {
	if err := validateQuery(q, SpaceFields); err != nil {
		return filter.Page[Space]{}, err
	}
	m.mu.RLock()
	items := slices.Collect(maps.Values(m.spaces))
	m.mu.RUnlock()
	return filter.Apply(items, q)
}

func (m *MemoryStore) CountSpaces(ctx context.Context, f filter.Filter) (int64, error) {
	page, err := m.FindSpaces(ctx, filter.Query{Filter: f, PageSize: 1})
	return page.TotalItems, err
}

func (m *MemoryStore) SaveSpace(_ context.Context, s Space) (Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := m.spaces[s.ID]; exists {
		return Space{}, ErrAlreadyExists
	}
	now := m.now().UTC()
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = now, now
	m.spaces[s.ID] = s
	return s, nil
}

func (m *MemoryStore) SwapSpace(_ context.Context, s Space) (Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.spaces[s.ID]
	if !ok {
		return Space{}, ErrNotFound
	}
	if cur.Version != s.Version {
		return Space{}, ErrConcurrentUpdate
	}
	s.Version++
	s.UpdatedAt = m.now().UTC()
	m.spaces[s.ID] = s
	return s, nil
}

func (m *MemoryStore) CommitStorage(_ context.Context, id uuid.UUID, bytes int64) (Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[id]
	if !ok {
		return Space{}, ErrNotFound
	}
	if !storageFits(s.UsedStorageBytes, bytes, s.TotalStorageMB) {
		return s, ErrInsufficientCapacity
	}
	s.UsedStorageBytes += bytes
	s.Version++
	s.UpdatedAt = m.now().UTC()
	m.spaces[id] = s
	return s, nil
}

func (m *MemoryStore) ReleaseStorage(_ context.Context, id uuid.UUID, bytes int64) (Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[id]
	if !ok {
		return Space{}, ErrNotFound
	}
	s.UsedStorageBytes = max(s.UsedStorageBytes-bytes, 0)
	s.Version++
	s.UpdatedAt = m.now().UTC()
	m.spaces[id] = s
	return s, nil
}

func (m *MemoryStore) SaveContent(_ context.Context, c ContentItem) (ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := m.content[c.ID]; exists {
		return ContentItem{}, ErrAlreadyExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	m.content[c.ID] = c
	return c, nil
}

func (m *MemoryStore) FindContent(_ context.Context, q filter.Query) (filter.Page[ContentItem], error) {
	if err := validateQuery(q, ContentFields); err != nil {
		return filter.Page[ContentItem]{}, err
	}
	m.mu.RLock()
	items := slices.Collect(maps.Values(m.content))
	m.mu.RUnlock()
	return filter.Apply(items, q)
}

func (m *MemoryStore) CountContent(ctx context.Context, f filter.Filter) (int64, error) {
	page, err := m.FindContent(ctx, filter.Query{Filter: f, PageSize: 1})
	return page.TotalItems, err
}

func (m *MemoryStore) GetSubscription(_ context.Context, id string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = m.now().UTC()
	}
	m.subs[s.ID] = s
	return nil
}

func validateQuery(q filter.Query, fields filter.Fields) error {
	if err := q.Filter.Validate(fields); err != nil {
		return err
	}
	if q.Sort.Field != "" {
		if _, err := fields.Column(q.Sort.Field); err != nil {
			return err
		}
	}
	return nil
}

// storageFits is the commit predicate shared by every backend:
// used + delta < total (in bytes), or an unlimited ceiling.
func storageFits(usedBytes, delta, totalMB int64) bool {
	if totalMB == Unlimited {
		return true
	}
	return usedBytes+delta < totalMB*BytesPerMB
}
