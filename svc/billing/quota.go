package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/filter"
)

// Dimension is a quota axis checked by Quota.HasCapacity.
type Dimension string

const (
	// DimensionStorage: subject is a space, amount is in bytes.
	DimensionStorage Dimension = "storage"
	// DimensionAIGenerations: subject is a space, amount is a number of generations.
	DimensionAIGenerations Dimension = "ai_generations"
	// DimensionSpaces: subject is a user, amount is a number of spaces.
	DimensionSpaces Dimension = "spaces"
)

// AIWindow is the trailing window for AI generation allowances.
const AIWindow = 30 * 24 * time.Hour

// Quota answers capacity questions and commits storage usage.
// Pausing or deactivating a space does not block checks or commits.
type Quota struct {
	users   UserStore
	spaces  SpaceStore
	content ContentStore
	metrics *Metrics
	now     func() time.Time
}

type QuotaOption func(*Quota)

func WithQuotaMetrics(m *Metrics) QuotaOption {
	return func(q *Quota) { q.metrics = m }
}

func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(q *Quota) { q.now = now }
}

// NewQuota creates a quota enforcer over store.
func NewQuota(store Store, opts ...QuotaOption) *Quota {
	if store == nil {
		panic("billing: Store is required")
	}
	q := &Quota{users: store, spaces: store, content: store, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// HasCapacity reports whether subject can take amount more units of dimension.
// It is read-only and monotonic in amount.
func (q *Quota) HasCapacity(ctx context.Context, subjectID uuid.UUID, amount int64, dim Dimension) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("%w: negative amount %d", ErrInvalidDimension, amount)
	}

	var (
		ok  bool
		err error
	)
	switch dim {
	case DimensionStorage:
		ok, err = q.storageCapacity(ctx, subjectID, amount)
	case DimensionAIGenerations:
		ok, err = q.aiCapacity(ctx, subjectID, amount)
	case DimensionSpaces:
		ok, err = q.spaceCapacity(ctx, subjectID, amount)
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}
	if err == nil && !ok {
		q.metrics.rejected(dim)
	}
	return ok, err
}

func (q *Quota) storageCapacity(ctx context.Context, spaceID uuid.UUID, bytes int64) (bool, error) {
	s, err := q.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return false, err
	}
	return storageFits(s.UsedStorageBytes, bytes, s.TotalStorageMB), nil
}

func (q *Quota) aiCapacity(ctx context.Context, spaceID uuid.UUID, n int64) (bool, error) {
	s, err := q.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return false, err
	}
	if s.AIGenerationsPerMonth == Unlimited {
		return true, nil
	}
	used, err := q.AIGenerationsUsed(ctx, spaceID)
	if err != nil {
		return false, err
	}
	return used+n <= s.AIGenerationsPerMonth, nil
}

// AIGenerationsUsed counts successful AI generations in the trailing AIWindow.
func (q *Quota) AIGenerationsUsed(ctx context.Context, spaceID uuid.UUID) (int64, error) {
	f := filter.Where("spaceId", spaceID).
		And("aiGenerated", true).
		Greater("createdAt", q.now().Add(-AIWindow).UTC())
	f["status"] = filter.Condition{Exact: string(ContentSucceeded)}
	return q.content.CountContent(ctx, f)
}

func (q *Quota) spaceCapacity(ctx context.Context, userID uuid.UUID, n int64) (bool, error) {
	u, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.MaxSpaces == Unlimited {
		return true, nil
	}
	owned, err := q.spaces.CountSpaces(ctx, filter.Where("createdByUserId", userID))
	if err != nil {
		return false, err
	}
	return owned+n <= u.MaxSpaces, nil
}

// Commit atomically adds bytes to the space's used storage, or returns
// ErrInsufficientCapacity without changing it.
func (q *Quota) Commit(ctx context.Context, spaceID uuid.UUID, bytes int64) (Space, error) {
	if bytes < 0 {
		return Space{}, fmt.Errorf("%w: negative amount %d", ErrInvalidDimension, bytes)
	}
	s, err := q.spaces.CommitStorage(ctx, spaceID, bytes)
	if errors.Is(err, ErrInsufficientCapacity) {
		q.metrics.rejected(DimensionStorage)
	}
	return s, err
}

// Release returns bytes to the space, flooring usage at zero.
func (q *Quota) Release(ctx context.Context, spaceID uuid.UUID, bytes int64) (Space, error) {
	if bytes < 0 {
		return Space{}, fmt.Errorf("%w: negative amount %d", ErrInvalidDimension, bytes)
	}
	return q.spaces.ReleaseStorage(ctx, spaceID, bytes)
}
