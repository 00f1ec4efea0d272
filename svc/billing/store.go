package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/filter"
)

// UserStore persists users. SwapUser is a compare-and-swap on Version: it
// replaces the stored user only if the stored version equals u.Version, then
// increments the version. It returns ErrConcurrentUpdate on a version
// mismatch and ErrNotFound when the user does not exist.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	FindUsers(ctx context.Context, q filter.Query) (filter.Page[User], error)
	CountUsers(ctx context.Context, f filter.Filter) (int64, error)
	SaveUser(ctx context.Context, u User) (User, error)
	SwapUser(ctx context.Context, u User) (User, error)
}

// SpaceStore persists spaces. CommitStorage is a single conditional
// increment: it succeeds only while used+bytes stays strictly below the
// ceiling, otherwise it returns ErrInsufficientCapacity. Both storage
// operations bump Version so concurrent swaps re-read the counter.
type SpaceStore interface {
	GetSpace(ctx context.Context, id uuid.UUID) (Space, error)
	FindSpaces(ctx context.Context, q filter.Query) (filter.Page[Space], error)
	CountSpaces(ctx context.Context, f filter.Filter) (int64, error)
	SaveSpace(ctx context.Context, s Space) (Space, error)
	SwapSpace(ctx context.Context, s Space) (Space, error)
	CommitStorage(ctx context.Context, id uuid.UUID, bytes int64) (Space, error)
	ReleaseStorage(ctx context.Context, id uuid.UUID, bytes int64) (Space, error)
}

type ContentStore interface {
	SaveContent(ctx context.Context, c ContentItem) (ContentItem, error)
	FindContent(ctx context.Context, q filter.Query) (filter.Page[ContentItem], error)
	CountContent(ctx context.Context, f filter.Filter) (int64, error)
}

// SubscriptionStore persists the subscription read model. SaveSubscription upserts by id.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	SaveSubscription(ctx context.Context, s Subscription) error
}

// Store is the full persistence contract implemented by every backend.
type Store interface {
	UserStore
	SpaceStore
	ContentStore
	SubscriptionStore
}

const maxSwapAttempts = 8

// UpdateUser applies fn to the latest stored user and writes the result with
// SwapUser, re-reading and retrying on concurrent updates. fn reports whether
// it changed anything; unchanged users are not written. fn must replace
// pointer fields rather than write through them.
func UpdateUser(ctx context.Context, s UserStore, id uuid.UUID, fn func(*User) (bool, error)) (User, error) {
	return update(ctx,
		func(ctx context.Context) (User, error) { return s.GetUser(ctx, id) },
		s.SwapUser, fn)
}

// UpdateSpace is UpdateUser for spaces.
func UpdateSpace(ctx context.Context, s SpaceStore, id uuid.UUID, fn func(*Space) (bool, error)) (Space, error) {
	return update(ctx,
		func(ctx context.Context) (Space, error) { return s.GetSpace(ctx, id) },
		s.SwapSpace, fn)
}

func update[T any](
	ctx context.Context,
	get func(context.Context) (T, error),
	swap func(context.Context, T) (T, error),
	fn func(*T) (bool, error),
) (T, error) {
	var err error
	for range maxSwapAttempts {
		if err = ctx.Err(); err != nil {
			break
		}
		var cur T
		cur, err = get(ctx)
		if err != nil {
			return cur, err
		}
		next := cur
		changed, fnErr := fn(&next)
		if fnErr != nil || !changed {
			return cur, fnErr
		}
		var saved T
		saved, err = swap(ctx, next)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return saved, err
		}
	}
	var zero T
	return zero, err
}
