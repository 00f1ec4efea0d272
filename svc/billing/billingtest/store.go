// Package billingtest holds the conformance suite every billing.Store
// backend runs in its tests.
package billingtest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/pkg/filter"
	"github.com/dmitrymomot/photovault/svc/billing"
)

// RunStoreSuite exercises the billing.Store contract. newStore must return
// an empty store per call.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) billing.Store) {
	t.Helper()

	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("swap", func(t *testing.T) { testSwap(t, newStore(t)) })
	t.Run("find", func(t *testing.T) { testFind(t, newStore(t)) })
	t.Run("storage", func(t *testing.T) { testStorage(t, newStore(t)) })
	t.Run("concurrent commits", func(t *testing.T) { testConcurrentCommits(t, newStore(t)) })
	t.Run("content", func(t *testing.T) { testContent(t, newStore(t)) })
	t.Run("subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
}

func testUsers(t *testing.T, st billing.Store) {
	ctx := context.Background()

	u, err := st.SaveUser(ctx, billing.User{Email: "a@example.com", MaxStorageMB: 500, MaxSpaces: 1})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, int64(1), u.Version)

	got, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, int64(500), got.MaxStorageMB)
	assert.Nil(t, got.SubscriptionExpiresAt)

	_, err = st.SaveUser(ctx, billing.User{ID: u.ID, Email: "b@example.com"})
	assert.ErrorIs(t, err, billing.ErrAlreadyExists)

	_, err = st.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func testSwap(t *testing.T, st billing.Store) {
	ctx := context.Background()

	u, err := st.SaveUser(ctx, billing.User{Email: "swap@example.com"})
	require.NoError(t, err)

	exp := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	next := u
	next.GatewaySubscriptionID = "sub_1"
	next.SubscriptionExpiresAt = &exp
	saved, err := st.SwapUser(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, u.Version+1, saved.Version)

	// stale version loses
	_, err = st.SwapUser(ctx, next)
	assert.ErrorIs(t, err, billing.ErrConcurrentUpdate)

	_, err = st.SwapUser(ctx, billing.User{ID: uuid.New(), Version: 1})
	assert.ErrorIs(t, err, billing.ErrNotFound)

	got, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.GatewaySubscriptionID)
	require.NotNil(t, got.SubscriptionExpiresAt)
	assert.True(t, got.SubscriptionExpiresAt.Equal(exp))

	// UpdateUser retries through concurrent writers
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := billing.UpdateUser(ctx, st, u.ID, func(u *billing.User) (bool, error) {
				u.MaxSpaces++
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	got, err = st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.MaxSpaces)
}

func testFind(t *testing.T, st billing.Store) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	var lapsed []uuid.UUID
	for i := range 5 {
		u := billing.User{Email: uuid.NewString() + "@example.com"}
		if i%2 == 0 {
			u.SubscriptionExpiresAt = &past
			u.GatewayCustomerID = "cus_lapsed"
		} else {
			u.SubscriptionExpiresAt = &future
		}
		saved, err := st.SaveUser(ctx, u)
		require.NoError(t, err)
		if i%2 == 0 {
			lapsed = append(lapsed, saved.ID)
		}
	}
	_, err := st.SaveUser(ctx, billing.User{Email: "nosub@example.com"})
	require.NoError(t, err)

	q := filter.Query{Filter: filter.Filter{}.Less("subscriptionExpiresAt", now), PageSize: 2}
	page, err := st.FindUsers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNext())

	seen := make(map[uuid.UUID]bool)
	for _, u := range page.Items {
		seen[u.ID] = true
	}
	q.Page = 2
	page, err = st.FindUsers(ctx, q)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	seen[page.Items[0].ID] = true
	for _, id := range lapsed {
		assert.True(t, seen[id], "lapsed user %s missing", id)
	}

	n, err := st.CountUsers(ctx, filter.Where("gatewayCustomerId", "cus_lapsed"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = st.CountUsers(ctx, filter.Where("email", "NOSUB"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "contains match is case-insensitive")

	_, err = st.FindUsers(ctx, filter.Query{Filter: filter.Where("password", "x")})
	assert.ErrorIs(t, err, filter.ErrUnknownField)
}

func testStorage(t *testing.T, st billing.Store) {
	ctx := context.Background()
	owner := uuid.New()

	sp, err := st.SaveSpace(ctx, billing.Space{
		Name:             "wedding",
		OwnerID:          owner,
		TotalStorageMB:   5000,
		UsedStorageBytes: 4999 * billing.BytesPerMB,
	})
	require.NoError(t, err)

	_, err = st.CommitStorage(ctx, sp.ID, 2*billing.BytesPerMB)
	assert.ErrorIs(t, err, billing.ErrInsufficientCapacity)

	// the ceiling itself is exclusive
	_, err = st.CommitStorage(ctx, sp.ID, billing.BytesPerMB)
	assert.ErrorIs(t, err, billing.ErrInsufficientCapacity)

	got, err := st.CommitStorage(ctx, sp.ID, billing.BytesPerMB/2)
	require.NoError(t, err)
	assert.Equal(t, 4999*billing.BytesPerMB+billing.BytesPerMB/2, got.UsedStorageBytes)
	assert.Greater(t, got.Version, sp.Version)

	got, err = st.ReleaseStorage(ctx, sp.ID, 10000*billing.BytesPerMB)
	require.NoError(t, err)
	assert.Zero(t, got.UsedStorageBytes)

	unlimited, err := st.SaveSpace(ctx, billing.Space{Name: "archive", OwnerID: owner, TotalStorageMB: billing.Unlimited})
	require.NoError(t, err)
	_, err = st.CommitStorage(ctx, unlimited.ID, 1<<40)
	assert.NoError(t, err)

	_, err = st.CommitStorage(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	n, err := st.CountSpaces(ctx, filter.Where("createdByUserId", owner))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testConcurrentCommits(t *testing.T, st billing.Store) {
	ctx := context.Background()
	sp, err := st.SaveSpace(ctx, billing.Space{Name: "race", OwnerID: uuid.New(), TotalStorageMB: 5})
	require.NoError(t, err)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.CommitStorage(ctx, sp.ID, 3*billing.BytesPerMB); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())

	got, err := st.GetSpace(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3*billing.BytesPerMB, got.UsedStorageBytes)
}

func testContent(t *testing.T, st billing.Store) {
	ctx := context.Background()
	space, user := uuid.New(), uuid.New()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{start.Add(-time.Hour), start.Add(time.Hour), start.Add(48 * time.Hour)} {
		_, err := st.SaveContent(ctx, billing.ContentItem{
			SpaceID:         space,
			CreatedByUserID: user,
			Kind:            billing.ContentPhoto,
			ObjectKey:       uuid.NewString(),
			SizeBytes:       int64(i + 1),
			AIGenerated:     true,
			Status:          billing.ContentSucceeded,
			CreatedAt:       at,
		})
		require.NoError(t, err)
	}

	f := filter.Where("spaceId", space).
		And("aiGenerated", true).
		Greater("createdAt", start)
	n, err := st.CountContent(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := st.FindContent(ctx, filter.Query{Filter: f, Sort: filter.Sort{Field: "createdAt", Desc: true}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.Items[0].SizeBytes)
	assert.Equal(t, user, page.Items[0].CreatedByUserID)
}

func testSubscriptions(t *testing.T, st billing.Store) {
	ctx := context.Background()
	sub := billing.Subscription{
		ID:         "sub_" + uuid.NewString(),
		CustomerID: "cus_1",
		PlanID:     "pro",
		Status:     billing.StatusActive,
		StartDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		AutoRenew:  true,
		OwnerKind:  billing.OwnerUser,
		OwnerID:    uuid.New(),
	}
	require.NoError(t, st.SaveSubscription(ctx, sub))

	sub.Status = billing.StatusCanceled
	sub.AutoRenew = false
	require.NoError(t, st.SaveSubscription(ctx, sub))

	got, err := st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, got.Status)
	assert.False(t, got.AutoRenew)
	assert.Equal(t, sub.OwnerID, got.OwnerID)
	assert.True(t, got.EndDate.Equal(sub.EndDate))

	_, err = st.GetSubscription(ctx, "sub_missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}
