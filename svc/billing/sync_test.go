package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/svc/billing"
)

func TestSynchronizer_ApplyPlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := catalog(t)
	pro, err := cat.Plan("pro")
	require.NoError(t, err)

	t.Run("space ceilings and idempotence", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		owner := seedUser(t, st, nil)
		space := seedSpace(t, st, owner.ID, func(s *billing.Space) {
			s.PausedAt = &t0
			s.UsedStorageBytes = 4999 * billing.BytesPerMB
		})
		sync := billing.NewSynchronizer(st, st, cat, nil)
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", nil)
		target := billing.Owner{Kind: billing.OwnerSpace, ID: space.ID}

		changed, err := sync.ApplyPlan(ctx, target, snap, pro, t0)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.TotalStorageMB)
		assert.Equal(t, int64(10), got.UsersAllowed)
		assert.Equal(t, int64(100), got.AIGenerationsPerMonth)
		assert.Equal(t, "sub_1", got.GatewaySubscriptionID)
		assert.Equal(t, "pro", got.GatewayPlanID)
		assert.Nil(t, got.PausedAt)
		assert.Equal(t, 4999*billing.BytesPerMB, got.UsedStorageBytes)

		changed, err = sync.ApplyPlan(ctx, target, snap, pro, t0)
		require.NoError(t, err)
		assert.False(t, changed)

		again, err := st.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version, "replay must not write")
	})

	t.Run("user ceilings", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)

		_, err := sync.ApplyPlan(ctx, billing.Owner{Kind: billing.OwnerUser, ID: user.ID},
			snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		require.NoError(t, err)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.MaxStorageMB)
		assert.Equal(t, int64(20), got.MaxSpaces)
		assert.Equal(t, "cus_1", got.GatewayCustomerID)
		require.NotNil(t, got.GatewaySyncedAt)
		assert.True(t, got.GatewaySyncedAt.Equal(t0))
	})

	t.Run("unknown owner", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		sync := billing.NewSynchronizer(st, st, cat, nil)
		_, err := sync.ApplyPlan(ctx, billing.Owner{Kind: billing.OwnerUser, ID: uuid.New()},
			snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		assert.ErrorIs(t, err, billing.ErrNotFound)
	})

	t.Run("older event is stale", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", nil)

		_, err := sync.ApplyPlan(ctx, owner, snap, pro, t0.Add(time.Hour))
		require.NoError(t, err)
		_, err = sync.Expire(ctx, owner, "sub_1", t0)
		assert.ErrorIs(t, err, billing.ErrStaleEvent)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SubscriptionExpiresAt)
	})

	t.Run("expired subscription is not revived by a late update", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", nil)
		end := snap.CurrentPeriodEnd

		_, err := sync.ApplyPlan(ctx, owner, snap, pro, t0)
		require.NoError(t, err)
		changed, err := sync.Expire(ctx, owner, "sub_1", end)
		require.NoError(t, err)
		assert.True(t, changed)

		// delivered after the deletion but stamped later by a retry
		_, err = sync.ApplyPlan(ctx, owner, snap, pro, end.Add(time.Minute))
		assert.ErrorIs(t, err, billing.ErrStaleEvent)

		renewed := snap
		renewed.CurrentPeriodStart = end
		renewed.CurrentPeriodEnd = end.Add(30 * 24 * time.Hour)
		changed, err = sync.ApplyPlan(ctx, owner, renewed, pro, end.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SubscriptionExpiresAt)
	})

	t.Run("update in the same second as the expiry is stale", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", nil)
		canceledAt := t0.Add(10 * 24 * time.Hour)
		require.True(t, snap.CurrentPeriodEnd.After(canceledAt))

		_, err := sync.ApplyPlan(ctx, owner, snap, pro, t0)
		require.NoError(t, err)
		_, err = sync.Expire(ctx, owner, "sub_1", canceledAt)
		require.NoError(t, err)

		_, err = sync.ApplyPlan(ctx, owner, snap, pro, canceledAt)
		assert.ErrorIs(t, err, billing.ErrStaleEvent)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SubscriptionExpiresAt)
		assert.True(t, got.SubscriptionExpiresAt.Equal(canceledAt))
	})
}

func TestSynchronizer_ExpireAndPause(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := catalog(t)
	pro, err := cat.Plan("pro")
	require.NoError(t, err)

	st := billing.NewMemoryStore()
	user := seedUser(t, st, nil)
	space := seedSpace(t, st, user.ID, nil)
	sync := billing.NewSynchronizer(st, st, cat, nil)
	owner := billing.Owner{Kind: billing.OwnerSpace, ID: space.ID}

	_, err = sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
	require.NoError(t, err)

	changed, err := sync.Pause(ctx, owner, "sub_1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = sync.Pause(ctx, owner, "sub_1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = sync.Pause(ctx, owner, "sub_other", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	changed, err = sync.Expire(ctx, owner, "sub_1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := st.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeactivatedAt)
	assert.Equal(t, int64(5000), got.TotalStorageMB, "ceilings stay until the sweep")

	changed, err = sync.Resume(ctx, owner, "sub_1", t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = st.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PausedAt)
	assert.Nil(t, got.DeactivatedAt)
}

func TestSynchronizer_GrantOneOff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := catalog(t)
	pass, err := cat.Plan("event_pass")
	require.NoError(t, err)
	studio, err := cat.Plan("studio")
	require.NoError(t, err)

	t.Run("free user", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)

		changed, err := sync.GrantOneOff(ctx, pass, user.ID, "pi_1", t0)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = sync.GrantOneOff(ctx, pass, user.ID, "pi_1", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(20000), got.MaxStorageMB)
		assert.Equal(t, "event_pass", got.GatewayPlanID)
		require.NotNil(t, got.PlanExpiresAt)
		assert.True(t, got.PlanExpiresAt.Equal(t0.Add(billing.OneOffGrantPeriod)))
	})

	t.Run("subscribed user keeps higher ceilings", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}

		_, err := sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_studio_monthly", nil), studio, t0)
		require.NoError(t, err)
		_, err = sync.GrantOneOff(ctx, pass, user.ID, "pi_1", t0)
		require.NoError(t, err)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), got.MaxStorageMB)
		assert.Equal(t, billing.Unlimited, got.MaxSpaces)
		assert.Equal(t, "studio", got.GatewayPlanID)
	})

	t.Run("missing payment id", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		_, err := billing.NewSynchronizer(st, st, cat, nil).GrantOneOff(ctx, pass, user.ID, "", t0)
		assert.ErrorIs(t, err, billing.ErrMalformed)
	})
}

func TestSynchronizer_Revert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := catalog(t)
	pro, err := cat.Plan("pro")
	require.NoError(t, err)
	pass, err := cat.Plan("event_pass")
	require.NoError(t, err)

	t.Run("lapsed user falls back to free", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}

		_, err := sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		require.NoError(t, err)
		_, err = sync.Expire(ctx, owner, "sub_1", t0.Add(time.Hour))
		require.NoError(t, err)

		changed, err := sync.Revert(ctx, owner, t0)
		require.NoError(t, err)
		assert.False(t, changed, "expiry in the future")

		changed, err = sync.Revert(ctx, owner, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.MaxStorageMB)
		assert.Empty(t, got.GatewaySubscriptionID)
		assert.Empty(t, got.GatewayPlanID)
		assert.Equal(t, "cus_1", got.GatewayCustomerID)
		assert.NotNil(t, got.DowngradedAt)

		changed, err = sync.Revert(ctx, owner, t0.Add(3*time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("active grant survives subscription lapse", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}

		_, err := sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		require.NoError(t, err)
		_, err = sync.GrantOneOff(ctx, pass, user.ID, "pi_1", t0)
		require.NoError(t, err)
		_, err = sync.Expire(ctx, owner, "sub_1", t0.Add(time.Hour))
		require.NoError(t, err)

		changed, err := sync.Revert(ctx, owner, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(20000), got.MaxStorageMB)
		assert.Nil(t, got.DowngradedAt)

		_, err = sync.Revert(ctx, owner, t0.Add(billing.OneOffGrantPeriod+time.Hour))
		require.NoError(t, err)
		got, err = st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.MaxStorageMB)
	})

	t.Run("lapsed grant restores subscription plan ceilings", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerUser, ID: user.ID}

		_, err := sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		require.NoError(t, err)
		_, err = sync.GrantOneOff(ctx, pass, user.ID, "pi_1", t0)
		require.NoError(t, err)

		got, err := st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(20000), got.MaxStorageMB, "grant raises above the plan")
		assert.Equal(t, "pro", got.GatewayPlanID)

		changed, err := sync.Revert(ctx, owner, t0.Add(billing.OneOffGrantPeriod+time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)

		got, err = st.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, pro.StorageMB, got.MaxStorageMB)
		assert.Equal(t, pro.MaxSpaces, got.MaxSpaces)
		assert.Equal(t, "sub_1", got.GatewaySubscriptionID)
		assert.Nil(t, got.PlanExpiresAt)
		assert.Nil(t, got.DowngradedAt)
	})

	t.Run("deactivated space", func(t *testing.T) {
		t.Parallel()
		st := billing.NewMemoryStore()
		user := seedUser(t, st, nil)
		space := seedSpace(t, st, user.ID, nil)
		sync := billing.NewSynchronizer(st, st, cat, nil)
		owner := billing.Owner{Kind: billing.OwnerSpace, ID: space.ID}

		_, err := sync.ApplyPlan(ctx, owner, snapshot("sub_1", "cus_1", "price_pro_monthly", nil), pro, t0)
		require.NoError(t, err)
		_, err = sync.Expire(ctx, owner, "sub_1", t0.Add(time.Hour))
		require.NoError(t, err)

		changed, err := sync.Revert(ctx, owner, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.TotalStorageMB)
		assert.Empty(t, got.GatewaySubscriptionID)
		assert.NotNil(t, got.DeactivatedAt)

		changed, err = sync.Revert(ctx, owner, t0.Add(3*time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)
	})
}
