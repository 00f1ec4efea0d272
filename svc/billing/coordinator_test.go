package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/pkg/eventbus"
	"github.com/dmitrymomot/photovault/pkg/queue"
	"github.com/dmitrymomot/photovault/svc/billing"
)

const day = 24 * time.Hour

type coordinatorEnv struct {
	store     *billing.MemoryStore
	gateway   *fakeGateway
	publisher *eventbus.MemoryPublisher
	tasks     *queue.MemoryStorage
	registry  *prometheus.Registry
	coord     *billing.Coordinator
}

func newCoordinatorEnv(t *testing.T, now time.Time) *coordinatorEnv {
	t.Helper()
	env := &coordinatorEnv{
		store:     billing.NewMemoryStore(),
		gateway:   newFakeGateway(),
		publisher: eventbus.NewMemoryPublisher(),
		tasks:     queue.NewMemoryStorage(),
		registry:  prometheus.NewRegistry(),
	}
	enq, err := queue.NewEnqueuer(env.tasks)
	require.NoError(t, err)

	env.coord = billing.NewCoordinator(env.store, catalog(t),
		billing.WithGateway(env.gateway),
		billing.WithPublisher(env.publisher),
		billing.WithEnqueuer(enq),
		billing.WithDeduplicator(billing.NewMemoryDeduplicator(time.Hour)),
		billing.WithMetrics(billing.NewMetrics(env.registry)),
		billing.WithPortalReturnURL("https://app.example.com/billing"),
		billing.WithClock(func() time.Time { return now }),
	)
	return env
}

func (e *coordinatorEnv) outcomes(t *testing.T, outcome string) float64 {
	return counterValue(t, e.registry, "photovault_webhook_events_total", "outcome", outcome)
}

func TestCoordinator_SubscriptionCreated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("user subscription", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, nil)

		ev := billing.SubscriptionCreated{
			EventMeta:    meta("evt_1", "customer.subscription.created", t0),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", map[string]string{billing.MetaUserID: user.ID.String()}),
		}
		require.NoError(t, env.coord.Handle(ctx, ev))

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.MaxStorageMB)
		assert.Equal(t, "sub_1", got.GatewaySubscriptionID)
		assert.Equal(t, "cus_1", got.GatewayCustomerID)

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "pro", sub.PlanID)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.True(t, sub.AutoRenew)
		assert.Equal(t, billing.OwnerUser, sub.OwnerKind)
		assert.Equal(t, user.ID, sub.OwnerID)

		require.Equal(t, []string{billing.TopicUserSubscribed}, env.publisher.Topics())
		var payload billing.SubscriptionChanged
		require.NoError(t, env.publisher.Events()[0].Decode(&payload))
		assert.Equal(t, "pro", payload.PlanID)
		assert.Equal(t, "evt_1", payload.GatewayEventID)

		// redelivery is skipped
		require.NoError(t, env.coord.Handle(ctx, ev))
		assert.Len(t, env.publisher.Events(), 1)
		assert.Equal(t, 1.0, env.outcomes(t, billing.OutcomeDuplicate))
	})

	t.Run("space subscription", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, func(u *billing.User) { u.GatewayCustomerID = "cus_1" })
		space := seedSpace(t, env.store, user.ID, func(s *billing.Space) { s.UsedStorageBytes = 4999 * billing.BytesPerMB })

		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{
			EventMeta:    meta("evt_1", "customer.subscription.created", t0),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", map[string]string{billing.MetaSpaceID: space.ID.String()}),
		}))

		got, err := env.store.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.TotalStorageMB)
		assert.Equal(t, []string{billing.TopicSpaceSubscribed}, env.publisher.Topics())

		u, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), u.MaxStorageMB, "space subscription leaves the user alone")

		q := billing.NewQuota(env.store)
		ok, err := q.HasCapacity(ctx, space.ID, 2*billing.BytesPerMB, billing.DimensionStorage)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = q.HasCapacity(ctx, space.ID, billing.BytesPerMB/2, billing.DimensionStorage)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, nil)
		err := env.coord.Handle(ctx, billing.SubscriptionCreated{
			EventMeta:    meta("evt_1", "customer.subscription.created", t0),
			Subscription: snapshot("sub_1", "cus_1", "price_legacy", map[string]string{billing.MetaUserID: user.ID.String()}),
		})
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	})
}

func TestCoordinator_UnknownOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	other := seedUser(t, env.store, func(u *billing.User) { u.GatewayCustomerID = "cus_other" })

	ev := billing.SubscriptionDeleted{
		EventMeta:    meta("evt_1", "customer.subscription.deleted", t0),
		Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", nil),
	}
	err := env.coord.Handle(ctx, ev)
	require.ErrorIs(t, err, billing.ErrNotFound)

	got, err := env.store.GetUser(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other, got, "no entity is mutated")
	assert.Empty(t, env.publisher.Events())
	assert.Equal(t, 1.0, env.outcomes(t, billing.OutcomeFailed))

	// the failed claim is released so a redelivery is retried
	user := seedUser(t, env.store, func(u *billing.User) {
		u.GatewayCustomerID = "cus_1"
		u.GatewaySubscriptionID = "sub_1"
	})
	require.NoError(t, env.coord.Handle(ctx, ev))
	got, err = env.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.SubscriptionExpiresAt)
	assert.Equal(t, []string{billing.TopicSubscriptionEnded}, env.publisher.Topics())
}

func TestCoordinator_StaleEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	user := seedUser(t, env.store, nil)
	md := map[string]string{billing.MetaUserID: user.ID.String()}

	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{
		EventMeta:    meta("evt_2", "customer.subscription.created", t0.Add(time.Hour)),
		Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
	}))
	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionPaused{
		EventMeta:    meta("evt_1", "customer.subscription.paused", t0),
		Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
	}))

	got, err := env.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PausedAt)
	assert.Equal(t, 1.0, env.outcomes(t, billing.OutcomeStale))
}

func TestCoordinator_SubscriptionUpdated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T, now time.Time) (*coordinatorEnv, billing.User, map[string]string) {
		env := newCoordinatorEnv(t, now)
		user := seedUser(t, env.store, nil)
		md := map[string]string{billing.MetaUserID: user.ID.String()}
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{
			EventMeta:    meta("evt_created", "customer.subscription.created", t0),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
		}))
		return env, user, md
	}

	t.Run("cancel at period end", func(t *testing.T) {
		t.Parallel()
		env, user, md := setup(t, t0.Add(day))
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", md)
		snap.CancelAtPeriodEnd = true

		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionUpdated{
			EventMeta:    meta("evt_upd", "customer.subscription.updated", t0.Add(day)),
			Subscription: snap,
		}))

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.False(t, sub.AutoRenew)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.MaxStorageMB)
		assert.Nil(t, got.SubscriptionExpiresAt)
	})

	t.Run("plan change", func(t *testing.T) {
		t.Parallel()
		env, user, md := setup(t, t0.Add(day))
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionUpdated{
			EventMeta:    meta("evt_upd", "customer.subscription.updated", t0.Add(day)),
			Subscription: snapshot("sub_1", "cus_1", "price_studio_monthly", md),
		}))

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), got.MaxStorageMB)
		assert.Equal(t, "studio", got.GatewayPlanID)
	})

	t.Run("plan change in the same second as deletion", func(t *testing.T) {
		t.Parallel()
		deletedAt := t0.Add(10 * day)
		env, user, md := setup(t, deletedAt)
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionDeleted{
			EventMeta:    meta("evt_del", "customer.subscription.deleted", deletedAt),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
		}))

		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionUpdated{
			EventMeta:    meta("evt_upd", "customer.subscription.updated", deletedAt),
			Subscription: snapshot("sub_1", "cus_1", "price_studio_monthly", md),
			PlanChanged:  true,
		}))

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SubscriptionExpiresAt)
		assert.Equal(t, "pro", got.GatewayPlanID)
		assert.Equal(t, int64(5000), got.MaxStorageMB)
		assert.Equal(t, 1.0, env.outcomes(t, billing.OutcomeStale))

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, sub.Status)
	})

	t.Run("attribute change in the same second as deletion", func(t *testing.T) {
		t.Parallel()
		deletedAt := t0.Add(10 * day)
		env, _, md := setup(t, deletedAt)
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionDeleted{
			EventMeta:    meta("evt_del", "customer.subscription.deleted", deletedAt),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
		}))

		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionUpdated{
			EventMeta:    meta("evt_upd", "customer.subscription.updated", deletedAt),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
		}))

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, sub.Status)
		assert.False(t, sub.AutoRenew)
	})

	t.Run("canceled and elapsed", func(t *testing.T) {
		t.Parallel()
		env, user, md := setup(t, t0.Add(31*day))
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", md)
		snap.Status = "canceled"

		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionUpdated{
			EventMeta:    meta("evt_upd", "customer.subscription.updated", t0.Add(31*day)),
			Subscription: snap,
		}))

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.SubscriptionExpiresAt)
		assert.Contains(t, env.publisher.Topics(), billing.TopicSubscriptionEnded)
	})
}

func TestCoordinator_PauseResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	user := seedUser(t, env.store, nil)
	space := seedSpace(t, env.store, user.ID, nil)
	snap := snapshot("sub_1", "cus_1", "price_pro_monthly", map[string]string{billing.MetaSpaceID: space.ID.String()})

	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{EventMeta: meta("evt_1", "created", t0), Subscription: snap}))
	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionPaused{EventMeta: meta("evt_2", "paused", t0.Add(time.Hour)), Subscription: snap}))

	got, err := env.store.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.PausedAt)
	sub, err := env.store.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaused, sub.Status)

	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionResumed{EventMeta: meta("evt_3", "resumed", t0.Add(2*time.Hour)), Subscription: snap}))
	got, err = env.store.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PausedAt)

	assert.Equal(t, []string{
		billing.TopicSpaceSubscribed,
		billing.TopicSubscriptionPaused,
		billing.TopicSubscriptionResumed,
	}, env.publisher.Topics())
}

func TestCoordinator_InvoicePaymentFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	user := seedUser(t, env.store, func(u *billing.User) { u.GatewayCustomerID = "cus_1" })

	require.NoError(t, env.coord.Handle(ctx, billing.InvoicePaymentFailed{
		EventMeta:      meta("evt_1", "invoice.payment_failed", t0),
		InvoiceID:      "in_1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		AmountDue:      999,
		Currency:       "usd",
		AttemptCount:   2,
	}))

	task, err := env.tasks.Claim(ctx, []string{queue.DefaultQueue}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskName[billing.DunningNotice](), task.Name)

	var notice billing.DunningNotice
	require.NoError(t, json.Unmarshal(task.Payload, &notice))
	assert.Equal(t, user.ID, notice.UserID)
	assert.Equal(t, user.Email, notice.Email)
	assert.Equal(t, int64(999), notice.AmountDue)
	assert.Equal(t, "https://billing.example.com/p/cus_1", notice.PortalURL)

	require.Len(t, env.gateway.portals, 1)
	assert.Equal(t, []string{"sub_1"}, env.gateway.portals[0].SubscriptionIDs)
	assert.Equal(t, "https://app.example.com/billing", env.gateway.portals[0].ReturnURL)

	got, err := env.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got, "payment failure does not touch quotas")

	t.Run("portal failure is surfaced", func(t *testing.T) {
		env := newCoordinatorEnv(t, t0)
		seedUser(t, env.store, func(u *billing.User) { u.GatewayCustomerID = "cus_1" })
		env.gateway.failWith = &billing.GatewayError{Op: "portal", StatusCode: 503}

		err := env.coord.Handle(ctx, billing.InvoicePaymentFailed{
			EventMeta:  meta("evt_1", "invoice.payment_failed", t0),
			CustomerID: "cus_1",
		})
		assert.ErrorIs(t, err, billing.ErrGateway)
		assert.Equal(t, 0, env.tasks.Pending())
	})
}

func TestCoordinator_OneOffPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	user := seedUser(t, env.store, nil)

	ev := billing.PaymentIntentSucceeded{
		EventMeta: meta("evt_1", "payment_intent.succeeded", t0),
		PaymentID: "pi_1",
		Amount:    4900,
		Currency:  "usd",
		Metadata: map[string]string{
			billing.MetaUserID:    user.ID.String(),
			billing.MetaProductID: "prod_photovault_event_pass",
		},
	}
	require.NoError(t, env.coord.Handle(ctx, ev))

	got, err := env.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), got.MaxStorageMB)
	require.NotNil(t, got.PlanExpiresAt)
	assert.True(t, got.PlanExpiresAt.Equal(t0.Add(90*day)))

	// same payment under a new event id
	ev.ID = "evt_2"
	require.NoError(t, env.coord.Handle(ctx, ev))
	assert.Equal(t, []string{billing.TopicUserSubscribed}, env.publisher.Topics())

	require.NoError(t, env.coord.Handle(ctx, billing.PaymentIntentSucceeded{
		EventMeta: meta("evt_3", "payment_intent.succeeded", t0),
		PaymentID: "pi_invoice",
	}))
	assert.Equal(t, 2.0, env.outcomes(t, billing.OutcomeIgnored), "replayed payment and subscription payment")

	err = env.coord.Handle(ctx, billing.PaymentIntentSucceeded{
		EventMeta: meta("evt_4", "payment_intent.succeeded", t0),
		PaymentID: "pi_2",
		Metadata: map[string]string{
			billing.MetaUserID:    user.ID.String(),
			billing.MetaProductID: "prod_photovault_pro",
		},
	})
	assert.ErrorIs(t, err, billing.ErrMalformed)
}

func TestCoordinator_IgnoresUnrecognized(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(t, t0)
	require.NoError(t, env.coord.Handle(context.Background(), billing.Unrecognized{
		EventMeta: meta("evt_1", "charge.dispute.created", t0),
	}))
	assert.Equal(t, 1.0, env.outcomes(t, billing.OutcomeIgnored))
}

func TestCoordinator_PublishFailureSuppressed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newCoordinatorEnv(t, t0)
	env.publisher.FailWith(errors.New("broker down"))
	user := seedUser(t, env.store, nil)

	require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{
		EventMeta:    meta("evt_1", "customer.subscription.created", t0),
		Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", map[string]string{billing.MetaUserID: user.ID.String()}),
	}))
	got, err := env.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.GatewayPlanID)
}

func TestCoordinator_CancelSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*coordinatorEnv, billing.User) {
		env := newCoordinatorEnv(t, t0.Add(10*day))
		user := seedUser(t, env.store, nil)
		md := map[string]string{billing.MetaUserID: user.ID.String()}
		snap := snapshot("sub_1", "cus_1", "price_pro_monthly", md)
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionCreated{
			EventMeta:    meta("evt_1", "customer.subscription.created", t0),
			Subscription: snap,
		}))
		env.gateway.subs["sub_1"] = billing.GatewaySubscription{
			ID:                 "sub_1",
			CustomerID:         "cus_1",
			PriceID:            "price_pro_monthly",
			Status:             "active",
			CurrentPeriodStart: snap.CurrentPeriodStart,
			CurrentPeriodEnd:   snap.CurrentPeriodEnd,
			LatestInvoiceID:    "in_1",
			Metadata:           md,
		}
		env.gateway.invoices["in_1"] = billing.Invoice{ID: "in_1", Total: 1000, Currency: "usd", Paid: true, PaymentID: "pi_1"}
		return env, user
	}

	t.Run("immediately with prorated refund", func(t *testing.T) {
		t.Parallel()
		env, user := setup(t)

		res, err := env.coord.CancelSubscription(ctx, "sub_1", true)
		require.NoError(t, err)
		assert.Equal(t, int64(666), res.Quote.Amount)
		require.NotNil(t, res.Refund)
		assert.Equal(t, int64(666), res.Refund.Amount)

		require.Len(t, env.gateway.refunds, 1)
		assert.Equal(t, "pi_1", env.gateway.refunds[0].PaymentID)
		assert.NotEmpty(t, env.gateway.refunds[0].IdempotencyKey)
		assert.Equal(t, []string{"sub_1"}, env.gateway.canceled)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SubscriptionExpiresAt)

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, sub.Status)
		assert.Equal(t, 666.0, counterValue(t, env.registry, "photovault_refunded_minor_units_total", "currency", "usd"))
	})

	t.Run("at period end", func(t *testing.T) {
		t.Parallel()
		env, user := setup(t)

		res, err := env.coord.CancelSubscription(ctx, "sub_1", false)
		require.NoError(t, err)
		assert.True(t, res.Subscription.CancelAtPeriodEnd)
		assert.Nil(t, res.Refund)
		assert.Empty(t, env.gateway.refunds)

		sub, err := env.store.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.False(t, sub.AutoRenew)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SubscriptionExpiresAt)
	})

	t.Run("local clock does not advance the sync stamp", func(t *testing.T) {
		t.Parallel()
		env, user := setup(t)

		_, err := env.coord.CancelSubscription(ctx, "sub_1", true)
		require.NoError(t, err)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SubscriptionExpiresAt)
		assert.True(t, got.SubscriptionExpiresAt.Equal(t0.Add(10*day)))
		require.NotNil(t, got.GatewaySyncedAt)
		assert.True(t, got.GatewaySyncedAt.Equal(t0))

		// a gateway event stamped before the local cancel time is still ordered
		md := map[string]string{billing.MetaUserID: user.ID.String()}
		require.NoError(t, env.coord.Handle(ctx, billing.SubscriptionPaused{
			EventMeta:    meta("evt_pause", "customer.subscription.paused", t0.Add(5*day)),
			Subscription: snapshot("sub_1", "cus_1", "price_pro_monthly", md),
		}))
		got, err = env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.PausedAt)
		assert.Zero(t, env.outcomes(t, billing.OutcomeStale))
	})

	t.Run("gateway cancel time stamps the expiry", func(t *testing.T) {
		t.Parallel()
		env, user := setup(t)
		canceledAt := t0.Add(9 * day)
		env.gateway.cancelAt = canceledAt

		_, err := env.coord.CancelSubscription(ctx, "sub_1", true)
		require.NoError(t, err)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SubscriptionExpiresAt)
		assert.True(t, got.SubscriptionExpiresAt.Equal(canceledAt))
		require.NotNil(t, got.GatewaySyncedAt)
		assert.True(t, got.GatewaySyncedAt.Equal(canceledAt))
	})

	t.Run("gateway failure leaves local state", func(t *testing.T) {
		t.Parallel()
		env, user := setup(t)
		env.gateway.failWith = &billing.GatewayError{Op: "retrieve_subscription", Code: "circuit_open"}

		_, err := env.coord.CancelSubscription(ctx, "sub_1", true)
		assert.ErrorIs(t, err, billing.ErrGateway)

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SubscriptionExpiresAt)
		assert.Empty(t, env.gateway.canceled)
	})
}

func TestCoordinator_CreateCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first checkout creates the customer", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, nil)
		space := seedSpace(t, env.store, user.ID, nil)

		session, err := env.coord.CreateCheckout(ctx, billing.CheckoutRequest{
			UserID:     user.ID,
			SpaceID:    space.ID,
			PlanID:     "pro",
			PriceID:    "price_pro_yearly",
			SuccessURL: "https://app.example.com/ok",
			CancelURL:  "https://app.example.com/cancel",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, session.URL)

		require.Len(t, env.gateway.checkouts, 1)
		params := env.gateway.checkouts[0]
		assert.Equal(t, "cus_new", params.CustomerID)
		assert.Equal(t, "price_pro_yearly", params.PriceID)
		assert.Equal(t, billing.CheckoutSubscription, params.Mode)
		assert.Equal(t, space.ID.String(), params.Metadata[billing.MetaSpaceID])

		got, err := env.store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_new", got.GatewayCustomerID)

		_, err = env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: user.ID, PlanID: "studio"})
		require.NoError(t, err)
		assert.Len(t, env.gateway.customers, 1, "customer is reused")
	})

	t.Run("one-off plan", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, func(u *billing.User) { u.GatewayCustomerID = "cus_1" })

		_, err := env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: user.ID, PlanID: "event_pass"})
		require.NoError(t, err)
		params := env.gateway.checkouts[0]
		assert.Equal(t, billing.CheckoutPayment, params.Mode)
		assert.Equal(t, "prod_photovault_event_pass", params.Metadata[billing.MetaProductID])
		assert.Empty(t, env.gateway.customers)
	})

	t.Run("invalid requests", func(t *testing.T) {
		t.Parallel()
		env := newCoordinatorEnv(t, t0)
		user := seedUser(t, env.store, nil)
		stranger := seedSpace(t, env.store, uuid.New(), nil)

		_, err := env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: user.ID, PlanID: "free"})
		assert.ErrorIs(t, err, billing.ErrInvalidCheckout)
		_, err = env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: user.ID, PlanID: "pro", PriceID: "price_studio_monthly"})
		assert.ErrorIs(t, err, billing.ErrInvalidCheckout)
		_, err = env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: user.ID, PlanID: "pro", SpaceID: stranger.ID})
		assert.ErrorIs(t, err, billing.ErrInvalidCheckout)
		_, err = env.coord.CreateCheckout(ctx, billing.CheckoutRequest{UserID: uuid.New(), PlanID: "pro"})
		assert.ErrorIs(t, err, billing.ErrNotFound)
		assert.Empty(t, env.gateway.checkouts)
	})
}

func TestCoordinator_PortalLink(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(t, t0)

	session, err := env.coord.PortalLink(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.example.com/p/cus_1", session.URL)

	_, err = env.coord.PortalLink(context.Background(), "")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	bare := billing.NewCoordinator(billing.NewMemoryStore(), catalog(t))
	_, err = bare.PortalLink(context.Background(), "cus_1")
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
}
