package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/eventbus"
	"github.com/dmitrymomot/photovault/pkg/filter"
	"github.com/dmitrymomot/photovault/pkg/logger"
	"github.com/dmitrymomot/photovault/pkg/queue"
)

// Enqueuer schedules background tasks. *queue.Enqueuer satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// Coordinator translates gateway events into entity transitions and
// drives the outbound billing operations.
type Coordinator struct {
	store     Store
	catalog   *Catalog
	sync      *Synchronizer
	decoders  map[string]EventDecoder
	fallback  string
	gateway   Gateway
	checkout  CheckoutCreator
	portal    PortalLinker
	refunds   *RefundCalculator
	publisher eventbus.Publisher
	enqueuer  Enqueuer
	dedup     Deduplicator
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
	returnURL string
}

type CoordinatorOption func(*Coordinator)

// WithDecoders registers webhook decoders by provider name. The first one is
// used by HandleWebhook.
func WithDecoders(decoders ...EventDecoder) CoordinatorOption {
	return func(c *Coordinator) {
		for _, d := range decoders {
			if d == nil {
				continue
			}
			if c.fallback == "" {
				c.fallback = d.Provider()
			}
			c.decoders[d.Provider()] = d
		}
	}
}

// WithGateway sets the payment gateway. It also serves checkout and portal
// links unless those are set separately.
func WithGateway(g Gateway) CoordinatorOption {
	return func(c *Coordinator) { c.gateway = g }
}

func WithCheckout(cc CheckoutCreator) CoordinatorOption {
	return func(c *Coordinator) { c.checkout = cc }
}

func WithPortalLinker(p PortalLinker) CoordinatorOption {
	return func(c *Coordinator) { c.portal = p }
}

func WithPortalReturnURL(url string) CoordinatorOption {
	return func(c *Coordinator) { c.returnURL = url }
}

func WithPublisher(p eventbus.Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.publisher = p }
}

func WithEnqueuer(e Enqueuer) CoordinatorOption {
	return func(c *Coordinator) { c.enqueuer = e }
}

func WithDeduplicator(d Deduplicator) CoordinatorOption {
	return func(c *Coordinator) { c.dedup = d }
}

func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a coordinator over store and catalog.
func NewCoordinator(store Store, catalog *Catalog, opts ...CoordinatorOption) *Coordinator {
	if store == nil {
		panic("billing: Store is required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}

	c := &Coordinator{
		store:    store,
		catalog:  catalog,
		decoders: make(map[string]EventDecoder),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log = logger.OrNop(c.log).With(logger.Component("billing"))
	c.sync = NewSynchronizer(store, store, catalog, c.log)
	if c.gateway != nil {
		if c.checkout == nil {
			c.checkout = c.gateway
		}
		if c.portal == nil {
			c.portal = c.gateway
		}
		c.refunds = NewRefundCalculator(c.gateway, c.now)
	}
	return c
}

// Synchronizer returns the entity synchronizer used by the coordinator.
func (c *Coordinator) Synchronizer() *Synchronizer { return c.sync }

// HandleWebhook verifies and handles a payload from the default provider.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return c.HandleProviderWebhook(ctx, c.fallback, payload, signature)
}

// HandleProviderWebhook verifies payload with the named provider's decoder
// and handles the decoded event.
func (c *Coordinator) HandleProviderWebhook(ctx context.Context, provider string, payload []byte, signature string) error {
	dec, ok := c.decoders[provider]
	if !ok {
		return fmt.Errorf("%w: no decoder for provider %q", ErrGatewayUnavailable, provider)
	}
	ev, err := dec.DecodeEvent(ctx, payload, signature)
	if err != nil {
		c.metrics.webhook("undecoded", OutcomeFailed)
		c.log.WarnContext(ctx, "webhook rejected", slog.String("provider", provider), logger.Error(err))
		return err
	}
	return c.Handle(ctx, ev)
}

// Handle applies a decoded event. Redeliveries, unknown events and events
// older than the owner's last applied state return nil.
func (c *Coordinator) Handle(ctx context.Context, ev Event) (err error) {
	meta := ev.Meta()
	ctx = logger.WithEvent(ctx, meta.ID, meta.Provider)
	log := c.log.With(logger.EventKind(meta.Type))

	if c.dedup != nil && meta.ID != "" {
		key := meta.Provider + ":" + meta.ID
		first, derr := c.dedup.Claim(ctx, key)
		switch {
		case derr != nil:
			// transitions are idempotent, so handling proceeds unclaimed
			log.WarnContext(ctx, "event dedup unavailable", logger.Error(derr))
		case !first:
			c.metrics.webhook(meta.Type, OutcomeDuplicate)
			log.DebugContext(ctx, "duplicate event skipped")
			return nil
		default:
			defer func() {
				if err == nil {
					return
				}
				if rerr := c.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
					log.WarnContext(ctx, "event claim not released", logger.Error(rerr))
				}
			}()
		}
	}

	outcome, err := c.dispatch(ctx, ev)
	switch {
	case errors.Is(err, ErrStaleEvent):
		c.metrics.webhook(meta.Type, OutcomeStale)
		log.InfoContext(ctx, "stale event discarded", logger.Error(err))
		return nil
	case err != nil:
		c.metrics.webhook(meta.Type, OutcomeFailed)
		log.ErrorContext(ctx, "event handling failed", logger.Error(err))
		return err
	}

	c.metrics.webhook(meta.Type, outcome)
	log.DebugContext(ctx, "event handled", slog.String("outcome", outcome))
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, ev Event) (string, error) {
	switch e := ev.(type) {
	case SubscriptionCreated:
		return c.subscribed(ctx, e.EventMeta, e.Subscription)
	case SubscriptionUpdated:
		return c.updated(ctx, e)
	case SubscriptionDeleted:
		return c.ended(ctx, e.EventMeta, e.Subscription)
	case SubscriptionPaused:
		return c.paused(ctx, e.EventMeta, e.Subscription, true)
	case SubscriptionResumed:
		return c.paused(ctx, e.EventMeta, e.Subscription, false)
	case InvoicePaymentFailed:
		return c.paymentFailed(ctx, e)
	case PaymentIntentSucceeded:
		return c.oneOff(ctx, e)
	case Unrecognized:
		c.log.DebugContext(ctx, "unrecognized event ignored", logger.EventKind(e.Type))
	}
	return OutcomeIgnored, nil
}

func (c *Coordinator) subscribed(ctx context.Context, meta EventMeta, snap SubscriptionSnapshot) (string, error) {
	plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID)
	if err != nil {
		return "", err
	}
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return "", err
	}

	changed, err := c.sync.ApplyPlan(ctx, owner, snap, plan, meta.OccurredAt)
	if err != nil {
		return "", err
	}
	if err := c.project(ctx, meta, snap, plan.ID, owner, StatusActive); err != nil {
		return "", err
	}
	if !changed {
		return OutcomeIgnored, nil
	}

	c.log.InfoContext(ctx, "plan applied",
		slog.String("owner", owner.String()),
		logger.SubscriptionID(snap.ID),
		logger.PlanID(plan.ID),
	)
	topic := TopicUserSubscribed
	if owner.Kind == OwnerSpace {
		topic = TopicSpaceSubscribed
	}
	c.publish(ctx, topic, changedPayload(meta, snap, plan.ID, owner))
	return OutcomeApplied, nil
}

func (c *Coordinator) updated(ctx context.Context, e SubscriptionUpdated) (string, error) {
	snap := e.Subscription
	if snap.Ended(c.now()) {
		return c.ended(ctx, e.EventMeta, snap)
	}

	planChanged := e.PlanChanged
	if !planChanged {
		differs, err := c.planDiffers(ctx, snap)
		if err != nil {
			return "", err
		}
		planChanged = differs
	}
	if planChanged && snap.Status != string(StatusCanceled) {
		return c.subscribed(ctx, e.EventMeta, snap)
	}

	// cancel_at_period_end and other attribute changes only touch the read model
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return "", err
	}
	planID := ""
	if plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID); err == nil {
		planID = plan.ID
	}
	if err := c.project(ctx, e.EventMeta, snap, planID, owner, statusOf(snap)); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// planDiffers reports whether the local owner linked to the subscription
// carries a different plan than the event.
func (c *Coordinator) planDiffers(ctx context.Context, snap SubscriptionSnapshot) (bool, error) {
	plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID)
	if err != nil {
		return false, nil
	}
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return false, err
	}
	switch owner.Kind {
	case OwnerSpace:
		sp, err := c.store.GetSpace(ctx, owner.ID)
		if err != nil {
			return false, err
		}
		return sp.GatewaySubscriptionID != snap.ID || sp.GatewayPlanID != plan.ID, nil
	default:
		u, err := c.store.GetUser(ctx, owner.ID)
		if err != nil {
			return false, err
		}
		return u.GatewaySubscriptionID != snap.ID || u.GatewayPlanID != plan.ID, nil
	}
}

func (c *Coordinator) ended(ctx context.Context, meta EventMeta, snap SubscriptionSnapshot) (string, error) {
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return "", err
	}
	changed, err := c.sync.Expire(ctx, owner, snap.ID, c.eventTime(meta))
	if err != nil {
		return "", err
	}

	planID := ""
	if plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID); err == nil {
		planID = plan.ID
	}
	if err := c.project(ctx, meta, snap, planID, owner, StatusCanceled); err != nil {
		return "", err
	}
	if !changed {
		return OutcomeIgnored, nil
	}

	c.log.InfoContext(ctx, "subscription ended",
		slog.String("owner", owner.String()),
		logger.SubscriptionID(snap.ID),
	)
	c.publish(ctx, TopicSubscriptionEnded, changedPayload(meta, snap, planID, owner))
	return OutcomeApplied, nil
}

func (c *Coordinator) paused(ctx context.Context, meta EventMeta, snap SubscriptionSnapshot, pause bool) (string, error) {
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return "", err
	}

	at := c.eventTime(meta)
	var changed bool
	status, topic := StatusActive, TopicSubscriptionResumed
	if pause {
		status, topic = StatusPaused, TopicSubscriptionPaused
		changed, err = c.sync.Pause(ctx, owner, snap.ID, at)
	} else {
		changed, err = c.sync.Resume(ctx, owner, snap.ID, at)
	}
	if err != nil {
		return "", err
	}

	planID := ""
	if plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID); err == nil {
		planID = plan.ID
	}
	if err := c.project(ctx, meta, snap, planID, owner, status); err != nil {
		return "", err
	}
	if !changed {
		return OutcomeIgnored, nil
	}
	c.publish(ctx, topic, changedPayload(meta, snap, planID, owner))
	return OutcomeApplied, nil
}

func (c *Coordinator) paymentFailed(ctx context.Context, e InvoicePaymentFailed) (string, error) {
	if c.enqueuer == nil {
		c.log.WarnContext(ctx, "payment failure not notified: no task queue",
			logger.CustomerID(e.CustomerID), slog.String("invoice_id", e.InvoiceID))
		return OutcomeIgnored, nil
	}
	user, err := c.userByCustomer(ctx, e.CustomerID)
	if err != nil {
		return "", err
	}

	notice := DunningNotice{
		UserID:         user.ID,
		Email:          user.Email,
		CustomerID:     e.CustomerID,
		SubscriptionID: e.SubscriptionID,
		InvoiceID:      e.InvoiceID,
		AmountDue:      e.AmountDue,
		Currency:       e.Currency,
		AttemptCount:   e.AttemptCount,
	}
	if c.portal != nil {
		params := PortalParams{CustomerID: e.CustomerID, ReturnURL: c.returnURL}
		if e.SubscriptionID != "" {
			params.SubscriptionIDs = []string{e.SubscriptionID}
		}
		session, err := c.portal.CreateBillingPortalSession(ctx, params)
		if err != nil {
			return "", err
		}
		notice.PortalURL = session.URL
	}

	if err := c.enqueuer.Enqueue(ctx, notice); err != nil {
		return "", fmt.Errorf("enqueue dunning notice: %w", err)
	}
	c.log.InfoContext(ctx, "dunning notice enqueued",
		logger.UserID(user.ID),
		logger.CustomerID(e.CustomerID),
		logger.Amount(e.AmountDue, e.Currency),
	)
	return OutcomeApplied, nil
}

func (c *Coordinator) oneOff(ctx context.Context, e PaymentIntentSucceeded) (string, error) {
	productID := e.Metadata[MetaProductID]
	if productID == "" {
		// subscription invoices settle through payment intents too
		return OutcomeIgnored, nil
	}
	plan, err := c.catalog.ByProduct(productID)
	if err != nil {
		return "", err
	}
	if !plan.OneOff {
		return "", fmt.Errorf("%w: plan %s is not a one-off purchase", ErrMalformed, plan.ID)
	}

	var user User
	if id, ok := parseMetaUUID(e.Metadata, MetaUserID); ok {
		user, err = c.store.GetUser(ctx, id)
	} else {
		user, err = c.userByCustomer(ctx, e.CustomerID)
	}
	if err != nil {
		return "", err
	}

	changed, err := c.sync.GrantOneOff(ctx, plan, user.ID, e.PaymentID, c.eventTime(e.EventMeta))
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeIgnored, nil
	}

	c.log.InfoContext(ctx, "one-off plan granted",
		logger.UserID(user.ID),
		logger.PlanID(plan.ID),
		logger.Amount(e.Amount, e.Currency),
	)
	c.publish(ctx, TopicUserSubscribed, SubscriptionChanged{
		CustomerID:     e.CustomerID,
		PlanID:         plan.ID,
		PaymentID:      e.PaymentID,
		OwnerKind:      OwnerUser,
		OwnerID:        user.ID,
		GatewayEventID: e.ID,
		OccurredAt:     c.eventTime(e.EventMeta),
	})
	return OutcomeApplied, nil
}

// resolveOwner finds the local aggregate a subscription pays for: a space
// named in metadata or already linked to the subscription, then a user named
// in metadata or linked to the customer.
func (c *Coordinator) resolveOwner(ctx context.Context, snap SubscriptionSnapshot) (Owner, error) {
	if id, ok := snap.metaUUID(MetaSpaceID); ok {
		_, err := c.store.GetSpace(ctx, id)
		if err == nil {
			return Owner{Kind: OwnerSpace, ID: id}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Owner{}, err
		}
	}
	if snap.ID != "" {
		spaces, err := c.store.FindSpaces(ctx, filter.Query{
			Filter:   filter.Where("gatewaySubscriptionId", snap.ID),
			PageSize: 1,
		})
		if err != nil {
			return Owner{}, err
		}
		if len(spaces.Items) > 0 {
			return Owner{Kind: OwnerSpace, ID: spaces.Items[0].ID}, nil
		}
	}
	if id, ok := snap.metaUUID(MetaUserID); ok {
		_, err := c.store.GetUser(ctx, id)
		if err == nil {
			return Owner{Kind: OwnerUser, ID: id}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Owner{}, err
		}
	}
	if snap.CustomerID != "" {
		users, err := c.store.FindUsers(ctx, filter.Query{
			Filter:   filter.Where("gatewayCustomerId", snap.CustomerID),
			PageSize: 1,
		})
		if err != nil {
			return Owner{}, err
		}
		if len(users.Items) > 0 {
			return Owner{Kind: OwnerUser, ID: users.Items[0].ID}, nil
		}
	}
	return Owner{}, fmt.Errorf("%w: no owner for subscription %s (customer %s)", ErrNotFound, snap.ID, snap.CustomerID)
}

// userByCustomer finds the user paying as customerID, directly or as the
// creator of a space billed to that customer.
func (c *Coordinator) userByCustomer(ctx context.Context, customerID string) (User, error) {
	if customerID == "" {
		return User{}, fmt.Errorf("%w: empty customer id", ErrNotFound)
	}
	users, err := c.store.FindUsers(ctx, filter.Query{
		Filter:   filter.Where("gatewayCustomerId", customerID),
		PageSize: 1,
	})
	if err != nil {
		return User{}, err
	}
	if len(users.Items) > 0 {
		return users.Items[0], nil
	}

	spaces, err := c.store.FindSpaces(ctx, filter.Query{
		Filter:   filter.Where("gatewayCustomerId", customerID),
		PageSize: 1,
	})
	if err != nil {
		return User{}, err
	}
	if len(spaces.Items) > 0 {
		return c.store.GetUser(ctx, spaces.Items[0].OwnerID)
	}
	return User{}, fmt.Errorf("%w: no user for customer %s", ErrNotFound, customerID)
}

// project upserts the subscription read model unless it already reflects a
// newer event. A canceled projection only moves back to another status on a
// strictly newer event.
func (c *Coordinator) project(ctx context.Context, meta EventMeta, snap SubscriptionSnapshot, planID string, owner Owner, status SubscriptionStatus) error {
	if snap.ID == "" {
		return nil
	}
	at := c.eventTime(meta)
	current, err := c.store.GetSubscription(ctx, snap.ID)
	switch {
	case err == nil:
		if current.UpdatedAt.After(at) {
			return nil
		}
		if current.Status == StatusCanceled && status != StatusCanceled && !at.After(current.UpdatedAt) {
			return nil
		}
		if planID == "" {
			planID = current.PlanID
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	return c.store.SaveSubscription(ctx, Subscription{
		ID:         snap.ID,
		CustomerID: snap.CustomerID,
		PlanID:     planID,
		Status:     status,
		StartDate:  snap.CurrentPeriodStart.UTC(),
		EndDate:    snap.CurrentPeriodEnd.UTC(),
		AutoRenew:  !snap.CancelAtPeriodEnd && status != StatusCanceled,
		OwnerKind:  owner.Kind,
		OwnerID:    owner.ID,
		UpdatedAt:  at,
	})
}

func (c *Coordinator) publish(ctx context.Context, topic string, payload any) {
	if c.publisher == nil {
		return
	}
	ev, err := eventbus.NewEvent(topic, payload)
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		c.log.WarnContext(ctx, "domain event not published", logger.Topic(topic), logger.Error(err))
	}
}

func (c *Coordinator) eventTime(meta EventMeta) time.Time {
	if meta.OccurredAt.IsZero() {
		return c.now().UTC()
	}
	return meta.OccurredAt.UTC()
}

func changedPayload(meta EventMeta, snap SubscriptionSnapshot, planID string, owner Owner) SubscriptionChanged {
	return SubscriptionChanged{
		SubscriptionID: snap.ID,
		CustomerID:     snap.CustomerID,
		PlanID:         planID,
		OwnerKind:      owner.Kind,
		OwnerID:        owner.ID,
		GatewayEventID: meta.ID,
		OccurredAt:     meta.OccurredAt.UTC(),
	}
}

func statusOf(snap SubscriptionSnapshot) SubscriptionStatus {
	switch snap.Status {
	case string(StatusPaused):
		return StatusPaused
	case string(StatusCanceled):
		return StatusCanceled
	}
	return StatusActive
}

// QuoteRefund prorates the unused part of the current period without
// touching the subscription.
func (c *Coordinator) QuoteRefund(ctx context.Context, subscriptionID string) (RefundQuote, error) {
	if c.refunds == nil {
		return RefundQuote{}, ErrGatewayUnavailable
	}
	return c.refunds.Quote(ctx, subscriptionID)
}

// CancelResult reports an outbound cancellation.
type CancelResult struct {
	Subscription GatewaySubscription
	Quote        RefundQuote
	Refund       *Refund
}

// CancelSubscription cancels subscriptionID at the gateway. Without
// immediately it only turns off renewal at period end. Immediate
// cancellation refunds the unused part of the current period, then expires
// the local owner.
func (c *Coordinator) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (CancelResult, error) {
	if c.gateway == nil {
		return CancelResult{}, ErrGatewayUnavailable
	}
	log := c.log.With(logger.SubscriptionID(subscriptionID))

	if !immediately {
		cancel := true
		sub, err := c.gateway.UpdateSubscription(ctx, subscriptionID, SubscriptionChange{CancelAtPeriodEnd: &cancel})
		if err != nil {
			return CancelResult{}, err
		}
		snap := sub.Snapshot()
		if owner, err := c.resolveOwner(ctx, snap); err == nil {
			planID := ""
			if plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID); err == nil {
				planID = plan.ID
			}
			if err := c.project(ctx, EventMeta{OccurredAt: c.now()}, snap, planID, owner, statusOf(snap)); err != nil {
				return CancelResult{Subscription: sub}, err
			}
		}
		log.InfoContext(ctx, "subscription set to cancel at period end")
		return CancelResult{Subscription: sub}, nil
	}

	quote, err := c.refunds.Quote(ctx, subscriptionID)
	if err != nil {
		return CancelResult{}, err
	}
	sub, err := c.gateway.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return CancelResult{Quote: quote}, err
	}
	res := CancelResult{Subscription: sub, Quote: quote}

	if quote.Amount > 0 {
		refund, err := c.gateway.CreateRefund(ctx, RefundParams{
			PaymentID:      quote.PaymentID,
			ChargeID:       quote.ChargeID,
			Amount:         quote.Amount,
			Reason:         "requested_by_customer",
			IdempotencyKey: "refund:" + subscriptionID + ":" + quote.InvoiceID,
			Metadata:       map[string]string{"subscription_id": subscriptionID},
		})
		if err != nil {
			log.ErrorContext(ctx, "refund failed after cancellation",
				logger.Amount(quote.Amount, quote.Currency), logger.Error(err))
			return res, err
		}
		res.Refund = &refund
		c.metrics.refunded(refund.Amount, refund.Currency)
	}

	snap := sub.Snapshot()
	owner, err := c.resolveOwner(ctx, snap)
	if err != nil {
		return res, err
	}
	// only gateway timestamps advance the ordering guard
	at, syncAt := sub.CanceledAt.UTC(), sub.CanceledAt.UTC()
	if at.IsZero() {
		at, syncAt = c.now().UTC(), time.Time{}
	}
	if _, err := c.sync.expire(ctx, owner, sub.ID, at, syncAt); err != nil && !errors.Is(err, ErrStaleEvent) {
		return res, err
	}
	planID := ""
	if plan, err := c.catalog.Resolve(snap.PriceID, snap.ProductID); err == nil {
		planID = plan.ID
	}
	if err := c.project(ctx, EventMeta{OccurredAt: at}, snap, planID, owner, StatusCanceled); err != nil {
		return res, err
	}

	log.InfoContext(ctx, "subscription cancelled",
		slog.String("owner", owner.String()),
		logger.Amount(quote.Amount, quote.Currency),
	)
	return res, nil
}

// CheckoutRequest describes a purchase started by a user. SpaceID scopes a
// subscription to one space; PriceID defaults to the plan's first price.
type CheckoutRequest struct {
	UserID     uuid.UUID
	SpaceID    uuid.UUID
	PlanID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CreateCheckout opens a hosted checkout for a plan. The gateway customer is
// created on the first checkout and stored on the user.
func (c *Coordinator) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if c.checkout == nil {
		return CheckoutSession{}, ErrGatewayUnavailable
	}
	plan, err := c.catalog.Plan(req.PlanID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if plan.Free || len(plan.Prices) == 0 {
		return CheckoutSession{}, fmt.Errorf("%w: plan %s has no price", ErrInvalidCheckout, plan.ID)
	}
	priceID := plan.Prices[0].GatewayPriceID
	if req.PriceID != "" {
		if _, ok := plan.Price(req.PriceID); !ok {
			return CheckoutSession{}, fmt.Errorf("%w: price %s is not part of plan %s", ErrInvalidCheckout, req.PriceID, plan.ID)
		}
		priceID = req.PriceID
	}

	user, err := c.store.GetUser(ctx, req.UserID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if req.SpaceID != uuid.Nil {
		if plan.OneOff {
			return CheckoutSession{}, fmt.Errorf("%w: one-off plans apply to users", ErrInvalidCheckout)
		}
		sp, err := c.store.GetSpace(ctx, req.SpaceID)
		if err != nil {
			return CheckoutSession{}, err
		}
		if sp.OwnerID != user.ID {
			return CheckoutSession{}, fmt.Errorf("%w: space %s is not owned by the user", ErrInvalidCheckout, sp.ID)
		}
	}

	customerID := user.GatewayCustomerID
	created := false
	if customerID == "" && c.gateway != nil {
		cust, err := c.gateway.CreateCustomer(ctx, CustomerParams{
			Email:    user.Email,
			Metadata: map[string]string{MetaUserID: user.ID.String()},
		})
		if err != nil {
			return CheckoutSession{}, err
		}
		customerID, created = cust.ID, true
	}

	md := map[string]string{MetaUserID: user.ID.String()}
	mode := CheckoutSubscription
	if plan.OneOff {
		mode = CheckoutPayment
		md[MetaProductID] = plan.GatewayProductID
	}
	if req.SpaceID != uuid.Nil {
		md[MetaSpaceID] = req.SpaceID.String()
	}

	session, err := c.checkout.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Mode:       mode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Metadata:   md,
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	if created {
		if _, err := UpdateUser(ctx, c.store, user.ID, func(u *User) (bool, error) {
			if u.GatewayCustomerID != "" {
				return false, nil
			}
			u.GatewayCustomerID = customerID
			return true, nil
		}); err != nil {
			return session, err
		}
		c.log.InfoContext(ctx, "gateway customer created", logger.UserID(user.ID), logger.CustomerID(customerID))
	}
	return session, nil
}

// PortalLink returns a self-service billing portal URL for customerID.
func (c *Coordinator) PortalLink(ctx context.Context, customerID string) (PortalSession, error) {
	if c.portal == nil {
		return PortalSession{}, ErrGatewayUnavailable
	}
	if customerID == "" {
		return PortalSession{}, fmt.Errorf("%w: empty customer id", ErrNotFound)
	}
	return c.portal.CreateBillingPortalSession(ctx, PortalParams{CustomerID: customerID, ReturnURL: c.returnURL})
}
