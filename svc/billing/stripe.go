package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/photovault/pkg/logger"
)

const ProviderStripe = "stripe"

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	MaxRetries       int64         `env:"STRIPE_MAX_NETWORK_RETRIES" envDefault:"2"`
	BreakerFailures  uint32        `env:"STRIPE_BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"STRIPE_BREAKER_TIMEOUT" envDefault:"30s"`
}

// StripeGateway implements Gateway and EventDecoder on top of stripe-go.
// Every API call runs through a circuit breaker; client errors (4xx other
// than 429) do not count as breaker failures.
type StripeGateway struct {
	api     *client.API
	cfg     StripeConfig
	breaker *gobreaker.CircuitBreaker[any]
	log     *slog.Logger
	baseURL string
	http    *http.Client
}

type StripeOption func(*StripeGateway)

// WithStripeURL points the API client at another base URL (stripe-mock, tests).
func WithStripeURL(url string) StripeOption {
	return func(g *StripeGateway) { g.baseURL = url }
}

// WithStripeHTTPClient sets the HTTP client used for API calls.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(g *StripeGateway) { g.http = c }
}

func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(g *StripeGateway) { g.log = l }
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	g := &StripeGateway{cfg: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("stripe"))

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        g.http,
		LeveledLogger:     stripeLogger{g.log},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if g.baseURL != "" {
		backendCfg.URL = stripe.String(g.baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	g.api = client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "stripe",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var se *stripe.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode < http.StatusInternalServerError &&
					se.HTTPStatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return g, nil
}

// Provider implements EventDecoder.
func (g *StripeGateway) Provider() string { return ProviderStripe }

func stripeCall[T any](g *StripeGateway, op string, fn func() (T, error)) (T, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, stripeError(op, err)
	}
	return res.(T), nil
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &GatewayError{
			Op:         op,
			Code:       string(se.Code),
			Message:    se.Msg,
			StatusCode: se.HTTPStatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &GatewayError{Op: op, Code: "circuit_open", Err: err}
	}
	return &GatewayError{Op: op, Err: err}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(p.Email)}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	params.Context = ctx
	params.Metadata = p.Metadata

	return stripeCall(g, "create_customer", func() (Customer, error) {
		c, err := g.api.Customers.New(params)
		if err != nil {
			return Customer{}, err
		}
		return Customer{ID: c.ID, Email: c.Email}, nil
	})
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, p SubscriptionParams) (GatewaySubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items:    []*stripe.SubscriptionItemsParams{{Price: stripe.String(p.PriceID)}},
	}
	params.Context = ctx
	params.Metadata = p.Metadata

	return stripeCall(g, "create_subscription", func() (GatewaySubscription, error) {
		s, err := g.api.Subscriptions.New(params)
		if err != nil {
			return GatewaySubscription{}, err
		}
		return fromStripeSubscription(s), nil
	})
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, id string, change SubscriptionChange) (GatewaySubscription, error) {
	return stripeCall(g, "update_subscription", func() (GatewaySubscription, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: change.CancelAtPeriodEnd}
		params.Context = ctx
		params.Metadata = change.Metadata

		if change.PriceID != "" {
			getParams := &stripe.SubscriptionParams{}
			getParams.Context = ctx
			current, err := g.api.Subscriptions.Get(id, getParams)
			if err != nil {
				return GatewaySubscription{}, err
			}
			item := &stripe.SubscriptionItemsParams{Price: stripe.String(change.PriceID)}
			if current.Items != nil && len(current.Items.Data) > 0 {
				item.ID = stripe.String(current.Items.Data[0].ID)
			}
			params.Items = []*stripe.SubscriptionItemsParams{item}
			params.ProrationBehavior = stripe.String("create_prorations")
		}

		s, err := g.api.Subscriptions.Update(id, params)
		if err != nil {
			return GatewaySubscription{}, err
		}
		return fromStripeSubscription(s), nil
	})
}

// CancelSubscription cancels immediately without provider-side proration;
// refunds are computed locally.
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (GatewaySubscription, error) {
	params := &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(false),
		Prorate:    stripe.Bool(false),
	}
	params.Context = ctx

	return stripeCall(g, "cancel_subscription", func() (GatewaySubscription, error) {
		s, err := g.api.Subscriptions.Cancel(id, params)
		if err != nil {
			return GatewaySubscription{}, err
		}
		return fromStripeSubscription(s), nil
	})
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (GatewaySubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	return stripeCall(g, "retrieve_subscription", func() (GatewaySubscription, error) {
		s, err := g.api.Subscriptions.Get(id, params)
		if err != nil {
			return GatewaySubscription{}, err
		}
		return fromStripeSubscription(s), nil
	})
}

func (g *StripeGateway) RetrieveInvoice(ctx context.Context, id string) (Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	return stripeCall(g, "retrieve_invoice", func() (Invoice, error) {
		in, err := g.api.Invoices.Get(id, params)
		if err != nil {
			return Invoice{}, err
		}
		return fromStripeInvoice(in), nil
	})
}

func (g *StripeGateway) CreateRefund(ctx context.Context, p RefundParams) (Refund, error) {
	params := &stripe.RefundParams{Amount: stripe.Int64(p.Amount)}
	switch {
	case p.PaymentID != "":
		params.PaymentIntent = stripe.String(p.PaymentID)
	case p.ChargeID != "":
		params.Charge = stripe.String(p.ChargeID)
	default:
		return Refund{}, ErrPaymentDataMissing
	}
	if p.Reason != "" {
		params.Reason = stripe.String(p.Reason)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx
	params.Metadata = p.Metadata

	return stripeCall(g, "create_refund", func() (Refund, error) {
		r, err := g.api.Refunds.New(params)
		if err != nil {
			return Refund{}, err
		}
		return Refund{ID: r.ID, Amount: r.Amount, Currency: string(r.Currency), Status: string(r.Status)}, nil
	})
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	mode := p.Mode
	if mode == "" {
		mode = CheckoutSubscription
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
	}
	if p.CancelURL != "" {
		params.CancelURL = stripe.String(p.CancelURL)
	}
	params.Context = ctx
	params.Metadata = p.Metadata

	return stripeCall(g, "create_checkout_session", func() (CheckoutSession, error) {
		s, err := g.api.CheckoutSessions.New(params)
		if err != nil {
			return CheckoutSession{}, err
		}
		if s.URL == "" {
			return CheckoutSession{}, ErrNoCheckoutURL
		}
		return CheckoutSession{ID: s.ID, URL: s.URL, ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC()}, nil
	})
}

func (g *StripeGateway) CreateBillingPortalSession(ctx context.Context, p PortalParams) (PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(p.CustomerID)}
	if p.ReturnURL != "" {
		params.ReturnURL = stripe.String(p.ReturnURL)
	}
	params.Context = ctx

	return stripeCall(g, "create_billing_portal_session", func() (PortalSession, error) {
		s, err := g.api.BillingPortalSessions.New(params)
		if err != nil {
			return PortalSession{}, err
		}
		if s.URL == "" {
			return PortalSession{}, ErrNoPortalURL
		}
		// Portal sessions are short-lived; Stripe does not return an expiry.
		return PortalSession{URL: s.URL, ExpiresAt: time.Now().Add(5 * time.Minute).UTC()}, nil
	})
}

func (g *StripeGateway) ListPrices(ctx context.Context) ([]GatewayPrice, error) {
	return stripeCall(g, "list_prices", func() ([]GatewayPrice, error) {
		params := &stripe.PriceListParams{}
		params.Context = ctx

		var prices []GatewayPrice
		it := g.api.Prices.List(params)
		for it.Next() {
			p := it.Price()
			gp := GatewayPrice{
				ID:       p.ID,
				Amount:   p.UnitAmount,
				Currency: string(p.Currency),
				Active:   p.Active,
			}
			if p.Product != nil {
				gp.ProductID = p.Product.ID
			}
			if p.Recurring != nil {
				gp.Interval = string(p.Recurring.Interval)
				gp.IntervalCount = p.Recurring.IntervalCount
			}
			prices = append(prices, gp)
		}
		return prices, it.Err()
	})
}

// DecodeEvent verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) DecodeEvent(_ context.Context, payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrInvalidSignature, err)
		}
		return nil, errors.Join(ErrMalformed, err)
	}
	return decodeStripeEvent(ev)
}

func decodeStripeEvent(ev stripe.Event) (Event, error) {
	meta := EventMeta{
		ID:         ev.ID,
		Provider:   ProviderStripe,
		Type:       string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: event without id", ErrMalformed)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrMalformed, ev.ID)
	}

	switch ev.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionPaused,
		stripe.EventTypeCustomerSubscriptionResumed:
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		snap := fromStripeSubscription(&s).Snapshot()
		if snap.ID == "" || snap.CustomerID == "" {
			return nil, fmt.Errorf("%w: subscription without id or customer", ErrMalformed)
		}

		switch ev.Type {
		case stripe.EventTypeCustomerSubscriptionCreated:
			return SubscriptionCreated{EventMeta: meta, Subscription: snap}, nil
		case stripe.EventTypeCustomerSubscriptionUpdated:
			_, items := ev.Data.PreviousAttributes["items"]
			_, plan := ev.Data.PreviousAttributes["plan"]
			return SubscriptionUpdated{EventMeta: meta, Subscription: snap, PlanChanged: items || plan}, nil
		case stripe.EventTypeCustomerSubscriptionDeleted:
			return SubscriptionDeleted{EventMeta: meta, Subscription: snap}, nil
		case stripe.EventTypeCustomerSubscriptionPaused:
			return SubscriptionPaused{EventMeta: meta, Subscription: snap}, nil
		default:
			return SubscriptionResumed{EventMeta: meta, Subscription: snap}, nil
		}

	case stripe.EventTypeInvoicePaymentFailed:
		var in stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &in); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		if in.ID == "" || in.Customer == nil {
			return nil, fmt.Errorf("%w: invoice without id or customer", ErrMalformed)
		}
		e := InvoicePaymentFailed{
			EventMeta:    meta,
			InvoiceID:    in.ID,
			CustomerID:   in.Customer.ID,
			AmountDue:    in.AmountDue,
			Currency:     string(in.Currency),
			AttemptCount: in.AttemptCount,
		}
		if in.Subscription != nil {
			e.SubscriptionID = in.Subscription.ID
		}
		return e, nil

	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		if pi.ID == "" {
			return nil, fmt.Errorf("%w: payment intent without id", ErrMalformed)
		}
		e := PaymentIntentSucceeded{
			EventMeta: meta,
			PaymentID: pi.ID,
			Amount:    pi.Amount,
			Currency:  string(pi.Currency),
			Metadata:  pi.Metadata,
		}
		if pi.Customer != nil {
			e.CustomerID = pi.Customer.ID
		}
		return e, nil
	}

	return Unrecognized{EventMeta: meta}, nil
}

func fromStripeSubscription(s *stripe.Subscription) GatewaySubscription {
	out := GatewaySubscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: time.Unix(s.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		Metadata:           s.Metadata,
	}
	if s.CanceledAt > 0 {
		out.CanceledAt = time.Unix(s.CanceledAt, 0).UTC()
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.LatestInvoice != nil {
		out.LatestInvoiceID = s.LatestInvoice.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		out.PriceID = price.ID
		if price.Product != nil {
			out.ProductID = price.Product.ID
		}
	}
	return out
}

func fromStripeInvoice(in *stripe.Invoice) Invoice {
	out := Invoice{
		ID:         in.ID,
		Total:      in.Total,
		AmountPaid: in.AmountPaid,
		Currency:   string(in.Currency),
		Paid:       in.Paid,
	}
	if in.Customer != nil {
		out.CustomerID = in.Customer.ID
	}
	if in.Subscription != nil {
		out.SubscriptionID = in.Subscription.ID
	}
	if in.PaymentIntent != nil {
		out.PaymentID = in.PaymentIntent.ID
	}
	if in.Charge != nil {
		out.ChargeID = in.Charge.ID
	}
	return out
}

// stripeLogger adapts slog to stripe.LeveledLoggerInterface.
type stripeLogger struct{ log *slog.Logger }

func (l stripeLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Infof(format string, v ...any)  { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
