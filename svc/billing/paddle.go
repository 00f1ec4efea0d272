package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const ProviderPaddle = "paddle"

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway decodes Paddle webhooks and creates checkout and portal links.
// It implements EventDecoder, CheckoutCreator and PortalLinker.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleGateway creates a Paddle client for the configured environment.
func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// Provider implements EventDecoder.
func (p *PaddleGateway) Provider() string { return ProviderPaddle }

// CreateCheckoutSession creates a transaction and returns its hosted checkout URL.
func (p *PaddleGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{}
	for k, v := range params.Metadata {
		custom[k] = v
	}
	if params.CustomerID != "" {
		custom["customer_id"] = params.CustomerID
	}
	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.SuccessURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return CheckoutSession{}, &GatewayError{Op: "create_checkout_session", Err: err}
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return CheckoutSession{}, ErrNoCheckoutURL
	}
	return CheckoutSession{
		ID:        txn.ID,
		URL:       *txn.Checkout.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

// CreateBillingPortalSession returns the customer portal overview link.
func (p *PaddleGateway) CreateBillingPortalSession(ctx context.Context, params PortalParams) (PortalSession, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      params.CustomerID,
		SubscriptionIDs: params.SubscriptionIDs,
	})
	if err != nil {
		return PortalSession{}, &GatewayError{Op: "create_billing_portal_session", Err: err}
	}
	if session.URLs.General.Overview == "" {
		return PortalSession{}, ErrNoPortalURL
	}
	return PortalSession{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

type paddleNotification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type paddleItem struct {
	Price struct {
		ID        string `json:"id"`
		ProductID string `json:"product_id"`
	} `json:"price"`
}

type paddleSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	Items                []paddleItem   `json:"items"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []paddleItem   `json:"items"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
}

// DecodeEvent verifies the Paddle-Signature header and decodes the event.
func (p *PaddleGateway) DecodeEvent(ctx context.Context, payload []byte, signature string) (Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}
	return decodePaddleEvent(payload)
}

func decodePaddleEvent(payload []byte) (Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if n.EventID == "" || len(n.Data) == 0 {
		return nil, fmt.Errorf("%w: notification without id or data", ErrMalformed)
	}
	meta := EventMeta{ID: n.EventID, Provider: ProviderPaddle, Type: n.EventType, OccurredAt: n.OccurredAt.UTC()}

	if strings.HasPrefix(n.EventType, "subscription.") {
		var s paddleSubscription
		if err := json.Unmarshal(n.Data, &s); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		if s.ID == "" || s.CustomerID == "" {
			return nil, fmt.Errorf("%w: subscription without id or customer", ErrMalformed)
		}
		snap := SubscriptionSnapshot{
			ID:                s.ID,
			CustomerID:        s.CustomerID,
			Status:            s.Status,
			CancelAtPeriodEnd: s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel",
			Metadata:          stringMap(s.CustomData),
		}
		if len(s.Items) > 0 {
			snap.PriceID = s.Items[0].Price.ID
			snap.ProductID = s.Items[0].Price.ProductID
		}
		if s.CurrentBillingPeriod != nil {
			snap.CurrentPeriodStart = s.CurrentBillingPeriod.StartsAt.UTC()
			snap.CurrentPeriodEnd = s.CurrentBillingPeriod.EndsAt.UTC()
		}

		switch n.EventType {
		case "subscription.created", "subscription.activated":
			return SubscriptionCreated{EventMeta: meta, Subscription: snap}, nil
		case "subscription.updated":
			// Paddle does not report previous attributes; plan changes are
			// detected against local state by the coordinator.
			return SubscriptionUpdated{EventMeta: meta, Subscription: snap}, nil
		case "subscription.canceled":
			return SubscriptionDeleted{EventMeta: meta, Subscription: snap}, nil
		case "subscription.paused":
			return SubscriptionPaused{EventMeta: meta, Subscription: snap}, nil
		case "subscription.resumed":
			return SubscriptionResumed{EventMeta: meta, Subscription: snap}, nil
		}
		return Unrecognized{EventMeta: meta}, nil
	}

	switch n.EventType {
	case "transaction.payment_failed", "transaction.completed":
		var t paddleTransaction
		if err := json.Unmarshal(n.Data, &t); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		if t.ID == "" {
			return nil, fmt.Errorf("%w: transaction without id", ErrMalformed)
		}
		total, _ := strconv.ParseInt(t.Details.Totals.GrandTotal, 10, 64)
		currency := strings.ToLower(t.CurrencyCode)

		if n.EventType == "transaction.payment_failed" {
			return InvoicePaymentFailed{
				EventMeta:      meta,
				InvoiceID:      t.ID,
				CustomerID:     t.CustomerID,
				SubscriptionID: t.SubscriptionID,
				AmountDue:      total,
				Currency:       currency,
			}, nil
		}
		if t.SubscriptionID != "" {
			// Subscription payments are reflected by subscription.* events.
			return Unrecognized{EventMeta: meta}, nil
		}
		md := stringMap(t.CustomData)
		if md[MetaProductID] == "" && len(t.Items) > 0 {
			if md == nil {
				md = map[string]string{}
			}
			md[MetaProductID] = t.Items[0].Price.ProductID
		}
		return PaymentIntentSucceeded{
			EventMeta:  meta,
			PaymentID:  t.ID,
			CustomerID: t.CustomerID,
			Amount:     total,
			Currency:   currency,
			Metadata:   md,
		}, nil
	}

	return Unrecognized{EventMeta: meta}, nil
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
