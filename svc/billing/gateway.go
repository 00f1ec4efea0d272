package billing

import (
	"context"
	"time"
)

// Gateway is the payment provider. Every call is fallible; provider failures
// are returned as *GatewayError so they stay distinct from local errors.
type Gateway interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (GatewaySubscription, error)
	UpdateSubscription(ctx context.Context, id string, change SubscriptionChange) (GatewaySubscription, error)
	CancelSubscription(ctx context.Context, id string) (GatewaySubscription, error)
	RetrieveSubscription(ctx context.Context, id string) (GatewaySubscription, error)
	RetrieveInvoice(ctx context.Context, id string) (Invoice, error)
	CreateRefund(ctx context.Context, params RefundParams) (Refund, error)
	CheckoutCreator
	PortalLinker
	PriceLister
}

// EventDecoder verifies a webhook signature over the raw payload and decodes
// the payload into an Event.
type EventDecoder interface {
	Provider() string
	DecodeEvent(ctx context.Context, payload []byte, signature string) (Event, error)
}

// CheckoutCreator creates hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
}

// PortalLinker creates self-service billing portal sessions.
type PortalLinker interface {
	CreateBillingPortalSession(ctx context.Context, params PortalParams) (PortalSession, error)
}

// SubscriptionReader is the read side needed for refund quotes.
type SubscriptionReader interface {
	RetrieveSubscription(ctx context.Context, id string) (GatewaySubscription, error)
	RetrieveInvoice(ctx context.Context, id string) (Invoice, error)
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type Customer struct {
	ID    string
	Email string
}

type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// SubscriptionChange holds the fields to update; zero values are left as is.
type SubscriptionChange struct {
	PriceID           string
	CancelAtPeriodEnd *bool
	Metadata          map[string]string
}

// GatewaySubscription is the provider's current view of a subscription.
type GatewaySubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	ProductID          string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         time.Time
	LatestInvoiceID    string
	Metadata           map[string]string
}

// Snapshot converts the subscription into the form carried by events.
func (s GatewaySubscription) Snapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		ID:                 s.ID,
		CustomerID:         s.CustomerID,
		PriceID:            s.PriceID,
		ProductID:          s.ProductID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		Metadata:           s.Metadata,
	}
}

// Invoice is a billed period. PaymentID references the completed payment
// (payment intent or charge); it is empty until the invoice is paid.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Total          int64
	AmountPaid     int64
	Currency       string
	Paid           bool
	PaymentID      string
	ChargeID       string
}

type RefundParams struct {
	PaymentID      string
	ChargeID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

type Refund struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

type CheckoutMode string

const (
	CheckoutSubscription CheckoutMode = "subscription"
	CheckoutPayment      CheckoutMode = "payment"
)

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Mode       CheckoutMode
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type PortalParams struct {
	CustomerID      string
	SubscriptionIDs []string
	ReturnURL       string
}

type PortalSession struct {
	URL       string
	ExpiresAt time.Time
}

// GatewayPrice is a price record as mirrored at the provider.
type GatewayPrice struct {
	ID            string
	ProductID     string
	Amount        int64
	Currency      string
	Interval      string
	IntervalCount int64
	Active        bool
}
