package billing

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys the application attaches to gateway objects.
const (
	MetaUserID    = "user_id"
	MetaSpaceID   = "space_id"
	MetaProductID = "product_id"
)

// EventMeta identifies a decoded gateway event.
type EventMeta struct {
	ID         string
	Provider   string
	Type       string
	OccurredAt time.Time
}

// Meta returns the event identity.
func (m EventMeta) Meta() EventMeta { return m }

// Event is the closed set of gateway events the coordinator understands.
// Decoders must return one of the variants declared in this file.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// SubscriptionSnapshot is the subscription state carried by an event.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	PriceID            string
	ProductID          string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// Ended reports whether the snapshot describes a subscription that has
// naturally run out: canceled with its last period already elapsed.
func (s SubscriptionSnapshot) Ended(now time.Time) bool {
	return s.Status == string(StatusCanceled) && !s.CurrentPeriodEnd.After(now)
}

// metaUUID parses a metadata value as a uuid.
func (s SubscriptionSnapshot) metaUUID(key string) (uuid.UUID, bool) {
	return parseMetaUUID(s.Metadata, key)
}

type SubscriptionCreated struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

type SubscriptionUpdated struct {
	EventMeta
	Subscription SubscriptionSnapshot
	// PlanChanged is set when the provider reports a change of price or product.
	PlanChanged bool
}

type SubscriptionPaused struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

type SubscriptionResumed struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

type SubscriptionDeleted struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

type InvoicePaymentFailed struct {
	EventMeta
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	AmountDue      int64
	Currency       string
	AttemptCount   int64
}

// PaymentIntentSucceeded is a completed one-off payment.
type PaymentIntentSucceeded struct {
	EventMeta
	PaymentID  string
	CustomerID string
	Amount     int64
	Currency   string
	Metadata   map[string]string
}

// Unrecognized is any event outside the handled vocabulary.
type Unrecognized struct {
	EventMeta
}

func (SubscriptionCreated) isEvent()    {}
func (SubscriptionUpdated) isEvent()    {}
func (SubscriptionPaused) isEvent()     {}
func (SubscriptionResumed) isEvent()    {}
func (SubscriptionDeleted) isEvent()    {}
func (InvoicePaymentFailed) isEvent()   {}
func (PaymentIntentSucceeded) isEvent() {}
func (Unrecognized) isEvent()           {}

func parseMetaUUID(md map[string]string, key string) (uuid.UUID, bool) {
	v, ok := md[key]
	if !ok || v == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
