package billing

import (
	"time"

	"github.com/google/uuid"
)

// Domain event topics published after a successful transition.
const (
	TopicUserSubscribed      = "user.subscribed"
	TopicSpaceSubscribed     = "space.subscribed"
	TopicSubscriptionEnded   = "subscription.ended"
	TopicSubscriptionPaused  = "subscription.paused"
	TopicSubscriptionResumed = "subscription.resumed"
)

// SubscriptionChanged is the payload of every subscription domain event.
type SubscriptionChanged struct {
	SubscriptionID string    `json:"subscription_id,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	PlanID         string    `json:"plan_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	OwnerKind      OwnerKind `json:"owner_kind"`
	OwnerID        uuid.UUID `json:"owner_id"`
	GatewayEventID string    `json:"gateway_event_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// DunningNotice is the task enqueued when a renewal payment fails.
type DunningNotice struct {
	UserID         uuid.UUID `json:"user_id"`
	Email          string    `json:"email"`
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id"`
	InvoiceID      string    `json:"invoice_id"`
	AmountDue      int64     `json:"amount_due"`
	Currency       string    `json:"currency"`
	AttemptCount   int64     `json:"attempt_count"`
	PortalURL      string    `json:"portal_url"`
}
