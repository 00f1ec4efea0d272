package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/filter"
)

const (
	// Unlimited disables a ceiling (-1 chosen for SQL compatibility).
	Unlimited int64 = -1

	BytesPerMB int64 = 1 << 20
)

// User is an account and the default payer for its spaces.
// When GatewaySubscriptionID is set the ceilings mirror the resolved plan.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`

	MaxStorageMB             int64 `json:"max_storage_mb"`
	MaxSpaces                int64 `json:"max_spaces"`
	MaxUsers                 int64 `json:"max_users"`
	MaxAIGenerationsPerMonth int64 `json:"max_ai_generations_per_month"`

	GatewayCustomerID     string     `json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id,omitempty"`
	GatewayPlanID         string     `json:"gateway_plan_id,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	PlanExpiresAt         *time.Time `json:"plan_expires_at,omitempty"`
	PausedAt              *time.Time `json:"paused_at,omitempty"`
	LastPaymentID         string     `json:"last_payment_id,omitempty"`
	GatewaySyncedAt       *time.Time `json:"gateway_synced_at,omitempty"`
	DowngradedAt          *time.Time `json:"downgraded_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldValue implements filter.Record.
func (u User) FieldValue(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case "email":
		return u.Email, true
	case "gatewayCustomerId":
		return u.GatewayCustomerID, u.GatewayCustomerID != ""
	case "gatewaySubscriptionId":
		return u.GatewaySubscriptionID, u.GatewaySubscriptionID != ""
	case "gatewayPlanId":
		return u.GatewayPlanID, u.GatewayPlanID != ""
	case "subscriptionExpiresAt":
		return timeField(u.SubscriptionExpiresAt)
	case "planExpiresAt":
		return timeField(u.PlanExpiresAt)
	case "downgradedAt":
		return timeField(u.DowngradedAt)
	case "createdAt":
		return u.CreatedAt, true
	}
	return nil, false
}

// Space is an independently billed collection of content.
type Space struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"created_by_user_id"`

	TotalStorageMB        int64 `json:"total_storage_mb"`
	UsedStorageBytes      int64 `json:"used_storage_bytes"`
	UsersAllowed          int64 `json:"users_allowed"`
	AIGenerationsPerMonth int64 `json:"ai_generations_per_month"`

	GatewayCustomerID     string     `json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id,omitempty"`
	GatewayPlanID         string     `json:"gateway_plan_id,omitempty"`
	PausedAt              *time.Time `json:"paused_at,omitempty"`
	DeactivatedAt         *time.Time `json:"deactivated_at,omitempty"`
	GatewaySyncedAt       *time.Time `json:"gateway_synced_at,omitempty"`
	DowngradedAt          *time.Time `json:"downgraded_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsedStorageMB returns used storage in (fractional) megabytes.
func (s Space) UsedStorageMB() float64 {
	return float64(s.UsedStorageBytes) / float64(BytesPerMB)
}

// FieldValue implements filter.Record.
func (s Space) FieldValue(name string) (any, bool) {
	switch name {
	case "id":
		return s.ID, true
	case "name":
		return s.Name, true
	case "createdByUserId":
		return s.OwnerID, true
	case "gatewayCustomerId":
		return s.GatewayCustomerID, s.GatewayCustomerID != ""
	case "gatewaySubscriptionId":
		return s.GatewaySubscriptionID, s.GatewaySubscriptionID != ""
	case "gatewayPlanId":
		return s.GatewayPlanID, s.GatewayPlanID != ""
	case "pausedAt":
		return timeField(s.PausedAt)
	case "deactivatedAt":
		return timeField(s.DeactivatedAt)
	case "downgradedAt":
		return timeField(s.DowngradedAt)
	case "createdAt":
		return s.CreatedAt, true
	}
	return nil, false
}

type ContentKind string

const (
	ContentPhoto ContentKind = "photo"
	ContentVideo ContentKind = "video"
)

type ContentStatus string

const (
	ContentSucceeded ContentStatus = "succeeded"
	ContentFailed    ContentStatus = "failed"
)

// ContentItem is a stored photo or video, or the result of an AI generation.
type ContentItem struct {
	ID              uuid.UUID     `json:"id"`
	SpaceID         uuid.UUID     `json:"space_id"`
	CreatedByUserID uuid.UUID     `json:"created_by_user_id"`
	Kind            ContentKind   `json:"kind"`
	ObjectKey       string        `json:"object_key"`
	SizeBytes       int64         `json:"size_bytes"`
	AIGenerated     bool          `json:"ai_generated"`
	Status          ContentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// FieldValue implements filter.Record.
func (c ContentItem) FieldValue(name string) (any, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "spaceId":
		return c.SpaceID, true
	case "createdByUserId":
		return c.CreatedByUserID, true
	case "kind":
		return string(c.Kind), true
	case "sizeBytes":
		return c.SizeBytes, true
	case "aiGenerated":
		return c.AIGenerated, true
	case "status":
		return string(c.Status), true
	case "createdAt":
		return c.CreatedAt, true
	}
	return nil, false
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPaused   SubscriptionStatus = "paused"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is the local read model of a gateway subscription.
// The gateway state always wins on reconciliation.
type Subscription struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	PlanID     string             `json:"plan_id"`
	Status     SubscriptionStatus `json:"status"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	AutoRenew  bool               `json:"auto_renew"`
	OwnerKind  OwnerKind          `json:"owner_kind"`
	OwnerID    uuid.UUID          `json:"owner_id"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerSpace OwnerKind = "space"
)

// Owner references the local aggregate a gateway subscription pays for.
type Owner struct {
	Kind OwnerKind
	ID   uuid.UUID
}

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID.String() }

// Filter field allowlists. Values are the document field names; relational
// backends keep their own column maps keyed by the same public names.
var (
	UserFields = filter.Fields{
		"id":                    "_id",
		"email":                 "email",
		"gatewayCustomerId":     "gatewayCustomerId",
		"gatewaySubscriptionId": "gatewaySubscriptionId",
		"gatewayPlanId":         "gatewayPlanId",
		"subscriptionExpiresAt": "subscriptionExpiresAt",
		"planExpiresAt":         "planExpiresAt",
		"downgradedAt":          "downgradedAt",
		"createdAt":             "createdAt",
	}
	SpaceFields = filter.Fields{
		"id":                    "_id",
		"name":                  "name",
		"createdByUserId":       "createdByUserId",
		"gatewayCustomerId":     "gatewayCustomerId",
		"gatewaySubscriptionId": "gatewaySubscriptionId",
		"gatewayPlanId":         "gatewayPlanId",
		"pausedAt":              "pausedAt",
		"deactivatedAt":         "deactivatedAt",
		"downgradedAt":          "downgradedAt",
		"createdAt":             "createdAt",
	}
	ContentFields = filter.Fields{
		"id":              "_id",
		"spaceId":         "spaceId",
		"createdByUserId": "createdByUserId",
		"kind":            "kind",
		"sizeBytes":       "sizeBytes",
		"aiGenerated":     "aiGenerated",
		"status":          "status",
		"createdAt":       "createdAt",
	}
)

func timeField(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return *t, true
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
