package mongostore

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/svc/billing"
)

// Field names follow billing.UserFields / SpaceFields / ContentFields so
// filters translate without a second mapping.

type userModel struct {
	ID    string `bson:"_id"`
	Email string `bson:"email"`

	MaxStorageMB             int64 `bson:"maxStorageMb"`
	MaxSpaces                int64 `bson:"maxSpaces"`
	MaxUsers                 int64 `bson:"maxUsers"`
	MaxAIGenerationsPerMonth int64 `bson:"maxAiGenerationsPerMonth"`

	GatewayCustomerID     string     `bson:"gatewayCustomerId,omitempty"`
	GatewaySubscriptionID string     `bson:"gatewaySubscriptionId,omitempty"`
	GatewayPlanID         string     `bson:"gatewayPlanId,omitempty"`
	SubscriptionExpiresAt *time.Time `bson:"subscriptionExpiresAt,omitempty"`
	PlanExpiresAt         *time.Time `bson:"planExpiresAt,omitempty"`
	PausedAt              *time.Time `bson:"pausedAt,omitempty"`
	LastPaymentID         string     `bson:"lastPaymentId,omitempty"`
	GatewaySyncedAt       *time.Time `bson:"gatewaySyncedAt,omitempty"`
	DowngradedAt          *time.Time `bson:"downgradedAt,omitempty"`

	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toUserModel(u billing.User) userModel {
	return userModel{
		ID:                       u.ID.String(),
		Email:                    u.Email,
		MaxStorageMB:             u.MaxStorageMB,
		MaxSpaces:                u.MaxSpaces,
		MaxUsers:                 u.MaxUsers,
		MaxAIGenerationsPerMonth: u.MaxAIGenerationsPerMonth,
		GatewayCustomerID:        u.GatewayCustomerID,
		GatewaySubscriptionID:    u.GatewaySubscriptionID,
		GatewayPlanID:            u.GatewayPlanID,
		SubscriptionExpiresAt:    u.SubscriptionExpiresAt,
		PlanExpiresAt:            u.PlanExpiresAt,
		PausedAt:                 u.PausedAt,
		LastPaymentID:            u.LastPaymentID,
		GatewaySyncedAt:          u.GatewaySyncedAt,
		DowngradedAt:             u.DowngradedAt,
		Version:                  u.Version,
		CreatedAt:                u.CreatedAt,
		UpdatedAt:                u.UpdatedAt,
	}
}

func (m userModel) toUser() (billing.User, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return billing.User{}, err
	}
	return billing.User{
		ID:                       id,
		Email:                    m.Email,
		MaxStorageMB:             m.MaxStorageMB,
		MaxSpaces:                m.MaxSpaces,
		MaxUsers:                 m.MaxUsers,
		MaxAIGenerationsPerMonth: m.MaxAIGenerationsPerMonth,
		GatewayCustomerID:        m.GatewayCustomerID,
		GatewaySubscriptionID:    m.GatewaySubscriptionID,
		GatewayPlanID:            m.GatewayPlanID,
		SubscriptionExpiresAt:    utc(m.SubscriptionExpiresAt),
		PlanExpiresAt:            utc(m.PlanExpiresAt),
		PausedAt:                 utc(m.PausedAt),
		LastPaymentID:            m.LastPaymentID,
		GatewaySyncedAt:          utc(m.GatewaySyncedAt),
		DowngradedAt:             utc(m.DowngradedAt),
		Version:                  m.Version,
		CreatedAt:                m.CreatedAt.UTC(),
		UpdatedAt:                m.UpdatedAt.UTC(),
	}, nil
}

type spaceModel struct {
	ID      string `bson:"_id"`
	Name    string `bson:"name"`
	OwnerID string `bson:"createdByUserId"`

	TotalStorageMB        int64 `bson:"totalStorageMb"`
	UsedStorageBytes      int64 `bson:"usedStorageBytes"`
	UsersAllowed          int64 `bson:"usersAllowed"`
	AIGenerationsPerMonth int64 `bson:"aiGenerationsPerMonth"`

	GatewayCustomerID     string     `bson:"gatewayCustomerId,omitempty"`
	GatewaySubscriptionID string     `bson:"gatewaySubscriptionId,omitempty"`
	GatewayPlanID         string     `bson:"gatewayPlanId,omitempty"`
	PausedAt              *time.Time `bson:"pausedAt,omitempty"`
	DeactivatedAt         *time.Time `bson:"deactivatedAt,omitempty"`
	GatewaySyncedAt       *time.Time `bson:"gatewaySyncedAt,omitempty"`
	DowngradedAt          *time.Time `bson:"downgradedAt,omitempty"`

	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toSpaceModel(s billing.Space) spaceModel {
	return spaceModel{
		ID:                    s.ID.String(),
		Name:                  s.Name,
		OwnerID:               s.OwnerID.String(),
		TotalStorageMB:        s.TotalStorageMB,
		UsedStorageBytes:      s.UsedStorageBytes,
		UsersAllowed:          s.UsersAllowed,
		AIGenerationsPerMonth: s.AIGenerationsPerMonth,
		GatewayCustomerID:     s.GatewayCustomerID,
		GatewaySubscriptionID: s.GatewaySubscriptionID,
		GatewayPlanID:         s.GatewayPlanID,
		PausedAt:              s.PausedAt,
		DeactivatedAt:         s.DeactivatedAt,
		GatewaySyncedAt:       s.GatewaySyncedAt,
		DowngradedAt:          s.DowngradedAt,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func (m spaceModel) toSpace() (billing.Space, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return billing.Space{}, err
	}
	owner, err := uuid.Parse(m.OwnerID)
	if err != nil {
		return billing.Space{}, err
	}
	return billing.Space{
		ID:                    id,
		Name:                  m.Name,
		OwnerID:               owner,
		TotalStorageMB:        m.TotalStorageMB,
		UsedStorageBytes:      m.UsedStorageBytes,
		UsersAllowed:          m.UsersAllowed,
		AIGenerationsPerMonth: m.AIGenerationsPerMonth,
		GatewayCustomerID:     m.GatewayCustomerID,
		GatewaySubscriptionID: m.GatewaySubscriptionID,
		GatewayPlanID:         m.GatewayPlanID,
		PausedAt:              utc(m.PausedAt),
		DeactivatedAt:         utc(m.DeactivatedAt),
		GatewaySyncedAt:       utc(m.GatewaySyncedAt),
		DowngradedAt:          utc(m.DowngradedAt),
		Version:               m.Version,
		CreatedAt:             m.CreatedAt.UTC(),
		UpdatedAt:             m.UpdatedAt.UTC(),
	}, nil
}

type contentModel struct {
	ID              string    `bson:"_id"`
	SpaceID         string    `bson:"spaceId"`
	CreatedByUserID string    `bson:"createdByUserId"`
	Kind            string    `bson:"kind"`
	ObjectKey       string    `bson:"objectKey"`
	SizeBytes       int64     `bson:"sizeBytes"`
	AIGenerated     bool      `bson:"aiGenerated"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"createdAt"`
}

func toContentModel(c billing.ContentItem) contentModel {
	return contentModel{
		ID:              c.ID.String(),
		SpaceID:         c.SpaceID.String(),
		CreatedByUserID: c.CreatedByUserID.String(),
		Kind:            string(c.Kind),
		ObjectKey:       c.ObjectKey,
		SizeBytes:       c.SizeBytes,
		AIGenerated:     c.AIGenerated,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
	}
}

func (m contentModel) toContent() (billing.ContentItem, error) {
	var ids [3]uuid.UUID
	for i, s := range []string{m.ID, m.SpaceID, m.CreatedByUserID} {
		id, err := uuid.Parse(s)
		if err != nil {
			return billing.ContentItem{}, err
		}
		ids[i] = id
	}
	return billing.ContentItem{
		ID:              ids[0],
		SpaceID:         ids[1],
		CreatedByUserID: ids[2],
		Kind:            billing.ContentKind(m.Kind),
		ObjectKey:       m.ObjectKey,
		SizeBytes:       m.SizeBytes,
		AIGenerated:     m.AIGenerated,
		Status:          billing.ContentStatus(m.Status),
		CreatedAt:       m.CreatedAt.UTC(),
	}, nil
}

type subscriptionModel struct {
	ID         string    `bson:"_id"`
	CustomerID string    `bson:"customerId"`
	PlanID     string    `bson:"planId"`
	Status     string    `bson:"status"`
	StartDate  time.Time `bson:"startDate"`
	EndDate    time.Time `bson:"endDate"`
	AutoRenew  bool      `bson:"autoRenew"`
	OwnerKind  string    `bson:"ownerKind"`
	OwnerID    string    `bson:"ownerId"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func toSubscriptionModel(s billing.Subscription) subscriptionModel {
	return subscriptionModel{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		PlanID:     s.PlanID,
		Status:     string(s.Status),
		StartDate:  s.StartDate,
		EndDate:    s.EndDate,
		AutoRenew:  s.AutoRenew,
		OwnerKind:  string(s.OwnerKind),
		OwnerID:    s.OwnerID.String(),
		UpdatedAt:  s.UpdatedAt,
	}
}

func (m subscriptionModel) toSubscription() (billing.Subscription, error) {
	owner, err := uuid.Parse(m.OwnerID)
	if err != nil {
		return billing.Subscription{}, err
	}
	return billing.Subscription{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		PlanID:     m.PlanID,
		Status:     billing.SubscriptionStatus(m.Status),
		StartDate:  m.StartDate.UTC(),
		EndDate:    m.EndDate.UTC(),
		AutoRenew:  m.AutoRenew,
		OwnerKind:  billing.OwnerKind(m.OwnerKind),
		OwnerID:    owner,
		UpdatedAt:  m.UpdatedAt.UTC(),
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
