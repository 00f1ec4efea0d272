package billing

import (
	"slices"
	"time"
)

// OneOffGrantPeriod is how long a one-off purchase extends the account's ceilings.
const OneOffGrantPeriod = 90 * 24 * time.Hour

type BillingPeriod string

const (
	PeriodMonth BillingPeriod = "month"
	PeriodYear  BillingPeriod = "year"
	PeriodNone  BillingPeriod = "none"
)

// Price is one way to pay for a plan, mirrored from a gateway price record.
type Price struct {
	GatewayPriceID string        `yaml:"gateway_price_id" validate:"required"`
	Period         BillingPeriod `yaml:"period" validate:"required,oneof=month year none"`
	Frequency      int64         `yaml:"frequency" validate:"gte=0"`
	Amount         int64         `yaml:"amount" validate:"gte=0"`
	Currency       string        `yaml:"currency" validate:"required,len=3,lowercase"`
}

// Plan is a catalog entry. Ceilings use Unlimited (-1) for no limit.
type Plan struct {
	ID                    string   `yaml:"id" validate:"required"`
	Name                  string   `yaml:"name" validate:"required"`
	GatewayProductID      string   `yaml:"gateway_product_id" validate:"required_unless=Free true"`
	StorageMB             int64    `yaml:"storage_mb" validate:"gte=-1"`
	MaxUsers              int64    `yaml:"max_users" validate:"gte=-1"`
	MaxSpaces             int64    `yaml:"max_spaces" validate:"gte=-1"`
	AIGenerationsPerMonth int64    `yaml:"ai_generations_per_month" validate:"gte=-1"`
	Prices                []Price  `yaml:"prices" validate:"dive"`
	Features              []string `yaml:"features"`
	Free                  bool     `yaml:"free"`
	OneOff                bool     `yaml:"one_off"`
}

// HasFeature reports whether the plan includes feature.
func (p Plan) HasFeature(feature string) bool {
	return slices.Contains(p.Features, feature)
}

// Price returns the plan's price with the given gateway id.
func (p Plan) Price(gatewayPriceID string) (Price, bool) {
	for _, pr := range p.Prices {
		if pr.GatewayPriceID == gatewayPriceID {
			return pr, true
		}
	}
	return Price{}, false
}

func (p Plan) applyToUser(u *User) {
	u.MaxStorageMB = p.StorageMB
	u.MaxUsers = p.MaxUsers
	u.MaxSpaces = p.MaxSpaces
	u.MaxAIGenerationsPerMonth = p.AIGenerationsPerMonth
}

// raiseUser lifts each ceiling to at least the plan's value.
func (p Plan) raiseUser(u *User) {
	u.MaxStorageMB = maxCeiling(u.MaxStorageMB, p.StorageMB)
	u.MaxUsers = maxCeiling(u.MaxUsers, p.MaxUsers)
	u.MaxSpaces = maxCeiling(u.MaxSpaces, p.MaxSpaces)
	u.MaxAIGenerationsPerMonth = maxCeiling(u.MaxAIGenerationsPerMonth, p.AIGenerationsPerMonth)
}

func (p Plan) applyToSpace(s *Space) {
	s.TotalStorageMB = p.StorageMB
	s.UsersAllowed = p.MaxUsers
	s.AIGenerationsPerMonth = p.AIGenerationsPerMonth
}

func maxCeiling(a, b int64) int64 {
	if a == Unlimited || b == Unlimited {
		return Unlimited
	}
	return max(a, b)
}
