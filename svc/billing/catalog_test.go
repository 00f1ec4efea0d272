package billing_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/svc/billing"
)

func TestCatalog_Embedded(t *testing.T) {
	t.Parallel()

	cat := catalog(t)
	assert.Equal(t, "free", cat.Free().ID)
	assert.Len(t, cat.Plans(), 4)

	p, err := cat.ByPrice("price_pro_yearly")
	require.NoError(t, err)
	assert.Equal(t, "pro", p.ID)
	assert.True(t, p.HasFeature("shared_spaces"))

	p, err = cat.Resolve("price_unknown", "prod_photovault_studio")
	require.NoError(t, err)
	assert.Equal(t, "studio", p.ID)

	_, err = cat.Resolve("price_unknown", "")
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = cat.Plan("enterprise")
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestParseCatalog_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"no free plan", `
plans:
  - id: pro
    name: Pro
    gateway_product_id: prod_pro
    prices:
      - {gateway_price_id: p1, period: month, frequency: 1, amount: 100, currency: usd}
`},
		{"two free plans", `
plans:
  - {id: a, name: A, free: true}
  - {id: b, name: B, free: true}
`},
		{"duplicate price", `
plans:
  - {id: free, name: Free, free: true}
  - id: pro
    name: Pro
    gateway_product_id: prod_pro
    prices:
      - {gateway_price_id: p1, period: month, frequency: 1, amount: 100, currency: usd}
  - id: max
    name: Max
    gateway_product_id: prod_max
    prices:
      - {gateway_price_id: p1, period: month, frequency: 1, amount: 200, currency: usd}
`},
		{"paid plan without product", `
plans:
  - {id: free, name: Free, free: true}
  - id: pro
    name: Pro
    prices:
      - {gateway_price_id: p1, period: month, frequency: 1, amount: 100, currency: usd}
`},
		{"bad currency", `
plans:
  - {id: free, name: Free, free: true}
  - id: pro
    name: Pro
    gateway_product_id: prod_pro
    prices:
      - {gateway_price_id: p1, period: month, frequency: 1, amount: 100, currency: dollars}
`},
		{"not yaml", "plans: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := billing.ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{"plans.yaml": {Data: []byte(`
plans:
  - {id: free, name: Free, free: true, storage_mb: 100, max_users: 1, max_spaces: 1}
`)}}
	cat, err := billing.LoadCatalogFS(fsys, "plans.yaml")
	require.NoError(t, err)
	assert.Equal(t, int64(100), cat.Free().StorageMB)

	_, err = billing.LoadCatalogFS(fsys, "missing.yaml")
	assert.ErrorIs(t, err, billing.ErrFailedToLoadPlans)
}

func TestCatalog_VerifyCatalog(t *testing.T) {
	t.Parallel()

	cat := catalog(t)
	g := newFakeGateway()
	g.prices = []billing.GatewayPrice{
		{ID: "price_pro_monthly", ProductID: "prod_photovault_pro", Amount: 999, Currency: "usd", Interval: "month", IntervalCount: 1, Active: true},
		{ID: "price_pro_yearly", ProductID: "prod_photovault_pro", Amount: 9990, Currency: "usd", Interval: "year", IntervalCount: 1, Active: true},
		{ID: "price_studio_monthly", ProductID: "prod_photovault_studio", Amount: 2999, Currency: "usd", Interval: "month", IntervalCount: 1, Active: true},
		{ID: "price_event_pass", ProductID: "prod_photovault_event_pass", Amount: 4900, Currency: "usd", Active: true},
	}

	drift, err := cat.VerifyCatalog(context.Background(), g)
	require.NoError(t, err)
	assert.Empty(t, drift)

	g.prices[0].Amount = 1099
	g.prices[2].Active = false
	g.prices = g.prices[:3]

	drift, err = cat.VerifyCatalog(context.Background(), g)
	require.NoError(t, err)

	byPrice := make(map[string]billing.Drift)
	for _, d := range drift {
		byPrice[d.PriceID] = d
	}
	assert.Contains(t, byPrice, "price_pro_monthly")
	assert.Contains(t, byPrice, "price_studio_monthly")
	assert.Equal(t, "missing at gateway", byPrice["price_event_pass"].Reason)
	assert.NotContains(t, byPrice, "price_pro_yearly")
}
