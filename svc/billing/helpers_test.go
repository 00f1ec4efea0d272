package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/svc/billing"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func catalog(t *testing.T) *billing.Catalog {
	t.Helper()
	c, err := billing.LoadCatalog("")
	require.NoError(t, err)
	return c
}

func seedUser(t *testing.T, st *billing.MemoryStore, mutate func(*billing.User)) billing.User {
	t.Helper()
	u := billing.User{
		Email:                    uuid.NewString() + "@example.com",
		MaxStorageMB:             500,
		MaxUsers:                 1,
		MaxSpaces:                1,
		MaxAIGenerationsPerMonth: 10,
	}
	if mutate != nil {
		mutate(&u)
	}
	u, err := st.SaveUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func seedSpace(t *testing.T, st *billing.MemoryStore, ownerID uuid.UUID, mutate func(*billing.Space)) billing.Space {
	t.Helper()
	s := billing.Space{
		Name:                  "space",
		OwnerID:               ownerID,
		TotalStorageMB:        500,
		UsersAllowed:          1,
		AIGenerationsPerMonth: 10,
	}
	if mutate != nil {
		mutate(&s)
	}
	s, err := st.SaveSpace(context.Background(), s)
	require.NoError(t, err)
	return s
}

func snapshot(id, customer, price string, md map[string]string) billing.SubscriptionSnapshot {
	return billing.SubscriptionSnapshot{
		ID:                 id,
		CustomerID:         customer,
		PriceID:            price,
		Status:             "active",
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   t0.Add(30 * 24 * time.Hour),
		Metadata:           md,
	}
}

func meta(id, typ string, at time.Time) billing.EventMeta {
	return billing.EventMeta{ID: id, Provider: billing.ProviderStripe, Type: typ, OccurredAt: at}
}

// fakeGateway is an in-memory Gateway recording outbound calls.
type fakeGateway struct {
	mu        sync.Mutex
	subs      map[string]billing.GatewaySubscription
	invoices  map[string]billing.Invoice
	prices    []billing.GatewayPrice
	refunds   []billing.RefundParams
	customers []billing.CustomerParams
	checkouts []billing.CheckoutParams
	portals   []billing.PortalParams
	canceled  []string
	cancelAt  time.Time
	failWith  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:     make(map[string]billing.GatewaySubscription),
		invoices: make(map[string]billing.Invoice),
	}
}

func (g *fakeGateway) CreateCustomer(_ context.Context, p billing.CustomerParams) (billing.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.Customer{}, g.failWith
	}
	g.customers = append(g.customers, p)
	return billing.Customer{ID: "cus_new", Email: p.Email}, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, p billing.SubscriptionParams) (billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := billing.GatewaySubscription{ID: "sub_" + uuid.NewString(), CustomerID: p.CustomerID, PriceID: p.PriceID, Status: "active"}
	g.subs[s.ID] = s
	return s, nil
}

func (g *fakeGateway) UpdateSubscription(_ context.Context, id string, c billing.SubscriptionChange) (billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.GatewaySubscription{}, g.failWith
	}
	s, ok := g.subs[id]
	if !ok {
		return s, &billing.GatewayError{Op: "update_subscription", Code: "resource_missing", StatusCode: 404}
	}
	if c.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *c.CancelAtPeriodEnd
	}
	if c.PriceID != "" {
		s.PriceID = c.PriceID
	}
	g.subs[id] = s
	return s, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.GatewaySubscription{}, g.failWith
	}
	s := g.subs[id]
	s.Status = "canceled"
	s.CanceledAt = g.cancelAt
	g.subs[id] = s
	g.canceled = append(g.canceled, id)
	return s, nil
}

func (g *fakeGateway) RetrieveSubscription(_ context.Context, id string) (billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.GatewaySubscription{}, g.failWith
	}
	s, ok := g.subs[id]
	if !ok {
		return s, &billing.GatewayError{Op: "retrieve_subscription", Code: "resource_missing", StatusCode: 404}
	}
	return s, nil
}

func (g *fakeGateway) RetrieveInvoice(_ context.Context, id string) (billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv, ok := g.invoices[id]
	if !ok {
		return inv, &billing.GatewayError{Op: "retrieve_invoice", Code: "resource_missing", StatusCode: 404}
	}
	return inv, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, p billing.RefundParams) (billing.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, p)
	return billing.Refund{ID: "re_1", Amount: p.Amount, Currency: "usd", Status: "succeeded"}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.CheckoutSession{}, g.failWith
	}
	g.checkouts = append(g.checkouts, p)
	return billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example.com/cs_1"}, nil
}

func (g *fakeGateway) CreateBillingPortalSession(_ context.Context, p billing.PortalParams) (billing.PortalSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return billing.PortalSession{}, g.failWith
	}
	g.portals = append(g.portals, p)
	return billing.PortalSession{URL: "https://billing.example.com/p/" + p.CustomerID}, nil
}

func (g *fakeGateway) ListPrices(context.Context) ([]billing.GatewayPrice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prices, nil
}

// counterValue sums the counter samples of name whose labels include the
// given name/value pairs.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels ...string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)

	var sum float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
						break
					}
				}
				if !found {
					continue metrics
				}
			}
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}
