package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/svc/billing"
)

func TestProrate(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	end := t0.Add(30 * day)

	tests := []struct {
		name  string
		total int64
		now   time.Time
		want  int64
	}{
		{"a third elapsed", 1000, t0.Add(10 * day), 666},
		{"period start", 1000, t0, 1000},
		{"before period start is clamped", 1000, t0.Add(-day), 1000},
		{"period end", 1000, end, 0},
		{"after period end", 1000, end.Add(time.Hour), 0},
		{"zero total", 0, t0.Add(day), 0},
		{"one second left", 2592000, end.Add(-time.Second), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := billing.Prorate(tt.total, t0, end, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("empty period", func(t *testing.T) {
		t.Parallel()
		_, err := billing.Prorate(1000, t0, t0, t0)
		assert.ErrorIs(t, err, billing.ErrMalformed)

		_, err = billing.Prorate(1000, end, t0, t0)
		assert.ErrorIs(t, err, billing.ErrMalformed)
	})
}

func TestRefundCalculator(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	clock := func() time.Time { return t0.Add(10 * day) }

	newGateway := func(inv billing.Invoice) *fakeGateway {
		g := newFakeGateway()
		g.subs["sub_1"] = billing.GatewaySubscription{
			ID:                 "sub_1",
			CustomerID:         "cus_1",
			Status:             "active",
			CurrentPeriodStart: t0,
			CurrentPeriodEnd:   t0.Add(30 * day),
			LatestInvoiceID:    inv.ID,
		}
		if inv.ID != "" {
			g.invoices[inv.ID] = inv
		}
		return g
	}

	t.Run("prorated refund", func(t *testing.T) {
		t.Parallel()
		g := newGateway(billing.Invoice{ID: "in_1", Total: 1000, Currency: "usd", Paid: true, PaymentID: "pi_1"})
		calc := billing.NewRefundCalculator(g, clock)

		amount, err := calc.ComputeRefund(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, int64(666), amount)

		q, err := calc.Quote(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "pi_1", q.PaymentID)
		assert.Equal(t, "in_1", q.InvoiceID)
		assert.Equal(t, int64(1000), q.Total)
	})

	t.Run("unpaid invoice", func(t *testing.T) {
		t.Parallel()
		g := newGateway(billing.Invoice{ID: "in_1", Total: 1000})
		_, err := billing.NewRefundCalculator(g, clock).ComputeRefund(context.Background(), "sub_1")
		assert.ErrorIs(t, err, billing.ErrPaymentDataMissing)
	})

	t.Run("no invoice", func(t *testing.T) {
		t.Parallel()
		g := newGateway(billing.Invoice{})
		_, err := billing.NewRefundCalculator(g, clock).ComputeRefund(context.Background(), "sub_1")
		assert.ErrorIs(t, err, billing.ErrPaymentDataMissing)
	})

	t.Run("gateway failure", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewRefundCalculator(newFakeGateway(), clock).ComputeRefund(context.Background(), "sub_missing")
		assert.ErrorIs(t, err, billing.ErrGateway)
	})

	t.Run("no gateway", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewRefundCalculator(nil, clock).ComputeRefund(context.Background(), "sub_1")
		assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	})
}
