package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaddleGateway(t *testing.T) {
	t.Parallel()

	_, err := NewPaddleGateway(PaddleConfig{WebhookSecret: "pdl_ntfset"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewPaddleGateway(PaddleConfig{APIKey: "pdl_key", WebhookSecret: "pdl_ntfset", Environment: "moon"})
	assert.Error(t, err)

	g, err := NewPaddleGateway(PaddleConfig{APIKey: "pdl_key", WebhookSecret: "pdl_ntfset", Environment: "sandbox"})
	require.NoError(t, err)
	assert.Equal(t, ProviderPaddle, g.Provider())

	_, err = g.DecodeEvent(context.Background(), []byte(`{}`), "ts=1;h1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodePaddleEvent(t *testing.T) {
	t.Parallel()

	t.Run("subscription canceled", func(t *testing.T) {
		t.Parallel()
		ev, err := decodePaddleEvent([]byte(`{
			"event_id": "evt_01",
			"event_type": "subscription.canceled",
			"occurred_at": "2025-03-01T12:00:00Z",
			"data": {
				"id": "sub_01",
				"status": "canceled",
				"customer_id": "ctm_01",
				"custom_data": {"user_id": "5b1d8c1e-6a43-4c36-9f3c-3f2b4f0a9d11", "attempt": 3},
				"items": [{"price": {"id": "pri_01", "product_id": "pro_01"}}],
				"current_billing_period": {"starts_at": "2025-03-01T00:00:00Z", "ends_at": "2025-04-01T00:00:00Z"},
				"scheduled_change": {"action": "cancel"}
			}
		}`))
		require.NoError(t, err)
		del, ok := ev.(SubscriptionDeleted)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, ProviderPaddle, del.Provider)
		assert.True(t, del.OccurredAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
		assert.Equal(t, "pri_01", del.Subscription.PriceID)
		assert.Equal(t, "pro_01", del.Subscription.ProductID)
		assert.True(t, del.Subscription.CancelAtPeriodEnd)
		assert.Equal(t, map[string]string{MetaUserID: "5b1d8c1e-6a43-4c36-9f3c-3f2b4f0a9d11"}, del.Subscription.Metadata)
		assert.True(t, del.Subscription.CurrentPeriodEnd.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("one-off transaction", func(t *testing.T) {
		t.Parallel()
		ev, err := decodePaddleEvent([]byte(`{
			"event_id": "evt_02",
			"event_type": "transaction.completed",
			"occurred_at": "2025-03-01T12:00:00Z",
			"data": {
				"id": "txn_01",
				"customer_id": "ctm_01",
				"currency_code": "USD",
				"items": [{"price": {"id": "pri_pass", "product_id": "pro_pass"}}],
				"details": {"totals": {"grand_total": "4900"}}
			}
		}`))
		require.NoError(t, err)
		pi, ok := ev.(PaymentIntentSucceeded)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, int64(4900), pi.Amount)
		assert.Equal(t, "usd", pi.Currency)
		assert.Equal(t, "pro_pass", pi.Metadata[MetaProductID])
	})

	t.Run("subscription transaction is not a one-off", func(t *testing.T) {
		t.Parallel()
		ev, err := decodePaddleEvent([]byte(`{
			"event_id": "evt_03",
			"event_type": "transaction.completed",
			"occurred_at": "2025-03-01T12:00:00Z",
			"data": {"id": "txn_02", "subscription_id": "sub_01"}
		}`))
		require.NoError(t, err)
		assert.IsType(t, Unrecognized{}, ev)
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		ev, err := decodePaddleEvent([]byte(`{
			"event_id": "evt_04",
			"event_type": "transaction.payment_failed",
			"occurred_at": "2025-03-01T12:00:00Z",
			"data": {"id": "txn_03", "customer_id": "ctm_01", "subscription_id": "sub_01", "currency_code": "EUR", "details": {"totals": {"grand_total": "999"}}}
		}`))
		require.NoError(t, err)
		failed, ok := ev.(InvoicePaymentFailed)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, int64(999), failed.AmountDue)
		assert.Equal(t, "eur", failed.Currency)
		assert.Equal(t, "sub_01", failed.SubscriptionID)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, payload := range []string{
			`not json`,
			`{"event_type": "subscription.created", "data": {}}`,
			`{"event_id": "evt_05", "event_type": "subscription.created", "data": {"id": "sub_01"}}`,
		} {
			_, err := decodePaddleEvent([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformed, payload)
		}
	})
}
