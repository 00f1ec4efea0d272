package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Prorate returns floor(total * (end-now) / (end-start)).
// The result is 0 once the period has elapsed and total when the remaining
// time covers the whole period. A non-positive period is ErrMalformed.
func Prorate(total int64, start, end, now time.Time) (int64, error) {
	period := end.Sub(start)
	if period <= 0 {
		return 0, fmt.Errorf("%w: billing period %s..%s", ErrMalformed, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	remaining := end.Sub(now)
	if remaining <= 0 || total <= 0 {
		return 0, nil
	}
	if remaining >= period {
		return total, nil
	}

	q, _ := decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(int64(remaining))).
		QuoRem(decimal.NewFromInt(int64(period)), 0)
	return q.IntPart(), nil
}

// RefundQuote is a prorated refund for the current billing period.
type RefundQuote struct {
	SubscriptionID string
	InvoiceID      string
	PaymentID      string
	ChargeID       string
	Currency       string
	Total          int64
	Amount         int64
	PeriodStart    time.Time
	PeriodEnd      time.Time
	QuotedAt       time.Time
}

// RefundCalculator computes prorated refunds from gateway state.
type RefundCalculator struct {
	gateway SubscriptionReader
	now     func() time.Time
}

// NewRefundCalculator creates a calculator reading from g. A nil clock uses time.Now.
func NewRefundCalculator(g SubscriptionReader, now func() time.Time) *RefundCalculator {
	if now == nil {
		now = time.Now
	}
	return &RefundCalculator{gateway: g, now: now}
}

// ComputeRefund returns the refund in minor currency units for cancelling
// subscriptionID now.
func (r *RefundCalculator) ComputeRefund(ctx context.Context, subscriptionID string) (int64, error) {
	q, err := r.Quote(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	return q.Amount, nil
}

// Quote fetches the subscription and its latest invoice and prorates the
// invoice total over the time left in the current period.
func (r *RefundCalculator) Quote(ctx context.Context, subscriptionID string) (RefundQuote, error) {
	if r.gateway == nil {
		return RefundQuote{}, ErrGatewayUnavailable
	}
	sub, err := r.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return RefundQuote{}, err
	}
	if sub.LatestInvoiceID == "" {
		return RefundQuote{}, fmt.Errorf("%w: subscription %s has no invoice", ErrPaymentDataMissing, subscriptionID)
	}
	inv, err := r.gateway.RetrieveInvoice(ctx, sub.LatestInvoiceID)
	if err != nil {
		return RefundQuote{}, err
	}
	if !inv.Paid || (inv.PaymentID == "" && inv.ChargeID == "") {
		return RefundQuote{}, fmt.Errorf("%w: invoice %s", ErrPaymentDataMissing, inv.ID)
	}

	now := r.now().UTC()
	amount, err := Prorate(inv.Total, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
	if err != nil {
		return RefundQuote{}, err
	}
	return RefundQuote{
		SubscriptionID: sub.ID,
		InvoiceID:      inv.ID,
		PaymentID:      inv.PaymentID,
		ChargeID:       inv.ChargeID,
		Currency:       inv.Currency,
		Total:          inv.Total,
		Amount:         amount,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		QuotedAt:       now,
	}, nil
}
