package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes recorded by the coordinator.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics holds the billing counters. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
	sweepReverted   *prometheus.CounterVec
	refundedMinor   *prometheus.CounterVec
}

// NewMetrics registers the billing counters with reg.
// A nil registerer creates unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "photovault_webhook_events_total",
			Help: "Gateway webhook events by event type and outcome",
		}, []string{"type", "outcome"}),
		quotaRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "photovault_quota_rejections_total",
			Help: "Capacity checks and commits rejected by dimension",
		}, []string{"dimension"}),
		sweepReverted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "photovault_sweep_reverted_total",
			Help: "Entities reverted to the free plan by the expiry sweep",
		}, []string{"kind"}),
		refundedMinor: f.NewCounterVec(prometheus.CounterOpts{
			Name: "photovault_refunded_minor_units_total",
			Help: "Prorated refunds issued, in minor currency units",
		}, []string{"currency"}),
	}
}

func (m *Metrics) webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) rejected(d Dimension) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) reverted(kind OwnerKind) {
	if m == nil {
		return
	}
	m.sweepReverted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) refunded(amount int64, currency string) {
	if m == nil || amount <= 0 {
		return
	}
	m.refundedMinor.WithLabelValues(currency).Add(float64(amount))
}
