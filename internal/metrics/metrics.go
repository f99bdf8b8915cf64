package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics - счетчики процесса выплаты бонусов.
// Методы допускают nil-получатель.
type Metrics struct {
	registry        *prometheus.Registry
	sessionsCreated prometheus.Counter
	reconciliations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	badgesApproved  prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrbonus_bonus_sessions_created_total",
			Help: "Checkout sessions created for badge bonuses.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbonus_reconciliations_total",
			Help: "Session reconciliations by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbonus_webhook_events_total",
			Help: "Payment provider webhook deliveries by result.",
		}, []string{"result"}),
		badgesApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrbonus_badges_approved_total",
			Help: "Badges flipped to approved after a confirmed payment.",
		}),
	}
	registry.MustRegister(m.sessionsCreated, m.reconciliations, m.webhookEvents, m.badgesApproved)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) BadgesApproved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.badgesApproved.Add(float64(n))
}
