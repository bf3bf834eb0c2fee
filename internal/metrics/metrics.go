package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Create/patch outcome labels.
const (
	OutcomeCreated       = "created"
	OutcomeReplayed      = "replayed"
	OutcomeConflict      = "conflict"
	OutcomeRateLimited   = "rate_limited"
	OutcomeUpdated       = "updated"
	OutcomeActivating    = "activating"
	OutcomeNotFound      = "not_found"
	OutcomePrecondition  = "precondition_failed"
	OutcomeRuleViolation = "rule_violation"
)

// Activation results.
const (
	ActivationApplied    = "applied"
	ActivationSuperseded = "superseded"
)

// Metrics holds the service's prometheus collectors on a private
// registry, so isolated instances can be built per test scenario.
type Metrics struct {
	registry    *prometheus.Registry
	creates     *prometheus.CounterVec
	patches     *prometheus.CounterVec
	activations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appregistry",
			Name:      "creates_total",
			Help:      "Create requests by outcome.",
		}, []string{"outcome"}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appregistry",
			Name:      "patches_total",
			Help:      "Patch requests by outcome.",
		}, []string{"outcome"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appregistry",
			Name:      "deferred_activations_total",
			Help:      "Deferred activation jobs by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.creates,
		m.patches,
		m.activations,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveCreate(outcome string) {
	m.creates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePatch(outcome string) {
	m.patches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveActivation(result string) {
	m.activations.WithLabelValues(result).Inc()
}

// Handler exposes the registry in prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
