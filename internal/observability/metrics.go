package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/polyquery/polyquery/pkg/types"
)

// Metrics holds the Prometheus collectors for plans and trials.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TrialDuration is the latency of individual trials.
	TrialDuration *prometheus.HistogramVec
	// TrialsTotal counts trials by outcome.
	TrialsTotal *prometheus.CounterVec
	// PlansTotal counts synthesized plans by mode and access path.
	PlansTotal *prometheus.CounterVec
	// SchemaRefreshTotal counts schema refreshes by outcome.
	SchemaRefreshTotal *prometheus.CounterVec
	// AdvisorCallsTotal counts variant suggestion requests by cache outcome.
	AdvisorCallsTotal *prometheus.CounterVec
	// AdvisorSuggestionsTotal counts computed variant suggestions.
	AdvisorSuggestionsTotal prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TrialDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyquery_trial_duration_seconds",
				Help:    "Latency of timed plan executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"store", "entity", "access_path", "outcome"},
		),
		TrialsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyquery_trials_total",
				Help: "Total number of timed plan executions",
			},
			[]string{"store", "access_path", "outcome"},
		),
		PlansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyquery_plans_total",
				Help: "Total number of synthesized query plans",
			},
			[]string{"store", "mode", "access_path", "degraded"},
		),
		SchemaRefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyquery_schema_refresh_total",
				Help: "Total number of schema discoveries per store",
			},
			[]string{"store", "outcome"},
		),
		AdvisorCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyquery_advisor_calls_total",
				Help: "Total number of variant suggestion requests",
			},
			[]string{"cache"},
		),
		AdvisorSuggestionsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "polyquery_advisor_suggestions_total",
				Help: "Total number of computed variant suggestions",
			},
		),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveTrial records one trial of plan.
func (m *Metrics) ObserveTrial(plan *types.QueryPlan, elapsed time.Duration, succeeded bool) {
	if m == nil {
		return
	}
	o := outcome(succeeded)
	m.TrialDuration.WithLabelValues(plan.StoreID, plan.Entity, string(plan.AccessPath), o).Observe(elapsed.Seconds())
	m.TrialsTotal.WithLabelValues(plan.StoreID, string(plan.AccessPath), o).Inc()
}

// ObservePlan records a synthesized plan.
func (m *Metrics) ObservePlan(plan *types.QueryPlan) {
	if m == nil {
		return
	}
	degraded := "false"
	if plan.Degraded {
		degraded = "true"
	}
	m.PlansTotal.WithLabelValues(plan.StoreID, string(plan.Mode), string(plan.AccessPath), degraded).Inc()
}

// ObserveRefresh records the discovery outcome of one store.
func (m *Metrics) ObserveRefresh(storeID string, succeeded bool) {
	if m == nil {
		return
	}
	m.SchemaRefreshTotal.WithLabelValues(storeID, outcome(succeeded)).Inc()
}

// ObserveAdvice records one suggestion request. Suggestions served from
// the cache are not counted again.
func (m *Metrics) ObserveAdvice(cacheHit bool, suggestions int) {
	if m == nil {
		return
	}
	if cacheHit {
		m.AdvisorCallsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.AdvisorCallsTotal.WithLabelValues("miss").Inc()
	m.AdvisorSuggestionsTotal.Add(float64(suggestions))
}
