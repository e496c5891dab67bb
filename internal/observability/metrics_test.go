package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestMetrics_ObserveTrial(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	plan := &types.QueryPlan{StoreID: "cassandra", Entity: "transactions", AccessPath: types.AccessSecondaryScan, Mode: types.ModeNaive}

	m.ObserveTrial(plan, 40*time.Millisecond, true)
	m.ObserveTrial(plan, 5*time.Millisecond, false)
	m.ObservePlan(plan)
	m.ObserveRefresh("cassandra", true)

	if got := testutil.ToFloat64(m.TrialsTotal.WithLabelValues("cassandra", "secondary_scan", "success")); got != 1 {
		t.Errorf("success trials = %v", got)
	}
	if got := testutil.ToFloat64(m.TrialsTotal.WithLabelValues("cassandra", "secondary_scan", "failure")); got != 1 {
		t.Errorf("failed trials = %v", got)
	}
	if got := testutil.CollectAndCount(m.TrialDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
	if got := testutil.ToFloat64(m.PlansTotal.WithLabelValues("cassandra", "naive", "secondary_scan", "false")); got != 1 {
		t.Errorf("plans = %v", got)
	}
}

func TestMetrics_ObserveAdvice(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveAdvice(false, 3)
	m.ObserveAdvice(true, 3)

	if got := testutil.ToFloat64(m.AdvisorCallsTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v", got)
	}
	if got := testutil.ToFloat64(m.AdvisorCallsTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.AdvisorSuggestionsTotal); got != 3 {
		t.Errorf("cached suggestions should not be counted twice, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTrial(&types.QueryPlan{}, time.Millisecond, true)
	m.ObservePlan(&types.QueryPlan{})
	m.ObserveRefresh("x", false)
	m.ObserveAdvice(true, 1)
}
