package orchestrator

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter/walleta"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

func gatherByName(t *testing.T, h *harness) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestMetrics_RecordedPerRun(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")

	h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("1006", "ORD-1", "T1"))
	h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))

	families := gatherByName(t, h)

	hist := families["reconciler_run_duration_seconds"]
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())

	runs := families["reconciler_runs_total"]
	require.NotNil(t, runs)
	byStatus := map[string]float64{}
	for _, m := range runs.GetMetric() {
		byStatus[labelValue(m, "status")] += m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"FAILURE": 1, "SUCCESS": 1}, byStatus)

	decisions := families["reconciler_guard_decisions_total"]
	require.NotNil(t, decisions)
	require.Len(t, decisions.GetMetric(), 1)
	assert.Equal(t, "RESERVED", labelValue(decisions.GetMetric()[0], "decision"))

	_, verified := families["reconciler_verifications_total"]
	assert.False(t, verified, "wallet redirects are not verified")
}
