package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetQueueDepth(3)
		m.SetActiveSupervisors(1)
		m.ObservePacketRead("COMMAND")
		m.ObservePacketWritten("RESPONSE")
		m.ObserveCommand("osinfo", "success", time.Millisecond)
	})
}

func TestQueueDepthAndActiveSupervisorsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetQueueDepth(5)
	m.SetActiveSupervisors(2)

	assert.Equal(t, 5.0, gaugeValue(t, m.queueDepth))
	assert.Equal(t, 2.0, gaugeValue(t, m.activeSupervisors))
}

func TestObserveCommandRecordsOutcomeCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCommand("updateSoftware", "timeout", 40*time.Second)

	var dtoMetric dto.Metric
	require.NoError(t, m.commandOutcomes.WithLabelValues("updateSoftware", "timeout").Write(&dtoMetric))
	assert.Equal(t, 1.0, dtoMetric.GetCounter().GetValue())
}
