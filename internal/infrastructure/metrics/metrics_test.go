package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordEvaluation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEvaluation("HIGH", 0.75, []string{"mev_activity", "new_address"}, false, 0.01)
	m.RecordEvaluation("LOW", 0.2, []string{"ai_analysis_failed"}, true, 0.002)
	m.RecordEvaluation("HIGH", 0.8, []string{"mev_activity"}, false, 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("LOW")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.factorsTotal.WithLabelValues("mev_activity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacksTotal))
}

func TestMetrics_RecordPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPublish(nil, 0.001)
	m.RecordPublish(errors.New("no responders"), 0.002)
	m.RecordPublish(nil, 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishedTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishedTotal.WithLabelValues("error")))
}

func TestMetrics_Failures(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStoreFailure("save_event")
	m.RecordStoreFailure("save_event")
	m.RecordRejected("invalid_event")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeFailuresTotal.WithLabelValues("save_event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedTotal.WithLabelValues("invalid_event")))
}
