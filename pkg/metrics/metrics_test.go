package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ShareCreated(false)
	m.ShareCreated(true)
	m.ShareCreated(true)
	m.ShareViewed()
	m.QuotaDecision("granted")
	m.Generation("visitor", "created")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SharesCreated.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SharesCreated.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShareViews))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("visitor", "created")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ShareCreated(true)
		m.ShareViewed()
		m.JobTransition("completed")
		m.QuotaDecision("rejected")
		m.WorkerAuthResult("token")
		m.RelayDelivery("delivered")
		m.Generation("user", "failed")
	})
}
