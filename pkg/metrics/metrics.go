package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by snapshotd. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SharesCreated   *prometheus.CounterVec
	ShareViews      prometheus.Counter
	JobTransitions  *prometheus.CounterVec
	QuotaDecisions  *prometheus.CounterVec
	WorkerAuth      *prometheus.CounterVec
	RelayDeliveries *prometheus.CounterVec
	Generations     *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SharesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "shares_created_total",
			Help:      "Share create calls by outcome.",
		}, []string{"reused"}),
		ShareViews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "share_views_total",
			Help:      "Counted share reads.",
		}),
		JobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "job_transitions_total",
			Help:      "Share job state changes by resulting status.",
		}, []string{"status"}),
		QuotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "quota_decisions_total",
			Help:      "Daily quota acquire attempts by result.",
		}, []string{"result"}),
		WorkerAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "worker_auth_total",
			Help:      "Worker endpoint authentication results.",
		}, []string{"result"}),
		RelayDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "relay_deliveries_total",
			Help:      "Job deliveries from the queue to the worker endpoint.",
		}, []string{"outcome"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapshotd",
			Name:      "generations_total",
			Help:      "Generation requests by owner type and outcome.",
		}, []string{"owner_type", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SharesCreated,
			m.ShareViews,
			m.JobTransitions,
			m.QuotaDecisions,
			m.WorkerAuth,
			m.RelayDeliveries,
			m.Generations,
		)
	}
	return m
}

func (m *Metrics) ShareCreated(reused bool) {
	if m == nil {
		return
	}
	m.SharesCreated.WithLabelValues(strconv.FormatBool(reused)).Inc()
}

func (m *Metrics) ShareViewed() {
	if m == nil {
		return
	}
	m.ShareViews.Inc()
}

func (m *Metrics) JobTransition(status string) {
	if m == nil {
		return
	}
	m.JobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) QuotaDecision(result string) {
	if m == nil {
		return
	}
	m.QuotaDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) WorkerAuthResult(result string) {
	if m == nil {
		return
	}
	m.WorkerAuth.WithLabelValues(result).Inc()
}

func (m *Metrics) RelayDelivery(outcome string) {
	if m == nil {
		return
	}
	m.RelayDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Generation(ownerType, outcome string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(ownerType, outcome).Inc()
}
