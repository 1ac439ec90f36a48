// Package observability exposes the agent's Prometheus metrics. All
// record methods are nil-safe: a nil *Metrics disables collection.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	tasksRetried   *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	ledgerBalance  prometheus.Gauge
	debitsRefused  prometheus.Counter
	consolidations *prometheus.CounterVec
	entitiesByTier *prometheus.GaugeVec
}

// NewMetrics registers the agent's collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_submitted_total",
			Help: "Tasks submitted to the scheduler.",
		}, []string{"type"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_completed_total",
			Help: "Tasks finished successfully.",
		}, []string{"type"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_failed_total",
			Help: "Tasks that ended in the failed state.",
		}, []string{"type"}),
		tasksRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_retried_total",
			Help: "Transient failures that requeued a task.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_queue_depth",
			Help: "Live tasks by state.",
		}, []string{"state"}),
		ledgerBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_ledger_balance",
			Help: "Current coin balance.",
		}),
		debitsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_ledger_debits_refused_total",
			Help: "Admissions refused for lack of budget.",
		}),
		consolidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_memory_consolidations_total",
			Help: "Consolidation outcomes by result.",
		}, []string{"result"}),
		entitiesByTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_memory_entities",
			Help: "Stored entities by tier.",
		}, []string{"tier"}),
	}
	m.registry.MustRegister(
		m.tasksSubmitted, m.tasksCompleted, m.tasksFailed, m.tasksRetried,
		m.queueDepth, m.ledgerBalance, m.debitsRefused,
		m.consolidations, m.entitiesByTier,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskSubmitted(taskType string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(taskType).Inc()
}

func (m *Metrics) TaskCompleted(taskType string) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(taskType).Inc()
}

func (m *Metrics) TaskFailed(taskType string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(taskType).Inc()
}

func (m *Metrics) TaskRetried(taskType string) {
	if m == nil {
		return
	}
	m.tasksRetried.WithLabelValues(taskType).Inc()
}

func (m *Metrics) SetQueueDepth(pending, running int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("running").Set(float64(running))
}

func (m *Metrics) SetLedgerBalance(balance int64) {
	if m == nil {
		return
	}
	m.ledgerBalance.Set(float64(balance))
}

func (m *Metrics) DebitRefused() {
	if m == nil {
		return
	}
	m.debitsRefused.Inc()
}

func (m *Metrics) ConsolidationResult(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.consolidations.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) SetEntities(tier string, n int) {
	if m == nil {
		return
	}
	m.entitiesByTier.WithLabelValues(tier).Set(float64(n))
}
