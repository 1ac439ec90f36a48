package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.TaskSubmitted("assistant_chat")
	m.TaskCompleted("assistant_chat")
	m.TaskFailed("sleep")
	m.TaskRetried("sleep")
	m.SetQueueDepth(1, 2)
	m.SetLedgerBalance(100)
	m.DebitRefused()
	m.ConsolidationResult("ok", 3)
	m.SetEntities("episodic", 5)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.TaskSubmitted("assistant_chat")
	m.SetLedgerBalance(420)
	m.SetQueueDepth(3, 1)
	m.ConsolidationResult("failed", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `agent_tasks_submitted_total{type="assistant_chat"} 1`)
	assert.Contains(t, body, "agent_ledger_balance 420")
	assert.Contains(t, body, `agent_queue_depth{state="pending"} 3`)
	assert.Contains(t, body, `agent_memory_consolidations_total{result="failed"} 2`)
}
