package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/config"
	"github.com/hcengineering/huly-ai-agent/internal/memory"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	v[len(text)%4] = 1
	return v, nil
}

func (stubEmbedder) Dimensions() int { return 4 }

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, req memory.SummaryRequest) (memory.Summary, error) {
	return memory.Summary{Observations: []string{"summary of " + req.Name}}, nil
}

type stubExecutor struct {
	result task.Result
	err    error
	seen   []task.Task
}

func (s *stubExecutor) Execute(_ context.Context, t task.Task) (task.Result, error) {
	s.seen = append(s.seen, t)
	return s.result, s.err
}

func newTestAgent(t *testing.T, mode config.Mode, exec *stubExecutor) *Agent {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Mode = mode
	cfg.Database.Path = filepath.Join(t.TempDir(), "agent.db")
	cfg.Trigger.Enabled = false
	cfg.Metrics.Enabled = false

	a, err := New(context.Background(), cfg, exec, stubSummarizer{}, stubEmbedder{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestEventRouting(t *testing.T) {
	ctx := context.Background()

	assistant := newTestAgent(t, config.ModeAssistant, &stubExecutor{})
	dm, err := assistant.HandleDirectMessage(ctx, task.DirectMessageEvent{
		CardID: "c1", CardTitle: "Question", Content: "what's the status?",
	})
	require.NoError(t, err)
	assert.Equal(t, task.TypeAssistantChat, dm.Type)
	assert.Equal(t, "c1", dm.CardID)

	act, err := assistant.HandleActivity(ctx, task.ActivityEvent{
		CardID: "c2", Content: "new comment", Person: "ana",
	})
	require.NoError(t, err)
	assert.Equal(t, task.TypeAssistantActivity, act.Type)

	employee := newTestAgent(t, config.ModeEmployee, &stubExecutor{})
	follow, err := employee.HandleActivity(ctx, task.ActivityEvent{
		CardID: "c2", Content: "new comment", Person: "ana",
	})
	require.NoError(t, err)
	assert.Equal(t, task.TypeFollowChat, follow.Type)
}

func TestExternalResultAppendsCardMessage(t *testing.T) {
	ctx := context.Background()
	ext := &stubExecutor{result: task.Result{
		Output:     "ok",
		Complexity: 30,
		Message:    "Here is what I found.",
	}}
	a := newTestAgent(t, config.ModeAssistant, ext)

	created, err := a.HandleDirectMessage(ctx, task.DirectMessageEvent{CardID: "c1", Content: "look this up"})
	require.NoError(t, err)

	admitted, err := a.sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, admitted)

	router := &routingExecutor{agent: a, external: ext}
	res, err := router.Execute(ctx, *admitted)
	require.NoError(t, err)
	_, err = a.sched.Complete(ctx, created.ID, res)
	require.NoError(t, err)

	history, err := a.messages.History(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Here is what I found."}, history)
	require.Len(t, ext.seen, 1)
	assert.Equal(t, "look this up", ext.seen[0].Payload)
}

func TestSleepTaskRunsConsolidationInProcess(t *testing.T) {
	ctx := context.Background()
	ext := &stubExecutor{err: fmt.Errorf("external engine must not see system tasks")}
	a := newTestAgent(t, config.ModeAssistant, ext)

	// A twice-seen entity clears the consolidation importance bar.
	_, err := a.mem.UpsertEntity(ctx, "ana", "person", memory.TierEpisodic, []string{"works on platform"})
	require.NoError(t, err)
	_, err = a.mem.UpsertEntity(ctx, "ana", "person", memory.TierEpisodic, []string{"based in berlin"})
	require.NoError(t, err)

	router := &routingExecutor{agent: a, external: ext}
	res, err := router.Execute(ctx, task.Task{Type: task.TypeSleep})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "consolidated 1/1")
	assert.Empty(t, ext.seen, "sleep never reaches the external engine")

	sem, err := a.db.EntityByKey(ctx, "ana", "person", int(memory.TierSemantic))
	require.NoError(t, err)
	require.NotNil(t, sem)
	assert.Equal(t, []string{"summary of ana"}, sem.Observations)

	res, err = router.Execute(ctx, task.Task{Type: task.TypeMemoryMaintenance})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "rescored")
}

func TestSubmitSystemSkipsDuplicates(t *testing.T) {
	a := newTestAgent(t, config.ModeAssistant, &stubExecutor{})

	a.submitSystem(task.TypeSleep)
	a.submitSystem(task.TypeSleep)

	var sleeps int
	for _, live := range a.sched.Tasks() {
		if live.Type == task.TypeSleep {
			sleeps++
		}
	}
	assert.Equal(t, 1, sleeps)
}

func TestHandleTickResetsBudget(t *testing.T) {
	a := newTestAgent(t, config.ModeAssistant, &stubExecutor{})

	balance := a.ledger.Balance()
	require.Positive(t, balance)
	require.True(t, a.ledger.TryDebit(balance, true))
	assert.Zero(t, a.ledger.Balance())

	a.HandleTick(time.Now().Add(48 * time.Hour))
	assert.Equal(t, a.config.Ledger.DailyAllocation, a.ledger.Balance())
}
