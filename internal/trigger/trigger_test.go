package trigger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/store"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	drafts  []task.Draft
	active  map[int64]bool
	nextID  int64
}

func (r *recordingSubmitter) Submit(_ context.Context, d task.Draft) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
	r.nextID++
	return &task.Task{ID: r.nextID, Type: d.Type, Payload: d.Payload, OriginID: d.OriginID}, nil
}

func (r *recordingSubmitter) HasActiveOrigin(originID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[originID]
}

func (r *recordingSubmitter) submitted() []task.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]task.Draft, len(r.drafts))
	copy(out, r.drafts)
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recordingSubmitter) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sub := &recordingSubmitter{active: make(map[int64]bool)}
	return New(db, sub, cfg, nil), sub
}

func TestAddScheduledValidatesCron(t *testing.T) {
	e, _ := newTestEngine(t, Config{Enabled: true})
	ctx := context.Background()

	_, err := e.AddScheduled(ctx, "daily review", "not a schedule")
	assert.True(t, errs.IsValidation(err))
	_, err = e.AddScheduled(ctx, "   ", "0 * * * * *")
	assert.True(t, errs.IsValidation(err))

	id, err := e.AddScheduled(ctx, "daily review", "0 0 9 * * *")
	require.NoError(t, err)
	assert.Positive(t, id)

	scheduled, err := e.Scheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "daily review", scheduled[0].Content)
	assert.Equal(t, "0 0 9 * * *", scheduled[0].Cron)
}

func TestRemoveScheduled(t *testing.T) {
	e, _ := newTestEngine(t, Config{Enabled: true})
	ctx := context.Background()

	id, err := e.AddScheduled(ctx, "ping", "0 * * * * *")
	require.NoError(t, err)
	require.NoError(t, e.RemoveScheduled(ctx, id))

	scheduled, err := e.Scheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, scheduled)
	assert.Empty(t, e.entries)

	// Unknown ids are a no-op.
	require.NoError(t, e.RemoveScheduled(ctx, 9999))
}

func TestStartRegistersPersistedSchedules(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	_, err = db.AddScheduledTask(ctx, "review", "0 0 9 * * *")
	require.NoError(t, err)
	_, err = db.AddScheduledTask(ctx, "broken", "60 99 * *")
	require.NoError(t, err)

	sub := &recordingSubmitter{active: make(map[int64]bool)}
	e := New(db, sub, Config{Enabled: true}, nil)
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	// The valid schedule is registered, the unparseable one is skipped.
	assert.Len(t, e.entries, 1)
}

func TestFireSkipsWhileOriginActive(t *testing.T) {
	e, sub := newTestEngine(t, Config{Enabled: true})

	st := task.ScheduledTask{ID: 7, Content: "sync inbox", Cron: "0 * * * * *"}
	sub.active[7] = true
	e.fire(st)
	assert.Empty(t, sub.submitted(), "skip policy drops firings while the previous run is live")

	sub.mu.Lock()
	sub.active[7] = false
	sub.mu.Unlock()
	e.fire(st)

	drafts := sub.submitted()
	require.Len(t, drafts, 1)
	assert.Equal(t, task.TypeAssistantTask, drafts[0].Type)
	assert.Equal(t, "sync inbox", drafts[0].Payload)
	assert.Equal(t, int64(7), drafts[0].OriginID)
}

func TestFireQueuePolicySubmitsAnyway(t *testing.T) {
	e, sub := newTestEngine(t, Config{Enabled: true, ConcurrencyPolicy: "queue"})

	sub.active[7] = true
	e.fire(task.ScheduledTask{ID: 7, Content: "sync inbox", Cron: "0 * * * * *"})
	assert.Len(t, sub.submitted(), 1)
}

func TestPresenceTriggers(t *testing.T) {
	e, sub := newTestEngine(t, Config{Enabled: true})

	assert.True(t, errs.IsValidation(e.AddPresenceTrigger(PresenceTrigger{Content: "hi"})))
	assert.True(t, errs.IsValidation(e.AddPresenceTrigger(PresenceTrigger{Person: "ana"})))

	require.NoError(t, e.AddPresenceTrigger(PresenceTrigger{Person: "ana", Content: "morning briefing"}))
	require.NoError(t, e.AddPresenceTrigger(PresenceTrigger{Person: "ana", Content: "open tasks recap"}))

	assert.Zero(t, e.OnPresence("ana", false), "going offline must not fire")
	assert.Zero(t, e.OnPresence("bob", true))
	assert.Equal(t, 2, e.OnPresence("ana", true))

	drafts := sub.submitted()
	require.Len(t, drafts, 2)
	assert.Equal(t, "morning briefing", drafts[0].Payload)
	assert.Zero(t, drafts[0].OriginID)
}
