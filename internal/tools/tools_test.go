package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/memory"
	"github.com/hcengineering/huly-ai-agent/internal/store"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

type fakeSchedules struct {
	next    int64
	entries map[int64]task.ScheduledTask
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{entries: make(map[int64]task.ScheduledTask)}
}

func (f *fakeSchedules) AddScheduled(_ context.Context, content, schedule string) (int64, error) {
	f.next++
	f.entries[f.next] = task.ScheduledTask{ID: f.next, Content: content, Cron: schedule}
	return f.next, nil
}

func (f *fakeSchedules) RemoveScheduled(_ context.Context, id int64) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeSchedules) Scheduled(_ context.Context) ([]task.ScheduledTask, error) {
	var out []task.ScheduledTask
	for id := int64(1); id <= f.next; id++ {
		if st, ok := f.entries[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeNotes struct {
	next  int64
	notes map[int64]string
}

func newFakeNotes() *fakeNotes { return &fakeNotes{notes: make(map[int64]string)} }

func (f *fakeNotes) AddNote(_ context.Context, content string) (int64, error) {
	f.next++
	f.notes[f.next] = content
	return f.next, nil
}

func (f *fakeNotes) DeleteNote(_ context.Context, id int64) error {
	if _, ok := f.notes[id]; !ok {
		return fmt.Errorf("note not found: %d", id)
	}
	delete(f.notes, id)
	return nil
}

func (f *fakeNotes) Notes(_ context.Context) ([]store.Note, error) {
	var out []store.Note
	for id := int64(1); id <= f.next; id++ {
		if content, ok := f.notes[id]; ok {
			out = append(out, store.Note{ID: id, Content: content})
		}
	}
	return out, nil
}

type fakeMemory struct {
	next     int64
	entities map[int64]memory.Entity
	accesses map[int64]int
	edges    [][2]int64
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		entities: make(map[int64]memory.Entity),
		accesses: make(map[int64]int),
	}
}

func (f *fakeMemory) UpsertEntity(_ context.Context, name, category string, tier memory.Tier, observations []string) (int64, error) {
	f.next++
	f.entities[f.next] = memory.Entity{
		ID: f.next, Name: name, Category: category, Tier: tier, Observations: observations,
	}
	return f.next, nil
}

func (f *fakeMemory) SearchText(_ context.Context, query string, k int, tier memory.Tier) ([]memory.SearchResult, error) {
	var out []memory.SearchResult
	for id := int64(1); id <= f.next && len(out) < k; id++ {
		e, ok := f.entities[id]
		if ok && e.Tier == tier {
			out = append(out, memory.SearchResult{Entity: e})
		}
	}
	return out, nil
}

func (f *fakeMemory) RecentEntities(_ context.Context, tier memory.Tier, limit int) ([]memory.Entity, error) {
	var out []memory.Entity
	for id := f.next; id >= 1 && len(out) < limit; id-- {
		if e, ok := f.entities[id]; ok && e.Tier == tier {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeMemory) AddRelation(_ context.Context, fromID, toID int64) error {
	if _, ok := f.entities[fromID]; !ok {
		return fmt.Errorf("entity %d does not exist", fromID)
	}
	if _, ok := f.entities[toID]; !ok {
		return fmt.Errorf("entity %d does not exist", toID)
	}
	f.edges = append(f.edges, [2]int64{fromID, toID})
	return nil
}

func (f *fakeMemory) RecordAccess(_ context.Context, id int64) error {
	f.accesses[id]++
	return nil
}

func (f *fakeMemory) RelationNames(_ context.Context, id int64) ([]string, error) {
	var out []string
	for _, e := range f.edges {
		if e[0] == id {
			out = append(out, f.entities[e[1]].Name)
		}
		if e[1] == id {
			out = append(out, f.entities[e[0]].Name)
		}
	}
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSchedules, *fakeNotes, *fakeMemory) {
	t.Helper()
	r := NewRegistry()
	schedules, notes, mem := newFakeSchedules(), newFakeNotes(), newFakeMemory()
	require.NoError(t, RegisterBuiltins(r, schedules, notes, mem))
	return r, schedules, notes, mem
}

func exec(t *testing.T, r *Registry, name string, args map[string]any) *Result {
	t.Helper()
	res, err := r.Execute(context.Background(), Call{ID: "call-1", Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestRegistry(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	defs := r.Definitions()
	require.Len(t, defs, 10)
	assert.Equal(t, "memory_add_relation", defs[0].Name)

	res := exec(t, r, "no_such_tool", nil)
	assert.Error(t, res.Error)

	// A call without an id gets one assigned.
	res, err := r.Execute(context.Background(), Call{Name: "notes_list"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CallID)

	assert.Error(t, r.Register(NewListNotes(newFakeNotes())), "duplicate registration must fail")
}

func TestScheduleTools(t *testing.T) {
	r, schedules, _, _ := newTestRegistry(t)

	res := exec(t, r, "task_add_scheduled", map[string]any{"content": "daily review", "cron": "0 0 9 * * *"})
	require.NoError(t, res.Error)
	assert.Len(t, schedules.entries, 1)

	res = exec(t, r, "task_add_scheduled", map[string]any{"content": "daily review"})
	assert.Error(t, res.Error)

	res = exec(t, r, "task_list_scheduled", nil)
	require.NoError(t, res.Error)
	assert.Contains(t, res.Content, "daily review")

	res = exec(t, r, "task_delete_scheduled", map[string]any{"id": float64(1)})
	require.NoError(t, res.Error)
	assert.Empty(t, schedules.entries)
}

func TestNoteTools(t *testing.T) {
	r, _, notes, _ := newTestRegistry(t)

	res := exec(t, r, "notes_add", map[string]any{"content": "waiting on deploy"})
	require.NoError(t, res.Error)
	res = exec(t, r, "notes_add", map[string]any{"content": "   "})
	assert.Error(t, res.Error)

	res = exec(t, r, "notes_list", nil)
	require.NoError(t, res.Error)
	assert.Contains(t, res.Content, "waiting on deploy")

	res = exec(t, r, "notes_delete", map[string]any{"id": float64(1)})
	require.NoError(t, res.Error)
	assert.Empty(t, notes.notes)

	res = exec(t, r, "notes_delete", map[string]any{"id": float64(1)})
	assert.Error(t, res.Error)
}

func TestMemoryTools(t *testing.T) {
	r, _, _, mem := newTestRegistry(t)

	res := exec(t, r, "memory_upsert", map[string]any{
		"name": "ana", "category": "person",
		"observations": []any{"leads the platform team", "  "},
	})
	require.NoError(t, res.Error)
	require.Len(t, mem.entities, 1)
	assert.Equal(t, []string{"leads the platform team"}, mem.entities[1].Observations)

	res = exec(t, r, "memory_upsert", map[string]any{
		"name": "ana", "category": "person", "observations": []any{},
	})
	assert.Error(t, res.Error)

	_, err := mem.UpsertEntity(context.Background(), "platform", "topic", memory.TierEpisodic, []string{"being migrated"})
	require.NoError(t, err)

	res = exec(t, r, "memory_add_relation", map[string]any{"from_id": float64(1), "to_id": float64(2)})
	require.NoError(t, res.Error)
	res = exec(t, r, "memory_add_relation", map[string]any{"from_id": float64(1), "to_id": float64(99)})
	assert.Error(t, res.Error)

	res = exec(t, r, "memory_search", map[string]any{"query": "who runs platform?"})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Content, "ana")
	assert.Contains(t, res.Content, "- platform") // relation listed
	assert.Equal(t, 1, mem.accesses[1], "retrieval records an access")

	res = exec(t, r, "memory_search", map[string]any{"query": "anything", "tier": "semantic"})
	require.NoError(t, res.Error)
	assert.Equal(t, "No matching memories", res.Content)

	res = exec(t, r, "memory_search", map[string]any{"query": "x", "tier": "astral"})
	assert.Error(t, res.Error)
	res = exec(t, r, "memory_search", map[string]any{"query": "x", "limit": float64(0)})
	assert.Error(t, res.Error)
}

func TestMemoryRecentTool(t *testing.T) {
	r, _, _, mem := newTestRegistry(t)

	for _, name := range []string{"ana", "platform", "berlin"} {
		_, err := mem.UpsertEntity(context.Background(), name, "topic", memory.TierEpisodic, []string{"seen"})
		require.NoError(t, err)
	}

	res := exec(t, r, "memory_recent", map[string]any{"limit": float64(2)})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Content, "berlin")
	assert.Contains(t, res.Content, "platform")
	assert.NotContains(t, res.Content, "ana", "limit bounds the listing")

	res = exec(t, r, "memory_recent", map[string]any{"tier": "semantic"})
	require.NoError(t, res.Error)
	assert.Equal(t, "No memories yet", res.Content)

	res = exec(t, r, "memory_recent", map[string]any{"limit": float64(0)})
	assert.Error(t, res.Error)
}
