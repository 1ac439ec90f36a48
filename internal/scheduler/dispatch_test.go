package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// countingExecutor tallies executions per task id so a test can prove
// concurrent workers never claim the same task twice.
type countingExecutor struct {
	mu    sync.Mutex
	runs  map[int64]int
	delay time.Duration
}

func (e *countingExecutor) Execute(ctx context.Context, t task.Task) (task.Result, error) {
	e.mu.Lock()
	e.runs[t.ID]++
	e.mu.Unlock()
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
	return task.Result{Complexity: task.UnknownComplexity}, nil
}

// stallingExecutor never finishes on its own; it only returns when the
// execution context expires.
type stallingExecutor struct{}

func (stallingExecutor) Execute(ctx context.Context, _ task.Task) (task.Result, error) {
	<-ctx.Done()
	return task.Result{}, ctx.Err()
}

func TestDispatcherClaimsEachTaskOnce(t *testing.T) {
	f := newFixture(t, 1000, 0)
	f.sched.clock = time.Now
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 8; i++ {
		created, err := f.sched.Submit(ctx, task.Draft{
			Type: task.TypeAssistantTask, Payload: fmt.Sprintf("job %d", i), Complexity: 10,
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	exec := &countingExecutor{runs: make(map[int64]int), delay: 5 * time.Millisecond}
	d := NewDispatcher(f.sched, exec, DispatcherConfig{
		Workers: 4, TaskTimeout: time.Second, PollInterval: 2 * time.Millisecond,
	}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	require.Eventually(t, func() bool { return len(f.sched.Tasks()) == 0 },
		5*time.Second, 10*time.Millisecond, "workers drain the queue")
	cancel()
	require.NoError(t, <-done)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, exec.runs[id], "task %d claimed exactly once", id)
	}
}

func TestDispatcherTimeoutRetriesAsTransient(t *testing.T) {
	f := newFixture(t, 1000, 0)
	f.sched.clock = time.Now
	ctx := context.Background()

	created, err := f.sched.Submit(ctx, task.Draft{Type: task.TypeAssistantTask, Complexity: 10})
	require.NoError(t, err)

	d := NewDispatcher(f.sched, stallingExecutor{}, DispatcherConfig{
		Workers: 1, TaskTimeout: 20 * time.Millisecond, PollInterval: 2 * time.Millisecond,
	}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	// The overrun must come back as a pending retry, not a terminal
	// failure; the backoff window keeps it parked until we cancel.
	require.Eventually(t, func() bool {
		tasks := f.sched.Tasks()
		return len(tasks) == 1 && tasks[0].State == task.StatePending && tasks[0].RetryCount >= 1
	}, 5*time.Second, 10*time.Millisecond, "overrun requeues for retry")
	cancel()
	require.NoError(t, <-done)

	tasks := f.sched.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)
	assert.Contains(t, tasks[0].LastError, "execution exceeded")
}
