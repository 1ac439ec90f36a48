// Package scheduler admits, orders, and tracks agent tasks. Admission is
// gated on the resource ledger and on storage health; tasks bound to the
// same conversation card run strictly in submission order.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/ledger"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/observability"
	"github.com/hcengineering/huly-ai-agent/internal/store"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// Config holds scheduler configuration.
type Config struct {
	// MaxRetries bounds transient-failure retries per task.
	MaxRetries int
	// Backoff shapes the retry delay.
	Backoff errs.BackoffConfig
	// Metrics records admission and retry counters. Nil disables them.
	Metrics *observability.Metrics
}

// DefaultConfig matches production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Backoff:    errs.DefaultBackoffConfig(),
	}
}

// Scheduler owns the task queue. All mutations go through it and are
// written through to the store, so a restart resumes from durable state.
type Scheduler struct {
	db     *store.Store
	ledger *ledger.Ledger
	cost   *CostModel
	config Config
	logger logging.Logger
	clock  func() time.Time

	mu    sync.Mutex
	tasks map[int64]*task.Task // non-terminal tasks; history lives in the store
}

// New loads durable task state and returns a ready scheduler. Tasks left
// running by a crash are requeued as pending.
func New(ctx context.Context, db *store.Store, led *ledger.Ledger, cost *CostModel, cfg Config, logger logging.Logger) (*Scheduler, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == (errs.BackoffConfig{}) {
		cfg.Backoff = errs.DefaultBackoffConfig()
	}
	s := &Scheduler{
		db:     db,
		ledger: led,
		cost:   cost,
		config: cfg,
		logger: logging.OrNop(logger),
		clock:  time.Now,
		tasks:  make(map[int64]*task.Task),
	}

	pending, err := db.TasksByState(ctx, task.StatePending)
	if err != nil {
		return nil, fmt.Errorf("load pending tasks: %w", err)
	}
	for i := range pending {
		t := pending[i]
		s.tasks[t.ID] = &t
	}

	running, err := db.TasksByState(ctx, task.StateRunning)
	if err != nil {
		return nil, fmt.Errorf("load running tasks: %w", err)
	}
	for i := range running {
		t := running[i]
		t.State = task.StatePending
		t.LastError = "interrupted by restart"
		t.UpdatedAt = s.clock()
		if err := db.UpdateTask(ctx, &t); err != nil {
			return nil, fmt.Errorf("requeue interrupted task %d: %w", t.ID, err)
		}
		// The interrupted run spent nothing useful; give the estimate
		// back so re-admission debits it again.
		led.Credit(t.CostEstimate)
		s.tasks[t.ID] = &t
	}
	if len(running) > 0 {
		s.logger.Info("requeued %d interrupted tasks", len(running))
	}
	return s, nil
}

// Submit validates a draft, prices it, and enqueues it as pending.
func (s *Scheduler) Submit(ctx context.Context, d task.Draft) (*task.Task, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := s.clock()
	t := &task.Task{
		Type:         d.Type,
		State:        task.StatePending,
		CardID:       d.CardID,
		CardTitle:    d.CardTitle,
		Payload:      d.Payload,
		Priority:     d.Type.Priority(),
		Complexity:   d.Complexity,
		CostEstimate: s.cost.Estimate(d.Type, d.Complexity),
		OriginID:     d.OriginID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.db.InsertTask(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	s.tasks[id] = t
	s.logger.Debug("task %d submitted: %s cost=%d card=%q", id, t.Type, t.CostEstimate, t.CardID)

	out := *t
	return &out, nil
}

// Next admits the highest-priority runnable task, debiting its cost
// estimate, and returns it in the running state. It returns (nil, nil)
// when nothing is admissible right now. Admission is refused outright
// while the store is unreachable, since task state could not be
// persisted.
func (s *Scheduler) Next(ctx context.Context) (*task.Task, error) {
	if err := s.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("admission paused: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, t := range s.admissibleLocked(now) {
		if !s.ledger.TryDebit(t.CostEstimate, t.Type.IsSystem()) {
			s.config.Metrics.DebitRefused()
			continue
		}

		t.State = task.StateRunning
		t.UpdatedAt = now
		if err := s.db.UpdateTask(ctx, t); err != nil {
			s.ledger.Credit(t.CostEstimate)
			t.State = task.StatePending
			return nil, err
		}
		s.logger.Debug("task %d admitted: %s cost=%d", t.ID, t.Type, t.CostEstimate)
		out := *t
		return &out, nil
	}
	return nil, nil
}

// admissibleLocked returns pending tasks eligible for admission, best
// first: backoff elapsed and, for card-bound tasks, no earlier live task
// on the same card.
func (s *Scheduler) admissibleLocked(now time.Time) []*task.Task {
	earliest := make(map[string]*task.Task)
	for _, t := range s.tasks {
		if t.CardID == "" {
			continue
		}
		if cur, ok := earliest[t.CardID]; !ok || before(t, cur) {
			earliest[t.CardID] = t
		}
	}

	var out []*task.Task
	for _, t := range s.tasks {
		if t.State != task.StatePending {
			continue
		}
		if !t.NotBefore.IsZero() && t.NotBefore.After(now) {
			continue
		}
		if t.CardID != "" && earliest[t.CardID] != t {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return before(out[i], out[j])
	})
	return out
}

func before(a, b *task.Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Complete moves a running task to completed, feeding the reported
// complexity back into cost estimation, and submits any follow-up
// drafts. The spawned follow-up tasks are returned.
func (s *Scheduler) Complete(ctx context.Context, id int64, res task.Result) ([]*task.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.State != task.StateRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %d is not running", id)
	}

	t.State = task.StateCompleted
	if res.Complexity != task.UnknownComplexity {
		t.Complexity = res.Complexity
	}
	t.UpdatedAt = s.clock()
	if err := s.db.UpdateTask(ctx, t); err != nil {
		t.State = task.StateRunning
		s.mu.Unlock()
		return nil, err
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	s.cost.Observe(t.Type, res.Complexity)
	s.logger.Info("task %d completed: %s", id, t.Type)

	var spawned []*task.Task
	for _, d := range res.FollowUps {
		ft, err := s.Submit(ctx, d)
		if err != nil {
			s.logger.Warn("follow-up of task %d rejected: %v", id, err)
			continue
		}
		spawned = append(spawned, ft)
	}
	return spawned, nil
}

// Fail records a task failure. Transient failures requeue the task with
// exponential backoff until retries are exhausted; anything else is
// terminal.
func (s *Scheduler) Fail(ctx context.Context, id int64, taskErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.State != task.StateRunning {
		return fmt.Errorf("task %d is not running", id)
	}

	now := s.clock()
	t.LastError = taskErr.Error()
	t.UpdatedAt = now

	if errs.IsTransient(taskErr) && t.RetryCount < s.config.MaxRetries {
		t.RetryCount++
		t.State = task.StatePending
		t.NotBefore = now.Add(s.config.Backoff.Delay(t.RetryCount))
		if err := s.db.UpdateTask(ctx, t); err != nil {
			return err
		}
		// The estimate was not productively spent; the retry debits again
		// at re-admission.
		s.ledger.Credit(t.CostEstimate)
		s.config.Metrics.TaskRetried(string(t.Type))
		s.logger.Warn("task %d retry %d/%d after %v: %v",
			id, t.RetryCount, s.config.MaxRetries, t.NotBefore.Sub(now), taskErr)
		return nil
	}

	t.State = task.StateFailed
	t.NotBefore = time.Time{}
	if err := s.db.UpdateTask(ctx, t); err != nil {
		return err
	}
	delete(s.tasks, id)
	s.config.Metrics.TaskFailed(string(t.Type))
	s.logger.Warn("task %d failed: %v", id, taskErr)
	return nil
}

// Cancel fails a pending task without running it. Running and terminal
// tasks cannot be canceled. No refund applies: cost is debited at
// admission, which a canceled task never reached.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.State != task.StatePending {
		return fmt.Errorf("task %d is not pending", id)
	}
	t.State = task.StateFailed
	t.LastError = "canceled"
	t.UpdatedAt = s.clock()
	if err := s.db.UpdateTask(ctx, t); err != nil {
		return err
	}
	delete(s.tasks, id)
	return nil
}

// HasActiveOrigin reports whether a live task spawned by the given
// scheduled task exists. The trigger engine uses it to skip firings
// while the previous instance is still in flight.
func (s *Scheduler) HasActiveOrigin(originID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.OriginID == originID {
			return true
		}
	}
	return false
}

// Counts returns the number of pending and running tasks.
func (s *Scheduler) Counts() (pending, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		switch t.State {
		case task.StatePending:
			pending++
		case task.StateRunning:
			running++
		}
	}
	return pending, running
}

// Tasks returns a snapshot of live tasks ordered by id.
func (s *Scheduler) Tasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpireTerminal drops terminal task history older than the cutoff.
func (s *Scheduler) ExpireTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.db.DeleteTerminalTasksBefore(ctx, cutoff)
}
