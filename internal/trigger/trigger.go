// Package trigger turns time and presence signals into task
// submissions. Cron schedules use the six-field format with seconds,
// e.g. "0 * * * * *" for every minute.
package trigger

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/store"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// Submitter is the scheduler surface the engine needs.
type Submitter interface {
	Submit(ctx context.Context, d task.Draft) (*task.Task, error)
	HasActiveOrigin(originID int64) bool
}

// Config holds trigger engine configuration.
type Config struct {
	Enabled bool
	// ConcurrencyPolicy decides what a firing does while the previous
	// instance of the same scheduled task is still live: "skip" (default)
	// drops it, "queue" submits anyway.
	ConcurrencyPolicy string
	// Spread delays each firing by a random duration in [0, Spread) so
	// many co-scheduled triggers do not land on the queue at once.
	Spread time.Duration
}

// PresenceTrigger fires when a person comes online.
type PresenceTrigger struct {
	Person  string
	Content string
}

// Engine owns the cron runtime and the presence trigger table.
type Engine struct {
	cron      *cron.Cron
	db        *store.Store
	submitter Submitter
	config    Config
	logger    logging.Logger

	mu       sync.Mutex
	entries  map[int64]cron.EntryID // scheduled task id → cron entry
	presence map[string][]PresenceTrigger
	stopOnce sync.Once
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New creates a trigger engine. Call Start to load persisted schedules
// and begin firing.
func New(db *store.Store, submitter Submitter, cfg Config, logger logging.Logger) *Engine {
	logger = logging.OrNop(logger)
	policy := strings.ToLower(strings.TrimSpace(cfg.ConcurrencyPolicy))
	switch policy {
	case "", "skip", "queue":
	default:
		logger.Warn("trigger: unknown concurrency policy %q, defaulting to skip", policy)
		policy = "skip"
	}
	cfg.ConcurrencyPolicy = policy

	return &Engine{
		cron:      cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		db:        db,
		submitter: submitter,
		config:    cfg,
		logger:    logger,
		entries:   make(map[int64]cron.EntryID),
		presence:  make(map[string][]PresenceTrigger),
	}
}

// Start loads persisted scheduled tasks, registers them, and starts the
// cron runtime.
func (e *Engine) Start(ctx context.Context) error {
	if !e.config.Enabled {
		e.logger.Info("trigger engine disabled by config")
		return nil
	}

	scheduled, err := e.db.ScheduledTasks(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled tasks: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range scheduled {
		if err := e.registerLocked(st); err != nil {
			e.logger.Warn("trigger: skipping scheduled task %d with bad schedule %q: %v", st.ID, st.Cron, err)
		}
	}
	e.cron.Start()
	e.logger.Info("trigger engine started: %d schedules", len(e.entries))
	return nil
}

// Stop halts the cron runtime, waiting for in-flight firings.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		<-e.cron.Stop().Done()
	})
}

// AddScheduled validates and persists a new cron-driven task, then
// registers it for firing. Returns the scheduled task id.
func (e *Engine) AddScheduled(ctx context.Context, content, schedule string) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errs.NewValidation("content", "must not be empty")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return 0, errs.NewValidation("cron", "invalid schedule %q: %v", schedule, err)
	}

	id, err := e.db.AddScheduledTask(ctx, content, schedule)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.registerLocked(task.ScheduledTask{ID: id, Content: content, Cron: schedule})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveScheduled unregisters and deletes a scheduled task. Removing an
// unknown id is a no-op.
func (e *Engine) RemoveScheduled(ctx context.Context, id int64) error {
	if err := e.db.DeleteScheduledTask(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.entries[id]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, id)
	}
	return nil
}

// Scheduled lists the persisted cron-driven tasks.
func (e *Engine) Scheduled(ctx context.Context) ([]task.ScheduledTask, error) {
	return e.db.ScheduledTasks(ctx)
}

func (e *Engine) registerLocked(st task.ScheduledTask) error {
	entryID, err := e.cron.AddFunc(st.Cron, func() {
		e.fire(st)
	})
	if err != nil {
		return err
	}
	e.entries[st.ID] = entryID
	return nil
}

// fire submits one instance of a scheduled task, honoring the
// concurrency policy and the spread delay.
func (e *Engine) fire(st task.ScheduledTask) {
	if e.config.ConcurrencyPolicy != "queue" && e.submitter.HasActiveOrigin(st.ID) {
		e.logger.Debug("trigger: scheduled task %d still active, skipping firing", st.ID)
		return
	}
	if e.config.Spread > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(e.config.Spread))))
	}
	e.submit(task.Draft{
		Type:       task.TypeAssistantTask,
		Payload:    st.Content,
		Complexity: task.UnknownComplexity,
		OriginID:   st.ID,
	})
}

// AddSystem registers an unpersisted cron callback, used for the
// built-in sleep and maintenance schedules.
func (e *Engine) AddSystem(schedule string, fn func()) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return errs.NewValidation("cron", "invalid schedule %q: %v", schedule, err)
	}
	_, err := e.cron.AddFunc(schedule, fn)
	return err
}

// AddPresenceTrigger registers content to run when a person comes
// online.
func (e *Engine) AddPresenceTrigger(t PresenceTrigger) error {
	if t.Person == "" {
		return errs.NewValidation("person", "must not be empty")
	}
	if strings.TrimSpace(t.Content) == "" {
		return errs.NewValidation("content", "must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.presence[t.Person] = append(e.presence[t.Person], t)
	return nil
}

// OnPresence fires the triggers registered for a person. Only the
// offline→online edge fires; going offline is ignored.
func (e *Engine) OnPresence(person string, online bool) int {
	if !online {
		return 0
	}
	e.mu.Lock()
	triggers := make([]PresenceTrigger, len(e.presence[person]))
	copy(triggers, e.presence[person])
	e.mu.Unlock()

	for _, t := range triggers {
		e.submit(task.Draft{
			Type:       task.TypeAssistantTask,
			Payload:    t.Content,
			Complexity: task.UnknownComplexity,
		})
	}
	return len(triggers)
}

func (e *Engine) submit(d task.Draft) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.submitter.Submit(ctx, d); err != nil {
		e.logger.Warn("trigger: submit failed: %v", err)
	}
}
