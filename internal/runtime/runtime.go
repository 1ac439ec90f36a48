// Package runtime assembles the agent: store, ledger, scheduler,
// memory, triggers, and tools, and routes workspace events into tasks.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hcengineering/huly-ai-agent/internal/config"
	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/ledger"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/memory"
	"github.com/hcengineering/huly-ai-agent/internal/observability"
	"github.com/hcengineering/huly-ai-agent/internal/scheduler"
	"github.com/hcengineering/huly-ai-agent/internal/store"
	"github.com/hcengineering/huly-ai-agent/internal/task"
	"github.com/hcengineering/huly-ai-agent/internal/tools"
	"github.com/hcengineering/huly-ai-agent/internal/trigger"
)

// Agent is the assembled runtime.
type Agent struct {
	config   *config.Config
	logger   logging.Logger
	metrics  *observability.Metrics
	db       *store.Store
	ledger   *ledger.Ledger
	sched    *scheduler.Scheduler
	dispatch *scheduler.Dispatcher
	messages *scheduler.MessageBuffer
	mem      *memory.Store
	consol   *memory.Consolidator
	reports  *memory.ReportWriter
	triggers *trigger.Engine
	registry *tools.Registry
	clock    func() time.Time
}

// New builds an agent from configuration. The executor runs ordinary
// tasks on the external engine; sleep and memory maintenance run
// in-process. A nil embedder is built from config.
func New(ctx context.Context, cfg *config.Config, exec scheduler.Executor, summarizer memory.Summarizer, embedder memory.Embedder, metrics *observability.Metrics, logger logging.Logger) (*Agent, error) {
	logger = logging.OrNop(logger)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &Agent{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		db:      db,
		clock:   time.Now,
	}

	balance, lastDay, err := db.Balance(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("restore balance: %w", err)
	}
	a.ledger = ledger.New(
		ledger.Config{DailyAllocation: cfg.Ledger.DailyAllocation, ReservedFloor: cfg.Ledger.ReservedFloor},
		balance, lastDay,
		func(bal int64, day time.Time) error { return db.SaveBalance(context.Background(), bal, day) },
		logger,
	)
	a.ledger.ResetIfNewDay(a.clock())

	curvePoints, err := cfg.ParseCostCurve()
	if err != nil {
		db.Close()
		return nil, err
	}
	curve := make([]scheduler.CostPoint, len(curvePoints))
	for i, p := range curvePoints {
		curve[i] = scheduler.CostPoint{Complexity: p.Complexity, Cost: p.Cost}
	}
	cost, err := scheduler.NewCostModel(curve)
	if err != nil {
		db.Close()
		return nil, err
	}

	backoff := errs.DefaultBackoffConfig()
	if cfg.Scheduler.RetryBaseDelay > 0 {
		backoff.BaseDelay = cfg.Scheduler.RetryBaseDelay
	}
	a.sched, err = scheduler.New(ctx, db, a.ledger, cost, scheduler.Config{
		MaxRetries: cfg.Scheduler.MaxRetries,
		Backoff:    backoff,
		Metrics:    metrics,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a.messages, err = scheduler.NewMessageBuffer(db, 256)
	if err != nil {
		db.Close()
		return nil, err
	}

	if embedder == nil {
		embedder, err = memory.NewEmbedder(memory.EmbedderConfig{
			Model:      cfg.Memory.Embedding.Model,
			APIKey:     cfg.Memory.Embedding.APIKey,
			BaseURL:    cfg.Memory.Embedding.BaseURL,
			Dimensions: cfg.Memory.Embedding.Dimensions,
			CacheSize:  cfg.Memory.Embedding.CacheSize,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	a.mem, err = memory.NewStore(db, embedder, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.consol = memory.NewConsolidator(a.mem, summarizer, memory.ConsolidationConfig{
		ImportanceThreshold: cfg.Memory.Consolidation.ImportanceThreshold,
		PageSize:            cfg.Memory.Consolidation.PageSize,
		MaxObservations:     cfg.Memory.Consolidation.MaxObservations,
		PruneEpisodic:       cfg.Memory.Consolidation.PruneEpisodic,
	}, logger)
	a.reports = memory.NewReportWriter(cfg.Memory.Consolidation.ReportDir)

	a.triggers = trigger.New(db, &meteredSubmitter{agent: a}, trigger.Config{
		Enabled:           cfg.Trigger.Enabled,
		ConcurrencyPolicy: cfg.Trigger.ConcurrencyPolicy,
		Spread:            cfg.Trigger.Spread,
	}, logger)

	a.registry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(a.registry, a.triggers, db, a.mem); err != nil {
		db.Close()
		return nil, err
	}

	a.dispatch = scheduler.NewDispatcher(a.sched, &routingExecutor{agent: a, external: exec}, scheduler.DispatcherConfig{
		Workers:      cfg.Scheduler.Workers,
		TaskTimeout:  cfg.Scheduler.TaskTimeout,
		PollInterval: cfg.Scheduler.PollInterval,
	}, logger)

	return a, nil
}

// Tools exposes the tool registry for the execution engine.
func (a *Agent) Tools() *tools.Registry { return a.registry }

// Messages exposes the per-card conversation buffer.
func (a *Agent) Messages() *scheduler.MessageBuffer { return a.messages }

// Scheduler exposes the task queue.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.sched }

// Memory exposes the memory store.
func (a *Agent) Memory() *memory.Store { return a.mem }

// Close releases the store.
func (a *Agent) Close() error {
	a.triggers.Stop()
	return a.db.Close()
}

// Run starts the trigger engine, system schedules, worker pool, tick
// loop, and the metrics endpoint, blocking until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.triggers.Start(ctx); err != nil {
		return err
	}
	defer a.triggers.Stop()

	if a.config.Trigger.Enabled {
		if err := a.registerSystemSchedules(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatch.Run(ctx) })
	g.Go(func() error { return a.tickLoop(ctx) })
	if a.config.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	a.logger.Info("agent running: mode=%s balance=%d", a.config.Mode, a.ledger.Balance())
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *Agent) registerSystemSchedules() error {
	if err := a.triggers.AddSystem(a.config.Trigger.SleepSchedule, func() {
		a.submitSystem(task.TypeSleep)
	}); err != nil {
		return fmt.Errorf("register sleep schedule: %w", err)
	}
	if err := a.triggers.AddSystem(a.config.Trigger.MaintenanceSchedule, func() {
		a.submitSystem(task.TypeMemoryMaintenance)
	}); err != nil {
		return fmt.Errorf("register maintenance schedule: %w", err)
	}
	return nil
}

// submitSystem enqueues a system task unless one is already live.
func (a *Agent) submitSystem(t task.Type) {
	for _, live := range a.sched.Tasks() {
		if live.Type == t {
			a.logger.Debug("system task %s already queued, skipping", t)
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := a.submit(ctx, task.Draft{Type: t, Complexity: task.UnknownComplexity}); err != nil {
		a.logger.Warn("submit %s: %v", t, err)
	}
}

func (a *Agent) submit(ctx context.Context, d task.Draft) (*task.Task, error) {
	t, err := a.sched.Submit(ctx, d)
	if err != nil {
		return nil, err
	}
	a.metrics.TaskSubmitted(string(t.Type))
	return t, nil
}

// tickLoop refreshes the daily budget and the queue gauges.
func (a *Agent) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.HandleTick(now)
		}
	}
}

func (a *Agent) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.config.Metrics.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// HandleDirectMessage turns a direct message into a chat task on its
// card.
func (a *Agent) HandleDirectMessage(ctx context.Context, ev task.DirectMessageEvent) (*task.Task, error) {
	return a.submit(ctx, task.Draft{
		Type:       task.TypeAssistantChat,
		CardID:     ev.CardID,
		CardTitle:  ev.CardTitle,
		Payload:    ev.Content,
		Complexity: task.UnknownComplexity,
	})
}

// HandleActivity turns channel activity into a task. Employee mode
// follows the channel; assistant mode reacts only as activity.
func (a *Agent) HandleActivity(ctx context.Context, ev task.ActivityEvent) (*task.Task, error) {
	t := task.TypeAssistantActivity
	if a.config.Mode == config.ModeEmployee {
		t = task.TypeFollowChat
	}
	return a.submit(ctx, task.Draft{
		Type:       t,
		CardID:     ev.CardID,
		CardTitle:  ev.CardTitle,
		Payload:    ev.Content,
		Complexity: task.UnknownComplexity,
	})
}

// HandlePresence feeds a presence change to the trigger engine.
func (a *Agent) HandlePresence(ev task.PresenceEvent) int {
	return a.triggers.OnPresence(ev.Person, ev.Online)
}

// HandleTick advances time-driven state: the daily budget reset and the
// metric gauges.
func (a *Agent) HandleTick(now time.Time) {
	if a.ledger.ResetIfNewDay(now) {
		a.logger.Info("daily budget reset: balance=%d", a.ledger.Balance())
	}
	a.metrics.SetLedgerBalance(a.ledger.Balance())
	pending, running := a.sched.Counts()
	a.metrics.SetQueueDepth(pending, running)
}

// meteredSubmitter lets the trigger engine submit through the agent's
// metric-counting path.
type meteredSubmitter struct {
	agent *Agent
}

func (m *meteredSubmitter) Submit(ctx context.Context, d task.Draft) (*task.Task, error) {
	return m.agent.submit(ctx, d)
}

func (m *meteredSubmitter) HasActiveOrigin(originID int64) bool {
	return m.agent.sched.HasActiveOrigin(originID)
}

// routingExecutor runs system tasks in-process and everything else on
// the external engine.
type routingExecutor struct {
	agent    *Agent
	external scheduler.Executor
}

func (r *routingExecutor) Execute(ctx context.Context, t task.Task) (task.Result, error) {
	a := r.agent
	switch t.Type {
	case task.TypeSleep:
		report, err := a.consol.Run(ctx)
		if err != nil {
			return task.Result{}, err
		}
		a.metrics.ConsolidationResult("consolidated", report.Consolidated)
		a.metrics.ConsolidationResult("failed", report.Failed)
		for _, tier := range []memory.Tier{memory.TierEpisodic, memory.TierSemantic} {
			if n, err := a.mem.Count(ctx, tier); err == nil {
				a.metrics.SetEntities(tier.String(), n)
			}
		}

		expired, err := a.sched.ExpireTerminal(ctx, a.clock().Add(-a.config.Scheduler.TaskRetention))
		if err != nil {
			return task.Result{}, err
		}
		if path, err := a.reports.Write(report, expired); err != nil {
			a.logger.Warn("write consolidation report: %v", err)
		} else if path != "" {
			a.logger.Info("consolidation report written: %s", path)
		}
		return task.Result{
			Output: fmt.Sprintf("consolidated %d/%d entities, expired %d tasks",
				report.Consolidated, report.Eligible, expired),
			Complexity: task.UnknownComplexity,
		}, nil

	case task.TypeMemoryMaintenance:
		report, err := a.consol.Maintain(ctx)
		if err != nil {
			return task.Result{}, err
		}
		return task.Result{
			Output:     fmt.Sprintf("rescored %d entities, deleted %d", report.Rescored, report.Deleted),
			Complexity: task.UnknownComplexity,
		}, nil

	default:
		res, err := r.external.Execute(ctx, t)
		if err != nil {
			// Terminal failures are counted where Fail decides the
			// task's fate; a transient error here may still be retried.
			return res, err
		}
		a.metrics.TaskCompleted(string(t.Type))
		if res.Message != "" && t.CardID != "" {
			if err := a.messages.Append(ctx, t.CardID, res.Message); err != nil {
				a.logger.Warn("append message for card %s: %v", t.CardID, err)
			}
		}
		return res, nil
	}
}
