package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// Executor runs one admitted task to completion. The production
// implementation bridges to the external execution engine; it never
// schedules nested work itself, follow-ups come back in the Result.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (task.Result, error)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent executions.
	Workers int
	// TaskTimeout bounds one execution; overruns fail as transient.
	TaskTimeout time.Duration
	// PollInterval is how often idle workers re-check for admissible work.
	PollInterval time.Duration
}

// DefaultDispatcherConfig matches production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      4,
		TaskTimeout:  10 * time.Minute,
		PollInterval: time.Second,
	}
}

// Dispatcher pulls admitted tasks from the scheduler and runs them on a
// bounded worker pool.
type Dispatcher struct {
	sched    *Scheduler
	executor Executor
	config   DispatcherConfig
	logger   logging.Logger
}

// NewDispatcher wires a dispatcher over the scheduler and executor.
func NewDispatcher(sched *Scheduler, executor Executor, cfg DispatcherConfig, logger logging.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Dispatcher{
		sched:    sched,
		executor: executor,
		config:   cfg,
		logger:   logging.OrNop(logger),
	}
}

// Run blocks until ctx is canceled, executing admissible tasks as they
// become available. Admission errors (storage outage) back the workers
// off without killing the pool.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.config.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.workerLoop(ctx, worker)
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for {
			t, err := d.sched.Next(ctx)
			if err != nil {
				d.logger.Warn("worker %d: %v", worker, err)
				break
			}
			if t == nil {
				break
			}
			d.runOne(ctx, t)
		}
	}
}

func (d *Dispatcher) runOne(ctx context.Context, t *task.Task) {
	execCtx, cancel := context.WithTimeout(ctx, d.config.TaskTimeout)
	res, err := d.executor.Execute(execCtx, *t)
	cancel()

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = errs.Transientf("execution exceeded %v: %v", d.config.TaskTimeout, err)
		}
		if failErr := d.sched.Fail(ctx, t.ID, err); failErr != nil {
			d.logger.Error("record failure for task %d: %v", t.ID, failErr)
		}
		return
	}

	if _, err := d.sched.Complete(ctx, t.ID, res); err != nil {
		d.logger.Error("record completion for task %d: %v", t.ID, err)
	}
}
