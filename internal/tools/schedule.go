package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// ScheduleService is the trigger engine surface the schedule tools use.
type ScheduleService interface {
	AddScheduled(ctx context.Context, content, schedule string) (int64, error)
	RemoveScheduled(ctx context.Context, id int64) error
	Scheduled(ctx context.Context) ([]task.ScheduledTask, error)
}

type addScheduled struct {
	service ScheduleService
}

// NewAddScheduled constructs the tool that registers a cron-driven task.
func NewAddScheduled(service ScheduleService) Tool {
	return &addScheduled{service: service}
}

func (t *addScheduled) Definition() Definition {
	return Definition{
		Name:        "task_add_scheduled",
		Description: "Schedule a recurring task. The cron expression has six fields including seconds, e.g. \"0 0 9 * * *\" for 09:00 daily.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"content": {Type: "string", Description: "What to do each time the schedule fires."},
				"cron":    {Type: "string", Description: "Six-field cron expression with seconds."},
			},
			Required: []string{"content", "cron"},
		},
	}
}

func (t *addScheduled) Execute(ctx context.Context, call Call) (*Result, error) {
	content, err := stringArg(call.Arguments, "content")
	if err != nil {
		return failure(call, err)
	}
	schedule, err := stringArg(call.Arguments, "cron")
	if err != nil {
		return failure(call, err)
	}
	id, err := t.service.AddScheduled(ctx, content, schedule)
	if err != nil {
		return failure(call, err)
	}
	return success(call, "Scheduled task %d registered (%s)", id, schedule)
}

type deleteScheduled struct {
	service ScheduleService
}

// NewDeleteScheduled constructs the tool that removes a scheduled task.
func NewDeleteScheduled(service ScheduleService) Tool {
	return &deleteScheduled{service: service}
}

func (t *deleteScheduled) Definition() Definition {
	return Definition{
		Name:        "task_delete_scheduled",
		Description: "Remove a scheduled task by id. Already-queued instances are unaffected.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"id": {Type: "integer", Description: "Scheduled task id."},
			},
			Required: []string{"id"},
		},
	}
}

func (t *deleteScheduled) Execute(ctx context.Context, call Call) (*Result, error) {
	id, err := intArg(call.Arguments, "id")
	if err != nil {
		return failure(call, err)
	}
	if err := t.service.RemoveScheduled(ctx, id); err != nil {
		return failure(call, err)
	}
	return success(call, "Scheduled task %d removed", id)
}

type listScheduled struct {
	service ScheduleService
}

// NewListScheduled constructs the tool that lists scheduled tasks.
func NewListScheduled(service ScheduleService) Tool {
	return &listScheduled{service: service}
}

func (t *listScheduled) Definition() Definition {
	return Definition{
		Name:        "task_list_scheduled",
		Description: "List the registered scheduled tasks.",
		Parameters:  ParameterSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *listScheduled) Execute(ctx context.Context, call Call) (*Result, error) {
	scheduled, err := t.service.Scheduled(ctx)
	if err != nil {
		return failure(call, err)
	}
	if len(scheduled) == 0 {
		return success(call, "No scheduled tasks")
	}
	var b strings.Builder
	for _, st := range scheduled {
		fmt.Fprintf(&b, "%d: [%s] %s\n", st.ID, st.Cron, st.Content)
	}
	return success(call, "%s", strings.TrimRight(b.String(), "\n"))
}
