// Package task defines the typed task model shared by the scheduler, the
// trigger engine, and the durable store.
package task

import (
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
)

// Type identifies what kind of work a task carries.
type Type string

const (
	// TypeFollowChat follows channel activity in employee mode.
	TypeFollowChat Type = "follow_chat"
	// TypeAssistantChat answers a direct message in assistant mode.
	TypeAssistantChat Type = "assistant_chat"
	// TypeAssistantActivity reacts to a mention or channel activity in
	// assistant mode.
	TypeAssistantActivity Type = "assistant_activity"
	// TypeAssistantTask runs scheduled or self-assigned background work.
	TypeAssistantTask Type = "assistant_task"
	// TypeSleep is the system task that consolidates episodic memory.
	TypeSleep Type = "sleep"
	// TypeMemoryMaintenance is the system task that recomputes importance
	// and prunes decayed entities.
	TypeMemoryMaintenance Type = "memory_maintenance"
)

var validTypes = map[Type]bool{
	TypeFollowChat:        true,
	TypeAssistantChat:     true,
	TypeAssistantActivity: true,
	TypeAssistantTask:     true,
	TypeSleep:             true,
	TypeMemoryMaintenance: true,
}

// IsValid reports whether t is one of the recognized task types.
func (t Type) IsValid() bool { return validTypes[t] }

// RequiresCard reports whether tasks of this type are bound to a
// conversation card and therefore processed in submission order per card.
func (t Type) RequiresCard() bool {
	switch t {
	case TypeFollowChat, TypeAssistantChat, TypeAssistantActivity:
		return true
	default:
		return false
	}
}

// IsSystem reports whether the type is a housekeeping task allowed to draw
// from the ledger's reserved floor.
func (t Type) IsSystem() bool {
	return t == TypeSleep || t == TypeMemoryMaintenance
}

// PriorityClass orders tasks for admission. Lower values are admitted first.
type PriorityClass int

const (
	// PriorityDirect: direct messages.
	PriorityDirect PriorityClass = iota
	// PriorityActivity: mentions and followed channel activity.
	PriorityActivity
	// PriorityBackground: scheduled and self-assigned work.
	PriorityBackground
	// PrioritySystem: sleep and memory maintenance.
	PrioritySystem
)

// Priority returns the admission class for the type.
func (t Type) Priority() PriorityClass {
	switch t {
	case TypeAssistantChat:
		return PriorityDirect
	case TypeAssistantActivity, TypeFollowChat:
		return PriorityActivity
	case TypeAssistantTask:
		return PriorityBackground
	default:
		return PrioritySystem
	}
}

// State is the lifecycle state of a task.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UnknownComplexity marks a draft with no complexity signal; the cost model
// falls back to the per-type default.
const UnknownComplexity = -1

// Task is a unit of agent work tracked by the scheduler. Tasks are mutated
// only by the scheduler and retained as history once terminal.
type Task struct {
	ID           int64
	Type         Type
	State        State
	CardID       string
	CardTitle    string
	Payload      string
	Priority     PriorityClass
	Complexity   int // 0-100 signal, UnknownComplexity when absent
	CostEstimate int64
	OriginID     int64 // scheduled task that spawned this instance, 0 if none
	RetryCount   int
	NotBefore    time.Time // earliest re-admission after a transient failure
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Draft is a task submission before validation and id assignment.
type Draft struct {
	Type       Type
	CardID     string
	CardTitle  string
	Payload    string
	Complexity int // 0-100, UnknownComplexity when the submitter has no signal
	OriginID   int64
}

// Validate checks type/card consistency per the task model invariant:
// card-bound types require a card id, all others must not carry one.
func (d Draft) Validate() error {
	if !d.Type.IsValid() {
		return errs.NewValidation("type", "unknown task type %q", d.Type)
	}
	if d.Type.RequiresCard() && d.CardID == "" {
		return errs.NewValidation("card_id", "%s task requires a card_id", d.Type)
	}
	if !d.Type.RequiresCard() && d.CardID != "" {
		return errs.NewValidation("card_id", "%s task must not carry a card_id", d.Type)
	}
	if d.Complexity != UnknownComplexity && (d.Complexity < 0 || d.Complexity > 100) {
		return errs.NewValidation("complexity", "complexity %d outside 0-100", d.Complexity)
	}
	return nil
}

// Result is what the external executor reports for a finished task.
type Result struct {
	Output string
	// Complexity is the executor's 0-100 effort report, fed back into cost
	// estimation for future tasks of the same type. UnknownComplexity when
	// the executor reports nothing.
	Complexity int
	// Message, when non-empty, is appended to the card's assistant message
	// buffer as the completed turn.
	Message string
	// FollowUps are submitted as new tasks by the scheduler's completion
	// path. They are queue insertions, never nested executions.
	FollowUps []Draft
}

// ScheduledTask is a cron-driven task template. One ScheduledTask may
// produce many Task instances over time.
type ScheduledTask struct {
	ID        int64
	Content   string
	Cron      string
	CreatedAt time.Time
}
