package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hcengineering/huly-ai-agent/internal/memory"
)

// MemoryService is the memory store surface the memory tools use.
type MemoryService interface {
	UpsertEntity(ctx context.Context, name, category string, tier memory.Tier, observations []string) (int64, error)
	SearchText(ctx context.Context, query string, k int, tier memory.Tier) ([]memory.SearchResult, error)
	RecentEntities(ctx context.Context, tier memory.Tier, limit int) ([]memory.Entity, error)
	AddRelation(ctx context.Context, fromID, toID int64) error
	RecordAccess(ctx context.Context, id int64) error
	RelationNames(ctx context.Context, id int64) ([]string, error)
}

func parseTier(args map[string]any) (memory.Tier, error) {
	raw, ok := args["tier"]
	if !ok {
		return memory.TierEpisodic, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("\"tier\" must be \"episodic\" or \"semantic\"")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "episodic", "":
		return memory.TierEpisodic, nil
	case "semantic":
		return memory.TierSemantic, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

type memoryUpsert struct {
	service MemoryService
}

// NewMemoryUpsert constructs the tool that records entity observations.
func NewMemoryUpsert(service MemoryService) Tool {
	return &memoryUpsert{service: service}
}

func (t *memoryUpsert) Definition() Definition {
	return Definition{
		Name:        "memory_upsert",
		Description: "Remember observations about an entity. Creates the entity if it is new, otherwise appends the novel observations.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"name":     {Type: "string", Description: "Entity name."},
				"category": {Type: "string", Description: "Entity category, e.g. person, topic, location, concept."},
				"observations": {
					Type:        "array",
					Description: "Observations to record.",
					Items:       &Property{Type: "string"},
				},
			},
			Required: []string{"name", "category", "observations"},
		},
	}
}

func (t *memoryUpsert) Execute(ctx context.Context, call Call) (*Result, error) {
	name, err := stringArg(call.Arguments, "name")
	if err != nil {
		return failure(call, err)
	}
	category, err := stringArg(call.Arguments, "category")
	if err != nil {
		return failure(call, err)
	}
	observations := stringArrayArg(call.Arguments, "observations")
	if len(observations) == 0 {
		return failure(call, fmt.Errorf("provide at least one observation"))
	}

	id, err := t.service.UpsertEntity(ctx, name, category, memory.TierEpisodic, observations)
	if err != nil {
		return failure(call, err)
	}
	return success(call, "Remembered %s (%d)", name, id)
}

type memorySearch struct {
	service MemoryService
}

// NewMemorySearch constructs the similarity search tool.
func NewMemorySearch(service MemoryService) Tool {
	return &memorySearch{service: service}
}

func (t *memorySearch) Definition() Definition {
	return Definition{
		Name:        "memory_search",
		Description: "Search memory by similarity. Returns the closest entities with their observations.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "What to look for."},
				"limit": {Type: "integer", Description: "Maximum results, default 5."},
				"tier":  {Type: "string", Description: "\"episodic\" (default) or \"semantic\"."},
			},
			Required: []string{"query"},
		},
	}
}

func (t *memorySearch) Execute(ctx context.Context, call Call) (*Result, error) {
	query, err := stringArg(call.Arguments, "query")
	if err != nil {
		return failure(call, err)
	}
	limit, err := optionalIntArg(call.Arguments, "limit", 5)
	if err != nil {
		return failure(call, err)
	}
	if limit <= 0 {
		return failure(call, fmt.Errorf("\"limit\" must be positive"))
	}
	tier, err := parseTier(call.Arguments)
	if err != nil {
		return failure(call, err)
	}

	results, err := t.service.SearchText(ctx, query, int(limit), tier)
	if err != nil {
		return failure(call, err)
	}
	if len(results) == 0 {
		return success(call, "No matching memories")
	}

	var b strings.Builder
	for _, r := range results {
		// Retrieval counts as an access for importance scoring.
		if err := t.service.RecordAccess(ctx, r.Entity.ID); err != nil {
			return failure(call, err)
		}
		relations, err := t.service.RelationNames(ctx, r.Entity.ID)
		if err != nil {
			return failure(call, err)
		}
		b.WriteString(r.Entity.Format(relations))
		b.WriteString("\n")
	}
	return success(call, "%s", strings.TrimRight(b.String(), "\n"))
}

type memoryRecent struct {
	service MemoryService
}

// NewMemoryRecent constructs the tool that lists the most relevant
// entities without needing a query.
func NewMemoryRecent(service MemoryService) Tool {
	return &memoryRecent{service: service}
}

func (t *memoryRecent) Definition() Definition {
	return Definition{
		Name:        "memory_recent",
		Description: "List the most important recently-updated memories, most relevant first. Useful for seeding context when there is nothing to search for yet.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"limit": {Type: "integer", Description: "Maximum results, default 5."},
				"tier":  {Type: "string", Description: "\"episodic\" (default) or \"semantic\"."},
			},
		},
	}
}

func (t *memoryRecent) Execute(ctx context.Context, call Call) (*Result, error) {
	limit, err := optionalIntArg(call.Arguments, "limit", 5)
	if err != nil {
		return failure(call, err)
	}
	if limit <= 0 {
		return failure(call, fmt.Errorf("\"limit\" must be positive"))
	}
	tier, err := parseTier(call.Arguments)
	if err != nil {
		return failure(call, err)
	}

	entities, err := t.service.RecentEntities(ctx, tier, int(limit))
	if err != nil {
		return failure(call, err)
	}
	if len(entities) == 0 {
		return success(call, "No memories yet")
	}

	var b strings.Builder
	for i := range entities {
		relations, err := t.service.RelationNames(ctx, entities[i].ID)
		if err != nil {
			return failure(call, err)
		}
		b.WriteString(entities[i].Format(relations))
		b.WriteString("\n")
	}
	return success(call, "%s", strings.TrimRight(b.String(), "\n"))
}

type memoryRelate struct {
	service MemoryService
}

// NewMemoryRelate constructs the tool that links two entities.
func NewMemoryRelate(service MemoryService) Tool {
	return &memoryRelate{service: service}
}

func (t *memoryRelate) Definition() Definition {
	return Definition{
		Name:        "memory_add_relation",
		Description: "Link two remembered entities. Links are untyped and directed.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"from_id": {Type: "integer", Description: "Source entity id."},
				"to_id":   {Type: "integer", Description: "Target entity id."},
			},
			Required: []string{"from_id", "to_id"},
		},
	}
}

func (t *memoryRelate) Execute(ctx context.Context, call Call) (*Result, error) {
	fromID, err := intArg(call.Arguments, "from_id")
	if err != nil {
		return failure(call, err)
	}
	toID, err := intArg(call.Arguments, "to_id")
	if err != nil {
		return failure(call, err)
	}
	if err := t.service.AddRelation(ctx, fromID, toID); err != nil {
		return failure(call, err)
	}
	return success(call, "Linked %d -> %d", fromID, toID)
}

// RegisterBuiltins wires every built-in tool into the registry.
func RegisterBuiltins(r *Registry, schedules ScheduleService, notes NoteService, mem MemoryService) error {
	all := []Tool{
		NewAddScheduled(schedules),
		NewDeleteScheduled(schedules),
		NewListScheduled(schedules),
		NewAddNote(notes),
		NewDeleteNote(notes),
		NewListNotes(notes),
		NewMemoryUpsert(mem),
		NewMemorySearch(mem),
		NewMemoryRecent(mem),
		NewMemoryRelate(mem),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
