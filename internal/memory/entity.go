// Package memory implements the agent's associative memory: an entity
// store with vector similarity search and the episodic→semantic
// consolidation pass that runs while the agent sleeps.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Tier separates raw, recent episodic memory from consolidated, durable
// semantic memory. It is a discriminant field, not a type hierarchy, so
// storage and search stay uniform over both tiers.
type Tier int

const (
	TierEpisodic Tier = 0
	TierSemantic Tier = 1
)

func (t Tier) String() string {
	if t == TierSemantic {
		return "semantic"
	}
	return "episodic"
}

// IsValid reports whether t is a known tier.
func (t Tier) IsValid() bool {
	return t == TierEpisodic || t == TierSemantic
}

// maxFormattedObservations caps how many observations appear in formatted
// retrieval output.
const maxFormattedObservations = 20

// Entity is a remembered thing: a person, project, topic, or concept,
// with the observations accumulated about it. (name, category) is the
// natural dedup key within a tier; observations carry no duplicates.
type Entity struct {
	ID           int64
	Name         string
	Category     string
	Tier         Tier
	Importance   float64
	AccessCount  int
	Observations []string
	// Consolidated marks episodic entities already folded into a semantic
	// entity. Consolidation passes skip them, which keeps re-runs
	// idempotent.
	Consolidated bool
	Embedding    []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Format renders the entity for inclusion in task context.
func (e *Entity) Format(relations []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\nType: %s\n\nCategory: %s\n\nImportance: %.2f\n", e.Name, e.Tier, e.Category, e.Importance)
	if len(relations) > 0 {
		b.WriteString("\nRelations:\n")
		for _, r := range relations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString("\nObservations:\n")
	for i, o := range e.Observations {
		if i >= maxFormattedObservations {
			break
		}
		fmt.Fprintf(&b, "- %s\n", o)
	}
	return b.String()
}

// embeddingText is the canonical text embedded for an entity.
func (e *Entity) embeddingText() string {
	return fmt.Sprintf("Entity name: %s\nEntity category: %s\nObservations:\n%s",
		e.Name, e.Category, strings.Join(e.Observations, "\n"))
}

// SearchResult pairs an entity with its distance from the query vector
// (cosine distance, lower is closer).
type SearchResult struct {
	Entity   Entity
	Distance float64
}

// appendNewObservations appends items from additions that are not already
// present in base, by exact string match, preserving order.
func appendNewObservations(base, additions []string) []string {
	seen := make(map[string]bool, len(base))
	for _, o := range base {
		seen[o] = true
	}
	out := base
	for _, o := range additions {
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}
