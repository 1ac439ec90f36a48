package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/store"
)

// Store is the memory service: sqlite is the source of truth for
// entities, observations and relations; an in-process chromem index per
// tier serves cosine similarity search. The index is rebuilt from sqlite
// on startup, so it never needs its own persistence.
type Store struct {
	db       *store.Store
	embedder Embedder
	logger   logging.Logger
	clock    func() time.Time

	mu          sync.Mutex
	collections map[Tier]*chromem.Collection
}

// NewStore opens the memory service over db and rebuilds the vector
// index from persisted embeddings.
func NewStore(db *store.Store, embedder Embedder, logger logging.Logger) (*Store, error) {
	s := &Store{
		db:          db,
		embedder:    embedder,
		logger:      logging.OrNop(logger),
		clock:       time.Now,
		collections: make(map[Tier]*chromem.Collection),
	}

	vdb := chromem.NewDB()
	for _, tier := range []Tier{TierEpisodic, TierSemantic} {
		col, err := vdb.GetOrCreateCollection("memory-"+tier.String(), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create %s collection: %w", tier, err)
		}
		s.collections[tier] = col
	}

	if err := s.reindex(context.Background()); err != nil {
		return nil, fmt.Errorf("rebuild vector index: %w", err)
	}
	return s, nil
}

// reindex loads every persisted entity into the per-tier collections.
func (s *Store) reindex(ctx context.Context) error {
	records, err := s.db.AllEntities(ctx)
	if err != nil {
		return err
	}
	indexed := 0
	for i := range records {
		rec := &records[i]
		if len(rec.Embedding) == 0 {
			continue
		}
		if err := s.indexRecord(ctx, rec); err != nil {
			return err
		}
		indexed++
	}
	s.logger.Info("memory index rebuilt: %d entities", indexed)
	return nil
}

func (s *Store) indexRecord(ctx context.Context, rec *store.EntityRecord) error {
	col, ok := s.collections[Tier(rec.Tier)]
	if !ok {
		return fmt.Errorf("unknown tier %d for entity %d", rec.Tier, rec.ID)
	}
	id := strconv.FormatInt(rec.ID, 10)
	// AddDocument does not replace; drop any stale copy first.
	_ = col.Delete(ctx, nil, nil, id)
	return col.AddDocument(ctx, chromem.Document{
		ID: id,
		Metadata: map[string]string{
			"name":     rec.Name,
			"category": rec.Category,
		},
		Embedding: rec.Embedding,
		Content:   rec.Name,
	})
}

func (s *Store) unindex(ctx context.Context, tier Tier, id int64) {
	if col, ok := s.collections[tier]; ok {
		_ = col.Delete(ctx, nil, nil, strconv.FormatInt(id, 10))
	}
}

// UpsertEntity records an entity sighting. An absent (name, category,
// tier) key creates the entity with zero access count and importance;
// a present one appends the novel observations, bumps the access count
// and rescores importance. Returns the entity id.
func (s *Store) UpsertEntity(ctx context.Context, name, category string, tier Tier, observations []string) (int64, error) {
	name = strings.TrimSpace(name)
	category = strings.TrimSpace(category)
	if name == "" {
		return 0, errs.NewValidation("name", "must not be empty")
	}
	if category == "" {
		return 0, errs.NewValidation("category", "must not be empty")
	}
	if !tier.IsValid() {
		return 0, errs.NewValidation("tier", "unknown tier %d", tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	existing, err := s.db.EntityByKey(ctx, name, category, int(tier))
	if err != nil {
		return 0, err
	}

	if existing == nil {
		rec := &store.EntityRecord{
			Name:         name,
			Category:     category,
			Tier:         int(tier),
			Importance:   0,
			AccessCount:  0,
			Observations: appendNewObservations(nil, observations),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.embedRecord(ctx, rec); err != nil {
			return 0, err
		}
		id, err := s.db.InsertEntity(ctx, rec)
		if err != nil {
			return 0, err
		}
		rec.ID = id
		if err := s.indexRecord(ctx, rec); err != nil {
			return 0, err
		}
		return id, nil
	}

	merged := appendNewObservations(existing.Observations, observations)
	existing.AccessCount++
	relations, err := s.db.RelationsFor(ctx, existing.ID)
	if err != nil {
		return 0, err
	}
	// A re-encounter is fresh evidence, so score from a full prior.
	existing.Importance = Score(category, 1.0, existing.AccessCount, len(relations), existing.UpdatedAt, now)
	changed := len(merged) != len(existing.Observations)
	existing.Observations = merged
	existing.UpdatedAt = now
	if changed {
		if err := s.embedRecord(ctx, existing); err != nil {
			return 0, err
		}
	}
	if err := s.db.UpdateEntity(ctx, existing); err != nil {
		return 0, err
	}
	if changed {
		if err := s.indexRecord(ctx, existing); err != nil {
			return 0, err
		}
	}
	return existing.ID, nil
}

func (s *Store) embedRecord(ctx context.Context, rec *store.EntityRecord) error {
	e := recordToEntity(rec)
	embedding, err := s.embedder.Embed(ctx, e.embeddingText())
	if err != nil {
		return fmt.Errorf("embed entity %q: %w", rec.Name, err)
	}
	if len(embedding) != s.embedder.Dimensions() {
		return fmt.Errorf("embedding for %q has %d dimensions, want %d", rec.Name, len(embedding), s.embedder.Dimensions())
	}
	rec.Embedding = embedding
	return nil
}

// RecordAccess bumps an entity's access count. Retrieval calls this for
// every returned entity so frequently-referenced memories gain
// importance over time.
func (s *Store) RecordAccess(ctx context.Context, id int64) error {
	return s.db.IncrementAccess(ctx, id)
}

// Entity loads one entity by id.
func (s *Store) Entity(ctx context.Context, id int64) (*Entity, error) {
	rec, err := s.db.EntityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	e := recordToEntity(rec)
	return &e, nil
}

// SearchText embeds the query and searches the given tier.
func (s *Store) SearchText(ctx context.Context, query string, k int, tier Tier) ([]SearchResult, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.Search(ctx, embedding, k, tier)
}

// Search returns up to k entities of the given tier nearest to the query
// vector by cosine distance. Ties break on higher importance, then lower
// id. k larger than the tier population returns everything.
func (s *Store) Search(ctx context.Context, query []float32, k int, tier Tier) ([]SearchResult, error) {
	if len(query) != s.embedder.Dimensions() {
		return nil, errs.NewValidation("query", "dimension mismatch: got %d, want %d", len(query), s.embedder.Dimensions())
	}
	if k <= 0 {
		return nil, errs.NewValidation("k", "must be positive")
	}
	col, ok := s.collections[tier]
	if !ok {
		return nil, errs.NewValidation("tier", "unknown tier %d", tier)
	}

	s.mu.Lock()
	count := col.Count()
	if k > count {
		k = count
	}
	if k == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	hits, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query %s index: %w", tier, err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		rec, err := s.db.EntityByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Index lag after a delete; skip.
			continue
		}
		results = append(results, SearchResult{
			Entity:   recordToEntity(rec),
			Distance: 1 - float64(hit.Similarity),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		if results[i].Entity.Importance != results[j].Entity.Importance {
			return results[i].Entity.Importance > results[j].Entity.Importance
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	return results, nil
}

// RecentEntities returns the most important recently-updated entities of
// a tier, for seeding task context without a query vector.
func (s *Store) RecentEntities(ctx context.Context, tier Tier, limit int) ([]Entity, error) {
	records, err := s.db.RecentEntities(ctx, int(tier), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, len(records))
	for i := range records {
		out[i] = recordToEntity(&records[i])
	}
	return out, nil
}

// Count returns the number of stored entities in a tier.
func (s *Store) Count(ctx context.Context, tier Tier) (int, error) {
	return s.db.CountEntitiesByTier(ctx, int(tier))
}

// AddRelation records a directed, untyped edge between two entities.
// Parallel edges are allowed and count separately toward importance.
func (s *Store) AddRelation(ctx context.Context, fromID, toID int64) error {
	if fromID == toID {
		return errs.NewValidation("to", "relation endpoints must differ")
	}
	for _, id := range []int64{fromID, toID} {
		rec, err := s.db.EntityByID(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return errs.NewValidation("entity", "entity %d does not exist", id)
		}
	}
	_, err := s.db.AddRelation(ctx, fromID, toID)
	return err
}

// RelationNames resolves the entities related to id into display names.
func (s *Store) RelationNames(ctx context.Context, id int64) ([]string, error) {
	rels, err := s.db.RelationsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rels))
	for _, r := range rels {
		other := r.ToID
		if other == id {
			other = r.FromID
		}
		rec, err := s.db.EntityByID(ctx, other)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			names = append(names, rec.Name)
		}
	}
	return names, nil
}

// DeleteEntity removes an entity, its relations, and its index document.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	rec, err := s.db.EntityByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := s.db.DeleteEntity(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.unindex(ctx, Tier(rec.Tier), id)
	s.mu.Unlock()
	return nil
}

func recordToEntity(rec *store.EntityRecord) Entity {
	return Entity{
		ID:           rec.ID,
		Name:         rec.Name,
		Category:     rec.Category,
		Tier:         Tier(rec.Tier),
		Importance:   rec.Importance,
		AccessCount:  rec.AccessCount,
		Observations: rec.Observations,
		Consolidated: rec.Consolidated,
		Embedding:    rec.Embedding,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
