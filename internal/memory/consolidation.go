package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/store"
)

// SummaryRequest carries one episodic entity's raw material to the
// summarizer, plus whatever the semantic tier already holds for the same
// key so the synthesis can refine instead of restart.
type SummaryRequest struct {
	Name     string
	Category string
	// Observations is the episodic evidence to fold in.
	Observations []string
	// Existing is the current semantic observation set, empty for a first
	// consolidation.
	Existing []string
	// Related names give the summarizer context about the entity's
	// neighborhood.
	Related []string
}

// Summary is the synthesized semantic content for one entity. Relations
// are candidate names of other entities the summarizer considers
// connected; names that resolve to a stored semantic entity become
// edges, the rest are dropped.
type Summary struct {
	Observations []string
	Relations    []string
}

// Summarizer produces durable semantic observations from episodic
// evidence. Implementations typically call a language model; tests use a
// deterministic fake.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
}

// ConsolidationConfig tunes the sleep-time consolidation pass.
type ConsolidationConfig struct {
	// ImportanceThreshold is the minimum episodic importance for
	// consolidation eligibility.
	ImportanceThreshold float64
	// PageSize bounds how many groups are processed per page.
	PageSize int
	// MaxObservations caps the synthesized semantic observation set.
	MaxObservations int
	// PruneEpisodic deletes consolidated episodic entities instead of
	// marking them. Marking is the default: the raw evidence stays
	// queryable until the maintenance pass ages it out.
	PruneEpisodic bool
}

// DefaultConsolidationConfig matches the sleep task defaults.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		ImportanceThreshold: ConsolidationThreshold,
		PageSize:            20,
		MaxObservations:     20,
	}
}

// Report summarizes one consolidation run.
type Report struct {
	Eligible     int
	Consolidated int
	Failed       int
	Errors       []error
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Rescored int
	Deleted  int
}

// Consolidator runs the episodic→semantic consolidation pass and the
// importance maintenance sweep. Each group commits in its own
// transaction, so one bad group never poisons the rest, and re-running a
// pass over already-consolidated entities is a no-op.
type Consolidator struct {
	store      *Store
	summarizer Summarizer
	config     ConsolidationConfig
	logger     logging.Logger
	clock      func() time.Time
}

// NewConsolidator wires a consolidator over the memory store.
func NewConsolidator(s *Store, summarizer Summarizer, config ConsolidationConfig, logger logging.Logger) *Consolidator {
	if config.ImportanceThreshold == 0 {
		config.ImportanceThreshold = ConsolidationThreshold
	}
	if config.PageSize <= 0 {
		config.PageSize = 20
	}
	if config.MaxObservations <= 0 {
		config.MaxObservations = 20
	}
	return &Consolidator{
		store:      s,
		summarizer: summarizer,
		config:     config,
		logger:     logging.OrNop(logger),
		clock:      s.clock,
	}
}

// Run consolidates every eligible episodic entity: important,
// not yet consolidated. Failures are collected per group and the pass
// continues; the returned error is non-nil only when eligibility itself
// cannot be determined.
func (c *Consolidator) Run(ctx context.Context) (Report, error) {
	var report Report

	records, err := c.store.db.EntitiesByTier(ctx, int(TierEpisodic))
	if err != nil {
		return report, fmt.Errorf("load episodic entities: %w", err)
	}

	var eligible []store.EntityRecord
	for _, rec := range records {
		if rec.Consolidated || rec.Importance < c.config.ImportanceThreshold {
			continue
		}
		eligible = append(eligible, rec)
	}
	report.Eligible = len(eligible)
	if len(eligible) == 0 {
		return report, nil
	}

	for page := 0; page*c.config.PageSize < len(eligible); page++ {
		start := page * c.config.PageSize
		end := start + c.config.PageSize
		if end > len(eligible) {
			end = len(eligible)
		}
		c.logger.Debug("consolidation page %d: %d entities", page+1, end-start)
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			rec := eligible[i]
			if err := c.consolidateOne(ctx, &rec); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, &errs.ConsolidationError{
					Name: rec.Name, Category: rec.Category, Err: err,
				})
				c.logger.Warn("consolidation failed for %s/%s: %v", rec.Category, rec.Name, err)
				continue
			}
			report.Consolidated++
		}
	}

	c.logger.Info("consolidation: %d eligible, %d consolidated, %d failed",
		report.Eligible, report.Consolidated, report.Failed)
	return report, nil
}

// consolidateOne folds one episodic entity into its semantic
// counterpart. Summarization and embedding happen outside the
// transaction; all store mutations commit atomically.
func (c *Consolidator) consolidateOne(ctx context.Context, episodic *store.EntityRecord) error {
	now := c.clock()

	semantic, err := c.store.db.EntityByKey(ctx, episodic.Name, episodic.Category, int(TierSemantic))
	if err != nil {
		return err
	}

	related, err := c.store.RelationNames(ctx, episodic.ID)
	if err != nil {
		return err
	}

	req := SummaryRequest{
		Name:         episodic.Name,
		Category:     episodic.Category,
		Observations: episodic.Observations,
		Related:      related,
	}
	if semantic != nil {
		req.Existing = semantic.Observations
	}
	summary, err := c.summarizer.Summarize(ctx, req)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if len(summary.Observations) == 0 {
		return fmt.Errorf("summarizer returned no observations")
	}
	if len(summary.Observations) > c.config.MaxObservations {
		summary.Observations = summary.Observations[:c.config.MaxObservations]
	}

	fresh := semantic == nil
	if fresh {
		semantic = &store.EntityRecord{
			Name:        episodic.Name,
			Category:    episodic.Category,
			Tier:        int(TierSemantic),
			Importance:  1.0,
			AccessCount: episodic.AccessCount,
			CreatedAt:   now,
		}
	} else {
		semantic.Importance = ConsolidatedScore(semantic.Importance)
		semantic.AccessCount += episodic.AccessCount
	}
	// The summary is authoritative for the semantic tier: it replaces, not
	// appends.
	semantic.Observations = summary.Observations
	semantic.UpdatedAt = now

	if err := c.store.embedRecord(ctx, semantic); err != nil {
		return err
	}

	err = c.store.db.WithMemTx(ctx, func(tx *store.MemTx) error {
		if fresh {
			if _, err := tx.InsertEntity(ctx, semantic); err != nil {
				return err
			}
		} else if err := tx.UpdateEntity(ctx, semantic); err != nil {
			return err
		}
		if err := c.rewireRelations(ctx, tx, episodic.ID, semantic.ID); err != nil {
			return err
		}
		if err := c.linkCandidates(ctx, tx, semantic, summary.Relations); err != nil {
			return err
		}
		if c.config.PruneEpisodic {
			return tx.DeleteEntity(ctx, episodic.ID)
		}
		return tx.MarkConsolidated(ctx, []int64{episodic.ID})
	})
	if err != nil {
		return err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.config.PruneEpisodic {
		c.store.unindex(ctx, TierEpisodic, episodic.ID)
	}
	return c.store.indexRecord(ctx, semantic)
}

// rewireRelations copies the episodic entity's edges onto the semantic
// entity, skipping self-edges and edges the semantic entity already has.
func (c *Consolidator) rewireRelations(ctx context.Context, tx *store.MemTx, episodicID, semanticID int64) error {
	existing, err := tx.RelationsFor(ctx, semanticID)
	if err != nil {
		return err
	}
	type edge struct{ from, to int64 }
	have := make(map[edge]bool, len(existing))
	for _, r := range existing {
		have[edge{r.FromID, r.ToID}] = true
	}

	episodicEdges, err := tx.RelationsFor(ctx, episodicID)
	if err != nil {
		return err
	}
	for _, r := range episodicEdges {
		from, to := r.FromID, r.ToID
		if from == episodicID {
			from = semanticID
		}
		if to == episodicID {
			to = semanticID
		}
		if from == to || have[edge{from, to}] {
			continue
		}
		if _, err := tx.AddRelation(ctx, from, to); err != nil {
			return err
		}
		have[edge{from, to}] = true
	}
	return nil
}

// linkCandidates connects the semantic entity to the stored semantic
// entities named by the summarizer. Unknown names, self references, and
// already-present edges are skipped.
func (c *Consolidator) linkCandidates(ctx context.Context, tx *store.MemTx, semantic *store.EntityRecord, names []string) error {
	if len(names) == 0 {
		return nil
	}
	existing, err := tx.RelationsFor(ctx, semantic.ID)
	if err != nil {
		return err
	}
	linked := make(map[int64]bool, len(existing))
	for _, r := range existing {
		linked[r.FromID] = true
		linked[r.ToID] = true
	}

	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), semantic.Name) {
			continue
		}
		target, err := tx.EntityByName(ctx, strings.TrimSpace(name), int(TierSemantic))
		if err != nil {
			return err
		}
		if target == nil || target.ID == semantic.ID || linked[target.ID] {
			continue
		}
		if _, err := tx.AddRelation(ctx, semantic.ID, target.ID); err != nil {
			return err
		}
		linked[target.ID] = true
	}
	return nil
}

// Maintain rescores every entity's importance and deletes the ones that
// decayed below the floor.
func (c *Consolidator) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	now := c.clock()

	records, err := c.store.db.AllEntities(ctx)
	if err != nil {
		return report, fmt.Errorf("load entities: %w", err)
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := &records[i]
		relations, err := c.store.db.RelationsFor(ctx, rec.ID)
		if err != nil {
			return report, err
		}
		score := Score(rec.Category, rec.Importance, rec.AccessCount, len(relations), rec.UpdatedAt, now)
		if score < DeleteThreshold {
			if err := c.store.DeleteEntity(ctx, rec.ID); err != nil {
				return report, err
			}
			report.Deleted++
			continue
		}
		if score != rec.Importance {
			rec.Importance = score
			if err := c.store.db.UpdateEntity(ctx, rec); err != nil {
				return report, err
			}
			report.Rescored++
		}
	}

	c.logger.Info("memory maintenance: %d rescored, %d deleted", report.Rescored, report.Deleted)
	return report, nil
}
