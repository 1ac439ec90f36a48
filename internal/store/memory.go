package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
)

// EntityRecord is the persisted form of a memory entity. The embedding is
// stored inline so the vector index can be rebuilt on startup.
type EntityRecord struct {
	ID           int64
	Name         string
	Category     string
	Tier         int
	Importance   float64
	AccessCount  int
	Observations []string
	Consolidated bool
	Embedding    []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RelationRecord is a directed, untyped edge between two entities.
// Parallel edges are permitted; no uniqueness constraint exists.
type RelationRecord struct {
	ID     int64
	FromID int64
	ToID   int64
}

// dbi is the subset of database/sql shared by *sql.DB and *sql.Tx, letting
// entity operations run either standalone or inside a consolidation
// transaction.
type dbi interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertEntity persists a new entity and returns its id.
func (s *Store) InsertEntity(ctx context.Context, e *EntityRecord) (int64, error) {
	return insertEntity(ctx, s.db, e)
}

// UpdateEntity writes all mutable entity fields through.
func (s *Store) UpdateEntity(ctx context.Context, e *EntityRecord) error {
	return updateEntity(ctx, s.db, e)
}

// EntityByID loads a single entity.
func (s *Store) EntityByID(ctx context.Context, id int64) (*EntityRecord, error) {
	return entityBy(ctx, s.db, `WHERE id = ?`, id)
}

// EntityByKey looks up the entity with the natural dedup key
// (name, category, tier).
func (s *Store) EntityByKey(ctx context.Context, name, category string, tier int) (*EntityRecord, error) {
	return entityBy(ctx, s.db, `WHERE name = ? AND category = ? AND entity_type = ?`, name, category, tier)
}

// EntitiesByTier returns every entity in a tier, oldest first.
func (s *Store) EntitiesByTier(ctx context.Context, tier int) ([]EntityRecord, error) {
	return listEntities(ctx, s.db,
		`SELECT `+entityColumns+` FROM mem_entity WHERE entity_type = ? ORDER BY id ASC`, tier)
}

// CountEntitiesByTier returns the number of entities in a tier.
func (s *Store) CountEntitiesByTier(ctx context.Context, tier int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mem_entity WHERE entity_type = ?`, tier).Scan(&n)
	if err != nil {
		return 0, errs.NewPersistence("count entities", err)
	}
	return n, nil
}

// AllEntities returns the whole store, oldest first.
func (s *Store) AllEntities(ctx context.Context) ([]EntityRecord, error) {
	return listEntities(ctx, s.db,
		`SELECT `+entityColumns+` FROM mem_entity ORDER BY id ASC`)
}

// RecentEntities returns the most important, most recently touched
// entities of a tier.
func (s *Store) RecentEntities(ctx context.Context, tier, limit int) ([]EntityRecord, error) {
	return listEntities(ctx, s.db,
		`SELECT `+entityColumns+` FROM mem_entity WHERE entity_type = ?
		 ORDER BY importance DESC, updated_at DESC, id ASC LIMIT ?`, tier, limit)
}

// IncrementAccess bumps the access counter used by importance scoring.
func (s *Store) IncrementAccess(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mem_entity SET access_count = access_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return errs.NewPersistence("record access", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("entity not found: %d", id)
	}
	return err
}

// DeleteEntity removes an entity and its incident relations.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	return deleteEntity(ctx, s.db, id)
}

// AddRelation inserts a directed edge and returns its id.
func (s *Store) AddRelation(ctx context.Context, fromID, toID int64) (int64, error) {
	return addRelation(ctx, s.db, fromID, toID)
}

// RelationsFor returns every edge incident to the entity, in either
// direction.
func (s *Store) RelationsFor(ctx context.Context, entityID int64) ([]RelationRecord, error) {
	return relationsFor(ctx, s.db, entityID)
}

// MemTx groups entity mutations into one transaction. Consolidation uses
// it so a failed group leaves the store untouched.
type MemTx struct {
	tx *sql.Tx
}

// WithMemTx runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (s *Store) WithMemTx(ctx context.Context, fn func(tx *MemTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewPersistence("begin tx", err)
	}
	if err := fn(&MemTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewPersistence("commit tx", err)
	}
	return nil
}

// InsertEntity persists a new entity inside the transaction.
func (t *MemTx) InsertEntity(ctx context.Context, e *EntityRecord) (int64, error) {
	return insertEntity(ctx, t.tx, e)
}

// UpdateEntity writes entity fields through inside the transaction.
func (t *MemTx) UpdateEntity(ctx context.Context, e *EntityRecord) error {
	return updateEntity(ctx, t.tx, e)
}

// DeleteEntity removes an entity and incident relations inside the
// transaction.
func (t *MemTx) DeleteEntity(ctx context.Context, id int64) error {
	return deleteEntity(ctx, t.tx, id)
}

// AddRelation inserts an edge inside the transaction.
func (t *MemTx) AddRelation(ctx context.Context, fromID, toID int64) (int64, error) {
	return addRelation(ctx, t.tx, fromID, toID)
}

// RelationsFor lists incident edges inside the transaction.
func (t *MemTx) RelationsFor(ctx context.Context, entityID int64) ([]RelationRecord, error) {
	return relationsFor(ctx, t.tx, entityID)
}

// EntityByKey resolves an entity by its natural key inside the
// transaction.
func (t *MemTx) EntityByKey(ctx context.Context, name, category string, tier int) (*EntityRecord, error) {
	return entityBy(ctx, t.tx, `WHERE name = ? AND category = ? AND entity_type = ?`, name, category, tier)
}

// EntityByName resolves an entity by name within a tier, lowest id
// first when the name exists under several categories.
func (t *MemTx) EntityByName(ctx context.Context, name string, tier int) (*EntityRecord, error) {
	return entityBy(ctx, t.tx, `WHERE name = ? AND entity_type = ? ORDER BY id ASC LIMIT 1`, name, tier)
}

// MarkConsolidated flags episodic entities as already folded into a
// semantic entity; later consolidation passes skip them.
func (t *MemTx) MarkConsolidated(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE mem_entity SET consolidated = 1 WHERE id = ?`, id); err != nil {
			return errs.NewPersistence("mark consolidated", err)
		}
	}
	return nil
}

// --- shared implementations ---

const entityColumns = `id, name, category, entity_type, importance, access_count,
	observations, consolidated, embedding, created_at, updated_at`

func insertEntity(ctx context.Context, db dbi, e *EntityRecord) (int64, error) {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return 0, fmt.Errorf("marshal observations: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO mem_entity (name, category, entity_type, importance,
			access_count, observations, consolidated, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Category, e.Tier, e.Importance, e.AccessCount, string(obs),
		boolInt(e.Consolidated), encodeEmbedding(e.Embedding), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return 0, errs.NewPersistence("insert entity", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.NewPersistence("insert entity", err)
	}
	e.ID = id
	return id, nil
}

func updateEntity(ctx context.Context, db dbi, e *EntityRecord) error {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		UPDATE mem_entity SET name = ?, category = ?, entity_type = ?,
			importance = ?, access_count = ?, observations = ?,
			consolidated = ?, embedding = ?, updated_at = ?
		WHERE id = ?`,
		e.Name, e.Category, e.Tier, e.Importance, e.AccessCount, string(obs),
		boolInt(e.Consolidated), encodeEmbedding(e.Embedding), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return errs.NewPersistence("update entity", err)
	}
	return nil
}

func deleteEntity(ctx context.Context, db dbi, id int64) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM mem_relation WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return errs.NewPersistence("delete relations", err)
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM mem_entity WHERE id = ?`, id); err != nil {
		return errs.NewPersistence("delete entity", err)
	}
	return nil
}

func addRelation(ctx context.Context, db dbi, fromID, toID int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO mem_relation (from_id, to_id) VALUES (?, ?)`, fromID, toID)
	if err != nil {
		return 0, errs.NewPersistence("add relation", err)
	}
	return res.LastInsertId()
}

func relationsFor(ctx context.Context, db dbi, entityID int64) ([]RelationRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, from_id, to_id FROM mem_relation
		 WHERE from_id = ? OR to_id = ? ORDER BY id ASC`, entityID, entityID)
	if err != nil {
		return nil, errs.NewPersistence("list relations", err)
	}
	defer rows.Close()

	var out []RelationRecord
	for rows.Next() {
		var r RelationRecord
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID); err != nil {
			return nil, errs.NewPersistence("scan relation", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func entityBy(ctx context.Context, db dbi, where string, args ...any) (*EntityRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM mem_entity `+where, args...)
	e, err := scanEntityRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewPersistence("load entity", err)
	}
	return e, nil
}

func listEntities(ctx context.Context, db dbi, query string, args ...any) ([]EntityRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewPersistence("list entities", err)
	}
	defer rows.Close()

	var out []EntityRecord
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, errs.NewPersistence("scan entity", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntityFrom(sc rowScanner) (*EntityRecord, error) {
	var (
		e            EntityRecord
		obs          string
		consolidated int
		embedding    []byte
	)
	err := sc.Scan(&e.ID, &e.Name, &e.Category, &e.Tier, &e.Importance,
		&e.AccessCount, &obs, &consolidated, &embedding, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(obs), &e.Observations); err != nil {
		return nil, fmt.Errorf("parse observations: %w", err)
	}
	e.Consolidated = consolidated != 0
	e.Embedding = decodeEmbedding(embedding)
	return &e, nil
}

func scanEntity(rows *sql.Rows) (*EntityRecord, error) { return scanEntityFrom(rows) }
func scanEntityRow(row *sql.Row) (*EntityRecord, error) {
	return scanEntityFrom(row)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeEmbedding packs a float32 vector as little-endian bytes.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
