// Package store provides SQLite-backed persistence for the agent runtime:
// task history, scheduled tasks, notes, assistant message buffers, memory
// entities and relations, and the ledger balance.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// Store wraps the runtime database.
type Store struct {
	db *sql.DB
}

// Open creates the database file if missing, enables WAL, and runs
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive. The scheduler uses it to
// decide whether admissions may resume after a persistence failure.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.NewPersistence("ping", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		state INTEGER NOT NULL DEFAULT 0,
		card_id TEXT NOT NULL DEFAULT '',
		card_title TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		complexity INTEGER NOT NULL DEFAULT -1,
		cost_estimate INTEGER NOT NULL DEFAULT 0,
		origin_id INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		not_before DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_tasks_card ON tasks(card_id);

	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		schedule TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assistant_messages (
		card_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance INTEGER NOT NULL,
		day DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mem_entity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		entity_type INTEGER NOT NULL DEFAULT 0,
		importance REAL NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		observations TEXT NOT NULL DEFAULT '[]',
		consolidated INTEGER NOT NULL DEFAULT 0,
		embedding BLOB,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(name, category, entity_type)
	);

	CREATE TABLE IF NOT EXISTS mem_relation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mem_relation_from ON mem_relation(from_id);
	CREATE INDEX IF NOT EXISTS idx_mem_relation_to ON mem_relation(to_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Seed the singleton state row so balance reads never miss.
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO agent_state (id, balance, day) VALUES (1, 0, ?)`,
		time.Time{},
	)
	return err
}

// --- tasks ---

// InsertTask persists a new task and returns its assigned id.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (type, state, card_id, card_title, payload, priority,
			complexity, cost_estimate, origin_id, retry_count, not_before,
			last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.Type), int(t.State), t.CardID, t.CardTitle, t.Payload,
		int(t.Priority), t.Complexity, t.CostEstimate, t.OriginID,
		t.RetryCount, nullTime(t.NotBefore), t.LastError, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return 0, errs.NewPersistence("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.NewPersistence("insert task", err)
	}
	return id, nil
}

// UpdateTask writes the task's mutable fields through.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, cost_estimate = ?, retry_count = ?,
			not_before = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		int(t.State), t.CostEstimate, t.RetryCount, nullTime(t.NotBefore),
		t.LastError, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return errs.NewPersistence("update task", err)
	}
	return nil
}

// TasksByState returns all tasks in the given state, earliest first. Used
// on startup to re-enqueue work that was pending or running at shutdown.
func (s *Store) TasksByState(ctx context.Context, state task.State) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, state, card_id, card_title, payload, priority,
			complexity, cost_estimate, origin_id, retry_count, not_before,
			last_error, created_at, updated_at
		FROM tasks WHERE state = ? ORDER BY created_at ASC, id ASC`,
		int(state),
	)
	if err != nil {
		return nil, errs.NewPersistence("list tasks", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.NewPersistence("scan task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTerminalTasksBefore purges completed and failed tasks older than
// cutoff. Returns the number of rows removed.
func (s *Store) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE state IN (?, ?) AND updated_at < ?`,
		int(task.StateCompleted), int(task.StateFailed), cutoff,
	)
	if err != nil {
		return 0, errs.NewPersistence("expire tasks", err)
	}
	return res.RowsAffected()
}

func scanTask(rows *sql.Rows) (task.Task, error) {
	var (
		t         task.Task
		typ       string
		state     int
		priority  int
		notBefore sql.NullTime
	)
	err := rows.Scan(&t.ID, &typ, &state, &t.CardID, &t.CardTitle, &t.Payload,
		&priority, &t.Complexity, &t.CostEstimate, &t.OriginID, &t.RetryCount,
		&notBefore, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	t.Type = task.Type(typ)
	t.State = task.State(state)
	t.Priority = task.PriorityClass(priority)
	if notBefore.Valid {
		t.NotBefore = notBefore.Time
	}
	return t, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// --- scheduled tasks ---

// AddScheduledTask persists a cron-driven task template.
func (s *Store) AddScheduledTask(ctx context.Context, content, schedule string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (content, schedule, created_at) VALUES (?, ?, ?)`,
		content, schedule, time.Now().UTC(),
	)
	if err != nil {
		return 0, errs.NewPersistence("add scheduled task", err)
	}
	return res.LastInsertId()
}

// DeleteScheduledTask removes a template. Already-created task instances
// remain valid; deletion affects future firings only.
func (s *Store) DeleteScheduledTask(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id); err != nil {
		return errs.NewPersistence("delete scheduled task", err)
	}
	return nil
}

// ScheduledTasks returns all templates.
func (s *Store) ScheduledTasks(ctx context.Context) ([]task.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, schedule, created_at FROM scheduled_tasks ORDER BY id ASC`)
	if err != nil {
		return nil, errs.NewPersistence("list scheduled tasks", err)
	}
	defer rows.Close()

	var out []task.ScheduledTask
	for rows.Next() {
		var st task.ScheduledTask
		if err := rows.Scan(&st.ID, &st.Content, &st.Cron, &st.CreatedAt); err != nil {
			return nil, errs.NewPersistence("scan scheduled task", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- notes ---

// Note is a free-form keyed note kept for the agent.
type Note struct {
	ID        int64
	Content   string
	CreatedAt time.Time
}

// AddNote stores a note and returns its id.
func (s *Store) AddNote(ctx context.Context, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (content, created_at) VALUES (?, ?)`,
		content, time.Now().UTC(),
	)
	if err != nil {
		return 0, errs.NewPersistence("add note", err)
	}
	return res.LastInsertId()
}

// DeleteNote removes a note by id.
func (s *Store) DeleteNote(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return errs.NewPersistence("delete note", err)
	}
	return nil
}

// Notes lists all notes, oldest first.
func (s *Store) Notes(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM notes ORDER BY id ASC`)
	if err != nil {
		return nil, errs.NewPersistence("list notes", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Content, &n.CreatedAt); err != nil {
			return nil, errs.NewPersistence("scan note", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- assistant message buffers ---

// AppendAssistantMessages appends turns to the card's message buffer. The
// buffer is never pruned here; retention is an external policy.
func (s *Store) AppendAssistantMessages(ctx context.Context, cardID string, turns []string) error {
	if len(turns) == 0 {
		return nil
	}
	existing, err := s.AssistantMessages(ctx, cardID)
	if err != nil {
		return err
	}
	merged := append(existing, turns...)
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assistant_messages (card_id, messages, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET messages = excluded.messages,
			updated_at = excluded.updated_at`,
		cardID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return errs.NewPersistence("append messages", err)
	}
	return nil
}

// AssistantMessages returns the ordered prior turns for a card.
func (s *Store) AssistantMessages(ctx context.Context, cardID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM assistant_messages WHERE card_id = ?`, cardID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewPersistence("load messages", err)
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return out, nil
}

// --- agent state ---

// Balance returns the persisted ledger balance and the day boundary of the
// last daily reset.
func (s *Store) Balance(ctx context.Context) (int64, time.Time, error) {
	var (
		balance int64
		day     time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, day FROM agent_state WHERE id = 1`,
	).Scan(&balance, &day)
	if err != nil {
		return 0, time.Time{}, errs.NewPersistence("load balance", err)
	}
	return balance, day, nil
}

// SaveBalance writes the ledger state through.
func (s *Store) SaveBalance(ctx context.Context, balance int64, day time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agent_state SET balance = ?, day = ? WHERE id = 1`,
		balance, day,
	); err != nil {
		return errs.NewPersistence("save balance", err)
	}
	return nil
}
