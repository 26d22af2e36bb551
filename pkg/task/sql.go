package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

const (
	createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS relay_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    state VARCHAR(32) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT,
    artifacts_json TEXT,
    metadata_json TEXT,
    seq BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createTasksContextIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_relay_tasks_context ON relay_tasks(context_id, seq)`
)

// SQLStore persists tasks in a relational database. It lets several
// agent processes share one task table.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore opens a database with the driver matching dialect and
// prepares the schema.
func OpenSQLStore(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	dialect = normalizeDialect(dialect)
	driver := dialect
	if dialect == DialectSQLite {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// go-sqlite3 serialises writers; one connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	dialect = normalizeDialect(dialect)
	switch dialect {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func normalizeDialect(d string) string {
	switch strings.ToLower(d) {
	case "sqlite3", "sqlite", "":
		return DialectSQLite
	case "postgresql", "postgres", "pg":
		return DialectPostgres
	default:
		return strings.ToLower(d)
	}
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createTasksTableSQL); err != nil {
		return fmt.Errorf("failed to create relay_tasks table: %w", err)
	}

	indexSQL := createTasksContextIndexSQL
	if s.dialect == DialectMySQL {
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		indexSQL = `CREATE INDEX idx_relay_tasks_context ON relay_tasks(context_id, seq)`
	}
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil && s.dialect != DialectMySQL {
		return fmt.Errorf("failed to create context index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json
FROM relay_tasks WHERE id = ?`), string(id))

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		slog.Error("Task store query failed", "task_id", id, "error", err)
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, t *a2a.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task with id is required")
	}
	status, err := json.Marshal(t.Status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	history, err := marshalOr(t.History, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	artifacts, err := marshalOr(t.Artifacts, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	metadata, err := marshalMapOr(t.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	args := []any{
		string(t.ID), t.ContextID, string(t.Status.State),
		status, history, artifacts, metadata,
		now.UnixNano(), now, now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(s.currentStateSQL()), string(t.ID)).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read task state: %w", err)
	default:
		if err := checkTerminal(t.ID, a2a.TaskState(current), t.Status.State); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, s.rebind(s.upsertSQL()), args...)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	// The conflict clause refuses to leave a terminal state. MySQL reports
	// zero rows for unchanged updates, so its count proves nothing.
	if s.dialect != DialectMySQL {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: task %s", ErrTerminalState, t.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	return nil
}

// currentStateSQL locks the task row where the dialect supports it.
func (s *SQLStore) currentStateSQL() string {
	const q = `SELECT state FROM relay_tasks WHERE id = ?`
	if s.dialect == DialectSQLite {
		return q
	}
	return q + ` FOR UPDATE`
}

func (s *SQLStore) upsertSQL() string {
	const insert = `
INSERT INTO relay_tasks (id, context_id, state, status_json, history_json, artifacts_json, metadata_json, seq, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if s.dialect == DialectMySQL {
		return insert + `
ON DUPLICATE KEY UPDATE
    state = VALUES(state),
    status_json = VALUES(status_json),
    history_json = VALUES(history_json),
    artifacts_json = VALUES(artifacts_json),
    metadata_json = VALUES(metadata_json),
    updated_at = VALUES(updated_at)`
	}

	// postgres and sqlite (3.24+) share ON CONFLICT; seq and created_at keep
	// their first values.
	return insert + `
ON CONFLICT (id) DO UPDATE SET
    state = excluded.state,
    status_json = excluded.status_json,
    history_json = excluded.history_json,
    artifacts_json = excluded.artifacts_json,
    metadata_json = excluded.metadata_json,
    updated_at = excluded.updated_at
WHERE relay_tasks.state = excluded.state
   OR relay_tasks.state NOT IN ('completed', 'failed', 'canceled', 'rejected')`
}

// ListByContext implements Store.
func (s *SQLStore) ListByContext(ctx context.Context, contextID string) ([]*a2a.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json
FROM relay_tasks WHERE context_id = ? ORDER BY seq ASC`), contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*a2a.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*a2a.Task, error) {
	var (
		id, contextID, status          string
		history, artifacts, metadata sql.NullString
	)
	if err := row.Scan(&id, &contextID, &status, &history, &artifacts, &metadata); err != nil {
		return nil, err
	}

	t := &a2a.Task{ID: a2a.TaskID(id), ContextID: contextID}
	if err := json.Unmarshal([]byte(status), &t.Status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if history.Valid && history.String != "" && history.String != "[]" {
		if err := json.Unmarshal([]byte(history.String), &t.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if artifacts.Valid && artifacts.String != "" && artifacts.String != "[]" {
		if err := json.Unmarshal([]byte(artifacts.String), &t.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return t, nil
}

func marshalOr[T any](v []T, empty string) (string, error) {
	if len(v) == 0 {
		return empty, nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func marshalMapOr(v map[string]any, empty string) (string, error) {
	if len(v) == 0 {
		return empty, nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

var _ Store = (*SQLStore)(nil)
