package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stratumbio/teskit/internal/model"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    backend_ref TEXT NOT NULL DEFAULT '',
    doc         TEXT NOT NULL,
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`

const createProvisionTable = `
CREATE TABLE IF NOT EXISTS provision_requests (
    guid       TEXT PRIMARY KEY,
    backend    TEXT NOT NULL,
    request    TEXT NOT NULL,
    status     TEXT NOT NULL,
    result     TEXT,
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`

// ErrNotFound is returned when a task or provisioning request is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. The task document is stored as
// a JSON column; state and backend reference are denormalized for querying.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createTasksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	if _, err := db.Exec(createProvisionTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create provision_requests table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	doc, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, state, backend_ref, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.State, t.BackendRef, doc, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, backend_ref, doc, created_at, updated_at
		FROM tasks WHERE id = ?`, id,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns a paginated list of tasks ordered by created_at DESC,
// along with the total count of all tasks.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, state, backend_ref, doc, created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// ListActiveTasks returns every task in a non-terminal state, oldest first.
// This is the reconciliation working set.
func (s *SQLiteStore) ListActiveTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, backend_ref, doc, created_at, updated_at
		FROM tasks WHERE state NOT IN (?, ?, ?) ORDER BY created_at ASC`,
		model.StateComplete, model.StateCanceled, model.StateError,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// UpdateTaskState updates the denormalized state column and the state inside
// the stored document.
func (s *SQLiteStore) UpdateTaskState(ctx context.Context, id, state string) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.State = state
	return s.UpdateTask(ctx, t)
}

// UpdateTask rewrites the stored task document.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = time.Now().UTC()
	doc, err := encodeTask(t)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, backend_ref = ?, doc = ?, updated_at = ? WHERE id = ?`,
		t.State, t.BackendRef, doc, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result)
}

// CreateProvisionRequest inserts a new provisioning request record.
func (s *SQLiteStore) CreateProvisionRequest(ctx context.Context, r *ProvisionRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provision_requests (guid, backend, request, status, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.GUID, r.Backend, string(r.Request), r.Status, string(r.Result), r.Error, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert provision request: %w", err)
	}
	return nil
}

// GetProvisionRequest retrieves a provisioning request by GUID.
func (s *SQLiteStore) GetProvisionRequest(ctx context.Context, guid string) (*ProvisionRequest, error) {
	r := &ProvisionRequest{}
	var request, result string
	err := s.db.QueryRowContext(ctx,
		`SELECT guid, backend, request, status, result, error, created_at, updated_at
		FROM provision_requests WHERE guid = ?`, guid,
	).Scan(&r.GUID, &r.Backend, &request, &r.Status, &result, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provision request: %w", err)
	}
	r.Request = json.RawMessage(request)
	if result != "" {
		r.Result = json.RawMessage(result)
	}
	return r, nil
}

// UpdateProvisionRequest persists a status change, enforcing the monotonic
// progression. The stored status is read and compared inside one
// transaction.
func (s *SQLiteStore) UpdateProvisionRequest(ctx context.Context, r *ProvisionRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM provision_requests WHERE guid = ?", r.GUID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read provision status: %w", err)
	}

	if statusRank[r.Status] <= statusRank[current] && r.Status != current {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, r.Status)
	}

	r.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE provision_requests SET status = ?, result = ?, error = ?, updated_at = ? WHERE guid = ?`,
		r.Status, string(r.Result), r.Error, r.UpdatedAt, r.GUID,
	)
	if err != nil {
		return fmt.Errorf("update provision request: %w", err)
	}

	return tx.Commit()
}

// encodeTask serializes the full task for the doc column, including fields
// the public JSON encoding omits.
func encodeTask(t *model.Task) (string, error) {
	doc, err := json.Marshal(struct {
		*model.Task
		BackendRef string    `json:"backend_ref"`
		UpdatedAt  time.Time `json:"updated_at"`
	}{t, t.BackendRef, t.UpdatedAt})
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	return string(doc), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask decodes one task row. The denormalized columns are authoritative
// for state, backend_ref, and timestamps.
func scanTask(row rowScanner) (*model.Task, error) {
	var doc string
	t := &model.Task{}
	if err := row.Scan(&t.ID, &t.State, &t.BackendRef, &doc, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	decoded := &model.Task{}
	if err := json.Unmarshal([]byte(doc), decoded); err != nil {
		return nil, fmt.Errorf("decode task doc: %w", err)
	}
	decoded.ID = t.ID
	decoded.State = t.State
	decoded.BackendRef = t.BackendRef
	decoded.CreatedAt = t.CreatedAt
	decoded.UpdatedAt = t.UpdatedAt
	return decoded, nil
}

func collectTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
