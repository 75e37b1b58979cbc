package sqliteq

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var _ ports.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	service_type  TEXT    NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 5,
	payload       TEXT    NOT NULL,
	owner         TEXT    NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	status        TEXT    NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	completed_at  INTEGER,
	result        TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_service_status_priority ON tasks(service_type, status, priority);
`

// Store keeps tasks in a single SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the database file and its directory when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqliteq: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteq: open: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqliteq: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteq: init schema: %w", err)
	}

	log.Ctx(ctx).Info().Str("path", path).Msg("sqlite task store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority int) (int64, error) {
	if payload == nil {
		payload = domain.Payload{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("sqliteq: encode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (service_type, priority, payload, owner, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(st), priority, string(b), owner, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqliteq: enqueue: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Dequeue(ctx context.Context, st domain.ServiceType) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqliteq: begin dequeue: %w", err)
	}
	defer tx.Rollback()

	var (
		t         domain.Task
		stype     string
		payload   string
		createdAt int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, service_type, priority, payload, owner, created_at, retry_count
		FROM tasks
		WHERE service_type = ? AND status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1`, string(st)).
		Scan(&t.ID, &stype, &t.Priority, &payload, &t.Owner, &createdAt, &t.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqliteq: select pending: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'processing' WHERE id = ?`, t.ID); err != nil {
		return nil, fmt.Errorf("sqliteq: claim task %d: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqliteq: commit dequeue: %w", err)
	}

	if t.Payload, err = domain.DecodePayload([]byte(payload)); err != nil {
		return nil, fmt.Errorf("sqliteq: decode payload of task %d: %w", t.ID, err)
	}
	t.ServiceType = domain.ServiceType(stype)
	t.CreatedAt = time.Unix(0, createdAt)
	t.Status = domain.StatusProcessing
	return &t, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result any) error {
	var encoded sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("sqliteq: encode result of task %d: %w", id, err)
		}
		encoded = sql.NullString{String: string(b), Valid: true}
	}
	return s.finish(ctx, id, `
		UPDATE tasks SET status = 'completed', completed_at = ?, result = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UnixNano(), encoded, id)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, id, `
		UPDATE tasks SET status = 'failed', completed_at = ?, error_message = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UnixNano(), message, id)
}

func (s *Store) FailProcessing(ctx context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', completed_at = ?, error_message = ?
		WHERE status = 'processing'`,
		time.Now().UnixNano(), message)
	if err != nil {
		return 0, fmt.Errorf("sqliteq: fail processing tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) finish(ctx context.Context, id int64, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqliteq: finish task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqliteq: task %d: %w", id, domain.ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqliteq: finish task %d: %w", id, err)
	}
	return fmt.Errorf("sqliteq: task %d is %s: %w", id, status, domain.ErrInvalidTransition)
}

func (s *Store) QueueDepth(ctx context.Context, st domain.ServiceType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE service_type = ? AND status IN ('pending', 'processing')`, string(st)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqliteq: queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service_type, status, COUNT(*) FROM tasks GROUP BY service_type, status`)
	if err != nil {
		return nil, fmt.Errorf("sqliteq: stats: %w", err)
	}
	defer rows.Close()

	stats := domain.QueueStats{}
	for rows.Next() {
		var (
			st     string
			status string
			n      int
		)
		if err := rows.Scan(&st, &status, &n); err != nil {
			return nil, fmt.Errorf("sqliteq: stats: %w", err)
		}
		c := stats[domain.ServiceType(st)]
		c.Add(domain.TaskStatus(status), n)
		stats[domain.ServiceType(st)] = c
	}
	return stats, rows.Err()
}

func (s *Store) GetStatus(ctx context.Context, id int64) (*domain.TaskState, error) {
	var (
		status      string
		errMsg      sql.NullString
		completedAt sql.NullInt64
		result      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, error_message, completed_at, result FROM tasks WHERE id = ?`, id).
		Scan(&status, &errMsg, &completedAt, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqliteq: task %d: %w", id, domain.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqliteq: get status: %w", err)
	}

	state := &domain.TaskState{
		ID:           id,
		Status:       domain.TaskStatus(status),
		ErrorMessage: errMsg.String,
	}
	if completedAt.Valid {
		ts := time.Unix(0, completedAt.Int64)
		state.CompletedAt = &ts
	}
	if result.Valid {
		if json.Valid([]byte(result.String)) {
			state.Result = json.RawMessage(result.String)
		} else {
			log.Ctx(ctx).Warn().Int64("task_id", id).Msg("stored result is not valid json")
		}
	}
	return state, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND completed_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqliteq: prune: %w", err)
	}
	return res.RowsAffected()
}
