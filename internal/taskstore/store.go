package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "huginn/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is a SQLite-backed task repository. A single Store is safe for
// concurrent use; writes are serialized through one connection.
type Store struct {
	db  *sql.DB
	log logx.Logger

	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at cfg.Path and applies
// migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("taskstore: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new pending task. Names are unique across all tasks
// regardless of status; a clash returns ErrDuplicateName.
func (s *Store) Create(ctx context.Context, nt NewTask) (Task, error) {
	if strings.TrimSpace(nt.Name) == "" {
		return Task{}, errors.New("taskstore: task name is required")
	}
	params, err := json.Marshal(orEmpty(nt.Params))
	if err != nil {
		return Task{}, err
	}

	t := Task{
		ID:         "tsk_" + uuid.NewString(),
		Name:       nt.Name,
		Action:     nt.Action,
		Params:     orEmpty(nt.Params),
		Schedule:   nt.Schedule,
		Recurrence: nt.Recurrence,
		Owner:      nt.Owner,
		Status:     StatusPending,
		CreatedAt:  s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, name, action, params, schedule, recurrence, owner, status, created_at, retry_count)
		 VALUES(?,?,?,?,?,?,?,?,?,0)`,
		t.ID, t.Name, t.Action, string(params), t.Schedule, nullStr(t.Recurrence),
		t.Owner, string(t.Status), t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Task{}, ErrDuplicateName
		}
		return Task{}, err
	}
	s.log.Debug("task created", logx.String("name", t.Name), logx.String("action", t.Action))
	return t, nil
}

// Get returns the task with the given name.
func (s *Store) Get(ctx context.Context, name string) (Task, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE name = ?`, name)
	return scanTask(row)
}

// List returns tasks newest-created first. An empty status returns all tasks.
func (s *Store) List(ctx context.Context, status Status) ([]Task, error) {
	q := selectCols
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Cancel deletes a pending task by name. It reports false without error when
// the task exists but is not pending, and ErrNotFound when it does not exist.
func (s *Store) Cancel(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE name = ? AND status = ?`, name, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.log.Debug("task cancelled", logx.String("name", name))
		return true, nil
	}
	if _, err := s.Get(ctx, name); err != nil {
		return false, err
	}
	return false, nil
}

// SetStatus updates the lifecycle state of a task. A non-zero executedAt also
// stamps the execution time.
func (s *Store) SetStatus(ctx context.Context, name string, status Status, executedAt time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("taskstore: invalid status %q", status)
	}
	var res sql.Result
	var err error
	if executedAt.IsZero() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE name = ?`, string(status), name)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, executed_at = ? WHERE name = ?`,
			string(status), executedAt.UTC().UnixMilli(), name)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter and leaves the status untouched.
func (s *Store) IncrementRetry(ctx context.Context, name string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET retry_count = retry_count + 1 WHERE name = ?`, name)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT retry_count FROM tasks WHERE name = ?`, name).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// PurgeOlderThan deletes tasks created before the cutoff, whatever their
// status, and returns how many rows were removed. A purged pending task is
// simply gone; a trigger that still fires for it finds nothing and stops.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age).UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("purged old tasks", logx.Int64("count", n))
	}
	return n, nil
}

const selectCols = `SELECT id, name, action, params, schedule, recurrence, owner, status, created_at, executed_at, retry_count FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t          Task
		params     string
		recurrence sql.NullString
		status     string
		createdMS  int64
		executedMS sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Action, &params, &t.Schedule,
		&recurrence, &t.Owner, &status, &createdMS, &executedMS, &t.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		return Task{}, fmt.Errorf("taskstore: decode params for %q: %w", t.Name, err)
	}
	t.Recurrence = recurrence.String
	t.Status = Status(status)
	t.CreatedAt = time.UnixMilli(createdMS).UTC()
	if executedMS.Valid {
		t.ExecutedAt = time.UnixMilli(executedMS.Int64).UTC()
	}
	return t, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
