package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// taskLedger records long-running operations so operators can list the ones in flight.
type taskLedger struct {
	db *sql.DB
}

// openTaskLedger opens the ledger at path. An empty path keeps it in memory.
func openTaskLedger(path string) (*taskLedger, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open task ledger: %w", err)
	}

	// Single connection: an in-memory database lives only as long as its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		source TEXT NOT NULL,
		dest TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		copied INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create task schema: %w", err)
	}

	return &taskLedger{db: db}, nil
}

// start records a running task and returns its id.
func (l *taskLedger) start(ctx context.Context, action, source, dest string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tasks (id, action, source, dest, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, action, source, dest, TaskRunning, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("record task: %w", err)
	}
	return id, nil
}

// progress updates the copied count of a running task.
func (l *taskLedger) progress(ctx context.Context, id string, copied int) error {
	_, err := l.db.ExecContext(ctx, `UPDATE tasks SET copied = ? WHERE id = ?`, copied, id)
	return err
}

// finish marks a task completed, or failed when taskErr is set.
func (l *taskLedger) finish(ctx context.Context, id string, copied int, taskErr error) error {
	status := TaskCompleted
	var msg sql.NullString
	if taskErr != nil {
		status = TaskFailed
		msg = sql.NullString{String: taskErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, finished_at = ?, copied = ?, error = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), copied, msg, id)
	return err
}

// running lists in-flight tasks whose action matches pattern ("*" is a wildcard).
func (l *taskLedger) running(ctx context.Context, pattern string) ([]Task, error) {
	like := "%"
	if pattern != "" {
		like = strings.ReplaceAll(pattern, "*", "%")
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, action, source, dest, status, started_at, copied FROM tasks
		 WHERE status = ? AND action LIKE ? ORDER BY started_at`, TaskRunning, like)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var started int64
		if err := rows.Scan(&t.ID, &t.Action, &t.Source, &t.Dest, &t.Status, &started, &t.Copied); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.StartedAt = time.UnixMilli(started)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (l *taskLedger) close() error {
	return l.db.Close()
}
