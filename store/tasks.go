package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// TaskType selects what a queued work item runs.
type TaskType string

const (
	TaskSearch TaskType = "search"  // one keyword
	TaskRunAll TaskType = "run_all" // full sweep
)

// Task is a queued scrape request posted by the dashboard.
type Task struct {
	ID          int64
	Type        TaskType
	Keyword     string
	TopN        int
	RequestedBy string
}

// Enqueue inserts a pending task. Used by the CLI and by tests; the
// dashboard writes the same row through its own API layer.
func (s *Store) Enqueue(ctx context.Context, typ TaskType, keyword string, topN int, requestedBy string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (type, keyword, top_n, requested_by)
		VALUES (?, ?, ?, ?) RETURNING id`,
		string(typ), keyword, topN, requestedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue task: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the oldest pending task, transitioning it to
// running. Returns (nil, nil) when the queue is empty. The claim is a single
// UPDATE so two pollers never run the same row, though delivery remains
// at-least-once across crashes: the pipeline tolerates a re-posted request.
func (s *Store) ClaimNext(ctx context.Context) (*Task, error) {
	var t Task
	var typ string
	var keyword sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = 'running', started_at = strftime('%s', 'now')
		WHERE id = (
			SELECT id FROM tasks WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC LIMIT 1
		)
		RETURNING id, type, keyword, top_n, requested_by`).
		Scan(&t.ID, &typ, &keyword, &t.TopN, &t.RequestedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim task: %w", err)
	}
	t.Type = TaskType(typ)
	t.Keyword = keyword.String
	return &t, nil
}

// CompleteTask records a task's result payload and marks it completed.
func (s *Store) CompleteTask(ctx context.Context, id int64, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal task result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', result = ?,
			completed_at = strftime('%s', 'now')
		WHERE id = ? AND status = 'running'`, string(data), id)
	if err != nil {
		return fmt.Errorf("store: complete task %d: %w", id, err)
	}
	return nil
}

// FailTask marks a task failed with the raw error text.
func (s *Store) FailTask(ctx context.Context, id int64, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error = ?,
			completed_at = strftime('%s', 'now')
		WHERE id = ? AND status = 'running'`, errText, id)
	if err != nil {
		return fmt.Errorf("store: fail task %d: %w", id, err)
	}
	return nil
}

// TaskStatus reads a task's current status, for CLI reporting.
func (s *Store) TaskStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("store: task status %d: %w", id, err)
	}
	return status, nil
}
