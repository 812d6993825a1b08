package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/pal/internal/domain"
)

const taskColumns = `id, user_id, title, due_at, priority, category, notes, notified, created_at`

func (s *SQLiteStore) scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var dueAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &dueAt, &t.Priority,
			&t.Category, &t.Notes, &t.Notified, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if dueAt.Valid {
			due := s.fromMillis(dueAt.Int64)
			t.DueAt = &due
		}
		t.CreatedAt = s.fromMillis(createdAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns the user's tasks, soonest due first and undated last.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?
		ORDER BY due_at IS NULL, due_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer closeRows(rows, "tasks")
	return s.scanTasks(rows)
}

// UpsertTask inserts a new task or updates an existing one owned by the same user.
func (s *SQLiteStore) UpsertTask(ctx context.Context, task *domain.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	var dueAt any
	if task.DueAt != nil {
		dueAt = task.DueAt.UnixMilli()
	}

	if task.ID == 0 {
		return s.write(ctx, "insert task", func(ctx context.Context) error {
			result, err := s.db.ExecContext(ctx, `
				INSERT INTO tasks (user_id, title, due_at, priority, category, notes, notified, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				task.UserID, task.Title, dueAt, task.Priority, task.Category, task.Notes,
				task.Notified, task.CreatedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			id, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("task last insert id: %w", err)
			}
			task.ID = id
			return nil
		})
	}

	return s.write(ctx, "update task", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET title = ?, due_at = ?, priority = ?, category = ?, notes = ?, notified = ?
			WHERE id = ? AND user_id = ?`,
			task.Title, dueAt, task.Priority, task.Category, task.Notes, task.Notified,
			task.ID, task.UserID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("task %d not found", task.ID)
		}
		return nil
	})
}

// DeleteTask removes a task owned by userID.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID string, taskID int64) (bool, error) {
	var deleted bool
	err := s.write(ctx, "delete task", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		deleted = rows > 0
		return nil
	})
	return deleted, err
}

// DeleteCompletedTasks removes the user's notified tasks.
func (s *SQLiteStore) DeleteCompletedTasks(ctx context.Context, userID string) (int64, error) {
	return s.deleteRows(ctx, "delete completed tasks",
		`DELETE FROM tasks WHERE user_id = ? AND notified = 1`, userID)
}

// UpsertPendingTask replaces the user's pending task.
func (s *SQLiteStore) UpsertPendingTask(ctx context.Context, pending *domain.PendingTask) error {
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now()
	}
	if pending.ID == "" {
		pending.ID = s.newID(pending.CreatedAt)
	}

	return s.write(ctx, "upsert pending task", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pending_tasks (user_id, id, title, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				id = excluded.id,
				title = excluded.title,
				created_at = excluded.created_at`,
			pending.UserID, pending.ID, pending.Title, pending.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("upsert pending task: %w", err)
		}
		return nil
	})
}

// GetPendingTask returns the user's pending task, or nil.
func (s *SQLiteStore) GetPendingTask(ctx context.Context, userID string) (*domain.PendingTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM pending_tasks WHERE user_id = ?`, userID)

	var p domain.PendingTask
	var createdAt int64
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending task: %w", err)
	}
	p.CreatedAt = s.fromMillis(createdAt)
	return &p, nil
}

// DeletePendingTask removes the pending task if it is still the one identified by pendingID.
func (s *SQLiteStore) DeletePendingTask(ctx context.Context, userID, pendingID string) error {
	return s.write(ctx, "delete pending task", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM pending_tasks WHERE user_id = ? AND id = ?`, userID, pendingID)
		if err != nil {
			return fmt.Errorf("delete pending task: %w", err)
		}
		return nil
	})
}

// ListDueTasks returns unnotified tasks due at or before now.
func (s *SQLiteStore) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE notified = 0 AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer closeRows(rows, "due tasks")
	return s.scanTasks(rows)
}

// MarkTaskNotified claims a task for notification.
func (s *SQLiteStore) MarkTaskNotified(ctx context.Context, taskID int64) (bool, error) {
	var claimed bool
	err := s.write(ctx, "mark task notified", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `UPDATE tasks SET notified = 1 WHERE id = ? AND notified = 0`, taskID)
		if err != nil {
			return fmt.Errorf("mark task notified: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		claimed = rows > 0
		return nil
	})
	return claimed, err
}

// DeleteNotifiedTasks removes notified tasks due before the cutoff.
func (s *SQLiteStore) DeleteNotifiedTasks(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteRows(ctx, "delete notified tasks",
		`DELETE FROM tasks WHERE notified = 1 AND due_at < ?`, before.UnixMilli())
}

// CleanupStalePendingTasks removes pending tasks created before the cutoff.
func (s *SQLiteStore) CleanupStalePendingTasks(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteRows(ctx, "cleanup pending tasks",
		`DELETE FROM pending_tasks WHERE created_at < ?`, before.UnixMilli())
}
