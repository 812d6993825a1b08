package domain

import (
	"time"
)

// Task defaults applied when an utterance does not carry them.
const (
	DefaultTaskPriority = "medium"
	DefaultTaskCategory = "personal"
)

// TimestampLayout is the wall-clock format used in replies and task payloads.
const TimestampLayout = "2006-01-02 15:04:05"

// Task is a scheduled item owned by a user.
type Task struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Priority  string     `json:"priority"`
	Category  string     `json:"category"`
	Notes     string     `json:"notes"`
	Notified  bool       `json:"notified"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsDue reports whether the task has a due time at or before now.
func (t *Task) IsDue(now time.Time) bool {
	return t.DueAt != nil && !t.DueAt.After(now)
}

// PendingTask is a task title awaiting a due time from the user.
// A user has at most one; a newer one replaces the older.
type PendingTask struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
