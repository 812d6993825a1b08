// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/pal/internal/domain"
)

// ErrForeignConversation is returned when a chat ID belongs to another user.
var ErrForeignConversation = errors.New("conversation belongs to another user")

// ConversationStore persists turns, conversations, tasks and the pending-task slot.
type ConversationStore interface {
	// AppendTurn records a turn. ID and CreatedAt are assigned when empty.
	// A non-empty ChatID also bumps the conversation's last activity.
	AppendTurn(ctx context.Context, turn *domain.Turn) error

	// RecentTurns returns the newest limit turns of a conversation in
	// chronological order. A limit <= 0 returns every turn.
	RecentTurns(ctx context.Context, userID, chatID string, limit int) ([]domain.Turn, error)

	// RecentStandaloneHistory returns the user's newest limit turns across
	// every conversation, oldest first.
	RecentStandaloneHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error)

	// CreateOrGetConversation returns the conversation for chatID, creating it
	// when missing. An empty chatID allocates a new one.
	CreateOrGetConversation(ctx context.Context, userID, chatID string) (*domain.Conversation, error)

	// ListConversations returns the user's conversations, most recently active first.
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error)

	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)

	// UpsertTask inserts a task when ID is zero (setting ID) and updates it otherwise.
	UpsertTask(ctx context.Context, task *domain.Task) error

	// DeleteTask removes a task owned by userID. It reports whether a row was removed.
	DeleteTask(ctx context.Context, userID string, taskID int64) (bool, error)

	// DeleteCompletedTasks removes the user's tasks that were already notified.
	DeleteCompletedTasks(ctx context.Context, userID string) (int64, error)

	// UpsertPendingTask stores the user's single pending task, replacing any older one.
	UpsertPendingTask(ctx context.Context, pending *domain.PendingTask) error

	// GetPendingTask returns nil when the user has no pending task.
	GetPendingTask(ctx context.Context, userID string) (*domain.PendingTask, error)

	// DeletePendingTask removes the pending task only if its ID still matches.
	DeletePendingTask(ctx context.Context, userID, pendingID string) error
}

// SemanticMemoryStore stores free-text memories and returns the closest ones.
type SemanticMemoryStore interface {
	QueryMemory(ctx context.Context, userID, text string, topK int) ([]domain.MemoryMatch, error)
	StoreMemory(ctx context.Context, userID, text string) error
}

// KnowledgeGraphStore keeps user-scoped key/value facts.
type KnowledgeGraphStore interface {
	GetFacts(ctx context.Context, userID string) (map[string]string, error)
	PutFact(ctx context.Context, userID, key, value string) error
}

// UserStore persists user profiles.
type UserStore interface {
	// GetUser retrieves a user by their user ID. It returns nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateUserProfile sets the non-empty name and email, creating the user if needed.
	UpdateUserProfile(ctx context.Context, userID, name, email string) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// GreetingMarkers records that a user received the daily greeting.
type GreetingMarkers interface {
	// MarkGreeted sets the marker for ttl and reports whether an unexpired
	// marker already existed. An existing marker is left untouched.
	MarkGreeted(ctx context.Context, userID string, ttl time.Duration) (alreadyGreeted bool, err error)
}

// ReminderStore serves the background reminder worker.
type ReminderStore interface {
	// ListDueTasks returns unnotified tasks due at or before now, oldest due first.
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)

	// MarkTaskNotified flags a task as notified. It reports false when
	// another worker already claimed it.
	MarkTaskNotified(ctx context.Context, taskID int64) (bool, error)

	// DeleteNotifiedTasks removes notified tasks due before the cutoff.
	DeleteNotifiedTasks(ctx context.Context, before time.Time) (int64, error)

	// CleanupStalePendingTasks removes pending tasks created before the cutoff.
	CleanupStalePendingTasks(ctx context.Context, before time.Time) (int64, error)

	// CleanupExpiredGreetings removes greeting markers expired at now.
	CleanupExpiredGreetings(ctx context.Context, now time.Time) (int64, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	ConversationStore
	SemanticMemoryStore
	KnowledgeGraphStore
	UserStore
	GreetingMarkers
	ReminderStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
