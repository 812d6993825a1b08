package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	loc         *time.Location
	retry       shared.RetryPolicy
	busyTimeout time.Duration

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLocation sets the zone timestamps are returned in.
func WithLocation(loc *time.Location) Option {
	return func(s *SQLiteStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRetryPolicy overrides the SQLITE_BUSY retry policy for writes.
func WithRetryPolicy(p shared.RetryPolicy) Option {
	return func(s *SQLiteStore) {
		s.retry = p
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database
// before SQLITE_BUSY is returned to the write retry.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	store := &SQLiteStore{
		loc:         time.UTC,
		retry:       shared.DefaultRetryPolicy,
		busyTimeout: 5 * time.Second,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(store)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		dbPath, store.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store.db = db

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		chat_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_activity_at DESC);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_id TEXT NOT NULL DEFAULT '',
		user_text TEXT NOT NULL,
		reply TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user_chat ON turns(user_id, chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns(user_id, created_at);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		due_at INTEGER,
		priority TEXT NOT NULL,
		category TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		notified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, due_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_at) WHERE notified = 0 AND due_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS pending_tasks (
		user_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS facts (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS greeting_markers (
		user_id TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// newID returns a ULID that sorts after every ID this store issued before.
func (s *SQLiteStore) newID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// write runs a mutation with SQLITE_BUSY retries.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(context.Context) error) error {
	return shared.RetryOnConflict(ctx, s.retry, op, fn)
}

func (s *SQLiteStore) fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).In(s.loc)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, name, email, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Name, &user.Email, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = s.fromMillis(lastSeen)
	user.CreatedAt = s.fromMillis(createdAt)
	user.UpdatedAt = s.fromMillis(updatedAt)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, name, email, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastSeenAt.IsZero() {
		user.LastSeenAt = now
	}
	user.UpdatedAt = now

	return s.write(ctx, "upsert user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Name, user.Email,
			user.LastSeenAt.UnixMilli(), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateUserProfile stores the non-empty profile fields.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, userID, name, email string) error {
	if name == "" && email == "" {
		return nil
	}
	query := `
	INSERT INTO users (user_id, name, email, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
		email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
		updated_at = excluded.updated_at`

	now := time.Now().UnixMilli()
	return s.write(ctx, "update user profile", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, userID, name, email, now, now, now); err != nil {
			return fmt.Errorf("update user profile: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// MarkGreeted sets the daily greeting marker unless an unexpired one exists.
func (s *SQLiteStore) MarkGreeted(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	query := `
	INSERT INTO greeting_markers (user_id, expires_at) VALUES (?, ?)
	ON CONFLICT(user_id) DO UPDATE SET expires_at = excluded.expires_at
	WHERE greeting_markers.expires_at <= ?`

	now := time.Now()
	var already bool
	err := s.write(ctx, "mark greeted", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, userID, now.Add(ttl).UnixMilli(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("mark greeted: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		already = rows == 0
		return nil
	})
	return already, err
}

// CleanupExpiredGreetings removes greeting markers that expired at or before now.
func (s *SQLiteStore) CleanupExpiredGreetings(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteRows(ctx, "cleanup greeting markers",
		`DELETE FROM greeting_markers WHERE expires_at <= ?`, now.UnixMilli())
}

// deleteRows runs a bulk delete under the write retry and reports the rows removed.
func (s *SQLiteStore) deleteRows(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	err := s.write(ctx, op, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return n, err
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
