package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/pal/internal/domain"
)

// AppendTurn records a turn and bumps its conversation's last activity.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if turn.ID == "" {
		turn.ID = s.newID(turn.CreatedAt)
	}
	at := turn.CreatedAt.UnixMilli()

	return s.write(ctx, "append turn", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append turn: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if turn.ChatID != "" {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO conversations (chat_id, user_id, created_at, last_activity_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(chat_id) DO UPDATE SET last_activity_at = excluded.last_activity_at`,
				turn.ChatID, turn.UserID, at, at)
			if err != nil {
				return fmt.Errorf("touch conversation: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (id, user_id, chat_id, user_text, reply, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			turn.ID, turn.UserID, turn.ChatID, turn.UserText, turn.Reply, at)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append turn: %w", err)
		}
		return nil
	})
}

// RecentTurns returns the newest limit turns of a conversation, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, userID, chatID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, user_id, chat_id, user_text, reply, created_at FROM (
			SELECT id, user_id, chat_id, user_text, reply, created_at
			FROM turns WHERE user_id = ? AND chat_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`

	return s.queryTurns(ctx, "recent turns", query, userID, chatID, limit)
}

// RecentStandaloneHistory returns the user's newest limit turns across all
// conversations, oldest first.
func (s *SQLiteStore) RecentStandaloneHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, user_id, chat_id, user_text, reply, created_at FROM (
			SELECT id, user_id, chat_id, user_text, reply, created_at
			FROM turns WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`

	return s.queryTurns(ctx, "standalone history", query, userID, limit)
}

func (s *SQLiteStore) queryTurns(ctx context.Context, what, query string, args ...any) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer closeRows(rows, what)

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.ChatID, &t.UserText, &t.Reply, &createdAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", what, err)
		}
		t.CreatedAt = s.fromMillis(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return turns, nil
}

// CreateOrGetConversation returns the conversation for chatID, creating it when missing.
func (s *SQLiteStore) CreateOrGetConversation(ctx context.Context, userID, chatID string) (*domain.Conversation, error) {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	now := time.Now().UnixMilli()

	err := s.write(ctx, "create conversation", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (chat_id, user_id, created_at, last_activity_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chat_id) DO NOTHING`,
			chatID, userID, now, now)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, created_at, last_activity_at
		FROM conversations WHERE chat_id = ?`, chatID)

	var conv domain.Conversation
	var createdAt, lastActivity int64
	if err := row.Scan(&conv.ChatID, &conv.UserID, &createdAt, &lastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s vanished after insert", chatID)
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForeignConversation
	}
	conv.CreatedAt = s.fromMillis(createdAt)
	conv.LastActivityAt = s.fromMillis(lastActivity)
	return &conv, nil
}

// ListConversations returns the user's conversations titled by their first message.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	query := `
		SELECT c.chat_id,
		       COALESCE((SELECT t.user_text FROM turns t
		                 WHERE t.chat_id = c.chat_id AND t.user_id = c.user_id
		                 ORDER BY t.created_at ASC, t.id ASC LIMIT 1), ''),
		       c.last_activity_at
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.last_activity_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer closeRows(rows, "conversations")

	var out []domain.ConversationSummary
	for rows.Next() {
		var c domain.ConversationSummary
		var lastAt int64
		if err := rows.Scan(&c.ChatID, &c.Title, &lastAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		c.LastAt = s.fromMillis(lastAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}
