package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ashureev/pal/internal/domain"
)

// memoryScanLimit bounds how many recent memories a query scores.
const memoryScanLimit = 500

// QueryMemory returns up to topK memories ranked by token overlap with text.
// Ties go to the more recent memory; memories sharing no token are skipped.
func (s *SQLiteStore) QueryMemory(ctx context.Context, userID, text string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := tokenSet(text)
	if len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM memories WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, memoryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer closeRows(rows, "memories")

	var matches []domain.MemoryMatch
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		if score := jaccard(query, tokenSet(content)); score > 0 {
			matches = append(matches, domain.MemoryMatch{Content: content, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	// Rows arrive newest first, so a stable sort keeps recency as the tie-break.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// StoreMemory appends a memory for the user. Blank text is ignored.
func (s *SQLiteStore) StoreMemory(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	now := time.Now()
	id := s.newID(now)

	return s.write(ctx, "store memory", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO memories (id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
			id, userID, text, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		return nil
	})
}

// GetFacts returns every fact stored for the user.
func (s *SQLiteStore) GetFacts(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM facts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer closeRows(rows, "facts")

	facts := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		facts[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// PutFact sets a fact for the user, overwriting the previous value for key.
func (s *SQLiteStore) PutFact(ctx context.Context, userID, key, value string) error {
	return s.write(ctx, "put fact", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO facts (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			userID, key, value, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("put fact: %w", err)
		}
		return nil
	})
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
