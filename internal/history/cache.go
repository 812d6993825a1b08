// Package history keeps a short, per-conversation list of recent exchanges
// for fast "what did I say" lookups.
package history

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultSize is the number of entries kept per user and conversation.
const DefaultSize = 10

// DefaultMaxConversations bounds how many conversations a MemoryCache tracks.
const DefaultMaxConversations = 10000

// defaultChat keys entries recorded outside any conversation.
const defaultChat = "default"

// Entry is one cached exchange.
type Entry struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache is a bounded recent-history store.
type Cache interface {
	// Push records an entry, evicting the oldest beyond the size bound.
	Push(ctx context.Context, userID, chatID string, e Entry) error
	// Fetch returns up to limit entries, newest first.
	Fetch(ctx context.Context, userID, chatID string, limit int) ([]Entry, error)
}

type conversation struct {
	key      string
	entries  *list.List
	lastUsed time.Time
}

// MemoryCache is an in-process Cache sharded per user and conversation, so
// one conversation's burst cannot evict another's entries. Conversations
// are kept in least-recently-used order; past the conversation bound the
// least recently used one is dropped.
type MemoryCache struct {
	mu               sync.Mutex
	byKey            map[string]*list.Element
	lru              *list.List
	maxSize          int
	maxConversations int
	now              func() time.Time
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithMaxConversations caps the number of conversations held at once.
func WithMaxConversations(n int) Option {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxConversations = n
		}
	}
}

// NewMemoryCache creates a cache holding maxSize entries per conversation.
func NewMemoryCache(maxSize int, opts ...Option) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	c := &MemoryCache{
		byKey:            make(map[string]*list.Element),
		lru:              list.New(),
		maxSize:          maxSize,
		maxConversations: DefaultMaxConversations,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(userID, chatID string) string {
	if chatID == "" {
		chatID = defaultChat
	}
	return "chat_history:" + userID + ":" + chatID
}

// Push adds an entry at the front of the conversation's list.
func (c *MemoryCache) Push(_ context.Context, userID, chatID string, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	key := cacheKey(userID, chatID)

	c.mu.Lock()
	defer c.mu.Unlock()

	var conv *conversation
	if elem, ok := c.byKey[key]; ok {
		conv = elem.Value.(*conversation)
		c.lru.MoveToFront(elem)
	} else {
		conv = &conversation{key: key, entries: list.New()}
		c.byKey[key] = c.lru.PushFront(conv)
	}
	conv.lastUsed = c.now()

	conv.entries.PushFront(e)
	for conv.entries.Len() > c.maxSize {
		conv.entries.Remove(conv.entries.Back())
	}

	for c.lru.Len() > c.maxConversations {
		c.removeElement(c.lru.Back())
	}
	return nil
}

// Fetch returns up to limit entries, newest first. A limit <= 0 returns all.
func (c *MemoryCache) Fetch(_ context.Context, userID, chatID string, limit int) ([]Entry, error) {
	key := cacheKey(userID, chatID)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byKey[key]
	if !ok {
		return nil, nil
	}
	c.lru.MoveToFront(elem)
	conv := elem.Value.(*conversation)
	conv.lastUsed = c.now()

	l := conv.entries
	if limit <= 0 || limit > l.Len() {
		limit = l.Len()
	}
	out := make([]Entry, 0, limit)
	for e := l.Front(); e != nil && len(out) < limit; e = e.Next() {
		out = append(out, e.Value.(Entry))
	}
	return out, nil
}

// PruneIdle drops every conversation not pushed to or fetched since before
// and returns how many were removed.
func (c *MemoryCache) PruneIdle(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lru.Back(); elem != nil; elem = c.lru.Back() {
		if !elem.Value.(*conversation).lastUsed.Before(before) {
			break
		}
		c.removeElement(elem)
		removed++
	}
	return removed
}

// Len reports how many conversations are cached.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	conv := c.lru.Remove(elem).(*conversation)
	delete(c.byKey, conv.key)
}
