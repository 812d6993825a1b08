package api

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/identity"
)

const (
	wsWriteTimeout      = 5 * time.Second
	wsReadLimit         = 64 << 10
	defaultOutboxSize   = 20
	lastSeenTimeout     = 5 * time.Second
	reminderEventType   = "reminder"
	replyEventType      = "reply"
	errorEventType      = "error"
	pongEventType       = "pong"
	greetingEventType   = "greeting"
	reminderTextPrefix  = "Reminder: "
	chatRateLimitedText = "rate limit exceeded"
)

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type string `json:"type"`
	ChatRequest
}

// Event is a server frame on /ws/chat.
type Event struct {
	Type     string                 `json:"type"`
	Text     string                 `json:"text,omitempty"`
	Task     *domain.Task           `json:"task,omitempty"`
	Reply    *ChatResponse          `json:"reply,omitempty"`
	Greeting *assistant.GreetResult `json:"greeting,omitempty"`
	Error    string                 `json:"error,omitempty"`
	SentAt   time.Time              `json:"sent_at"`
}

// outbox buffers events for users with no open socket, sharded per user.
type outbox struct {
	mu      sync.Mutex
	queues  map[string]*list.List
	maxSize int
}

func newOutbox(maxSize int) *outbox {
	if maxSize <= 0 {
		maxSize = defaultOutboxSize
	}
	return &outbox{queues: make(map[string]*list.List), maxSize: maxSize}
}

func (o *outbox) enqueue(userID string, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.queues[userID]
	if !ok {
		l = list.New()
		o.queues[userID] = l
	}
	l.PushBack(ev)
	// Evict oldest events only within this user's queue.
	for l.Len() > o.maxSize {
		l.Remove(l.Front())
	}
}

func (o *outbox) drain(userID string) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.queues[userID]
	if !ok {
		return nil
	}
	delete(o.queues, userID)

	events := make([]Event, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		events = append(events, e.Value.(Event))
	}
	return events
}

type lastSeenUpdater interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// SessionHub tracks open chat sockets per user and pushes events to them.
type SessionHub struct {
	orch          *assistant.Orchestrator
	users         lastSeenUpdater
	allowedOrigin string
	isDev         bool
	allow         func(userID string) bool

	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
	outbox *outbox
}

// HubOption configures a SessionHub.
type HubOption func(*SessionHub)

// WithOriginCheck restricts upgrades to allowedOrigin unless isDev is set.
func WithOriginCheck(allowedOrigin string, isDev bool) HubOption {
	return func(h *SessionHub) {
		h.allowedOrigin = allowedOrigin
		h.isDev = isDev
	}
}

// WithChatLimit throttles chat frames; allow reports whether a frame may run.
func WithChatLimit(allow func(userID string) bool) HubOption {
	return func(h *SessionHub) { h.allow = allow }
}

// NewSessionHub creates a hub. users may be nil.
func NewSessionHub(orch *assistant.Orchestrator, users lastSeenUpdater, opts ...HubOption) *SessionHub {
	h := &SessionHub{
		orch:          orch,
		users:         users,
		allowedOrigin: "*",
		active:        make(map[string]map[*websocket.Conn]struct{}),
		outbox:        newOutbox(defaultOutboxSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection for a user.
func (h *SessionHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[*websocket.Conn]struct{})
	}
	h.active[userID][conn] = struct{}{}
	slog.Info("Chat session registered", "user_id", userID, "sessions", len(h.active[userID]))
}

// Unregister removes a connection for a user.
func (h *SessionHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, userID)
		}
		slog.Info("Chat session unregistered", "user_id", userID)
	}
}

// Sessions returns how many sockets the user has open.
func (h *SessionHub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// CloseAll sends a going-away close to every open socket and waits for the
// handshakes to finish. It returns how many sockets were closed.
func (h *SessionHub) CloseAll() int {
	h.mu.Lock()
	var conns []*websocket.Conn
	for _, set := range h.active {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.active = make(map[string]map[*websocket.Conn]struct{})
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}(c)
	}
	wg.Wait()
	return len(conns)
}

// Push sends ev to every open socket of the user. When none is open, or
// every write fails, the event is queued for the next connection.
func (h *SessionHub) Push(userID string, ev Event) int {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for c := range h.active[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := writeEvent(context.Background(), c, ev); err != nil {
			slog.Debug("Failed to push event", "user_id", userID, "type", ev.Type, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		h.outbox.enqueue(userID, ev)
	}
	return delivered
}

// NotifyReminder pushes a due-task reminder to the task owner.
func (h *SessionHub) NotifyReminder(task domain.Task) {
	h.Push(task.UserID, Event{
		Type: reminderEventType,
		Text: reminderTextPrefix + task.Title,
		Task: &task,
	})
}

// ServeHTTP upgrades the request and runs the chat loop until the client leaves.
func (h *SessionHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", id.UserID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", id.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", id.UserID)
		}
	}()
	ws.SetReadLimit(wsReadLimit)

	h.Register(id.UserID, ws)
	defer h.Unregister(id.UserID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for _, ev := range h.outbox.drain(id.UserID) {
		if err := writeEvent(ctx, ws, ev); err != nil {
			slog.Debug("Failed to flush queued event", "user_id", id.UserID, "error", err)
			h.outbox.enqueue(id.UserID, ev)
		}
	}

	h.readLoop(ctx, ws, r, id)
	slog.Info("Chat session ended", "user_id", id.UserID)
}

func (h *SessionHub) readLoop(ctx context.Context, ws *websocket.Conn, r *http.Request, id domain.Identity) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", id.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", id.UserID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, id.UserID, Event{Type: errorEventType, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "chat", "":
			h.handleChat(ctx, ws, r, id, msg.ChatRequest)
		case "greet":
			greeting := h.orch.Greet(ctx, id)
			h.reply(ctx, ws, id.UserID, Event{Type: greetingEventType, Greeting: &greeting, Text: greeting.Message})
		case "ping":
			h.reply(ctx, ws, id.UserID, Event{Type: pongEventType})
		default:
			h.reply(ctx, ws, id.UserID, Event{Type: errorEventType, Error: "unknown message type"})
		}

		h.touch(id.UserID)
	}
}

func (h *SessionHub) handleChat(ctx context.Context, ws *websocket.Conn, r *http.Request, id domain.Identity, req ChatRequest) {
	if strings.TrimSpace(req.UserMessage) == "" {
		h.reply(ctx, ws, id.UserID, Event{Type: errorEventType, Error: "user_message is required"})
		return
	}
	if h.allow != nil && !h.allow(id.UserID) {
		h.reply(ctx, ws, id.UserID, Event{Type: errorEventType, Error: chatRateLimitedText})
		return
	}

	reply := h.orch.Handle(ctx, req.toAssistant(r, "chat_ws"))
	if reply.Status == assistant.StatusConversationNotFound {
		h.reply(ctx, ws, id.UserID, Event{Type: errorEventType, Error: "conversation not found"})
		return
	}
	resp := newChatResponse(reply)
	h.reply(ctx, ws, id.UserID, Event{Type: replyEventType, Text: reply.Text, Reply: &resp})
}

func (h *SessionHub) reply(ctx context.Context, ws *websocket.Conn, userID string, ev Event) {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	if err := writeEvent(ctx, ws, ev); err != nil {
		slog.Debug("Failed to send event", "user_id", userID, "type", ev.Type, "error", err)
	}
}

// touch updates last seen asynchronously with a timeout.
func (h *SessionHub) touch(userID string) {
	if h.users == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), lastSeenTimeout)
		defer cancel()
		if err := h.users.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func (h *SessionHub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
