package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/history"
	"github.com/ashureev/pal/internal/identity"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 50
)

// ChatRequest is the body of POST /api/chat and of WebSocket chat frames.
type ChatRequest struct {
	UserMessage string `json:"user_message"`
	ChatID      string `json:"chat_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	UserEmail   string `json:"user_email,omitempty"`
}

// ChatResponse is an assistant reply plus its HTML rendering.
type ChatResponse struct {
	assistant.Reply
	ReplyHTML string `json:"reply_html"`
}

func newChatResponse(reply assistant.Reply) ChatResponse {
	return ChatResponse{Reply: reply, ReplyHTML: renderMarkdown(reply.Text)}
}

func (req ChatRequest) toAssistant(r *http.Request, channel string) assistant.Request {
	return assistant.Request{
		Utterance:      req.UserMessage,
		ConversationID: strings.TrimSpace(req.ChatID),
		Identity:       identity.FromContext(r.Context()),
		ProfileName:    strings.TrimSpace(req.UserName),
		ProfileEmail:   strings.TrimSpace(req.UserEmail),
		Channel:        channel,
	}
}

// Chat handles one conversational turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		Error(w, http.StatusBadRequest, "user_message is required")
		return
	}

	slog.Info("Chat request",
		"user_id", identity.UserIDFromContext(r.Context()),
		"chat_id", req.ChatID,
		"request_id", middleware.GetReqID(r.Context()),
		"message_length", len(req.UserMessage),
	)

	reply := h.orch.Handle(r.Context(), req.toAssistant(r, "chat_http"))
	if reply.Status == assistant.StatusConversationNotFound {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, newChatResponse(reply))
}

// Greet returns the daily greeting once per day.
func (h *Handler) Greet(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.orch.Greet(r.Context(), identity.FromContext(r.Context())))
}

// Recent returns the newest cached exchanges for a conversation.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := r.URL.Query().Get("chat_id")
	limit := queryInt(r, "limit", defaultRecentLimit, maxRecentLimit)

	entries := h.orch.RecentHistory(r.Context(), userID, chatID, limit)
	if entries == nil {
		entries = []history.Entry{}
	}
	JSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "history": entries})
}

type summarizeRequest struct {
	Text string `json:"text"`
}

// Summarize condenses the posted text.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	summary := h.orch.Summarize(r.Context(), req.Text)
	JSON(w, http.StatusOK, map[string]string{"summary": summary, "summary_html": renderMarkdown(summary)})
}
