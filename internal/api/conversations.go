package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/identity"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// ListConversations returns the caller's conversations, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list conversations", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// ConversationMessages returns a conversation's messages as speaker lines.
func (h *Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")
	limit := queryInt(r, "limit", defaultMessageLimit, maxMessageLimit)

	turns, err := h.repo.RecentTurns(r.Context(), userID, chatID, limit)
	if err != nil {
		slog.Error("Failed to load conversation", "user_id", userID, "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if len(turns) == 0 {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages := make([]domain.Utterance, 0, 2*len(turns))
	for _, t := range turns {
		messages = append(messages, t.Lines()...)
	}
	JSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "messages": messages})
}
