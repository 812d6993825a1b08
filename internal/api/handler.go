// Package api provides HTTP handlers for the assistant API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/identity"
	"github.com/ashureev/pal/internal/middleware"
	"github.com/ashureev/pal/internal/store"
)

const defaultMaxRequestBodySize = 64 << 10

// Handler serves the chat, task and conversation endpoints.
type Handler struct {
	orch        *assistant.Orchestrator
	repo        store.Repository
	hub         *SessionHub
	limiter     *middleware.RateLimiter
	maxBodySize int64
}

// NewHandler creates a Handler. limiter may be nil to disable throttling.
func NewHandler(orch *assistant.Orchestrator, repo store.Repository, hub *SessionHub, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		orch:        orch,
		repo:        repo,
		hub:         hub,
		limiter:     limiter,
		maxBodySize: defaultMaxRequestBodySize,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(middleware.RateLimit(h.limiter, func(r *http.Request) string {
					return identity.UserIDFromContext(r.Context())
				}))
			}
			r.Post("/chat", h.Chat)
			r.Post("/summarize", h.Summarize)
		})
		r.Get("/chat/greet", h.Greet)
		r.Get("/chat/recent", h.Recent)

		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks/completed", h.DeleteCompletedTasks)
		r.Delete("/tasks/{taskID}", h.DeleteTask)

		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{chatID}/messages", h.ConversationMessages)
	})
	if h.hub != nil {
		r.Get("/ws/chat", h.hub.ServeHTTP)
	}
}

// GetMe returns the caller's identity and stored profile.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), id.UserID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	name, email := id.Name, id.Email
	if name == "" {
		name = user.Name
	}
	if email == "" {
		email = user.Email
	}
	JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserID,
		"name":       name,
		"email":      email,
		"created_at": user.CreatedAt,
	})
}

// decodeJSON reads a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback, maxValue int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	if v > maxValue {
		return maxValue
	}
	return v
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
