package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/identity"
)

// ListTasks returns the caller's tasks, soonest first.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tasks, err := h.repo.ListTasks(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list tasks", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	JSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// DeleteTask removes one of the caller's tasks.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		Error(w, http.StatusBadRequest, "invalid task id")
		return
	}

	deleted, err := h.repo.DeleteTask(r.Context(), userID, taskID)
	if err != nil {
		slog.Error("Failed to delete task", "user_id", userID, "task_id", taskID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "task not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"deleted": true, "task_id": taskID})
}

// DeleteCompletedTasks removes every task that already fired.
func (h *Handler) DeleteCompletedTasks(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	n, err := h.repo.DeleteCompletedTasks(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to delete completed tasks", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete completed tasks")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"deleted": n})
}
