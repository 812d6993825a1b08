package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/store"
)

// DefaultUserID acts for tool calls that name no user.
const DefaultUserID = "local"

var errInvalidRequest = errors.New("invalid request")

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	orch        *assistant.Orchestrator
	repo        store.Repository
	defaultUser string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *assistant.Orchestrator, repo store.Repository, defaultUser string) *Handlers {
	if defaultUser == "" {
		defaultUser = DefaultUserID
	}
	return &Handlers{orch: orch, repo: repo, defaultUser: defaultUser}
}

// ChatRequest represents the arguments for assistant_chat.
type ChatRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// TasksRequest represents the arguments for assistant_tasks.
type TasksRequest struct {
	Action string `json:"action,omitempty"`
	TaskID int64  `json:"task_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// FactsRequest represents the arguments for assistant_facts.
type FactsRequest struct {
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func (h *Handlers) user(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return h.defaultUser
}

// HandleChat handles the assistant_chat tool call.
func (h *Handlers) HandleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChatRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%w: %v", errInvalidRequest, err)), nil
	}
	if strings.TrimSpace(input.Message) == "" {
		return errorResult(fmt.Errorf("%w: message is required", errInvalidRequest)), nil
	}

	reply := h.orch.Handle(ctx, assistant.Request{
		Utterance:      input.Message,
		ConversationID: strings.TrimSpace(input.ChatID),
		Identity:       domain.Identity{UserID: h.user(input.UserID)},
		Channel:        "mcp",
	})
	if reply.Status == assistant.StatusConversationNotFound {
		return errorResult(fmt.Errorf("%w: conversation not found", errInvalidRequest)), nil
	}
	return successResult(reply)
}

// HandleTasks handles the assistant_tasks tool call.
func (h *Handlers) HandleTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TasksRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%w: %v", errInvalidRequest, err)), nil
	}
	userID := h.user(input.UserID)

	switch input.Action {
	case "", "list":
		tasks, err := h.repo.ListTasks(ctx, userID)
		if err != nil {
			return errorResult(err), nil
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return successResult(map[string]any{"tasks": tasks})

	case "delete":
		if input.TaskID <= 0 {
			return errorResult(fmt.Errorf("%w: task_id is required", errInvalidRequest)), nil
		}
		deleted, err := h.repo.DeleteTask(ctx, userID, input.TaskID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"deleted": deleted, "task_id": input.TaskID})

	case "clear_completed":
		n, err := h.repo.DeleteCompletedTasks(ctx, userID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"deleted": n})

	default:
		return errorResult(fmt.Errorf("%w: unknown action %q", errInvalidRequest, input.Action)), nil
	}
}

// HandleFacts handles the assistant_facts tool call.
func (h *Handlers) HandleFacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FactsRequest](req)
	if err != nil {
		return errorResult(fmt.Errorf("%w: %v", errInvalidRequest, err)), nil
	}
	userID := h.user(input.UserID)

	key := strings.TrimSpace(input.Key)
	if key != "" || input.Value != "" {
		if key == "" || strings.TrimSpace(input.Value) == "" {
			return errorResult(fmt.Errorf("%w: key and value must be given together", errInvalidRequest)), nil
		}
		if err := h.repo.PutFact(ctx, userID, key, strings.TrimSpace(input.Value)); err != nil {
			return errorResult(err), nil
		}
	}

	facts, err := h.repo.GetFacts(ctx, userID)
	if err != nil {
		return errorResult(err), nil
	}
	if facts == nil {
		facts = map[string]string{}
	}
	return successResult(map[string]any{"facts": facts})
}

// errorResult creates an MCP error result. Only invalid-request details are
// shown to the client.
func errorResult(err error) *mcp.CallToolResult {
	payload := map[string]any{
		"error": map[string]any{"code": "INTERNAL", "message": "an internal error occurred"},
	}
	if errors.Is(err, errInvalidRequest) {
		payload["error"] = map[string]any{"code": "INVALID_REQUEST", "message": err.Error()}
	} else {
		slog.Error("MCP tool call failed", "error", err)
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
