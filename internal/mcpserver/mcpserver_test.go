package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/generation"
	"github.com/ashureev/pal/internal/store"
)

func testSetup(t *testing.T) (*Handlers, *store.SQLiteStore) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "pal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	orch := assistant.NewOrchestrator(assistant.Deps{
		Generator:     generation.NewGenerator([]generation.Provider{{Backend: generation.EchoBackend{}, Timeout: time.Second}}),
		Conversations: repo,
		Memory:        repo,
		Facts:         repo,
		Users:         repo,
	})
	return NewHandlers(orch, repo, ""), repo
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &out))
	return out
}

func TestAllToolNames(t *testing.T) {
	require.Equal(t, []string{"assistant_chat", "assistant_facts", "assistant_tasks"}, AllToolNames())
}

func TestHandleChat(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	result, err := h.HandleChat(ctx, makeRequest(map[string]any{"message": "tell me a joke"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	out := resultJSON(t, result)
	require.Equal(t, "You said: tell me a joke", out["reply"])
	chatID, _ := out["chat_id"].(string)
	require.NotEmpty(t, chatID)

	result, err = h.HandleChat(ctx, makeRequest(map[string]any{"message": "another", "chat_id": chatID}))
	require.NoError(t, err)
	require.Equal(t, chatID, resultJSON(t, result)["chat_id"])
}

func TestHandleChatErrors(t *testing.T) {
	h, repo := testSetup(t)
	ctx := context.Background()

	result, err := h.HandleChat(ctx, makeRequest(map[string]any{"message": "  "}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, "INVALID_REQUEST", resultJSON(t, result)["error"].(map[string]any)["code"])

	conv, err := repo.CreateOrGetConversation(ctx, "someone-else", "")
	require.NoError(t, err)
	result, err = h.HandleChat(ctx, makeRequest(map[string]any{"message": "hi", "chat_id": conv.ChatID}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleTasks(t *testing.T) {
	h, repo := testSetup(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour)
	task := &domain.Task{UserID: DefaultUserID, Title: "water plants", DueAt: &due, Priority: "medium", Category: "personal"}
	require.NoError(t, repo.UpsertTask(ctx, task))

	result, err := h.HandleTasks(ctx, makeRequest(map[string]any{}))
	require.NoError(t, err)
	tasks := resultJSON(t, result)["tasks"].([]any)
	require.Len(t, tasks, 1)
	require.Equal(t, "water plants", tasks[0].(map[string]any)["title"])

	result, err = h.HandleTasks(ctx, makeRequest(map[string]any{"action": "delete", "task_id": float64(task.ID)}))
	require.NoError(t, err)
	require.Equal(t, true, resultJSON(t, result)["deleted"])

	result, err = h.HandleTasks(ctx, makeRequest(map[string]any{"action": "delete"}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	result, err = h.HandleTasks(ctx, makeRequest(map[string]any{"action": "explode"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleFacts(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	result, err := h.HandleFacts(ctx, makeRequest(map[string]any{"key": "city", "value": "Pune", "user_id": "u9"}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"city": "Pune"}, resultJSON(t, result)["facts"])

	result, err = h.HandleFacts(ctx, makeRequest(map[string]any{"user_id": "u9"}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"city": "Pune"}, resultJSON(t, result)["facts"])

	result, err = h.HandleFacts(ctx, makeRequest(map[string]any{"key": "city"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}
