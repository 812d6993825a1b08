package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/app"
	"github.com/ashureev/pal/internal/config"
)

// setupApp builds an App on a temporary database with the echo backend.
func setupApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	a, err := app.New(context.Background(), &config.Config{
		DBPath: filepath.Join(dir, "pal.db"),
		Assistant: config.AssistantConfig{
			Timezone:         "UTC",
			HistoryCacheSize: 10,
		},
		Generation: config.GenerationConfig{
			Providers:      []string{"echo"},
			FailureTimeout: time.Second,
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// run executes palctl with args and decodes its JSON output.
func run(t *testing.T, a *app.App, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newCLIApp(a)
	cliApp.Writer = &out

	if err := cliApp.Run(append([]string{"palctl"}, args...)); err != nil {
		return nil, err
	}
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got, nil
}

func TestChatCommand(t *testing.T) {
	a := setupApp(t)

	got, err := run(t, a, "chat", "--user", "u1", "what", "is", "up")
	require.NoError(t, err)
	require.Equal(t, "You said: what is up", got["reply"])
	chatID := got["chat_id"].(string)

	got, err = run(t, a, "chat", "--user", "u1", "--chat-id", chatID, "show chat history")
	require.NoError(t, err)
	require.Equal(t, "Here are your last 1 messages.", got["reply"])

	_, err = run(t, a, "chat", "--user", "u2", "--chat-id", chatID, "hello")
	require.Error(t, err)

	_, err = run(t, a, "chat")
	require.Error(t, err)
}

func TestTasksCommand(t *testing.T) {
	a := setupApp(t)

	_, err := run(t, a, "chat", "--user", "u1", "remind me to stretch in 10 minutes")
	require.NoError(t, err)

	got, err := run(t, a, "tasks", "--user", "u1")
	require.NoError(t, err)
	tasks := got["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	require.Equal(t, "stretch", task["title"])

	id := int64(task["id"].(float64))
	_, err = run(t, a, "tasks", "--user", "u1", "--delete", strconv.FormatInt(id, 10))
	require.NoError(t, err)

	_, err = run(t, a, "tasks", "--user", "u1", "--delete", strconv.FormatInt(id, 10))
	require.Error(t, err)

	got, err = run(t, a, "tasks", "--user", "u1", "--clear-completed")
	require.NoError(t, err)
	require.EqualValues(t, 0, got["deleted"])
}

func TestHistoryCommand(t *testing.T) {
	a := setupApp(t)

	for _, msg := range []string{"first", "second"} {
		_, err := run(t, a, "chat", "--user", "u1", msg)
		require.NoError(t, err)
	}

	got, err := run(t, a, "history", "--user", "u1", "--limit", "1")
	require.NoError(t, err)
	entries := got["history"].([]any)
	require.Len(t, entries, 1)
	require.Equal(t, "second", entries[0].(map[string]any)["user"])

	got, err = run(t, a, "history", "--user", "u1", "--conversations")
	require.NoError(t, err)
	require.Len(t, got["conversations"].([]any), 2)
}

func TestFactsCommand(t *testing.T) {
	a := setupApp(t)

	got, err := run(t, a, "facts", "--user", "u1", "--set", "city=Pune", "--set", "pet = cat")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"city": "Pune", "pet": "cat"}, got["facts"])

	_, err = run(t, a, "facts", "--user", "u1", "--set", "broken")
	require.Error(t, err)
}
