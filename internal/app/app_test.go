package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/config"
	"github.com/ashureev/pal/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:   "0",
		DBPath: filepath.Join(dir, "pal.db"),
		Assistant: config.AssistantConfig{
			Timezone:         "UTC",
			HistoryCacheSize: 10,
			GreetingTTL:      time.Hour,
		},
		Generation: config.GenerationConfig{
			Providers:      []string{"echo"},
			FailureTimeout: time.Second,
		},
		ConversationLog: config.ConversationLogConfig{
			Enabled:   true,
			Dir:       filepath.Join(dir, "logs"),
			QueueSize: 16,
		},
	}
}

func TestNewWiresEchoChain(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	require.Equal(t, []string{"echo"}, a.Generator.Providers())

	reply := a.Orchestrator.Handle(context.Background(), assistant.Request{
		Utterance: "how are you",
		Identity:  domain.Identity{UserID: "u1"},
	})
	require.True(t, reply.Success)
	require.Equal(t, "You said: how are you", reply.Text)

	convs, err := a.Repo.ListConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assistant.Timezone = "Mars/Olympus"

	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "load timezone")
}
