// Package app wires the assistant core to its storage and generation backends.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/config"
	"github.com/ashureev/pal/internal/generation"
	"github.com/ashureev/pal/internal/history"
	"github.com/ashureev/pal/internal/store"
	"github.com/ashureev/pal/internal/timeparse"
	"github.com/ashureev/pal/internal/transcript"
)

// App holds the long-lived dependencies shared by the server and the CLI.
type App struct {
	Config       *config.Config
	Repo         *store.SQLiteStore
	Generator    *generation.Generator
	Orchestrator *assistant.Orchestrator
	History      *history.MemoryCache
	Transcript   transcript.Logger

	closeProviders func()
}

// New opens the database and builds the orchestrator from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := timeparse.LoadLocation(cfg.Assistant.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	repo, err := store.NewSQLite(cfg.DBPath,
		store.WithLocation(loc),
		store.WithBusyTimeout(cfg.DBBusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	providers, closeProviders := generation.ProvidersFromConfig(cfg.Generation, logger)
	gen := generation.NewGenerator(providers, generation.WithLogger(logger))
	if len(providers) == 0 {
		logger.Warn("No generation providers configured, general chat will report unavailability")
	}

	tl, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		closeProviders()
		_ = repo.Close()
		return nil, fmt.Errorf("initialize conversation log: %w", err)
	}

	cache := history.NewMemoryCache(cfg.Assistant.HistoryCacheSize,
		history.WithMaxConversations(cfg.Assistant.HistoryMaxConversations))

	orch := assistant.NewOrchestrator(assistant.Deps{
		Parser:        timeparse.New(loc),
		Generator:     gen,
		Conversations: repo,
		Memory:        repo,
		Facts:         repo,
		Users:         repo,
		Greetings:     repo,
		History:       cache,
		Transcript:    tl,
		Logger:        logger,
	},
		assistant.WithPendingFollowUp(cfg.Assistant.PendingFollowUp),
		assistant.WithSystemPrompt(cfg.Assistant.SystemPrompt),
		assistant.WithGreetingTTL(cfg.Assistant.GreetingTTL),
	)

	logger.Info("Assistant ready",
		"timezone", loc.String(),
		"providers", gen.Providers(),
		"pending_followup", cfg.Assistant.PendingFollowUp,
	)

	return &App{
		Config:         cfg,
		Repo:           repo,
		Generator:      gen,
		Orchestrator:   orch,
		History:        cache,
		Transcript:     tl,
		closeProviders: closeProviders,
	}, nil
}

// Close flushes the conversation log and releases connections.
func (a *App) Close() error {
	if err := a.Transcript.Close(); err != nil {
		slog.Warn("Failed to close conversation log", "error", err)
	}
	a.closeProviders()
	return a.Repo.Close()
}
