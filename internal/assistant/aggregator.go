// Package assistant turns one user utterance into a reply: it classifies the
// utterance, gathers context, performs the side effect or calls generation,
// and records the turn.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/store"
)

// Context window sizes.
const (
	MemoryTopK          = 5
	ChatHistoryLimit    = 50
	StandaloneTurnLimit = 10
)

// Aggregator assembles the context window for a general-chat prompt.
type Aggregator struct {
	memory store.SemanticMemoryStore
	graph  store.KnowledgeGraphStore
	convs  store.ConversationStore
	logger *slog.Logger
}

// NewAggregator creates an Aggregator. Any store may be nil; its section
// of the bundle is then empty.
func NewAggregator(memory store.SemanticMemoryStore, graph store.KnowledgeGraphStore, convs store.ConversationStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{memory: memory, graph: graph, convs: convs, logger: logger}
}

// Aggregate fetches semantic matches, graph facts and prior turns
// concurrently. A failing source is logged and left empty.
func (a *Aggregator) Aggregate(ctx context.Context, userID, utterance, chatID string) domain.ContextBundle {
	var (
		wg     sync.WaitGroup
		bundle domain.ContextBundle
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		bundle.SemanticMatches = a.semanticMatches(ctx, userID, utterance)
	}()
	go func() {
		defer wg.Done()
		bundle.GraphFacts = a.facts(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		bundle.PriorTurns = a.priorTurns(ctx, userID, chatID)
	}()
	wg.Wait()

	return bundle
}

func (a *Aggregator) semanticMatches(ctx context.Context, userID, utterance string) []string {
	if a.memory == nil {
		return nil
	}
	matches, err := a.memory.QueryMemory(ctx, userID, utterance, MemoryTopK)
	if err != nil {
		a.logger.Warn("Semantic memory fetch failed", "user_id", userID, "error", err)
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Content)
	}
	return out
}

func (a *Aggregator) facts(ctx context.Context, userID string) map[string]string {
	if a.graph == nil {
		return nil
	}
	facts, err := a.graph.GetFacts(ctx, userID)
	if err != nil {
		a.logger.Warn("Knowledge graph fetch failed", "user_id", userID, "error", err)
		return nil
	}
	return facts
}

func (a *Aggregator) priorTurns(ctx context.Context, userID, chatID string) []domain.Utterance {
	if a.convs == nil {
		return nil
	}

	var (
		turns []domain.Turn
		err   error
		limit int
	)
	if chatID != "" {
		turns, err = a.convs.RecentTurns(ctx, userID, chatID, ChatHistoryLimit)
		limit = ChatHistoryLimit
	} else {
		turns, err = a.convs.RecentStandaloneHistory(ctx, userID, StandaloneTurnLimit)
	}
	if err != nil {
		a.logger.Warn("Chat history fetch failed", "user_id", userID, "chat_id", chatID, "error", err)
		return nil
	}

	var lines []domain.Utterance
	for _, t := range turns {
		lines = append(lines, t.Lines()...)
	}
	// A conversation window counts messages, not turns.
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// BuildPrompt renders the system prompt, context sections and utterance.
func BuildPrompt(system string, bundle domain.ContextBundle, utterance string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString("=== User Context ===\n")
	b.WriteString(bundle.MemoryText())
	b.WriteString("\n\n=== Knowledge Base Facts ===\n")
	b.WriteString(bundle.FactsText())
	b.WriteString("\n\n=== Chat History ===\n")
	b.WriteString(bundle.HistoryText())
	b.WriteString("\n\nUser: ")
	b.WriteString(utterance)
	b.WriteString("\nAssistant:")
	return b.String()
}
