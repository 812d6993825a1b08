package assistant

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/store"
)

func seededStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.PutFact(ctx, "u1", "favorite color", "blue"))
	require.NoError(t, s.PutFact(ctx, "u1", "city", "pune"))
	require.NoError(t, s.StoreMemory(ctx, "u1", "I love hiking in the hills"))
	require.NoError(t, s.StoreMemory(ctx, "u1", "my sister lives in delhi"))

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := range 30 {
		require.NoError(t, s.AppendTurn(ctx, &domain.Turn{
			UserID:    "u1",
			ChatID:    "c1",
			UserText:  fmt.Sprintf("q%d", i),
			Reply:     fmt.Sprintf("a%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return s
}

func TestAggregateConversationWindow(t *testing.T) {
	s := seededStore(t)
	a := NewAggregator(s, s, s, nil)

	bundle := a.Aggregate(context.Background(), "u1", "any good hiking trails?", "c1")

	require.Equal(t, []string{"I love hiking in the hills"}, bundle.SemanticMatches)
	require.Equal(t, "city: pune\nfavorite color: blue", bundle.FactsText())

	// 30 turns give 60 lines; the window keeps the newest 50.
	require.Len(t, bundle.PriorTurns, ChatHistoryLimit)
	require.Equal(t, domain.Utterance{Speaker: domain.SpeakerHuman, Text: "q5"}, bundle.PriorTurns[0])
	require.Equal(t, domain.Utterance{Speaker: domain.SpeakerAssistant, Text: "a29"}, bundle.PriorTurns[len(bundle.PriorTurns)-1])
}

func TestAggregateStandaloneHistory(t *testing.T) {
	s := seededStore(t)
	a := NewAggregator(s, s, s, nil)

	bundle := a.Aggregate(context.Background(), "u1", "hello", "")
	require.Len(t, bundle.PriorTurns, 2*StandaloneTurnLimit)
	require.Equal(t, "q20", bundle.PriorTurns[0].Text)
	require.Equal(t, "a29", bundle.PriorTurns[len(bundle.PriorTurns)-1].Text)
}

func TestAggregateIsIdempotent(t *testing.T) {
	s := seededStore(t)
	a := NewAggregator(s, s, s, nil)
	ctx := context.Background()

	first := a.Aggregate(ctx, "u1", "where does my sister live", "c1")
	second := a.Aggregate(ctx, "u1", "where does my sister live", "c1")
	require.Equal(t, first, second)
	require.Equal(t,
		BuildPrompt("sys", first, "where does my sister live"),
		BuildPrompt("sys", second, "where does my sister live"))
}

type brokenMemory struct{}

func (brokenMemory) QueryMemory(context.Context, string, string, int) ([]domain.MemoryMatch, error) {
	return nil, errors.New("vector index offline")
}

func (brokenMemory) StoreMemory(context.Context, string, string) error {
	return errors.New("vector index offline")
}

type brokenGraph struct{}

func (brokenGraph) GetFacts(context.Context, string) (map[string]string, error) {
	return nil, errors.New("graph offline")
}

func (brokenGraph) PutFact(context.Context, string, string, string) error {
	return errors.New("graph offline")
}

func TestAggregateSourceFailureIsIsolated(t *testing.T) {
	s := seededStore(t)
	a := NewAggregator(brokenMemory{}, brokenGraph{}, s, nil)

	bundle := a.Aggregate(context.Background(), "u1", "hiking", "c1")
	require.Empty(t, bundle.SemanticMatches)
	require.Empty(t, bundle.GraphFacts)
	require.Len(t, bundle.PriorTurns, ChatHistoryLimit)
}

func TestAggregateNilStores(t *testing.T) {
	a := NewAggregator(nil, nil, nil, nil)
	require.Equal(t, domain.ContextBundle{}, a.Aggregate(context.Background(), "u1", "hi", ""))
}

func TestBuildPrompt(t *testing.T) {
	bundle := domain.ContextBundle{
		SemanticMatches: []string{"likes tea"},
		GraphFacts:      map[string]string{"b": "2", "a": "1"},
		PriorTurns: []domain.Utterance{
			{Speaker: domain.SpeakerHuman, Text: "hi"},
			{Speaker: domain.SpeakerAssistant, Text: "hello"},
		},
	}

	want := "SYSTEM\n\n" +
		"=== User Context ===\nlikes tea\n\n" +
		"=== Knowledge Base Facts ===\na: 1\nb: 2\n\n" +
		"=== Chat History ===\nHuman: hi\nAssistant: hello\n\n" +
		"User: what now?\nAssistant:"
	require.Equal(t, want, BuildPrompt("SYSTEM", bundle, "what now?"))
}
