package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/generation"
	"github.com/ashureev/pal/internal/history"
	"github.com/ashureev/pal/internal/intent"
	"github.com/ashureev/pal/internal/store"
	"github.com/ashureev/pal/internal/timeparse"
)

type fakeGenerator struct {
	mu        sync.Mutex
	prompts   []string
	text      string
	exhausted bool
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) generation.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.exhausted {
		return generation.Result{Text: generation.Apology, Exhausted: true}
	}
	return generation.Result{Text: f.text, Provider: "fake"}
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type harness struct {
	orch  *Orchestrator
	store *store.SQLiteStore
	gen   *fakeGenerator
	cache *history.MemoryCache
	now   time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	loc, err := timeparse.LoadLocation("")
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 10, 15, 42, 0, loc)
	parser := timeparse.New(loc, timeparse.WithClock(func() time.Time { return now }))

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pal.db"), store.WithLocation(loc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	gen := &fakeGenerator{text: "Sure, happy to help."}
	cache := history.NewMemoryCache(history.DefaultSize)

	orch := NewOrchestrator(Deps{
		Parser:        parser,
		Generator:     gen,
		Conversations: s,
		Memory:        s,
		Facts:         s,
		Users:         s,
		Greetings:     s,
		History:       cache,
	}, opts...)

	return &harness{orch: orch, store: s, gen: gen, cache: cache, now: now}
}

func (h *harness) say(t *testing.T, utterance string) Reply {
	t.Helper()
	return h.orch.Handle(context.Background(), Request{
		Utterance: utterance,
		Identity:  domain.Identity{UserID: "u1", Name: "Asha"},
	})
}

func TestScenarioRemindAtClock(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "remind me to call mom at 8pm")
	require.True(t, reply.Success)
	require.Equal(t, StatusTaskSaved, reply.Status)
	require.Equal(t, "Task saved: call mom due 2026-03-14 20:00:00", reply.Text)
	require.Equal(t, intent.ActionCreateTask, reply.Intent.Action)
	require.NotEmpty(t, reply.ConversationID)
	require.NotNil(t, reply.Task)
	require.NotZero(t, reply.Task.ID)

	tasks, err := h.store.ListTasks(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "call mom", tasks[0].Title)
	require.Equal(t, 20, tasks[0].DueAt.Hour())
	require.Zero(t, h.gen.calls())
}

func TestScenarioCreateTaskDue(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "create task submit report due tomorrow 9am")
	require.Equal(t, StatusTaskSaved, reply.Status)
	require.Equal(t, "Task saved: submit report due 2026-03-15 09:00:00", reply.Text)
}

func TestScenarioSaveFact(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "remember my favorite color is blue")
	require.True(t, reply.Success)
	require.Equal(t, "I have saved the fact 'favorite color: blue' in your knowledge base.", reply.Text)
	require.Equal(t, &intent.SaveFact{Key: "favorite color", Value: "blue"}, reply.Fact)

	facts, err := h.store.GetFacts(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"favorite color": "blue"}, facts)
}

func TestScenarioOpenExternal(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "play shape of you on spotify")
	require.True(t, reply.Success)
	require.Equal(t, "Opening spotify…", reply.Text)
	require.Equal(t, &External{
		Target: "spotify",
		Query:  "shape of you",
		URL:    "https://open.spotify.com/search/shape%20of%20you",
	}, reply.External)
	require.Zero(t, h.gen.calls())
}

func TestScenarioGreetingShortCircuit(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "hello")
	require.True(t, reply.Success)
	require.Equal(t, "Hello Asha! How can I assist you today?", reply.Text)
	require.Equal(t, intent.ActionGeneralChat, reply.Intent.Action)
	require.Zero(t, h.gen.calls())

	turns, err := h.store.RecentTurns(context.Background(), "u1", reply.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, reply.Text, turns[0].Reply)
}

func TestIdentityQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anon := Request{Utterance: "what is my email", Identity: domain.Identity{UserID: "u2"}}
	require.Equal(t, "I don't have your email yet.", h.orch.Handle(ctx, anon).Text)

	anon.Utterance = "who am i"
	require.Equal(t, "I don't have your name yet.", h.orch.Handle(ctx, anon).Text)

	require.NoError(t, h.store.UpdateUserProfile(ctx, "u2", "Ravi", "ravi@example.com"))
	require.Equal(t, "Your name is Ravi", h.orch.Handle(ctx, anon).Text)

	anon.Utterance = "what's my email?"
	require.Equal(t, "Your email is ravi@example.com", h.orch.Handle(ctx, anon).Text)

	anon.Utterance = "hey"
	require.Equal(t, "Hello Ravi! How can I assist you today?", h.orch.Handle(ctx, anon).Text)
	require.Zero(t, h.gen.calls())
}

func TestSaveFactAboutNameIsNotIdentityQuery(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "my name is Asha Rao")
	require.Equal(t, intent.ActionSaveFact, reply.Intent.Action)
	require.Equal(t, &intent.SaveFact{Key: "name", Value: "asha rao"}, reply.Fact)
}

func TestProfileUpdateFromRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.Handle(ctx, Request{
		Utterance:    "show tasks",
		Identity:     domain.Identity{UserID: "u3"},
		ProfileName:  "Meera",
		ProfileEmail: "meera@example.com",
	})

	user, err := h.store.GetUser(ctx, "u3")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "Meera", user.Name)
	require.Equal(t, "meera@example.com", user.Email)
}

func TestSinglePendingSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.say(t, "remind me to call mom")
	require.Equal(t, StatusAwaitingTime, first.Status)
	require.Equal(t, "When should I remind you for 'call mom'?", first.Text)
	require.Nil(t, first.Task.DueAt)

	second := h.say(t, "add task water plants")
	require.Equal(t, StatusAwaitingTime, second.Status)

	pending, err := h.store.GetPendingTask(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, "water plants", pending.Title)

	tasks, err := h.store.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestBareTimeWithoutFollowUpGoesToChat(t *testing.T) {
	h := newHarness(t)

	h.say(t, "remind me to call mom")
	reply := h.say(t, "8pm")
	require.Equal(t, intent.ActionGeneralChat, reply.Intent.Action)
	require.Equal(t, "Sure, happy to help.", reply.Text)
	require.Equal(t, 1, h.gen.calls())

	pending, err := h.store.GetPendingTask(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, pending)
}

func TestPendingFollowUp(t *testing.T) {
	h := newHarness(t, WithPendingFollowUp(true))
	ctx := context.Background()

	h.say(t, "remind me to call mom")

	again := h.say(t, "whenever")
	require.Equal(t, StatusAwaitingTime, again.Status)
	require.Equal(t, "When should I remind you for 'call mom'?", again.Text)

	done := h.say(t, "tomorrow 8pm")
	require.Equal(t, StatusTaskSaved, done.Status)
	require.Equal(t, "Task saved: call mom due 2026-03-15 20:00:00", done.Text)
	require.Zero(t, h.gen.calls())

	pending, err := h.store.GetPendingTask(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, pending)

	// Back to idle: plain chat reaches generation.
	h.say(t, "tell me a joke")
	require.Equal(t, 1, h.gen.calls())
}

func TestPendingFollowUpCancel(t *testing.T) {
	h := newHarness(t, WithPendingFollowUp(true))

	h.say(t, "remind me to call mom")
	reply := h.say(t, "never mind")
	require.Equal(t, StatusPendingCanceled, reply.Status)

	pending, err := h.store.GetPendingTask(context.Background(), "u1")
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestGeneralChatUsesContextAndPersists(t *testing.T) {
	h := newHarness(t, WithSystemPrompt("You are Pal."))
	ctx := context.Background()

	h.say(t, "remember my favorite color is blue")
	first := h.say(t, "what should I paint my room")
	require.True(t, first.Success)
	require.Equal(t, "Sure, happy to help.", first.Text)
	require.Equal(t, "fake", first.Provider)

	second := h.orch.Handle(ctx, Request{
		Utterance:      "should I paint the kitchen too?",
		ConversationID: first.ConversationID,
		Identity:       domain.Identity{UserID: "u1"},
	})
	require.Equal(t, first.ConversationID, second.ConversationID)
	require.Equal(t, 2, h.gen.calls())

	prompt := h.gen.prompts[1]
	assert.Contains(t, prompt, "You are Pal.")
	assert.Contains(t, prompt, "=== Knowledge Base Facts ===\nfavorite color: blue")
	assert.Contains(t, prompt, "Human: what should I paint my room\nAssistant: Sure, happy to help.")
	assert.Contains(t, prompt, "=== User Context ===\nwhat should I paint my room")
	assert.Contains(t, prompt, "User: should I paint the kitchen too?\nAssistant:")

	entries, err := h.cache.Fetch(ctx, "u1", first.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "should I paint the kitchen too?", entries[0].User)
}

func TestAllBackendsExhaustedStillPersists(t *testing.T) {
	h := newHarness(t)
	h.gen.exhausted = true

	reply := h.say(t, "tell me something")
	require.True(t, reply.Success)
	require.Equal(t, generation.Apology, reply.Text)

	turns, err := h.store.RecentTurns(context.Background(), "u1", reply.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestFetchTasks(t *testing.T) {
	h := newHarness(t)

	empty := h.say(t, "show tasks")
	require.Equal(t, "You have 0 tasks.", empty.Text)
	require.NotNil(t, empty.Tasks)

	h.say(t, "remind me to stretch in 2 hours")
	reply := h.say(t, "list tasks")
	require.Equal(t, "You have 1 tasks.", reply.Text)
	require.Len(t, reply.Tasks, 1)
}

func TestChatHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.say(t, "hello")
	req := Request{Utterance: "show chat history", ConversationID: first.ConversationID, Identity: domain.Identity{UserID: "u1"}}
	reply := h.orch.Handle(ctx, req)
	require.Equal(t, intent.ActionGetChatHistory, reply.Intent.Action)
	require.Len(t, reply.History, 1)
	require.Equal(t, "hello", reply.History[0].User)

	standalone := h.say(t, "previous messages")
	require.Len(t, standalone.History, 2)
	require.Equal(t, "show chat history", standalone.History[0].User)
}

func TestForeignConversationRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mine := h.say(t, "hello")
	reply := h.orch.Handle(ctx, Request{
		Utterance:      "hello",
		ConversationID: mine.ConversationID,
		Identity:       domain.Identity{UserID: "intruder"},
	})
	require.False(t, reply.Success)
	require.Equal(t, StatusConversationNotFound, reply.Status)
	require.Empty(t, reply.ConversationID)
}

func TestEmptyUtterance(t *testing.T) {
	h := newHarness(t)
	reply := h.say(t, "   ")
	require.False(t, reply.Success)
	require.Equal(t, EmptyUtteranceReply, reply.Text)
}

func TestGreetOncePerDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := domain.Identity{UserID: "u1", Name: "Asha"}

	first := h.orch.Greet(ctx, id)
	require.False(t, first.Greeted)
	require.Equal(t, "Hello Asha! How's your day going? How can I assist you today?", first.Message)

	second := h.orch.Greet(ctx, id)
	require.True(t, second.Greeted)
	require.Empty(t, second.Message)

	anon := h.orch.Greet(ctx, domain.Identity{UserID: "u9"})
	require.Equal(t, "Hello! How can I assist you today?", anon.Message)
}

func TestSummarize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, NoSummaryContent, h.orch.Summarize(ctx, "  "))
	require.Zero(t, h.gen.calls())

	require.Equal(t, "Sure, happy to help.", h.orch.Summarize(ctx, "long text"))
	require.Equal(t, "Summarize this text clearly and concisely:\n\nlong text", h.gen.prompts[0])

	h.gen.exhausted = true
	require.Equal(t, SummaryFailedReply, h.orch.Summarize(ctx, "long text"))
}

type failingConversations struct {
	store.ConversationStore
}

func (failingConversations) AppendTurn(context.Context, *domain.Turn) error {
	return errors.New("database is locked")
}

func TestPersistenceFailureDoesNotFailTurn(t *testing.T) {
	h := newHarness(t)
	h.orch.convs = failingConversations{ConversationStore: h.store}

	reply := h.say(t, "remember my city is pune")
	require.True(t, reply.Success)

	entries, err := h.cache.Fetch(context.Background(), "u1", reply.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
