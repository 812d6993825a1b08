package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/generation"
	"github.com/ashureev/pal/internal/history"
	"github.com/ashureev/pal/internal/intent"
	"github.com/ashureev/pal/internal/store"
	"github.com/ashureev/pal/internal/timeparse"
	"github.com/ashureev/pal/internal/transcript"
)

// Reply statuses.
const (
	StatusAwaitingTime         = "awaiting_time"
	StatusTaskSaved            = "task_saved"
	StatusPendingCanceled      = "pending_canceled"
	StatusConversationNotFound = "conversation_not_found"
)

// Fixed reply texts.
const (
	UnknownActionReply  = "⚠ Unknown action"
	EmptyUtteranceReply = "I didn't catch that. Could you say it again?"
	NoSummaryContent    = "No content to summarize."
	SummaryFailedReply  = "Could not summarize the content at this time."
	ConversationMissing = "I couldn't find that conversation."
)

// DefaultGreetingTTL is how long a daily greeting marker lasts.
const DefaultGreetingTTL = 24 * time.Hour

// chatHistoryLimit caps GetChatHistory replies.
const chatHistoryLimit = 10

var (
	greetingRe = regexp.MustCompile(`^\s*(?:hi|hello|hey|greetings|good morning|good afternoon|good evening)\b`)
	cancelRe   = regexp.MustCompile(`^(?:cancel|never ?mind|forget it|forget about it|no thanks)\b`)

	nameQueries  = []string{"what is my name", "what's my name", "who am i", "do you know my name", "my name"}
	emailQueries = []string{"what is my email", "what's my email", "what is my e-mail", "my email"}
)

// Generator produces reply text from a prompt and never fails.
type Generator interface {
	Generate(ctx context.Context, prompt string) generation.Result
}

// Deps are the collaborators an Orchestrator needs. History and Transcript
// are optional.
type Deps struct {
	Classifier    *intent.Classifier
	Parser        *timeparse.Parser
	Aggregator    *Aggregator
	Generator     Generator
	Conversations store.ConversationStore
	Memory        store.SemanticMemoryStore
	Facts         store.KnowledgeGraphStore
	Users         store.UserStore
	Greetings     store.GreetingMarkers
	History       history.Cache
	Transcript    transcript.Logger
	Logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPendingFollowUp lets a bare time phrase complete the user's pending task.
func WithPendingFollowUp(enabled bool) Option {
	return func(o *Orchestrator) { o.pendingFollowUp = enabled }
}

// WithSystemPrompt sets the instructions that open every chat prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithGreetingTTL sets how long a daily greeting suppresses the next one.
func WithGreetingTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.greetingTTL = ttl
		}
	}
}

// Orchestrator runs one conversational turn end to end. It keeps no
// per-user state in memory.
type Orchestrator struct {
	classifier *intent.Classifier
	parser     *timeparse.Parser
	aggregator *Aggregator
	generator  Generator
	convs      store.ConversationStore
	memory     store.SemanticMemoryStore
	facts      store.KnowledgeGraphStore
	users      store.UserStore
	greetings  store.GreetingMarkers
	history    history.Cache
	transcript transcript.Logger
	logger     *slog.Logger

	pendingFollowUp bool
	systemPrompt    string
	greetingTTL     time.Duration
}

// NewOrchestrator wires deps into an Orchestrator.
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier:  deps.Classifier,
		parser:      deps.Parser,
		aggregator:  deps.Aggregator,
		generator:   deps.Generator,
		convs:       deps.Conversations,
		memory:      deps.Memory,
		facts:       deps.Facts,
		users:       deps.Users,
		greetings:   deps.Greetings,
		history:     deps.History,
		transcript:  deps.Transcript,
		logger:      deps.Logger,
		greetingTTL: DefaultGreetingTTL,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.parser == nil {
		o.parser = timeparse.New(nil)
	}
	if o.classifier == nil {
		o.classifier = intent.NewClassifier(o.parser)
	}
	if o.aggregator == nil {
		o.aggregator = NewAggregator(deps.Memory, deps.Facts, deps.Conversations, o.logger)
	}
	if o.transcript == nil {
		o.transcript = transcript.Noop{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one user utterance plus who sent it.
type Request struct {
	Utterance      string
	ConversationID string
	Identity       domain.Identity
	ProfileName    string
	ProfileEmail   string
	Channel        string
}

// Reply is the outcome of a turn.
type Reply struct {
	Success        bool                 `json:"success"`
	Text           string               `json:"reply"`
	Intent         intent.View          `json:"intent"`
	ConversationID string               `json:"chat_id,omitempty"`
	Status         string               `json:"status,omitempty"`
	Task           *domain.Task         `json:"task,omitempty"`
	Tasks          []domain.Task        `json:"tasks,omitempty"`
	History        []history.Entry      `json:"history,omitempty"`
	External       *External            `json:"external,omitempty"`
	Fact           *intent.SaveFact     `json:"fact,omitempty"`
	Provider       string               `json:"provider,omitempty"`
	Attempts       []generation.Attempt `json:"-"`
}

// turn carries per-request state through the dispatch.
type turn struct {
	req    Request
	userID string
	chatID string
	intent intent.Intent
}

// Handle classifies the utterance and performs the matching action.
// Collaborator failures degrade the reply but never fail the turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Reply {
	if req.Channel == "" {
		req.Channel = "chat_http"
	}
	t := &turn{req: req, userID: req.Identity.UserID, chatID: req.ConversationID}

	o.logEvent(t, "inbound", "chat_user_message", req.Utterance)
	reply := o.handle(ctx, t)
	o.logEvent(t, "outbound", "chat_assistant_message", reply.Text)

	o.logger.Info("Chat turn handled",
		"user_id", t.userID,
		"chat_id", reply.ConversationID,
		"action", reply.Intent.Action,
		"success", reply.Success,
		"status", reply.Status,
	)
	return reply
}

func (o *Orchestrator) handle(ctx context.Context, t *turn) Reply {
	utterance := strings.TrimSpace(t.req.Utterance)
	if utterance == "" {
		return Reply{Text: EmptyUtteranceReply, Intent: intent.View{Action: intent.ActionGeneralChat}, ConversationID: t.chatID}
	}

	if t.chatID != "" {
		if _, err := o.convs.CreateOrGetConversation(ctx, t.userID, t.chatID); err != nil {
			if errors.Is(err, store.ErrForeignConversation) {
				o.logger.Warn("Rejected foreign conversation", "user_id", t.userID, "chat_id", t.chatID)
				return Reply{
					Text:   ConversationMissing,
					Intent: intent.View{Action: intent.ActionGeneralChat},
					Status: StatusConversationNotFound,
				}
			}
			o.logger.Warn("Failed to open conversation", "user_id", t.userID, "chat_id", t.chatID, "error", err)
		}
	}

	t.intent = o.classifier.Classify(utterance)
	view := intent.Describe(t.intent)

	if _, ok := t.intent.(intent.GeneralChat); ok {
		if text, ok := o.identityAnswer(ctx, t, utterance); ok {
			return o.finish(ctx, t, Reply{Success: true, Text: text, Intent: view})
		}
	}

	o.saveProfile(ctx, t)

	if o.pendingFollowUp {
		if reply, ok := o.followUp(ctx, t, utterance); ok {
			return reply
		}
	}

	switch v := t.intent.(type) {
	case intent.GeneralChat:
		return o.generalChat(ctx, t, utterance, view)
	case intent.CreateTask:
		return o.createTask(ctx, t, v, view)
	case intent.FetchTasks:
		return o.fetchTasks(ctx, t, view)
	case intent.SaveFact:
		return o.saveFact(ctx, t, v, view)
	case intent.GetChatHistory:
		return o.chatHistory(ctx, t, view)
	case intent.OpenExternal:
		ext := newExternal(v)
		return o.finish(ctx, t, Reply{Success: true, Text: "Opening " + v.Target + "…", Intent: view, External: ext})
	default:
		return Reply{Text: UnknownActionReply, Intent: view, ConversationID: t.chatID}
	}
}

// identityAnswer answers greetings and "what is my name/email" without
// calling generation.
func (o *Orchestrator) identityAnswer(ctx context.Context, t *turn, utterance string) (string, bool) {
	norm := intent.Normalize(utterance)
	greeting := greetingRe.MatchString(norm)
	askName := containsAny(norm, nameQueries)
	askEmail := containsAny(norm, emailQueries)
	if !greeting && !askName && !askEmail {
		return "", false
	}

	name, email := o.profile(ctx, t.req.Identity)
	switch {
	case greeting:
		if name == "" {
			name = "there"
		}
		return fmt.Sprintf("Hello %s! How can I assist you today?", name), true
	case askName:
		if name == "" {
			return "I don't have your name yet.", true
		}
		return "Your name is " + name, true
	default:
		if email == "" {
			return "I don't have your email yet.", true
		}
		return "Your email is " + email, true
	}
}

// profile returns the identity's name and email, filling gaps from the
// stored profile.
func (o *Orchestrator) profile(ctx context.Context, id domain.Identity) (string, string) {
	name, email := id.Name, id.Email
	if (name != "" && email != "") || o.users == nil {
		return name, email
	}
	user, err := o.users.GetUser(ctx, id.UserID)
	if err != nil {
		o.logger.Warn("Profile lookup failed", "user_id", id.UserID, "error", err)
		return name, email
	}
	if user != nil {
		if name == "" {
			name = user.Name
		}
		if email == "" {
			email = user.Email
		}
	}
	return name, email
}

func (o *Orchestrator) saveProfile(ctx context.Context, t *turn) {
	if o.users == nil || (t.req.ProfileName == "" && t.req.ProfileEmail == "") {
		return
	}
	if err := o.users.UpdateUserProfile(ctx, t.userID, t.req.ProfileName, t.req.ProfileEmail); err != nil {
		o.logger.Warn("Failed to update user profile", "user_id", t.userID, "error", err)
	}
}

// followUp completes, cancels or re-asks for the user's pending task when
// the utterance is plain chat.
func (o *Orchestrator) followUp(ctx context.Context, t *turn, utterance string) (Reply, bool) {
	if _, ok := t.intent.(intent.GeneralChat); !ok {
		return Reply{}, false
	}
	pending, err := o.convs.GetPendingTask(ctx, t.userID)
	if err != nil {
		o.logger.Warn("Pending task lookup failed", "user_id", t.userID, "error", err)
		return Reply{}, false
	}
	if pending == nil {
		return Reply{}, false
	}

	norm := intent.Normalize(utterance)
	if cancelRe.MatchString(norm) {
		o.dropPending(ctx, pending)
		return o.finish(ctx, t, Reply{
			Success: true,
			Text:    fmt.Sprintf("Okay, I won't remind you about '%s'.", pending.Title),
			Intent:  intent.View{Action: intent.ActionCreateTask},
			Status:  StatusPendingCanceled,
		}), true
	}

	expr := o.parser.Resolve(norm)
	if !expr.Resolved {
		task := &domain.Task{UserID: t.userID, Title: pending.Title, Priority: domain.DefaultTaskPriority, Category: domain.DefaultTaskCategory}
		return o.finish(ctx, t, Reply{
			Success: true,
			Text:    clarification(pending.Title),
			Intent:  intent.View{Action: intent.ActionCreateTask},
			Status:  StatusAwaitingTime,
			Task:    task,
		}), true
	}

	at := expr.At
	create := intent.CreateTask{
		Title:    pending.Title,
		DueAt:    &at,
		Priority: domain.DefaultTaskPriority,
		Category: domain.DefaultTaskCategory,
	}
	t.intent = create
	reply := o.createTask(ctx, t, create, intent.Describe(create))
	if reply.Status == StatusTaskSaved {
		o.dropPending(ctx, pending)
	}
	return reply, true
}

func (o *Orchestrator) dropPending(ctx context.Context, pending *domain.PendingTask) {
	if err := o.convs.DeletePendingTask(ctx, pending.UserID, pending.ID); err != nil {
		o.logger.Warn("Failed to delete pending task", "user_id", pending.UserID, "pending_id", pending.ID, "error", err)
	}
}

func (o *Orchestrator) generalChat(ctx context.Context, t *turn, utterance string, view intent.View) Reply {
	bundle := o.aggregator.Aggregate(ctx, t.userID, utterance, t.chatID)

	if o.memory != nil {
		if err := o.memory.StoreMemory(ctx, t.userID, utterance); err != nil {
			o.logger.Warn("Failed to store semantic memory", "user_id", t.userID, "error", err)
		}
	}

	prompt := BuildPrompt(o.systemPrompt, bundle, utterance)
	res := o.generator.Generate(ctx, prompt)
	if res.Exhausted {
		o.logger.Warn("All generation providers failed", "user_id", t.userID, "attempts", len(res.Attempts))
	}

	return o.finish(ctx, t, Reply{
		Success:  true,
		Text:     res.Text,
		Intent:   view,
		Provider: res.Provider,
		Attempts: res.Attempts,
	})
}

func (o *Orchestrator) createTask(ctx context.Context, t *turn, c intent.CreateTask, view intent.View) Reply {
	task := c.Task(t.userID)

	if c.DueAt == nil {
		pending := &domain.PendingTask{UserID: t.userID, Title: c.Title}
		if err := o.convs.UpsertPendingTask(ctx, pending); err != nil {
			o.logger.Warn("Failed to save pending task", "user_id", t.userID, "error", err)
		}
		return o.finish(ctx, t, Reply{
			Success: true,
			Text:    clarification(c.Title),
			Intent:  view,
			Status:  StatusAwaitingTime,
			Task:    task,
		})
	}

	if err := o.convs.UpsertTask(ctx, task); err != nil {
		o.logger.Error("Failed to save task", "user_id", t.userID, "error", err)
		return o.finish(ctx, t, Reply{
			Text:   "Sorry, I couldn't save that task right now.",
			Intent: view,
			Task:   task,
		})
	}

	due := c.DueAt.In(o.parser.Location()).Format(domain.TimestampLayout)
	return o.finish(ctx, t, Reply{
		Success: true,
		Text:    fmt.Sprintf("Task saved: %s due %s", c.Title, due),
		Intent:  view,
		Status:  StatusTaskSaved,
		Task:    task,
	})
}

func (o *Orchestrator) fetchTasks(ctx context.Context, t *turn, view intent.View) Reply {
	tasks, err := o.convs.ListTasks(ctx, t.userID)
	if err != nil {
		o.logger.Warn("Failed to list tasks", "user_id", t.userID, "error", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return o.finish(ctx, t, Reply{
		Success: true,
		Text:    fmt.Sprintf("You have %d tasks.", len(tasks)),
		Intent:  view,
		Tasks:   tasks,
	})
}

func (o *Orchestrator) saveFact(ctx context.Context, t *turn, f intent.SaveFact, view intent.View) Reply {
	if o.facts != nil {
		if err := o.facts.PutFact(ctx, t.userID, f.Key, f.Value); err != nil {
			o.logger.Warn("Failed to save fact", "user_id", t.userID, "key", f.Key, "error", err)
		}
	}
	return o.finish(ctx, t, Reply{
		Success: true,
		Text:    fmt.Sprintf("I have saved the fact '%s: %s' in your knowledge base.", f.Key, f.Value),
		Intent:  view,
		Fact:    &f,
	})
}

func (o *Orchestrator) chatHistory(ctx context.Context, t *turn, view intent.View) Reply {
	entries := o.RecentHistory(ctx, t.userID, t.chatID, chatHistoryLimit)

	text := "You have no chat history yet."
	if len(entries) > 0 {
		text = fmt.Sprintf("Here are your last %d messages.", len(entries))
	}
	return o.finish(ctx, t, Reply{Success: true, Text: text, Intent: view, History: entries})
}

// RecentHistory returns up to limit exchanges, newest first. A conversation
// is served from the cache when possible; the durable store is the fallback.
func (o *Orchestrator) RecentHistory(ctx context.Context, userID, chatID string, limit int) []history.Entry {
	if chatID != "" && o.history != nil {
		entries, err := o.history.Fetch(ctx, userID, chatID, limit)
		if err != nil {
			o.logger.Warn("History cache fetch failed", "user_id", userID, "chat_id", chatID, "error", err)
		} else if len(entries) > 0 {
			return entries
		}
	}

	var (
		turns []domain.Turn
		err   error
	)
	if chatID != "" {
		turns, err = o.convs.RecentTurns(ctx, userID, chatID, limit)
	} else {
		turns, err = o.convs.RecentStandaloneHistory(ctx, userID, limit)
	}
	if err != nil {
		o.logger.Warn("History fetch failed", "user_id", userID, "chat_id", chatID, "error", err)
		return nil
	}

	entries := make([]history.Entry, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		entries = append(entries, history.Entry{User: turns[i].UserText, Assistant: turns[i].Reply, Timestamp: turns[i].CreatedAt})
	}
	return entries
}

// finish persists the exchange and stamps the conversation ID on reply.
func (o *Orchestrator) finish(ctx context.Context, t *turn, reply Reply) Reply {
	t.chatID = o.record(ctx, t.userID, t.chatID, t.req.Utterance, reply.Text)
	reply.ConversationID = t.chatID
	return reply
}

// record writes the turn to the durable store, then mirrors it into the
// history cache. It returns the conversation the turn landed in.
func (o *Orchestrator) record(ctx context.Context, userID, chatID, userText, replyText string) string {
	if chatID == "" {
		conv, err := o.convs.CreateOrGetConversation(ctx, userID, "")
		if err != nil {
			o.logger.Warn("Failed to create conversation", "user_id", userID, "error", err)
		} else {
			chatID = conv.ChatID
		}
	}

	rec := &domain.Turn{UserID: userID, ChatID: chatID, UserText: userText, Reply: replyText, CreatedAt: time.Now()}
	if err := o.convs.AppendTurn(ctx, rec); err != nil {
		o.logger.Error("Failed to persist turn", "user_id", userID, "chat_id", chatID, "error", err)
	}

	if o.history != nil {
		entry := history.Entry{User: userText, Assistant: replyText, Timestamp: rec.CreatedAt}
		if err := o.history.Push(ctx, userID, chatID, entry); err != nil {
			o.logger.Warn("Failed to mirror turn to history cache", "user_id", userID, "chat_id", chatID, "error", err)
		}
	}
	return chatID
}

// GreetResult is the daily greeting outcome. Message is empty when the
// user was already greeted within the marker TTL.
type GreetResult struct {
	Greeted bool   `json:"greeted"`
	Message string `json:"message"`
}

// Greet returns the daily greeting once per user per greeting TTL.
func (o *Orchestrator) Greet(ctx context.Context, id domain.Identity) GreetResult {
	if o.greetings != nil {
		already, err := o.greetings.MarkGreeted(ctx, id.UserID, o.greetingTTL)
		if err != nil {
			o.logger.Warn("Greeting marker unavailable", "user_id", id.UserID, "error", err)
		} else if already {
			return GreetResult{Greeted: true}
		}
	}

	name, _ := o.profile(ctx, id)
	if name == "" {
		return GreetResult{Message: "Hello! How can I assist you today?"}
	}
	return GreetResult{Message: fmt.Sprintf("Hello %s! How's your day going? How can I assist you today?", name)}
}

// Summarize condenses text through the generation chain.
func (o *Orchestrator) Summarize(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return NoSummaryContent
	}
	res := o.generator.Generate(ctx, "Summarize this text clearly and concisely:\n\n"+text)
	if res.Exhausted {
		return SummaryFailedReply
	}
	return res.Text
}

func (o *Orchestrator) logEvent(t *turn, direction, eventType, content string) {
	o.transcript.Log(transcript.Event{
		UserID:     t.userID,
		ChatID:     t.chatID,
		Channel:    t.req.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
	})
}

func clarification(title string) string {
	return fmt.Sprintf("When should I remind you for '%s'?", title)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
