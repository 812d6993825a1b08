// Package intent maps raw utterances to structured intents.
package intent

import (
	"time"

	"github.com/ashureev/pal/internal/domain"
)

// Action names the kind of an Intent.
type Action string

const (
	ActionGeneralChat    Action = "general_chat"
	ActionSaveFact       Action = "save_fact"
	ActionCreateTask     Action = "create_task"
	ActionFetchTasks     Action = "fetch_tasks"
	ActionGetChatHistory Action = "get_chat_history"
	ActionOpenExternal   Action = "open_external"
)

// Intent is one of GeneralChat, SaveFact, CreateTask, FetchTasks,
// GetChatHistory or OpenExternal.
type Intent interface {
	Action() Action
	isIntent()
}

// GeneralChat is free-form conversation routed to generation.
type GeneralChat struct{}

// SaveFact stores a key/value pair in the user's knowledge graph.
type SaveFact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CreateTask schedules a task. DueAt is nil when no time could be resolved.
type CreateTask struct {
	Title    string     `json:"title"`
	DueAt    *time.Time `json:"-"`
	Priority string     `json:"priority"`
	Category string     `json:"category"`
	Notes    string     `json:"notes"`
}

// FetchTasks lists the user's tasks.
type FetchTasks struct{}

// GetChatHistory returns the user's recent exchanges.
type GetChatHistory struct{}

// OpenExternal asks the client to open an external app.
type OpenExternal struct {
	Target string `json:"target"`
	Query  string `json:"query"`
}

func (GeneralChat) Action() Action    { return ActionGeneralChat }
func (SaveFact) Action() Action       { return ActionSaveFact }
func (CreateTask) Action() Action     { return ActionCreateTask }
func (FetchTasks) Action() Action     { return ActionFetchTasks }
func (GetChatHistory) Action() Action { return ActionGetChatHistory }
func (OpenExternal) Action() Action   { return ActionOpenExternal }

func (GeneralChat) isIntent()    {}
func (SaveFact) isIntent()       {}
func (CreateTask) isIntent()     {}
func (FetchTasks) isIntent()     {}
func (GetChatHistory) isIntent() {}
func (OpenExternal) isIntent()   {}

func newCreateTask(title string, dueAt *time.Time) CreateTask {
	return CreateTask{
		Title:    title,
		DueAt:    dueAt,
		Priority: domain.DefaultTaskPriority,
		Category: domain.DefaultTaskCategory,
	}
}

// Task converts the intent into a task owned by userID.
func (c CreateTask) Task(userID string) *domain.Task {
	return &domain.Task{
		UserID:   userID,
		Title:    c.Title,
		DueAt:    c.DueAt,
		Priority: c.Priority,
		Category: c.Category,
		Notes:    c.Notes,
	}
}

// View is the wire form of an Intent.
type View struct {
	Action Action `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// createTaskData mirrors CreateTask with the due time rendered as wall clock.
type createTaskData struct {
	Title    string  `json:"title"`
	DateTime *string `json:"datetime"`
	Priority string  `json:"priority"`
	Category string  `json:"category"`
	Notes    string  `json:"notes"`
}

// Describe renders an intent for replies and logs.
func Describe(i Intent) View {
	if i == nil {
		return View{Action: ActionGeneralChat}
	}
	switch v := i.(type) {
	case SaveFact:
		return View{Action: v.Action(), Data: v}
	case OpenExternal:
		return View{Action: v.Action(), Data: v}
	case CreateTask:
		data := createTaskData{Title: v.Title, Priority: v.Priority, Category: v.Category, Notes: v.Notes}
		if v.DueAt != nil {
			s := v.DueAt.Format(domain.TimestampLayout)
			data.DateTime = &s
		}
		return View{Action: v.Action(), Data: data}
	default:
		return View{Action: i.Action()}
	}
}
