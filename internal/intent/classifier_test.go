package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pal/internal/timeparse"
)

func newTestClassifier(t *testing.T) (*Classifier, time.Time) {
	t.Helper()
	loc, err := timeparse.LoadLocation("")
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 10, 15, 42, 0, loc)
	p := timeparse.New(loc, timeparse.WithClock(func() time.Time { return now }))
	return NewClassifier(p), now
}

func at(now time.Time, days, hour, minute int) *time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day()+days, hour, minute, 0, 0, now.Location())
	return &t
}

func TestClassifyTasks(t *testing.T) {
	c, now := newTestClassifier(t)
	inTwoHours := now.Truncate(time.Second).Add(2 * time.Hour)

	tests := []struct {
		name  string
		input string
		title string
		due   *time.Time
	}{
		{"remind at clock", "remind me to call mom at 8pm", "call mom", at(now, 0, 20, 0)},
		{"remind with day carry", "Please remind me to call mom tomorrow at 8pm", "call mom", at(now, 1, 20, 0)},
		{"remind rightmost at", "remind me to meet john at office at 5pm", "meet john at office", at(now, 0, 17, 0)},
		{"remind unresolved", "remind me to call mom", "call mom", nil},
		{"remind at non-time", "remind me to look at the stars", "look at the stars", nil},
		{"remind day only", "remind me to call mom tomorrow", "call mom", nil},
		{"due form", "create task submit report due tomorrow 9am", "submit report", at(now, 1, 9, 0)},
		{"due form unresolved", "add task submit report due someday", "submit report", nil},
		{"add task", "add task buy milk", "buy milk", nil},
		{"add reminder relative", "add a reminder to water plants in 2 hours", "water plants", &inTwoHours},
		{"remind dotted clock", "remind me to take pills at 8.30pm", "take pills", at(now, 0, 20, 30)},
		{"remind relative with day word", "remind me to water plants in 2 hours tomorrow", "water plants", nil},
		{"courtesy stacked", "Could you please add task buy milk at 7:30 pm", "buy milk", at(now, 0, 19, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			task, ok := got.(CreateTask)
			require.True(t, ok, "got %T", got)
			require.Equal(t, tt.title, task.Title)
			require.Equal(t, "medium", task.Priority)
			require.Equal(t, "personal", task.Category)
			if tt.due == nil {
				require.Nil(t, task.DueAt)
				return
			}
			require.NotNil(t, task.DueAt)
			require.True(t, tt.due.Equal(*task.DueAt), "due %v, want %v", task.DueAt, tt.due)
		})
	}
}

func TestClassifyFacts(t *testing.T) {
	c, _ := newTestClassifier(t)

	tests := []struct {
		input string
		want  SaveFact
	}{
		{"remember my favorite color is blue", SaveFact{Key: "favorite color", Value: "blue"}},
		{"remember that my birthday is june 5", SaveFact{Key: "birthday", Value: "june 5"}},
		{"save fact wifi password as hunter2", SaveFact{Key: "wifi password", Value: "hunter2"}},
		{"my dog is rex", SaveFact{Key: "dog", Value: "rex"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.want, c.Classify(tt.input))
		})
	}
}

func TestClassifyOtherIntents(t *testing.T) {
	c, _ := newTestClassifier(t)

	tests := []struct {
		input string
		want  Intent
	}{
		{"show my tasks", FetchTasks{}},
		{"what are my tasks", FetchTasks{}},
		{"list tasks please", FetchTasks{}},
		{"show chat history", GetChatHistory{}},
		{"what were my previous messages", GetChatHistory{}},
		{"play shape of you on spotify", OpenExternal{Target: "spotify", Query: "shape of you"}},
		{"search youtube for cats", OpenExternal{Target: "youtube", Query: "cats"}},
		{"open youtube", OpenExternal{Target: "youtube"}},
		{"whatsapp: hi mom", OpenExternal{Target: "whatsapp", Query: "hi mom"}},
		{"hello", GeneralChat{}},
		{"tell me a joke", GeneralChat{}},
		{"", GeneralChat{}},
		{"   ", GeneralChat{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.want, c.Classify(tt.input))
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c, _ := newTestClassifier(t)

	// A fact sentence that also reads as an add-task command.
	require.Equal(t, ActionSaveFact, c.Classify("remember my chore is add milk to the list").Action())
	// The due form wins over the flexible add form.
	got := c.Classify("add task pay rent due 5pm")
	task, ok := got.(CreateTask)
	require.True(t, ok)
	require.Equal(t, "pay rent", task.Title)
	// Task rules win over external apps.
	require.Equal(t, ActionCreateTask, c.Classify("remind me to open spotify").Action())
	// A bare connective is not a task title.
	require.Equal(t, GeneralChat{}, c.Classify("remind me to at 5pm"))
	require.Equal(t, GeneralChat{}, c.Classify("add task at 5pm"))
	// "supermaps" is not the maps app.
	require.Equal(t, ActionGeneralChat, c.Classify("i like supermaps").Action())
}

func TestClassifyIsTotal(t *testing.T) {
	c, _ := newTestClassifier(t)
	for _, input := range []string{"?", "!!!", "add", "remind me to", "my", "12:00", "in 5 hours", "remember"} {
		require.NotNil(t, c.Classify(input), input)
	}
}

func TestRulesOrder(t *testing.T) {
	c, _ := newTestClassifier(t)
	require.Equal(t, []string{
		"save_fact", "create_task_due", "remind_me", "add_task",
		"fetch_tasks", "chat_history", "open_external",
	}, c.Rules())
}

func TestDescribe(t *testing.T) {
	c, _ := newTestClassifier(t)

	view := Describe(c.Classify("remind me to call mom at 8pm"))
	require.Equal(t, ActionCreateTask, view.Action)
	data, ok := view.Data.(createTaskData)
	require.True(t, ok)
	require.NotNil(t, data.DateTime)
	require.Equal(t, "2026-03-14 20:00:00", *data.DateTime)

	view = Describe(c.Classify("remind me to call mom"))
	data = view.Data.(createTaskData)
	require.Nil(t, data.DateTime)

	require.Equal(t, View{Action: ActionGeneralChat}, Describe(nil))
	require.Equal(t, View{Action: ActionFetchTasks}, Describe(FetchTasks{}))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "add task buy milk", Normalize("  Please,  could you   ADD task buy milk "))
	require.Equal(t, "please", Normalize("Please"))
}
