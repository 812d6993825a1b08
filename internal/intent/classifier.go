package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/pal/internal/timeparse"
)

// ExternalApps are the app names recognized for OpenExternal, in match order.
var ExternalApps = []string{"youtube", "maps", "whatsapp", "spotify", "instagram"}

var (
	courtesyRe = regexp.MustCompile(`^(?:please,?|can you|could you|would you)\s+`)
	spacesRe   = regexp.MustCompile(`\s+`)

	factExplicitRe = regexp.MustCompile(`^(?:save|remember) fact (.+?) as (.+)$`)
	factGenericRe  = regexp.MustCompile(`^(?:remember (?:that )?(?:my )?|my )(.+?) is (.+)$`)
	taskDueRe      = regexp.MustCompile(`^(?:create|add) task (.+?) due (.+)$`)
	remindRe       = regexp.MustCompile(`^remind me to (.+)$`)
	addTaskRe      = regexp.MustCompile(`^(?:add|create)(?: me)?(?: a)?(?: task| reminder)?(?: to)? (.+)$`)
	dayWordRe      = regexp.MustCompile(`\b(?:today|tomorrow)\b`)
	connectiveRe   = regexp.MustCompile(`^(?:at|by|on|for|to|in)$`)
)

var (
	fetchTaskKeywords   = []string{"show tasks", "list tasks", "my tasks"}
	chatHistoryKeywords = []string{"show chat history", "last chats", "previous messages"}
)

// rule is one (predicate, extractor) pair. Rules run in table order and the
// first match wins.
type rule struct {
	name  string
	match func(msg string) (Intent, bool)
}

type externalApp struct {
	name     string
	present  *regexp.Regexp
	verbOn   *regexp.Regexp
	prefixed *regexp.Regexp
	searchIn *regexp.Regexp
}

// Classifier is a deterministic, side-effect free utterance classifier.
type Classifier struct {
	parser *timeparse.Parser
	rules  []rule
	apps   []externalApp
}

// NewClassifier builds a classifier that resolves embedded time phrases
// with parser.
func NewClassifier(parser *timeparse.Parser) *Classifier {
	if parser == nil {
		parser = timeparse.New(nil)
	}
	c := &Classifier{parser: parser}

	for _, app := range ExternalApps {
		q := regexp.QuoteMeta(app)
		c.apps = append(c.apps, externalApp{
			name:     app,
			present:  regexp.MustCompile(`\b` + q + `\b`),
			verbOn:   regexp.MustCompile(`^(?:play|search|find|open|launch|go to) (.+?) on ` + q + `\b`),
			prefixed: regexp.MustCompile(`^` + q + `[:\-\s]+(.+)$`),
			searchIn: regexp.MustCompile(`^(?:search|find) (?:on )?` + q + ` for (.+)$`),
		})
	}

	c.rules = []rule{
		{name: "save_fact", match: c.matchFact},
		{name: "create_task_due", match: c.matchTaskDue},
		{name: "remind_me", match: c.matchRemind},
		{name: "add_task", match: c.matchAddTask},
		{name: "fetch_tasks", match: matchKeywords(fetchTaskKeywords, FetchTasks{})},
		{name: "chat_history", match: matchKeywords(chatHistoryKeywords, GetChatHistory{})},
		{name: "open_external", match: c.matchExternal},
	}
	return c
}

// Rules returns rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name
	}
	return names
}

// Classify returns exactly one intent for any input; unmatched input is
// GeneralChat.
func (c *Classifier) Classify(utterance string) Intent {
	msg := Normalize(utterance)
	if msg == "" {
		return GeneralChat{}
	}
	for _, r := range c.rules {
		if in, ok := r.match(msg); ok {
			return in
		}
	}
	return GeneralChat{}
}

// Normalize lowercases, trims, collapses whitespace and strips leading
// courtesy prefixes.
func Normalize(utterance string) string {
	msg := strings.ToLower(strings.TrimSpace(utterance))
	msg = spacesRe.ReplaceAllString(msg, " ")
	for {
		stripped := courtesyRe.ReplaceAllString(msg, "")
		if stripped == msg {
			return msg
		}
		msg = strings.TrimSpace(stripped)
	}
}

func (c *Classifier) matchFact(msg string) (Intent, bool) {
	m := factExplicitRe.FindStringSubmatch(msg)
	if m == nil {
		m = factGenericRe.FindStringSubmatch(msg)
	}
	if m == nil {
		return nil, false
	}
	key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	if key == "" || value == "" {
		return nil, false
	}
	return SaveFact{Key: key, Value: value}, true
}

func (c *Classifier) matchTaskDue(msg string) (Intent, bool) {
	m := taskDueRe.FindStringSubmatch(msg)
	if m == nil {
		return nil, false
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return nil, false
	}
	var due *time.Time
	if at, ok := c.parser.Parse(m[2]); ok {
		due = &at
	}
	return newCreateTask(title, due), true
}

func (c *Classifier) matchRemind(msg string) (Intent, bool) {
	m := remindRe.FindStringSubmatch(msg)
	if m == nil {
		return nil, false
	}
	return c.taskFromBody(m[1])
}

func (c *Classifier) matchAddTask(msg string) (Intent, bool) {
	m := addTaskRe.FindStringSubmatch(msg)
	if m == nil {
		return nil, false
	}
	return c.taskFromBody(m[1])
}

// taskFromBody splits "T [at D]" and resolves the due time. Without a
// resolvable "at D" clause, time fragments embedded in T are extracted.
func (c *Classifier) taskFromBody(body string) (Intent, bool) {
	title, phrase := c.splitAtClause(body)

	var due *time.Time
	if phrase == "" {
		expr, rest := c.parser.Extract(title)
		if expr.Raw != "" {
			title = rest
			if expr.Resolved {
				due = &expr.At
			}
		}
	} else {
		title, phrase = carryDayWord(title, phrase)
		if at, ok := c.parser.Parse(phrase); ok {
			due = &at
		}
	}

	title = strings.TrimSpace(title)
	if title == "" || connectiveRe.MatchString(title) {
		return nil, false
	}
	return newCreateTask(title, due), true
}

// splitAtClause picks the rightmost " at " whose suffix resolves to a time.
func (c *Classifier) splitAtClause(body string) (string, string) {
	const sep = " at "
	for i := strings.LastIndex(body, sep); i >= 0; i = strings.LastIndex(body[:i], sep) {
		phrase := strings.TrimSpace(body[i+len(sep):])
		if _, ok := c.parser.Parse(phrase); ok {
			return strings.TrimSpace(body[:i]), phrase
		}
	}
	return body, ""
}

// carryDayWord moves a day word left in the title into the time phrase
// when the phrase has none ("call mom tomorrow at 8pm").
func carryDayWord(title, phrase string) (string, string) {
	if dayWordRe.MatchString(phrase) {
		return title, phrase
	}
	day := dayWordRe.FindString(title)
	if day == "" {
		return title, phrase
	}
	title = spacesRe.ReplaceAllString(dayWordRe.ReplaceAllString(title, " "), " ")
	return strings.TrimSpace(title), phrase + " " + day
}

func matchKeywords(keywords []string, result Intent) func(string) (Intent, bool) {
	return func(msg string) (Intent, bool) {
		for _, k := range keywords {
			if strings.Contains(msg, k) {
				return result, true
			}
		}
		return nil, false
	}
}

func (c *Classifier) matchExternal(msg string) (Intent, bool) {
	for _, app := range c.apps {
		if !app.present.MatchString(msg) {
			continue
		}
		query := ""
		for _, re := range []*regexp.Regexp{app.verbOn, app.searchIn, app.prefixed} {
			if m := re.FindStringSubmatch(msg); m != nil {
				query = strings.TrimSpace(m[1])
				break
			}
		}
		return OpenExternal{Target: app.name, Query: query}, true
	}
	return nil, false
}
