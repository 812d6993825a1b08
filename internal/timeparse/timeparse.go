// Package timeparse normalizes short time phrases ("8pm", "7:30 pm tomorrow",
// "in 2 hours") to absolute timestamps in a fixed reference timezone.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the reference zone used when none is configured.
const DefaultTimezone = "Asia/Kolkata"

var (
	hourDotRe  = regexp.MustCompile(`\b(\d{1,2})\.(\d{2})(\D|$)`)
	dotRe      = regexp.MustCompile(`\.`)
	punctRe    = regexp.MustCompile(`[^\p{L}\p{N}:\s]+`)
	spaceRe    = regexp.MustCompile(`\s+`)
	meridiemRe = regexp.MustCompile(`(\d)(am|pm)\b`)
	leadRe     = regexp.MustCompile(`^(?:at|by|on)\s+`)
	dayRe      = regexp.MustCompile(`\b(today|tomorrow)\b`)
	clockRe    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(?:\s+(am|pm))?$`)
	relativeRe = regexp.MustCompile(`\bin\s+(\d{1,6})\s+(minutes?|mins?|hours?|hrs?)\b`)
	fragmentRe = regexp.MustCompile(`\b\d{1,2}(?:[:.]\d{2})?\s?(?:am|pm)\b|\b(?:today|tomorrow)\b|\bin\s+\d{1,6}\s+(?:minutes?|mins?|hours?|hrs?)\b`)
	danglingRe = regexp.MustCompile(`\s+(?:at|by|on|for)$`)
)

// Expression is a time phrase and what it resolved to.
type Expression struct {
	Raw      string
	At       time.Time
	Resolved bool
}

// Parser resolves time phrases against a clock and a reference timezone.
// It holds no mutable state and is safe for concurrent use.
type Parser struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the current-instant source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a parser for the given reference zone. A nil zone means UTC.
func New(loc *time.Location, opts ...Option) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	p := &Parser{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadLocation resolves a zone name, falling back to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimezone
	}
	return time.LoadLocation(name)
}

// Location returns the reference zone.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Now returns the current instant in the reference zone.
func (p *Parser) Now() time.Time {
	return p.now().In(p.loc)
}

// Parse resolves a phrase. The boolean is false when the phrase is empty,
// ambiguous or not understood; it never fails otherwise.
func (p *Parser) Parse(phrase string) (time.Time, bool) {
	s := normalize(phrase)
	if s == "" {
		return time.Time{}, false
	}

	days := dayRe.FindAllString(s, -1)
	dayOffset := 0
	for _, day := range days {
		if day == "tomorrow" {
			dayOffset = 1
		}
	}
	rest := collapse(dayRe.ReplaceAllString(s, " "))
	rest = leadRe.ReplaceAllString(rest, "")

	if t, ok := p.parseClock(rest, dayOffset); ok {
		return t, true
	}
	// A relative offset counts from now, so a day word next to it cannot hold.
	if len(days) > 0 {
		return time.Time{}, false
	}
	if t, ok := p.parseRelative(rest); ok {
		return t, true
	}
	return time.Time{}, false
}

// Resolve wraps Parse into an Expression.
func (p *Parser) Resolve(phrase string) Expression {
	at, ok := p.Parse(phrase)
	return Expression{Raw: strings.TrimSpace(phrase), At: at, Resolved: ok}
}

// Extract finds every embedded time fragment in text (clock times with a
// meridiem, day words, relative offsets), resolves them together, and
// returns the text with the fragments removed.
func (p *Parser) Extract(text string) (Expression, string) {
	lower := strings.ToLower(text)
	matches := fragmentRe.FindAllString(lower, -1)
	if len(matches) == 0 {
		return Expression{}, collapse(lower)
	}

	rest := collapse(fragmentRe.ReplaceAllString(lower, " "))
	rest = danglingRe.ReplaceAllString(rest, "")

	return p.Resolve(strings.Join(matches, " ")), rest
}

func (p *Parser) parseClock(s string, dayOffset int) (time.Time, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	// A bare hour without minutes or meridiem is ambiguous.
	if m[2] == "" && m[3] == "" {
		return time.Time{}, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if m[2] != "" {
		if minute, err = strconv.Atoi(m[2]); err != nil || minute > 59 {
			return time.Time{}, false
		}
	}

	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		hour %= 12
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return time.Time{}, false
		}
	}

	now := p.Now()
	y, mo, d := now.Date()
	return time.Date(y, mo, d+dayOffset, hour, minute, 0, 0, p.loc), true
}

func (p *Parser) parseRelative(s string) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}

	unit := time.Minute
	if strings.HasPrefix(m[2], "h") {
		unit = time.Hour
	}
	return p.Now().Add(time.Duration(n) * unit).Truncate(time.Second), true
}

func normalize(phrase string) string {
	s := strings.ToLower(strings.TrimSpace(phrase))
	s = hourDotRe.ReplaceAllString(s, "${1}:${2}${3}")
	s = dotRe.ReplaceAllString(s, "")
	s = punctRe.ReplaceAllString(s, " ")
	s = meridiemRe.ReplaceAllString(s, "$1 $2")
	return collapse(s)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
