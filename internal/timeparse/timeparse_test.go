package timeparse

import (
	"testing"
	"time"
)

func fixedParser(t *testing.T) (*Parser, time.Time) {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, 3, 14, 10, 15, 42, 0, loc)
	return New(loc, WithClock(func() time.Time { return now })), now
}

func TestParseClockWithDayQualifier(t *testing.T) {
	p, now := fixedParser(t)

	tests := []struct {
		phrase string
		days   int
		hour   int
		minute int
	}{
		{"8am", 0, 8, 0},
		{"8 AM", 0, 8, 0},
		{"7:30 pm", 0, 19, 30},
		{"7:30PM", 0, 19, 30},
		{"10:00pm today", 0, 22, 0},
		{"today 6pm", 0, 18, 0},
		{"8pm tomorrow", 1, 20, 0},
		{"tomorrow 9am", 1, 9, 0},
		{"tomorrow at 9:05 a.m.", 1, 9, 5},
		{"12am", 0, 0, 0},
		{"12pm", 0, 12, 0},
		{"at 7 pm", 0, 19, 0},
		{"17:45", 0, 17, 45},
		{"17:45 tomorrow", 1, 17, 45},
		{"8.30pm", 0, 20, 30},
		{"tomorrow 7.05 am", 1, 7, 5},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, ok := p.Parse(tt.phrase)
			if !ok {
				t.Fatalf("Parse(%q) unresolved", tt.phrase)
			}
			want := time.Date(now.Year(), now.Month(), now.Day()+tt.days, tt.hour, tt.minute, 0, 0, p.Location())
			if !got.Equal(want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.phrase, got, want)
			}
			if got.Location() != p.Location() {
				t.Errorf("Parse(%q) location = %v, want %v", tt.phrase, got.Location(), p.Location())
			}
		})
	}
}

func TestParseRelative(t *testing.T) {
	p, now := fixedParser(t)
	base := now.Truncate(time.Second)

	tests := []struct {
		phrase string
		want   time.Duration
	}{
		{"in 1 minute", time.Minute},
		{"in 30 minutes", 30 * time.Minute},
		{"in 45 mins", 45 * time.Minute},
		{"in 1 hour", time.Hour},
		{"in 2 hours", 2 * time.Hour},
		{"In 3 HRS", 3 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, ok := p.Parse(tt.phrase)
			if !ok {
				t.Fatalf("Parse(%q) unresolved", tt.phrase)
			}
			if !got.Equal(base.Add(tt.want)) {
				t.Errorf("Parse(%q) = %v, want %v", tt.phrase, got, base.Add(tt.want))
			}
		})
	}
}

func TestParseUnresolved(t *testing.T) {
	p, _ := fixedParser(t)

	for _, phrase := range []string{
		"", "   ", "soon", "whenever", "later today", "tomorrow", "today",
		"13pm", "0am", "25:00", "7:75 pm", "5", "in a few hours", "next week",
		"in 2 hours tomorrow", "tomorrow in 30 minutes",
	} {
		if got, ok := p.Parse(phrase); ok {
			t.Errorf("Parse(%q) = %v, want unresolved", phrase, got)
		}
	}
}

func TestClockGrammarBeforeRelative(t *testing.T) {
	p, now := fixedParser(t)

	got, ok := p.Parse("8pm")
	if !ok {
		t.Fatal("expected 8pm to resolve")
	}
	if got.Hour() != 20 || got.YearDay() != now.YearDay() {
		t.Errorf("unexpected result %v", got)
	}
}

func TestExtract(t *testing.T) {
	p, now := fixedParser(t)

	tests := []struct {
		text     string
		rest     string
		resolved bool
		want     time.Time
	}{
		{"call mom 8pm", "call mom", true, time.Date(2026, 3, 14, 20, 0, 0, 0, p.Location())},
		{"call mom tomorrow 8pm", "call mom", true, time.Date(2026, 3, 15, 20, 0, 0, 0, p.Location())},
		{"water plants in 2 hours", "water plants", true, now.Truncate(time.Second).Add(2 * time.Hour)},
		{"pay rent by 5 pm", "pay rent", true, time.Date(2026, 3, 14, 17, 0, 0, 0, p.Location())},
		{"call mom tomorrow", "call mom", false, time.Time{}},
		{"take pills 8.30pm", "take pills", true, time.Date(2026, 3, 14, 20, 30, 0, 0, p.Location())},
		{"water plants in 2 hours tomorrow", "water plants", false, time.Time{}},
		{"buy milk", "buy milk", false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			expr, rest := p.Extract(tt.text)
			if rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
			if expr.Resolved != tt.resolved {
				t.Fatalf("resolved = %v, want %v (raw %q)", expr.Resolved, tt.resolved, expr.Raw)
			}
			if tt.resolved && !expr.At.Equal(tt.want) {
				t.Errorf("at = %v, want %v", expr.At, tt.want)
			}
		})
	}
}

func TestLoadLocationDefault(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	if loc.String() != DefaultTimezone {
		t.Errorf("got %s, want %s", loc, DefaultTimezone)
	}
}
