// Package generation produces assistant text from interchangeable backends
// tried in a fixed fallback order.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Apology is the reply used when every provider failed.
const Apology = "Sorry, I couldn't generate a response."

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 30 * time.Second

var (
	// ErrEmptyResponse is returned when a backend answers with blank text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrTimeout is returned when a backend does not answer in time.
	ErrTimeout = errors.New("provider timed out")
	// ErrPanic wraps a panic recovered from a backend.
	ErrPanic = errors.New("provider panicked")
)

// Params are the per-provider generation parameters.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Backend is one text-generation service.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, p Params) (string, error)
}

// Provider is a backend plus the parameters and timeout it is called with.
type Provider struct {
	// Name labels the provider in attempts and logs; Backend.Name() when empty.
	Name    string
	Backend Backend
	Params  Params
	Timeout time.Duration
}

func (p Provider) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Backend.Name()
}

// Attempt records one provider call.
type Attempt struct {
	Provider      string        `json:"provider"`
	Success       bool          `json:"success"`
	Text          string        `json:"-"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Duration      time.Duration `json:"duration"`
	Err           error         `json:"-"`
}

// Result is the outcome of a Generate call.
type Result struct {
	Text      string
	Provider  string
	Attempts  []Attempt
	Exhausted bool
}

// Generator walks the provider chain until one succeeds.
type Generator struct {
	providers []Provider
	logger    *slog.Logger
	now       func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the logger used for provider failures.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a generator over providers, tried in order.
func NewGenerator(providers []Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		providers: append([]Provider(nil), providers...),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Providers returns the provider names in fallback order.
func (g *Generator) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.label()
	}
	return names
}

// Generate returns the first non-blank answer. When every provider fails it
// returns Apology with Exhausted set. It never panics.
func (g *Generator) Generate(ctx context.Context, prompt string) Result {
	var res Result
	for _, p := range g.providers {
		if err := ctx.Err(); err != nil {
			g.logger.Warn("Generation abandoned", "error", err, "attempts", len(res.Attempts))
			break
		}

		a := g.attempt(ctx, p, prompt)
		res.Attempts = append(res.Attempts, a)
		if a.Success {
			res.Text = a.Text
			res.Provider = a.Provider
			return res
		}
		g.logger.Warn("Generation provider failed",
			"provider", a.Provider,
			"reason", a.FailureReason,
			"duration", a.Duration)
	}

	res.Text = Apology
	res.Exhausted = true
	return res
}

type outcome struct {
	text string
	err  error
}

func (g *Generator) attempt(ctx context.Context, p Provider, prompt string) Attempt {
	name := p.label()
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := g.now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		text, err := p.Backend.Generate(callCtx, prompt, p.Params)
		done <- outcome{text: text, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = fmt.Errorf("%w: %w", ErrTimeout, callCtx.Err())
	}

	a := Attempt{Provider: name, Duration: g.now().Sub(start)}
	text := strings.TrimSpace(out.text)
	switch {
	case out.err != nil:
		a.Err = out.err
		a.FailureReason = out.err.Error()
	case text == "":
		a.Err = ErrEmptyResponse
		a.FailureReason = ErrEmptyResponse.Error()
	default:
		a.Success = true
		a.Text = text
	}
	return a
}
