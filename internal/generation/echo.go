package generation

import (
	"context"
	"strings"
)

// EchoBackend answers offline by echoing the user's line from the prompt.
type EchoBackend struct{}

// Name implements Backend.
func (EchoBackend) Name() string { return "echo" }

// Generate implements Backend.
func (EchoBackend) Generate(ctx context.Context, prompt string, _ Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line := prompt
	if i := strings.LastIndex(prompt, "User: "); i >= 0 {
		line = prompt[i+len("User: "):]
	}
	line = strings.TrimSuffix(strings.TrimSpace(line), "Assistant:")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrEmptyResponse
	}
	return "You said: " + line, nil
}
