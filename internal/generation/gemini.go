package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const geminiRequestTemplate = `{"contents":[{"role":"user","parts":[{"text":""}]}],"generationConfig":{}}`

// GeminiBackend calls the Generative Language generateContent endpoint.
type GeminiBackend struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiBackend creates a Gemini backend. A nil client uses a default one.
func NewGeminiBackend(name, apiKey, baseURL string, client *http.Client) *GeminiBackend {
	if name == "" {
		name = "gemini"
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &GeminiBackend{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Name implements Backend.
func (b *GeminiBackend) Name() string { return b.name }

// Generate implements Backend.
func (b *GeminiBackend) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	body, err := sjson.SetBytes([]byte(geminiRequestTemplate), "contents.0.parts.0.text", prompt)
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	if p.MaxTokens > 0 {
		if body, err = sjson.SetBytes(body, "generationConfig.maxOutputTokens", p.MaxTokens); err != nil {
			return "", fmt.Errorf("gemini: build request: %w", err)
		}
	}
	if p.Temperature > 0 {
		if body, err = sjson.SetBytes(body, "generationConfig.temperature", p.Temperature); err != nil {
			return "", fmt.Errorf("gemini: build request: %w", err)
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", b.baseURL, p.Model)
	raw, err := postJSON(ctx, b.client, url, map[string]string{"x-goog-api-key": b.apiKey}, body, "error.message")
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	var parts []string
	gjson.GetBytes(raw, "candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
		parts = append(parts, v.String())
		return true
	})
	if len(parts) == 0 {
		if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", reason)
		}
		return "", ErrEmptyResponse
	}
	return strings.Join(parts, ""), nil
}
