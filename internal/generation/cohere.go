package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Cohere defaults used when the provider parameters leave them unset.
const (
	CohereDefaultModel       = "command-xlarge-nightly"
	CohereDefaultMaxTokens   = 400
	CohereDefaultTemperature = 0.7
)

// CohereBackend calls the Cohere generate endpoint.
type CohereBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewCohereBackend creates a Cohere backend. A nil client uses a default one.
func NewCohereBackend(apiKey, baseURL string, client *http.Client) *CohereBackend {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &CohereBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Name implements Backend.
func (b *CohereBackend) Name() string { return "cohere" }

// Generate implements Backend.
func (b *CohereBackend) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	model := p.Model
	if model == "" {
		model = CohereDefaultModel
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = CohereDefaultMaxTokens
	}
	temperature := p.Temperature
	if temperature <= 0 {
		temperature = CohereDefaultTemperature
	}

	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"model", model},
		{"prompt", prompt},
		{"max_tokens", maxTokens},
		{"temperature", temperature},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return "", fmt.Errorf("cohere: build request: %w", err)
		}
	}

	headers := map[string]string{"Authorization": "Bearer " + b.apiKey}
	raw, err := postJSON(ctx, b.client, b.baseURL+"/generate", headers, body, "message")
	if err != nil {
		return "", fmt.Errorf("cohere: %w", err)
	}

	text := gjson.GetBytes(raw, "generations.0.text")
	if !text.Exists() {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}
