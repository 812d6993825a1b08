package generation

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/pal/internal/config"
)

// ProvidersFromConfig builds the provider chain in configured order.
// Backends missing credentials are skipped with a warning; each Gemini key
// becomes its own provider. The returned cleanup closes any connections.
func ProvidersFromConfig(cfg config.GenerationConfig, logger *slog.Logger) ([]Provider, func()) {
	if logger == nil {
		logger = slog.Default()
	}

	var providers []Provider
	var closers []func()
	for _, name := range cfg.Providers {
		switch name {
		case "gemini":
			if len(cfg.Gemini.APIKeys) == 0 {
				logger.Warn("Skipping gemini provider: GEMINI_API_KEYS not set")
				continue
			}
			params := Params{Model: cfg.Gemini.Model, MaxTokens: cfg.Gemini.MaxTokens, Temperature: cfg.Gemini.Temperature}
			for i, key := range cfg.Gemini.APIKeys {
				label := "gemini"
				if i > 0 {
					label = fmt.Sprintf("gemini-%d", i+1)
				}
				providers = append(providers, Provider{
					Name:    label,
					Backend: NewGeminiBackend(label, key, cfg.Gemini.BaseURL, nil),
					Params:  params,
					Timeout: cfg.FailureTimeout,
				})
			}

		case "cohere":
			if cfg.Cohere.APIKey == "" {
				logger.Warn("Skipping cohere provider: COHERE_API_KEY not set")
				continue
			}
			providers = append(providers, Provider{
				Backend: NewCohereBackend(cfg.Cohere.APIKey, cfg.Cohere.BaseURL, nil),
				Params:  Params{Model: cfg.Cohere.Model, MaxTokens: cfg.Cohere.MaxTokens, Temperature: cfg.Cohere.Temperature},
				Timeout: cfg.FailureTimeout,
			})

		case "openai":
			if cfg.OpenAI.APIKey == "" {
				logger.Warn("Skipping openai provider: OPENAI_API_KEY not set")
				continue
			}
			providers = append(providers, Provider{
				Backend: NewOpenAIBackend(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
				Params:  Params{Model: cfg.OpenAI.Model, MaxTokens: cfg.OpenAI.MaxTokens, Temperature: cfg.OpenAI.Temperature},
				Timeout: cfg.FailureTimeout,
			})

		case "grpc":
			if cfg.GRPC.Address == "" {
				logger.Warn("Skipping grpc provider: GRPC_GENERATOR_ADDR not set")
				continue
			}
			backend, err := NewGRPCBackend(GRPCConfig{
				Address:        cfg.GRPC.Address,
				ConnectTimeout: cfg.GRPC.ConnectTimeout,
			}, logger)
			if err != nil {
				logger.Warn("Skipping grpc provider", "error", err)
				continue
			}
			closers = append(closers, backend.Close)
			providers = append(providers, Provider{Backend: backend, Timeout: cfg.FailureTimeout})

		case "echo":
			providers = append(providers, Provider{Backend: EchoBackend{}, Timeout: cfg.FailureTimeout})

		default:
			logger.Warn("Skipping unknown generation provider", "provider", name)
		}
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return providers, cleanup
}
