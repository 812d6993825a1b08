// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt frames every general-chat prompt.
const DefaultSystemPrompt = "You are Pal, a friendly personal assistant. " +
	"Answer concisely, use what you know about the user when it helps, " +
	"and say so when you do not know something."

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DBBusyTimeout   time.Duration
	Assistant       AssistantConfig
	Generation      GenerationConfig
	RateLimit       RateLimitConfig
	Reminder        ReminderConfig
	ConversationLog ConversationLogConfig
}

// AssistantConfig controls the conversation core.
type AssistantConfig struct {
	Timezone                string
	SystemPrompt            string
	PendingFollowUp         bool
	HistoryCacheSize        int
	HistoryMaxConversations int
	HistoryIdleTTL          time.Duration
	GreetingTTL             time.Duration
}

// GenerationConfig lists the generation providers in fallback order and
// the settings of each backend.
type GenerationConfig struct {
	Providers      []string
	FailureTimeout time.Duration
	Gemini         GeminiConfig
	Cohere         CohereConfig
	OpenAI         OpenAIConfig
	GRPC           GRPCConfig
}

// GeminiConfig configures the Gemini backend. Each key is its own provider.
type GeminiConfig struct {
	APIKeys     []string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// CohereConfig configures the Cohere backend.
type CohereConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// OpenAIConfig configures the OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// GRPCConfig configures the remote generation service backend.
type GRPCConfig struct {
	Address        string
	ConnectTimeout time.Duration
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ReminderConfig controls the background reminder worker.
type ReminderConfig struct {
	Enabled           bool
	Interval          time.Duration
	NotifiedRetention time.Duration
	PendingTaskMaxAge time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/pal.db"),
		DBBusyTimeout: getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second),
		Assistant: AssistantConfig{
			Timezone:                getEnv("ASSISTANT_TIMEZONE", "Asia/Kolkata"),
			SystemPrompt:            getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
			PendingFollowUp:         getEnvBool("PENDING_FOLLOWUP_ENABLED", false),
			HistoryCacheSize:        getEnvInt("HISTORY_CACHE_SIZE", 10),
			HistoryMaxConversations: getEnvInt("HISTORY_CACHE_MAX_CONVERSATIONS", 10000),
			HistoryIdleTTL:          getEnvDuration("HISTORY_IDLE_TTL", 24*time.Hour),
			GreetingTTL:             getEnvDuration("GREETING_TTL", 24*time.Hour),
		},
		Generation: GenerationConfig{
			Providers:      providerOrder(),
			FailureTimeout: time.Duration(getEnvInt("AI_PROVIDER_FAILURE_TIMEOUT", 30)) * time.Second,
			Gemini: GeminiConfig{
				APIKeys:     getEnvList("GEMINI_API_KEYS"),
				Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
				BaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
				MaxTokens:   getEnvInt("GEMINI_MAX_TOKENS", 400),
				Temperature: getEnvFloat("GEMINI_TEMPERATURE", 0.7),
			},
			Cohere: CohereConfig{
				APIKey:      getEnv("COHERE_API_KEY", ""),
				Model:       getEnv("COHERE_MODEL", "command-xlarge-nightly"),
				BaseURL:     getEnv("COHERE_BASE_URL", "https://api.cohere.ai/v1"),
				MaxTokens:   getEnvInt("COHERE_MAX_TOKENS", 400),
				Temperature: getEnvFloat("COHERE_TEMPERATURE", 0.7),
			},
			OpenAI: OpenAIConfig{
				APIKey:      getEnv("OPENAI_API_KEY", ""),
				BaseURL:     getEnv("OPENAI_BASE_URL", ""),
				Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
				MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 400),
				Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.7),
			},
			GRPC: GRPCConfig{
				Address:        getEnv("GRPC_GENERATOR_ADDR", ""),
				ConnectTimeout: getEnvDuration("GRPC_GENERATOR_CONNECT_TIMEOUT", 5*time.Second),
			},
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Reminder: ReminderConfig{
			Enabled:           getEnvBool("REMINDER_WORKER_ENABLED", true),
			Interval:          getEnvDuration("REMINDER_INTERVAL", 30*time.Second),
			NotifiedRetention: getEnvDuration("REMINDER_NOTIFIED_RETENTION", 7*24*time.Hour),
			PendingTaskMaxAge: getEnvDuration("PENDING_TASK_MAX_AGE", 7*24*time.Hour),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Assistant.HistoryCacheSize <= 0 {
		return fmt.Errorf("HISTORY_CACHE_SIZE must be > 0")
	}
	if c.Assistant.HistoryMaxConversations <= 0 {
		return fmt.Errorf("HISTORY_CACHE_MAX_CONVERSATIONS must be > 0")
	}
	if c.Generation.FailureTimeout <= 0 {
		return fmt.Errorf("AI_PROVIDER_FAILURE_TIMEOUT must be > 0")
	}
	for _, p := range c.Generation.Providers {
		if !isKnownProvider(p) {
			return fmt.Errorf("unknown generation provider %q", p)
		}
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// KnownProviders are the generation backends that can appear in GENERATION_PROVIDERS.
var KnownProviders = []string{"gemini", "cohere", "openai", "grpc", "echo"}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// providerOrder reads GENERATION_PROVIDERS, or puts AI_PROVIDER first and
// falls back to the other hosted backend.
func providerOrder() []string {
	if list := getEnvList("GENERATION_PROVIDERS"); len(list) > 0 {
		for i := range list {
			list[i] = strings.ToLower(list[i])
		}
		return list
	}
	primary := strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "gemini")))
	if primary == "cohere" {
		return []string{"cohere", "gemini"}
	}
	if primary == "" || primary == "gemini" {
		return []string{"gemini", "cohere"}
	}
	return []string{primary, "gemini", "cohere"}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("30s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
