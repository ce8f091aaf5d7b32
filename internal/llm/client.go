// Package llm provides completion-service clients for the mutation
// generator. Providers share a single narrow interface so the pipeline does
// not care which service authored a script.
package llm

import (
	"context"
	"fmt"

	"ouroboros/internal/config"
)

// Client is the minimal completion surface the generator uses.
type Client interface {
	// CompleteWithSystem sends a system instruction block plus a user
	// prompt and returns the raw completion text.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// New builds a client for the configured provider.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
