// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the language-model clients used for query generation
// and narration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// GenerationParams are optional sampling settings. Nil fields use the
// backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives each generated text fragment in order. Returning
// an error stops the stream and is returned from Stream.
type StreamCallback func(token string) error

// LLMClient generates text from a prompt.
type LLMClient interface {
	// Generate returns the full completion for prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Stream delivers the completion for prompt through onToken as it is
	// produced. It returns after the last token or on the first error.
	Stream(ctx context.Context, prompt string, params GenerationParams, onToken StreamCallback) error
}

// ErrUnknownBackend is returned by NewClient for an unsupported backend.
var ErrUnknownBackend = errors.New("unknown LLM backend")

// Float32 and Int return pointers for GenerationParams literals.
func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }

// =============================================================================
// Configuration
// =============================================================================

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "openai", "groq" or "ollama".
	Backend string `yaml:"backend"`

	// Model name. Defaults depend on the backend.
	Model string `yaml:"model"`

	// APIKey for OpenAI-compatible backends. Falls back to OPENAI_API_KEY
	// or GROQ_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint. For ollama it is the server URL.
	BaseURL string `yaml:"base_url"`

	// SystemPrompt is sent ahead of every prompt on chat backends.
	SystemPrompt string `yaml:"system_prompt"`

	// Timeout bounds a single non-streaming call.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker wraps the client in a circuit breaker when enabled.
	Breaker BreakerConfig `yaml:"breaker"`
}

const (
	groqBaseURL        = "https://api.groq.com/openai/v1"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGroqModel   = "llama3-70b-8192"
	defaultOllamaModel = "llama3"
	defaultSystem      = "You are a precise assistant that answers questions about a knowledge graph."
)

// NewClient builds the configured backend, wrapped in a circuit breaker
// when cfg.Breaker.Enabled is set.
//
// # Examples
//
//	client, err := llm.NewClient(llm.Config{Backend: "groq"})
func NewClient(cfg Config) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "openai":
		client, err = NewOpenAIClient(openAIConfigFrom(cfg, "OPENAI", "", defaultOpenAIModel))
	case "groq":
		client, err = NewOpenAIClient(openAIConfigFrom(cfg, "GROQ", groqBaseURL, defaultGroqModel))
	case "ollama":
		client, err = NewOllamaClient(OllamaConfig{
			BaseURL: firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_BASE_URL")),
			Model:   firstNonEmpty(cfg.Model, os.Getenv("OLLAMA_MODEL"), defaultOllamaModel),
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Breaker.Enabled {
		client = NewBreakerClient(client, cfg.Breaker)
	}
	return client, nil
}

// openAIConfigFrom fills cfg from <envPrefix>_API_KEY and <envPrefix>_MODEL.
func openAIConfigFrom(cfg Config, envPrefix, baseURL, model string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:       firstNonEmpty(cfg.APIKey, os.Getenv(envPrefix+"_API_KEY")),
		BaseURL:      firstNonEmpty(cfg.BaseURL, baseURL),
		Model:        firstNonEmpty(cfg.Model, os.Getenv(envPrefix+"_MODEL"), model),
		SystemPrompt: firstNonEmpty(cfg.SystemPrompt, defaultSystem),
		Timeout:      cfg.Timeout,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
