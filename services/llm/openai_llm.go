// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIConfig configures an OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI, Groq, vLLM, llama.cpp server).
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

// NewOpenAIClient creates a client. When no API key is configured it tries
// the container secret at /run/secrets/openai_api_key.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		keyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("API key not configured and secret not found", "path", secretPath)
			return nil, fmt.Errorf("API key not configured for OpenAI-compatible backend")
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the API key from container secrets")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("Model not set, defaulting", "model", model)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	slog.Info("Initializing OpenAI-compatible client", "model", model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: firstNonEmpty(cfg.SystemPrompt, defaultSystem),
		timeout:      cfg.Timeout,
	}, nil
}

func (o *OpenAIClient) request(prompt string, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate returns a single chat completion.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(ctx, o.request(prompt, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		slog.Error("OpenAI API call failed", "error", err, "model", o.model)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Stream delivers delta content as it arrives.
func (o *OpenAIClient) Stream(ctx context.Context, prompt string, params GenerationParams, onToken StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(prompt, params, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream open failed")
		slog.Error("OpenAI stream failed to open", "error", err, "model", o.model)
		return fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	tokens := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("llm.stream_chunks", tokens))
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream receive failed")
			return fmt.Errorf("OpenAI stream receive: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		tokens++
		if err := onToken(delta); err != nil {
			return err
		}
	}
}

var _ LLMClient = (*OpenAIClient)(nil)
