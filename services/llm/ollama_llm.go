// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("celervus.llm")

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	BaseURL string
	Model   string

	// Timeout bounds non-streaming calls. Streams rely on the context.
	Timeout time.Duration
}

// OllamaClient calls a local Ollama server's /api/generate endpoint.
type OllamaClient struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	model        string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}

// NewOllamaClient creates a client for cfg.BaseURL.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base URL not set (OLLAMA_BASE_URL)")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
		slog.Warn("Ollama model not set, defaulting", "model", model)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)

	return &OllamaClient{
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		model:        model,
	}, nil
}

// options maps params onto Ollama's option names, with defaults suited to
// short factual answers.
func ollamaOptions(params GenerationParams) map[string]any {
	options := map[string]any{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 2048,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func (o *OllamaClient) post(ctx context.Context, client *http.Client, prompt string, params GenerationParams, stream bool) (*http.Response, error) {
	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: ollamaOptions(params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama API call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(respBody), "not found") {
			return nil, fmt.Errorf("model '%s' not found, run: ollama pull %s", o.model, o.model)
		}
		return nil, fmt.Errorf("ollama failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

// Generate returns a single completion.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.post(ctx, o.httpClient, prompt, params, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama generate failed", "error", err, "model", o.model)
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("parse ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Response, nil
}

// Stream reads Ollama's NDJSON stream, one JSON object per line.
func (o *OllamaClient) Stream(ctx context.Context, prompt string, params GenerationParams, onToken StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.post(ctx, o.streamClient, prompt, params, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama stream failed to open", "error", err, "model", o.model)
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	chunks := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			span.RecordError(err)
			return fmt.Errorf("parse ollama stream line: %w", err)
		}
		if chunk.Error != "" {
			err := fmt.Errorf("ollama stream error: %s", chunk.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, chunk.Error)
			return err
		}
		if chunk.Response != "" {
			chunks++
			if err := onToken(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			span.SetAttributes(attribute.Int("llm.stream_chunks", chunks))
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("read ollama stream: %w", err)
	}
	return fmt.Errorf("ollama stream ended without done marker")
}

var _ LLMClient = (*OllamaClient)(nil)
