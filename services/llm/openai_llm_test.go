// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newMockOpenAIServer serves /chat/completions in both JSON and SSE modes.
func newMockOpenAIServer(t *testing.T, deltas []string, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"1","object":"chat.completion","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
				req.Model, reply)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			payload, _ := json.Marshal(map[string]any{
				"id":      "1",
				"object":  "chat.completion.chunk",
				"model":   req.Model,
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newTestOpenAIClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: baseURL + "/v1", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return client
}

func TestOpenAIClient_Generate(t *testing.T) {
	t.Parallel()

	server := newMockOpenAIServer(t, nil, "MATCH (t:Topic) RETURN t.name")
	defer server.Close()

	got, err := newTestOpenAIClient(t, server.URL).Generate(context.Background(), "p", GenerationParams{Temperature: Float32(0)})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "MATCH (t:Topic) RETURN t.name" {
		t.Errorf("Generate = %q", got)
	}
}

func TestOpenAIClient_Stream(t *testing.T) {
	t.Parallel()

	server := newMockOpenAIServer(t, []string{"Looking at rows.\n", "Final Answer: ", "three"}, "")
	defer server.Close()

	var b strings.Builder
	err := newTestOpenAIClient(t, server.URL).Stream(context.Background(), "p", GenerationParams{},
		func(tok string) error {
			b.WriteString(tok)
			return nil
		})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if b.String() != "Looking at rows.\nFinal Answer: three" {
		t.Errorf("streamed = %q", b.String())
	}
}

func TestOpenAIClient_Stream_CallbackError(t *testing.T) {
	t.Parallel()

	server := newMockOpenAIServer(t, []string{"a", "b"}, "")
	defer server.Close()

	stop := errors.New("stop")
	err := newTestOpenAIClient(t, server.URL).Stream(context.Background(), "p", GenerationParams{},
		func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestOpenAIClient_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	_, err := newTestOpenAIClient(t, server.URL).Generate(context.Background(), "p", GenerationParams{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Backend: "carrier-pigeon"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestNewClient_GroqUsesCompatibleEndpoint(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Backend: "groq", APIKey: "k", Breaker: BreakerConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*BreakerClient); !ok {
		t.Fatalf("expected breaker wrapper, got %T", client)
	}
}
