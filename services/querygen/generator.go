// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package querygen turns questions into graph queries and query results
// into narrated answers.
//
// A turn runs in two model calls. Stage A asks for a single read-only query
// grounded in the current graph schema. Stage B streams a narration of the
// executed result: reasoning lines, then one line carrying the answer
// marker the client splits on. Failures between the stages are narrated
// in-band so the client always receives parseable text.
package querygen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/llm"
)

var tracer = otel.Tracer("celervus.querygen")

// ErrEmptyQuery is returned when the model reply contains no query.
var ErrEmptyQuery = errors.New("model returned an empty query")

// Generator runs Stage A.
type Generator struct {
	llm llm.LLMClient
}

// NewGenerator returns a Generator backed by client.
func NewGenerator(client llm.LLMClient) *Generator {
	return &Generator{llm: client}
}

// GenerateQuery asks the model for one query answering question against
// schema. The reply is cleaned of code fences and tags; the query itself is
// not checked here, the graph store validates it on execution.
//
// # Outputs
//
//	string - A single statement without a trailing semicolon.
//	error  - ErrEmptyQuery, or the wrapped LLM error.
func (g *Generator) GenerateQuery(ctx context.Context, schema graphstore.QuerySchema, question string) (string, error) {
	ctx, span := tracer.Start(ctx, "querygen.GenerateQuery")
	defer span.End()

	prompt, err := formatQueryPrompt(schema.String(), question)
	if err != nil {
		return "", err
	}
	reply, err := g.llm.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(512),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", fmt.Errorf("generate query: %w", err)
	}
	query := ExtractQuery(reply)
	if query == "" {
		span.SetStatus(codes.Error, "empty query")
		return "", ErrEmptyQuery
	}
	span.SetAttributes(attribute.String("querygen.query", query))
	return query, nil
}

// ExtractQuery pulls the first statement out of a model reply. It takes the
// body of the first ``` fence when there is one, drops a leading "cypher"
// or "Query:" tag, and cuts at the first semicolon outside a string.
func ExtractQuery(reply string) string {
	text := strings.TrimSpace(reply)
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		text = strings.TrimSpace(body)
	}
	text = stripTag(text, "cypher")
	text = stripTag(text, "query:")
	return strings.TrimSpace(firstStatement(text))
}

// stripTag removes tag from the start of text, case-insensitively, when it
// stands alone as a word.
func stripTag(text, tag string) string {
	if len(text) < len(tag) || !strings.EqualFold(text[:len(tag)], tag) {
		return text
	}
	rest := text[len(tag):]
	if rest != "" && !strings.HasSuffix(tag, ":") {
		switch rest[0] {
		case ' ', '\t', '\n', '\r':
		default:
			return text
		}
	}
	return strings.TrimSpace(rest)
}

func firstStatement(text string) string {
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			return text[:i]
		}
	}
	return text
}
