// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package querygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/celervus/pkg/sections"
	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/llm"
)

// ErrNarrationFailed is returned by Answer when Stage B fails before any
// text reached the writer. Nothing has been sent, so the caller may still
// report a transport-level error.
var ErrNarrationFailed = errors.New("narration failed")

// ErrEmptyNarration is reported when narration finished without any text.
var ErrEmptyNarration = errors.New("narration produced no text")

// NoAnswer is the answer line of every in-band failure narration.
const NoAnswer = "I could not answer that question from the knowledge graph."

// Stage names a pipeline step.
type Stage string

const (
	StageSchema    Stage = "schema"
	StageGenerate  Stage = "query generation"
	StageExecute   Stage = "query execution"
	StageNarration Stage = "narration"
)

// Graph is the store a pipeline reads from.
type Graph interface {
	Schema(ctx context.Context) (graphstore.QuerySchema, error)
	Execute(ctx context.Context, query string) (*graphstore.Result, error)
}

var _ Graph = (*graphstore.Store)(nil)

// TokenWriter receives answer text in order.
type TokenWriter interface {
	WriteToken(content string) error
}

// Hooks observe a turn. Nil fields are skipped.
type Hooks struct {
	QueryGenerated func(query string)
	StageFailed    func(stage Stage, err error)
}

// Pipeline answers questions against a graph.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent schema reads share one in-flight
// fetch; nothing is cached between turns.
type Pipeline struct {
	graph     Graph
	generator *Generator
	narrator  *Narrator
	hooks     Hooks
	schemas   singleflight.Group
}

// NewPipeline wires both stages to client.
func NewPipeline(graph Graph, client llm.LLMClient, hooks Hooks) *Pipeline {
	return &Pipeline{
		graph:     graph,
		generator: NewGenerator(client),
		narrator:  NewNarrator(client),
		hooks:     hooks,
	}
}

// Answer runs one turn and writes the narration to w.
//
// # Description
//
// The schema is read fresh, Stage A produces a query, the graph executes
// it and Stage B streams the narration. A failure in any step before Stage B
// is written to w as a short in-band narration ending in the NoAnswer
// answer line, and Answer returns nil.
//
// # Outputs
//
//	error - ErrNarrationFailed (wrapped) when Stage B fails before its first
//	        token; the Stage B error when it fails later; a write error
//	        from w.
func (p *Pipeline) Answer(ctx context.Context, question string, w TokenWriter) error {
	ctx, span := tracer.Start(ctx, "querygen.Answer")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	schema, err := p.schema(ctx)
	if err != nil {
		return p.narrateFailure(ctx, w, StageSchema, err)
	}

	query, err := p.generator.GenerateQuery(ctx, schema, question)
	if err != nil {
		return p.narrateFailure(ctx, w, StageGenerate, err)
	}
	span.SetAttributes(attribute.String("querygen.query", query))
	if p.hooks.QueryGenerated != nil {
		p.hooks.QueryGenerated(query)
	}

	result, err := p.graph.Execute(ctx, query)
	if err != nil {
		return p.narrateFailure(ctx, w, StageExecute, err)
	}
	span.SetAttributes(attribute.Int("querygen.rows", len(result.Rows)))

	written := false
	err = p.narrator.Narrate(ctx, question, query, result, func(token string) error {
		if token == "" {
			return nil
		}
		written = true
		return w.WriteToken(token)
	})
	if err == nil {
		if !written {
			return p.narrateFailure(ctx, w, StageNarration, ErrEmptyNarration)
		}
		return nil
	}
	p.stageFailed(StageNarration, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "narration failed")
	if !written {
		return fmt.Errorf("%w: %w", ErrNarrationFailed, err)
	}
	return err
}

// schema reads the graph schema, sharing the read with concurrent callers.
// The shared read is detached from any one caller's cancellation.
func (p *Pipeline) schema(ctx context.Context) (graphstore.QuerySchema, error) {
	ch := p.schemas.DoChan("schema", func() (any, error) {
		return p.graph.Schema(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return graphstore.QuerySchema{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return graphstore.QuerySchema{}, res.Err
		}
		return res.Val.(graphstore.QuerySchema), nil
	}
}

// narrateFailure writes the in-band error narration for stage.
func (p *Pipeline) narrateFailure(ctx context.Context, w TokenWriter, stage Stage, err error) error {
	p.stageFailed(stage, err)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("Answering failed, narrating in-band", "stage", string(stage), "error", err)
	return w.WriteToken(FailureNarration(stage, err))
}

func (p *Pipeline) stageFailed(stage Stage, err error) {
	if p.hooks.StageFailed != nil {
		p.hooks.StageFailed(stage, err)
	}
}

// FailureNarration is the text written for a failed stage: one reasoning
// line and the NoAnswer answer line. Store validation errors are quoted
// since they describe the query, not the server.
func FailureNarration(stage Stage, err error) string {
	reason := fmt.Sprintf("The %s step failed.", stage)
	if isQueryError(err) {
		detail := strings.Join(strings.Fields(err.Error()), " ")
		reason = fmt.Sprintf("The %s step failed: %s.", stage, detail)
	}
	return reason + "\n" + sections.FormatAnswer(NoAnswer) + "\n"
}

func isQueryError(err error) bool {
	return errors.Is(err, graphstore.ErrSyntax) ||
		errors.Is(err, graphstore.ErrUnknownIdentifier) ||
		errors.Is(err, graphstore.ErrReadOnly) ||
		errors.Is(err, graphstore.ErrTooManyMatches) ||
		errors.Is(err, ErrEmptyQuery)
}
