// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("celervus.vectorstore")

const (
	// maxMatched bounds how many ids one Update resolves.
	maxMatched = 10_000

	// hybridAlpha weighs vector similarity against BM25 in hybrid search.
	hybridAlpha float32 = 0.5

	defaultTopK = 5
)

// Config locates the Weaviate server.
type Config struct {
	// URL of the server, with or without scheme. Required.
	URL string

	// ClassName overrides DefaultClassName.
	ClassName string

	// Vectorizer module for the class, e.g. "text2vec-transformers".
	// Empty or "none" stores no vectors and searches by BM25 only.
	Vectorizer string
}

// WeaviateStore implements Store on a Weaviate class.
type WeaviateStore struct {
	client     *weaviate.Client
	class      string
	vectorizer string
}

var _ Store = (*WeaviateStore)(nil)

// New builds a client for cfg. It does not contact the server; call
// EnsureSchema before use.
//
// # Examples
//
//	store, err := vectorstore.New(vectorstore.Config{URL: "http://localhost:8080"})
func New(cfg Config) (*WeaviateStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("vectorstore: URL is required")
	}
	client, err := weaviate.NewClient(clientConfig(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	class := cfg.ClassName
	if class == "" {
		class = DefaultClassName
	}
	vectorizer := strings.TrimSpace(cfg.Vectorizer)
	if vectorizer == "" {
		vectorizer = "none"
	}
	return &WeaviateStore{client: client, class: class, vectorizer: vectorizer}, nil
}

// clientConfig splits an optional scheme off rawURL.
func clientConfig(rawURL string) weaviate.Config {
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	return cfg
}

// Hybrid reports whether searches combine vectors with BM25.
func (s *WeaviateStore) Hybrid() bool { return s.vectorizer != "none" }

func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx); err == nil {
		slog.Debug("Vector class already exists", "class", s.class)
		return nil
	}
	slog.Info("Creating vector class", "class", s.class, "vectorizer", s.vectorizer)
	if err := s.client.Schema().ClassCreator().WithClass(entrySchema(s.class, s.vectorizer)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	return nil
}

func (s *WeaviateStore) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ready {
		return ErrUnavailable
	}
	return nil
}

// Add stores entries in one batch. Entries without an ID get a random
// UUID; the count covers only objects Weaviate accepted.
func (s *WeaviateStore) Add(ctx context.Context, entries []Entry) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Add", trace.WithAttributes(
		attribute.Int("vectorstore.entries", len(entries))))
	defer span.End()

	if len(entries) == 0 {
		return 0, nil
	}
	objects := make([]*models.Object, len(entries))
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		} else if _, err := uuid.Parse(id); err != nil {
			return 0, fmt.Errorf("entry %d: invalid id %q: %w", i, id, err)
		}
		objects[i] = &models.Object{
			Class:      s.class,
			ID:         strfmt.UUID(id),
			Properties: e.properties(),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return 0, fmt.Errorf("batch import: %w", err)
	}
	added := 0
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil || len(item.Result.Errors.Error) == 0 {
			added++
			continue
		}
		for _, e := range item.Result.Errors.Error {
			slog.Warn("Vector entry rejected", "id", item.ID, "error", e.Message)
		}
	}
	span.SetAttributes(attribute.Int("vectorstore.added", added))
	return added, nil
}

// Update resolves the ids matching cond, then merges values into each.
// It stops at the first failed write and returns the count so far.
func (s *WeaviateStore) Update(ctx context.Context, cond Condition, values Values) (int, error) {
	if err := cond.Validate(); err != nil {
		return 0, err
	}
	if err := values.Validate(); err != nil {
		return 0, err
	}
	ctx, span := tracer.Start(ctx, "vectorstore.Update")
	defer span.End()

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "_additional { id }"}).
		WithWhere(whereFor(cond)).
		WithLimit(maxMatched).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("find matches: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("find matches: %s", result.Errors[0].Message)
	}

	updated := 0
	for _, obj := range objectsOf(result.Data, s.class) {
		id := additionalString(obj, "id")
		if id == "" {
			continue
		}
		err := s.client.Data().Updater().
			WithClassName(s.class).
			WithID(id).
			WithProperties(values.properties()).
			WithMerge().
			Do(ctx)
		if err != nil {
			span.RecordError(err)
			return updated, fmt.Errorf("update %s: %w", id, err)
		}
		updated++
	}
	return updated, nil
}

func (s *WeaviateStore) Delete(ctx context.Context, cond Condition) (int, error) {
	if err := cond.Validate(); err != nil {
		return 0, err
	}
	ctx, span := tracer.Start(ctx, "vectorstore.Delete")
	defer span.End()

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(whereFor(cond)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("batch delete: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

// Search ranks entries against query with hybrid search when the class
// has a vectorizer and BM25 otherwise. topK <= 0 uses 5.
func (s *WeaviateStore) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	ctx, span := tracer.Start(ctx, "vectorstore.Search", trace.WithAttributes(
		attribute.Int("vectorstore.top_k", topK),
		attribute.Bool("vectorstore.hybrid", s.Hybrid())))
	defer span.End()

	get := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(
			graphql.Field{Name: FieldText},
			graphql.Field{Name: FieldImagePath},
			graphql.Field{Name: FieldFilePath},
			graphql.Field{Name: "_additional { id score }"},
		).
		WithLimit(topK)
	if s.Hybrid() {
		get = get.WithHybrid(s.client.GraphQL().HybridArgumentBuilder().
			WithQuery(query).
			WithAlpha(hybridAlpha))
	} else {
		get = get.WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(query))
	}

	result, err := get.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search: %s", result.Errors[0].Message)
	}
	return parseHits(objectsOf(result.Data, s.class)), nil
}

// Drop deletes the class with all its objects and recreates it empty.
func (s *WeaviateStore) Drop(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(s.class).Do(ctx); err != nil {
		return fmt.Errorf("delete class %s: %w", s.class, err)
	}
	slog.Info("Vector class dropped", "class", s.class)
	return s.EnsureSchema(ctx)
}

// ===== GraphQL helpers =====

func whereFor(c Condition) *filters.WhereBuilder {
	op := filters.Equal
	switch c.Operator {
	case OpNotEqual:
		op = filters.NotEqual
	case OpLike:
		op = filters.Like
	}
	return filters.Where().
		WithPath([]string{c.Field}).
		WithOperator(op).
		WithValueText(c.Value)
}

// objectsOf extracts the object list for class from a Get response.
func objectsOf(data map[string]models.JSONObject, class string) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	list, ok := get[class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseHits(objects []map[string]interface{}) []Hit {
	hits := make([]Hit, 0, len(objects))
	for _, m := range objects {
		hits = append(hits, Hit{
			Entry: Entry{
				ID:        additionalString(m, "id"),
				Text:      getString(m, FieldText),
				ImagePath: getString(m, FieldImagePath),
				FilePath:  getString(m, FieldFilePath),
			},
			Score: additionalScore(m),
		})
	}
	return hits
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func additionalString(m map[string]interface{}, key string) string {
	add, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return ""
	}
	return getString(add, key)
}

// additionalScore reads _additional.score, which Weaviate returns as a
// string for BM25 and hybrid queries.
func additionalScore(m map[string]interface{}) float64 {
	add, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := add["score"].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}
