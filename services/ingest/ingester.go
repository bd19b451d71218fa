// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

var tracer = otel.Tracer("celervus.ingest")

const (
	// DefaultLimit caps the subtopics taken from one outline.
	DefaultLimit = 10

	indexWorkers = 4
	chunkSize    = 1000
	chunkOverlap = 100
)

// ErrIndexing is returned when the graph was written but vector indexing
// failed. The Summary is still valid.
var ErrIndexing = errors.New("vector indexing failed")

// Graph is the write side of the graph store.
type Graph interface {
	UpsertTopic(ctx context.Context, t graphstore.Topic) error
	UpsertSubtopic(ctx context.Context, parentLabel, parentID string, sub graphstore.Subtopic, position int) error
}

// Indexer receives subtopic text for search.
type Indexer interface {
	Add(ctx context.Context, entries []vectorstore.Entry) (int, error)
}

// Summary reports what one ingestion wrote.
type Summary struct {
	Source    string             `json:"source"`
	Topics    []graphstore.Topic `json:"topics"`
	Subtopics int                `json:"subtopics"`
	Truncated bool               `json:"truncated"`
	Indexed   int                `json:"indexed"`
}

// Ingester writes outlines to the graph and, when an Indexer is set, to
// the vector store.
type Ingester struct {
	graph    Graph
	index    Indexer
	splitter textsplitter.TextSplitter
}

// NewIngester returns an Ingester. index may be nil.
func NewIngester(graph Graph, index Indexer) *Ingester {
	return &Ingester{
		graph: graph,
		index: index,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// pending is a written subtopic waiting to be indexed.
type pending struct {
	sub    graphstore.Subtopic
	images []map[string]string
}

// Ingest writes outline, taking at most limit subtopics in document order
// (depth first). limit <= 0 uses DefaultLimit. Topics reached after the
// limit is spent are skipped.
//
// # Outputs
//
//	Summary - Written topics and counts.
//	error   - Validation or graph errors; ErrIndexing (wrapped) when only
//	          vector indexing failed.
func (i *Ingester) Ingest(ctx context.Context, outline Outline, limit int) (Summary, error) {
	if err := outline.Validate(); err != nil {
		return Summary{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer span.End()

	sum := Summary{Source: outline.Source, Topics: []graphstore.Topic{}}
	budget := limit
	var written []pending

	for _, ot := range outline.Topics {
		if budget == 0 {
			sum.Truncated = true
			break
		}
		topic := graphstore.Topic{ID: idOr(ot.ID), Name: strings.TrimSpace(ot.Name)}
		if err := i.graph.UpsertTopic(ctx, topic); err != nil {
			span.RecordError(err)
			return sum, fmt.Errorf("write topic %q: %w", topic.Name, err)
		}
		sum.Topics = append(sum.Topics, topic)

		subs, err := i.writeSubtopics(ctx, graphstore.LabelTopic, topic.ID, ot.Subtopics, &budget)
		written = append(written, subs...)
		if err != nil {
			span.RecordError(err)
			return sum, err
		}
	}
	sum.Subtopics = len(written)
	if outline.CountSubtopics() > len(written) {
		sum.Truncated = true
	}
	span.SetAttributes(
		attribute.Int("ingest.topics", len(sum.Topics)),
		attribute.Int("ingest.subtopics", sum.Subtopics))

	if i.index != nil && len(written) > 0 {
		indexed, err := i.indexAll(ctx, outline.Source, written)
		sum.Indexed = indexed
		if err != nil {
			span.SetStatus(codes.Error, "indexing failed")
			return sum, fmt.Errorf("%w: %w", ErrIndexing, err)
		}
	}
	slog.Info("Outline ingested",
		"source", sum.Source,
		"topics", len(sum.Topics),
		"subtopics", sum.Subtopics,
		"indexed", sum.Indexed,
		"truncated", sum.Truncated)
	return sum, nil
}

// writeSubtopics writes subs under parent, positions starting at 1, and
// recurses into children while budget lasts.
func (i *Ingester) writeSubtopics(ctx context.Context, parentLabel, parentID string, subs []OutlineSubtopic, budget *int) ([]pending, error) {
	var out []pending
	for n, in := range subs {
		if *budget == 0 {
			return out, nil
		}
		meta, err := encodeImageMetadata(in.ImageMetadata)
		if err != nil {
			return out, err
		}
		sub := graphstore.Subtopic{
			ID:            idOr(in.ID),
			Name:          strings.TrimSpace(in.Name),
			Text:          in.Text,
			BulletPoints:  in.BulletPoints,
			ImageMetadata: meta,
		}
		if err := i.graph.UpsertSubtopic(ctx, parentLabel, parentID, sub, n+1); err != nil {
			return out, fmt.Errorf("write subtopic %q: %w", sub.Name, err)
		}
		*budget--
		out = append(out, pending{sub: sub, images: in.ImageMetadata})

		children, err := i.writeSubtopics(ctx, graphstore.LabelSubtopic, sub.ID, in.Children, budget)
		out = append(out, children...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// indexAll adds every written subtopic's chunks to the index, four
// subtopics at a time. The first failure cancels the rest.
func (i *Ingester) indexAll(ctx context.Context, source string, subs []pending) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexWorkers)
	counts := make([]int, len(subs))

	for n, p := range subs {
		g.Go(func() error {
			entries, err := i.entriesFor(source, p)
			if err != nil {
				return err
			}
			added, err := i.index.Add(gctx, entries)
			counts[n] = added
			if err != nil {
				return fmt.Errorf("index subtopic %s: %w", p.sub.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, err
}

// entriesFor splits a subtopic's text into chunks prefixed by its name.
// Entry ids derive from the subtopic id, so re-indexing overwrites.
func (i *Ingester) entriesFor(source string, p pending) ([]vectorstore.Entry, error) {
	text := strings.TrimSpace(p.sub.Text)
	if len(p.sub.BulletPoints) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(p.sub.BulletPoints, "\n"))
	}
	chunks := []string{""}
	if text != "" {
		var err error
		chunks, err = i.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("split subtopic %s: %w", p.sub.ID, err)
		}
	}

	image := firstImagePath(p.images)
	entries := make([]vectorstore.Entry, 0, len(chunks))
	for n, chunk := range chunks {
		body := p.sub.Name
		if chunk != "" {
			body += "\n" + chunk
		}
		entries = append(entries, vectorstore.Entry{
			ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", p.sub.ID, n))).String(),
			Text:      body,
			ImagePath: image,
			FilePath:  source,
		})
	}
	return entries, nil
}

func idOr(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// encodeImageMetadata stores the image list as a JSON string, or "" when
// there are no images.
func encodeImageMetadata(meta []map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode image metadata: %w", err)
	}
	return string(raw), nil
}

func firstImagePath(meta []map[string]string) string {
	for _, m := range meta {
		for _, key := range []string{"image_path", "path"} {
			if p := m[key]; p != "" {
				return p
			}
		}
	}
	return ""
}
