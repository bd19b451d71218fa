// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graphstore is the topic graph: Topic and Subtopic nodes joined by
// SUBTOPIC_OF and SUBTOPIC_OF_SUBTOPIC edges, persisted in BadgerDB and
// queried with a read-only Cypher subset.
//
// # Key Layout
//
//	n/<Label>/<id>            node record (JSON)
//	r/<Type>/<fromID>/<toID>  edge record (JSON)
//	ri/<Type>/<toID>/<fromID> reverse index, same record
package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("celervus.graphstore")

var (
	// ErrNotFound is returned when a node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidID is returned for empty ids or ids containing '/'.
	ErrInvalidID = errors.New("invalid id")
)

// =============================================================================
// Records
// =============================================================================

// Topic is the root of one ingested document outline.
type Topic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Subtopic is a section of a topic, possibly nested under another section.
type Subtopic struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Text         string   `json:"text"`
	BulletPoints []string `json:"bullet_points"`

	// ImageMetadata is a JSON document describing the section's images.
	ImageMetadata string `json:"image_metadata"`
}

// SubtopicNode is a subtopic at a position under its parent.
type SubtopicNode struct {
	Subtopic
	Position int            `json:"position"`
	Children []SubtopicNode `json:"children,omitempty"`
}

// TopicDetails is a topic with its full subtopic tree.
type TopicDetails struct {
	Topic
	Subtopics []SubtopicNode `json:"subtopics"`
}

type edgeRecord struct {
	Position int `json:"position"`
}

func nodeKey(label, id string) []byte {
	return []byte("n/" + label + "/" + id)
}

func relKey(typ, from, to string) []byte {
	return []byte("r/" + typ + "/" + from + "/" + to)
}

func revKey(typ, to, from string) []byte {
	return []byte("ri/" + typ + "/" + to + "/" + from)
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store reads and writes the topic graph.
//
// # Thread Safety
//
// Safe for concurrent use. Every method runs in its own transaction.
type Store struct {
	db      *DB
	catalog Catalog

	// maxBindings bounds intermediate match results in Execute.
	maxBindings int
}

// NewStore wraps an open DB.
func NewStore(db *DB) *Store {
	return &Store{db: db, catalog: DefaultCatalog(), maxBindings: defaultMaxBindings}
}

// Open opens the database and returns a Store that owns it.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Catalog returns the schema queries are validated against.
func (s *Store) Catalog() Catalog {
	return s.catalog
}

// UpsertTopic creates or renames a topic.
func (s *Store) UpsertTopic(ctx context.Context, t Topic) error {
	if err := checkID(t.ID); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, nodeKey(LabelTopic, t.ID), t)
	})
}

// UpsertSubtopic writes sub and links it under the parent at position.
//
// # Inputs
//
//   - parentLabel: LabelTopic links with SUBTOPIC_OF, LabelSubtopic with
//     SUBTOPIC_OF_SUBTOPIC.
//   - parentID: Must already exist.
//
// # Outputs
//
//   - error: ErrNotFound when the parent is missing, ErrUnknownIdentifier
//     for any other parent label.
func (s *Store) UpsertSubtopic(ctx context.Context, parentLabel, parentID string, sub Subtopic, position int) error {
	if err := checkID(sub.ID); err != nil {
		return err
	}
	if err := checkID(parentID); err != nil {
		return err
	}
	var relType string
	switch parentLabel {
	case LabelTopic:
		relType = RelSubtopicOf
	case LabelSubtopic:
		relType = RelSubtopicOfSubtopic
	default:
		return fmt.Errorf("%w: parent label %q", ErrUnknownIdentifier, parentLabel)
	}
	if sub.BulletPoints == nil {
		sub.BulletPoints = []string{}
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(parentLabel, parentID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s %s: %w", parentLabel, parentID, ErrNotFound)
			}
			return err
		}
		if err := putJSON(txn, nodeKey(LabelSubtopic, sub.ID), sub); err != nil {
			return err
		}
		edge := edgeRecord{Position: position}
		if err := putJSON(txn, relKey(relType, sub.ID, parentID), edge); err != nil {
			return err
		}
		return putJSON(txn, revKey(relType, parentID, sub.ID), edge)
	})
}

// DeleteTopic removes a topic, every subtopic beneath it and all of their
// edges.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(LabelTopic, id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("topic %s: %w", id, ErrNotFound)
			}
			return err
		}

		var doomed []string
		queue := childIDs(txn, RelSubtopicOf, id)
		seen := map[string]bool{}
		for len(queue) > 0 {
			sid := queue[0]
			queue = queue[1:]
			if seen[sid] {
				continue
			}
			seen[sid] = true
			doomed = append(doomed, sid)
			queue = append(queue, childIDs(txn, RelSubtopicOfSubtopic, sid)...)
		}

		var keys [][]byte
		keys = append(keys, nodeKey(LabelTopic, id))
		keys = append(keys, edgeKeysOf(txn, id)...)
		for _, sid := range doomed {
			keys = append(keys, nodeKey(LabelSubtopic, sid))
			keys = append(keys, edgeKeysOf(txn, sid)...)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		return nil
	})
}

// Reset deletes the entire graph.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropAll()
}

// Topic returns the topic with id.
func (s *Store) Topic(ctx context.Context, id string) (Topic, error) {
	var t Topic
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(LabelTopic, id), &t)
	})
	if err != nil {
		return Topic{}, fmt.Errorf("topic %s: %w", id, err)
	}
	return t, nil
}

// Topics lists every topic ordered by name, then id.
func (s *Store) Topics(ctx context.Context) ([]Topic, error) {
	topics := []Topic{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("n/"+LabelTopic+"/"), func(_ []byte, val []byte) error {
			var t Topic
			if err := json.Unmarshal(val, &t); err != nil {
				return fmt.Errorf("decode topic: %w", err)
			}
			topics = append(topics, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Name != topics[j].Name {
			return topics[i].Name < topics[j].Name
		}
		return topics[i].ID < topics[j].ID
	})
	return topics, nil
}

// Subtopic returns the subtopic with id.
func (s *Store) Subtopic(ctx context.Context, id string) (Subtopic, error) {
	var sub Subtopic
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(LabelSubtopic, id), &sub)
	})
	if err != nil {
		return Subtopic{}, fmt.Errorf("subtopic %s: %w", id, err)
	}
	return sub, nil
}

// Subtopics lists the direct subtopics of a topic ordered by position.
func (s *Store) Subtopics(ctx context.Context, topicID string) ([]SubtopicNode, error) {
	var out []SubtopicNode
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = children(txn, RelSubtopicOf, topicID)
		return err
	})
	return out, err
}

// Children lists the direct children of a subtopic ordered by position.
func (s *Store) Children(ctx context.Context, subtopicID string) ([]SubtopicNode, error) {
	var out []SubtopicNode
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = children(txn, RelSubtopicOfSubtopic, subtopicID)
		return err
	})
	return out, err
}

// TopicDetails returns a topic with its subtopic tree.
func (s *Store) TopicDetails(ctx context.Context, id string) (TopicDetails, error) {
	var d TopicDetails
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, nodeKey(LabelTopic, id), &d.Topic); err != nil {
			return fmt.Errorf("topic %s: %w", id, err)
		}
		subs, err := children(txn, RelSubtopicOf, id)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for i := range subs {
			if err := fillChildren(txn, &subs[i], seen); err != nil {
				return err
			}
		}
		d.Subtopics = subs
		return nil
	})
	return d, err
}

func fillChildren(txn *badger.Txn, node *SubtopicNode, seen map[string]bool) error {
	if seen[node.ID] {
		return nil
	}
	seen[node.ID] = true
	kids, err := children(txn, RelSubtopicOfSubtopic, node.ID)
	if err != nil {
		return err
	}
	for i := range kids {
		if err := fillChildren(txn, &kids[i], seen); err != nil {
			return err
		}
	}
	node.Children = kids
	return nil
}

// Counts returns the number of nodes per label and edges per type.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, n := range s.catalog.Nodes {
			counts[n.Label] = countPrefix(txn, []byte("n/"+n.Label+"/"))
		}
		for _, r := range s.catalog.Rels {
			counts[r.Type] = countPrefix(txn, []byte("r/"+r.Type+"/"))
		}
		return nil
	})
	return counts, err
}

// Schema describes the graph for query generation. It is read fresh on
// every call so counts reflect the latest ingest.
func (s *Store) Schema(ctx context.Context) (QuerySchema, error) {
	ctx, span := tracer.Start(ctx, "graphstore.Schema")
	defer span.End()

	counts, err := s.Counts(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return QuerySchema{}, fmt.Errorf("read graph counts: %w", err)
	}
	return s.catalog.Describe(counts), nil
}

// Execute validates and runs a read-only query.
//
// # Outputs
//
//   - *Result: Columns and rows in RETURN order.
//   - error: ErrSyntax, ErrReadOnly or ErrUnknownIdentifier for rejected
//     queries; ErrTooManyMatches when the pattern is too broad.
func (s *Store) Execute(ctx context.Context, query string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "graphstore.Execute")
	defer span.End()

	plan, err := Parse(query, s.catalog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query")
		return nil, err
	}

	var g *graph
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		g, err = loadGraph(txn, s.catalog)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("load graph: %w", err)
	}

	res, err := plan.run(ctx, g, s.maxBindings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("graph.rows", len(res.Rows)))
	return res, nil
}

// =============================================================================
// Helpers
// =============================================================================

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

// childIDs returns the ids of nodes with a typ edge pointing at parentID.
func childIDs(txn *badger.Txn, typ, parentID string) []string {
	prefix := []byte("ri/" + typ + "/" + parentID + "/")
	var ids []string
	_ = scanPrefix(txn, prefix, func(key, _ []byte) error {
		ids = append(ids, string(bytes.TrimPrefix(key, prefix)))
		return nil
	})
	return ids
}

func children(txn *badger.Txn, typ, parentID string) ([]SubtopicNode, error) {
	prefix := []byte("ri/" + typ + "/" + parentID + "/")
	out := []SubtopicNode{}
	err := scanPrefix(txn, prefix, func(key, val []byte) error {
		var edge edgeRecord
		if err := json.Unmarshal(val, &edge); err != nil {
			return fmt.Errorf("decode edge: %w", err)
		}
		childID := string(bytes.TrimPrefix(key, prefix))
		var sub Subtopic
		if err := getJSON(txn, nodeKey(LabelSubtopic, childID), &sub); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		out = append(out, SubtopicNode{Subtopic: sub, Position: edge.Position})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// edgeKeysOf returns every forward and reverse key for edges touching id.
func edgeKeysOf(txn *badger.Txn, id string) [][]byte {
	var keys [][]byte
	for _, typ := range []string{RelSubtopicOf, RelSubtopicOfSubtopic} {
		out := []byte("r/" + typ + "/" + id + "/")
		_ = scanPrefix(txn, out, func(key, _ []byte) error {
			to := string(bytes.TrimPrefix(key, out))
			keys = append(keys, key, revKey(typ, to, id))
			return nil
		})
		in := []byte("ri/" + typ + "/" + id + "/")
		_ = scanPrefix(txn, in, func(key, _ []byte) error {
			from := string(bytes.TrimPrefix(key, in))
			keys = append(keys, key, relKey(typ, from, id))
			return nil
		})
	}
	return keys
}
