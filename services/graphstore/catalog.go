// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"fmt"
	"sort"
	"strings"
)

// Node labels and relationship types.
const (
	LabelTopic    = "Topic"
	LabelSubtopic = "Subtopic"

	RelSubtopicOf         = "SUBTOPIC_OF"
	RelSubtopicOfSubtopic = "SUBTOPIC_OF_SUBTOPIC"
)

// Property is a typed property in the catalog.
type Property struct {
	Name string
	Type string
}

// NodeType describes a node label.
type NodeType struct {
	Label      string
	Properties []Property
}

// RelType describes a relationship type and its endpoints.
type RelType struct {
	Type       string
	From       string
	To         string
	Properties []Property
}

// Catalog is the static graph schema. Queries are validated against it.
type Catalog struct {
	Nodes []NodeType
	Rels  []RelType
}

// DefaultCatalog returns the topic outline schema.
func DefaultCatalog() Catalog {
	return Catalog{
		Nodes: []NodeType{
			{Label: LabelTopic, Properties: []Property{
				{"id", "STRING"},
				{"name", "STRING"},
			}},
			{Label: LabelSubtopic, Properties: []Property{
				{"id", "STRING"},
				{"name", "STRING"},
				{"text", "STRING"},
				{"bullet_points", "STRING[]"},
				{"image_metadata", "STRING"},
			}},
		},
		Rels: []RelType{
			{Type: RelSubtopicOf, From: LabelSubtopic, To: LabelTopic, Properties: []Property{{"position", "UINT32"}}},
			{Type: RelSubtopicOfSubtopic, From: LabelSubtopic, To: LabelSubtopic, Properties: []Property{{"position", "UINT32"}}},
		},
	}
}

func (c Catalog) node(label string) (NodeType, bool) {
	for _, n := range c.Nodes {
		if n.Label == label {
			return n, true
		}
	}
	return NodeType{}, false
}

func (c Catalog) rel(typ string) (RelType, bool) {
	for _, r := range c.Rels {
		if r.Type == typ {
			return r, true
		}
	}
	return RelType{}, false
}

func hasProperty(props []Property, name string) bool {
	for _, p := range props {
		if p.Name == name {
			return true
		}
	}
	return false
}

// anyNodeHas reports whether some label defines the property. Used for
// unlabeled node variables.
func (c Catalog) anyNodeHas(name string) bool {
	for _, n := range c.Nodes {
		if hasProperty(n.Properties, name) {
			return true
		}
	}
	return false
}

func (c Catalog) anyRelHas(name string) bool {
	for _, r := range c.Rels {
		if hasProperty(r.Properties, name) {
			return true
		}
	}
	return false
}

// =============================================================================
// QuerySchema
// =============================================================================

// QuerySchema is the plain-text description of the graph handed to the
// query generator.
type QuerySchema struct {
	Nodes         []string       `json:"nodes"`
	Relationships []string       `json:"relationships"`
	Properties    []string       `json:"properties"`
	Counts        map[string]int `json:"counts,omitempty"`
}

// Describe renders the catalog as a QuerySchema, attaching counts when
// given.
func (c Catalog) Describe(counts map[string]int) QuerySchema {
	s := QuerySchema{Counts: counts}
	for _, n := range c.Nodes {
		fields := make([]string, len(n.Properties))
		for i, p := range n.Properties {
			fields[i] = p.Name + " " + p.Type
			s.Properties = append(s.Properties, fmt.Sprintf("%s.%s %s", n.Label, p.Name, p.Type))
		}
		s.Nodes = append(s.Nodes, fmt.Sprintf("%s(%s)", n.Label, strings.Join(fields, ", ")))
	}
	for _, r := range c.Rels {
		fields := make([]string, len(r.Properties))
		for i, p := range r.Properties {
			fields[i] = p.Name + " " + p.Type
			s.Properties = append(s.Properties, fmt.Sprintf("%s.%s %s", r.Type, p.Name, p.Type))
		}
		props := ""
		if len(fields) > 0 {
			props = " {" + strings.Join(fields, ", ") + "}"
		}
		s.Relationships = append(s.Relationships, fmt.Sprintf("(:%s)-[:%s%s]->(:%s)", r.From, r.Type, props, r.To))
	}
	return s
}

// String renders the schema in the layout used by the generation prompt.
func (s QuerySchema) String() string {
	var b strings.Builder
	b.WriteString("Node types:\n")
	for _, n := range s.Nodes {
		b.WriteString("  " + n + "\n")
	}
	b.WriteString("Relationship types:\n")
	for _, r := range s.Relationships {
		b.WriteString("  " + r + "\n")
	}
	b.WriteString("Properties:\n")
	for _, p := range s.Properties {
		b.WriteString("  " + p + "\n")
	}
	if len(s.Counts) > 0 {
		keys := make([]string, 0, len(s.Counts))
		for k := range s.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Counts:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %d\n", k, s.Counts[k])
		}
	}
	return b.String()
}
