// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest loads topic outlines into the knowledge graph and the
// vector index.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidOutline is returned for outlines that fail to decode or
// validate.
var ErrInvalidOutline = errors.New("invalid outline")

// Outline is an extracted document structure: topics, each with an
// ordered tree of subtopics.
type Outline struct {
	// Source names the document, e.g. the file the outline came from.
	Source string         `json:"source"`
	Topics []OutlineTopic `json:"topics" validate:"required,min=1,dive"`
}

// OutlineTopic is a top-level topic. ID is generated when empty.
type OutlineTopic struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name" validate:"required"`
	Subtopics []OutlineSubtopic `json:"subtopics" validate:"dive"`
}

// OutlineSubtopic is a section under a topic or another subtopic.
type OutlineSubtopic struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name" validate:"required"`
	Text         string   `json:"text"`
	BulletPoints []string `json:"bullet_points,omitempty"`

	// ImageMetadata describes extracted images, one map per image, e.g.
	// {"image_path": "...", "page": "3"}.
	ImageMetadata []map[string]string `json:"image_metadata,omitempty"`

	Children []OutlineSubtopic `json:"children,omitempty" validate:"dive"`
}

var validate = validator.New()

// ParseOutline decodes and validates an outline. Unknown fields are
// rejected.
func ParseOutline(r io.Reader) (Outline, error) {
	var o Outline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return Outline{}, fmt.Errorf("%w: %v", ErrInvalidOutline, err)
	}
	if err := o.Validate(); err != nil {
		return Outline{}, err
	}
	return o, nil
}

// Validate checks required names at every level.
func (o Outline) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutline, err)
	}
	return nil
}

// CountSubtopics returns the number of subtopics at all depths.
func (o Outline) CountSubtopics() int {
	n := 0
	for _, t := range o.Topics {
		n += countSubtopics(t.Subtopics)
	}
	return n
}

func countSubtopics(subs []OutlineSubtopic) int {
	n := len(subs)
	for _, s := range subs {
		n += countSubtopics(s.Children)
	}
	return n
}
