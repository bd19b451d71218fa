// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorstore keeps the multimodal entry table: free text plus
// optional image and file references, searchable by keyword or hybrid
// similarity.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Field names of an entry. They double as Weaviate property names.
const (
	FieldText      = "text"
	FieldImagePath = "image_path"
	FieldFilePath  = "file_path"
)

// DefaultClassName is the Weaviate class holding entries.
const DefaultClassName = "MultimodalEntry"

var (
	// ErrInvalidCondition is returned for a condition naming an unknown
	// field or operator, or carrying no value.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidValues is returned when an update sets no known field.
	ErrInvalidValues = errors.New("invalid update values")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("vector store unavailable")
)

// Entry is one row of the table. ID is assigned on Add when empty.
type Entry struct {
	ID        string `json:"id,omitempty" validate:"omitempty,uuid"`
	Text      string `json:"text" validate:"required"`
	ImagePath string `json:"image_path,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
}

// properties returns the entry as Weaviate object properties.
func (e Entry) properties() map[string]interface{} {
	return map[string]interface{}{
		FieldText:      e.Text,
		FieldImagePath: e.ImagePath,
		FieldFilePath:  e.FilePath,
	}
}

// Hit is a search result. Higher scores rank first.
type Hit struct {
	Entry
	Score float64 `json:"score"`
}

// Operator compares a field to a condition value.
type Operator string

const (
	OpEqual    Operator = "equal"
	OpNotEqual Operator = "not_equal"
	// OpLike matches with Weaviate wildcards: '*' for any run of
	// characters and '?' for exactly one.
	OpLike Operator = "like"
)

// Condition selects entries for Update and Delete.
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    string   `json:"value"`
}

// Validate reports whether c names a known field and operator. Equality
// against the empty string is allowed so entries without an image or file
// can be selected; like needs a pattern.
func (c Condition) Validate() error {
	if !isField(c.Field) {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidCondition, c.Field)
	}
	switch c.Operator {
	case OpEqual, OpNotEqual:
		return nil
	case OpLike:
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("%w: like needs a pattern", ErrInvalidCondition)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Operator)
}

// Values are the fields an Update writes. Keys are field names.
type Values map[string]string

// Validate rejects empty updates and unknown fields.
func (v Values) Validate() error {
	if len(v) == 0 {
		return fmt.Errorf("%w: nothing to set", ErrInvalidValues)
	}
	for k := range v {
		if !isField(k) {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidValues, k)
		}
	}
	return nil
}

func (v Values) properties() map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func isField(name string) bool {
	switch name {
	case FieldText, FieldImagePath, FieldFilePath:
		return true
	}
	return false
}

// Store is the entry table.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	// EnsureSchema creates the backing class if it does not exist.
	EnsureSchema(ctx context.Context) error

	// Add inserts entries and returns how many were stored.
	Add(ctx context.Context, entries []Entry) (int, error)

	// Update merges values into every entry matching cond.
	Update(ctx context.Context, cond Condition, values Values) (int, error)

	// Delete removes every entry matching cond.
	Delete(ctx context.Context, cond Condition) (int, error)

	// Search returns up to topK entries ranked against query.
	Search(ctx context.Context, query string, topK int) ([]Hit, error)

	// Drop removes all entries and recreates an empty table.
	Drop(ctx context.Context) error

	// Ready reports whether the backend answers.
	Ready(ctx context.Context) error
}
