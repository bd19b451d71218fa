// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response bodies of the
// orchestrator API together with their validation rules.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

const (
	// MaxQueryBytes bounds a question after trimming.
	MaxQueryBytes = 4096

	// MaxEntriesPerRequest bounds one /db/add batch.
	MaxEntriesPerRequest = 1000

	// MaxTopK bounds /db/search results.
	MaxTopK = 100
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// question: non-blank after trimming and at most MaxQueryBytes.
	_ = validate.RegisterValidation("question", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		return s != "" && len(s) <= MaxQueryBytes
	})
}

// =============================================================================
// Query
// =============================================================================

// QueryRequest is the /query input, taken from the query string.
type QueryRequest struct {
	Query string `form:"query" validate:"required,question"`
}

// Validate checks the request and trims the question.
func (r *QueryRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	r.Query = strings.TrimSpace(r.Query)
	return nil
}

// ErrorResponse is the body of every non-streaming error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// Graph
// =============================================================================

// CreateGraphResponse reports a /create_graph ingestion.
type CreateGraphResponse struct {
	Message   string             `json:"message"`
	Topics    []graphstore.Topic `json:"topics"`
	Subtopics int                `json:"subtopics"`
	Truncated bool               `json:"truncated"`
	Indexed   int                `json:"indexed"`
	Warning   string             `json:"warning,omitempty"`
}

// TopicsResponse lists topics.
type TopicsResponse struct {
	Topics []graphstore.Topic `json:"topics"`
}

// =============================================================================
// Vector store
// =============================================================================

// AddRequest is the /db/add body.
type AddRequest struct {
	Entries []vectorstore.Entry `json:"entries" validate:"required,min=1,max=1000,dive"`
}

func (r *AddRequest) Validate() error { return validate.Struct(r) }

// UpdateRequest is the /db/update body.
type UpdateRequest struct {
	Condition vectorstore.Condition `json:"condition"`
	Values    vectorstore.Values    `json:"values" validate:"required,min=1"`
}

func (r *UpdateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	return r.Values.Validate()
}

// DeleteRequest is the /db/delete body.
type DeleteRequest struct {
	Condition vectorstore.Condition `json:"condition"`
}

func (r *DeleteRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	return r.Condition.Validate()
}

// SearchRequest is the /db/search query string.
type SearchRequest struct {
	Query string `form:"query" validate:"required,question"`
	TopK  int    `form:"top_k" validate:"gte=0,lte=100"`
}

func (r *SearchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	r.Query = strings.TrimSpace(r.Query)
	return nil
}

// CountResponse reports how many entries an operation touched.
type CountResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// SearchResponse lists search hits.
type SearchResponse struct {
	Results []vectorstore.Hit `json:"results"`
}
