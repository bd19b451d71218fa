// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		ok   bool
	}{
		{"equal text", Condition{Field: FieldText, Operator: OpEqual, Value: "x"}, true},
		{"not equal empty path", Condition{Field: FieldImagePath, Operator: OpNotEqual, Value: ""}, true},
		{"like pattern", Condition{Field: FieldFilePath, Operator: OpLike, Value: "*.pdf"}, true},
		{"like empty", Condition{Field: FieldFilePath, Operator: OpLike, Value: " "}, false},
		{"unknown field", Condition{Field: "vector", Operator: OpEqual, Value: "x"}, false},
		{"sql operator", Condition{Field: FieldText, Operator: "=", Value: "x"}, false},
		{"missing operator", Condition{Field: FieldText, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCondition)
			}
		})
	}
}

func TestValues_Validate(t *testing.T) {
	assert.NoError(t, Values{FieldText: "new"}.Validate())
	assert.ErrorIs(t, Values{}.Validate(), ErrInvalidValues)
	assert.ErrorIs(t, Values{"id": "x"}.Validate(), ErrInvalidValues)
}

func TestWhereFor(t *testing.T) {
	w := whereFor(Condition{Field: FieldFilePath, Operator: OpLike, Value: "docs/*"}).Build()
	require.NotNil(t, w)
	assert.Equal(t, []string{FieldFilePath}, w.Path)
	assert.EqualValues(t, "Like", w.Operator)
	require.NotNil(t, w.ValueText)
	assert.Equal(t, "docs/*", *w.ValueText)

	w = whereFor(Condition{Field: FieldText, Operator: OpNotEqual, Value: "a"}).Build()
	assert.EqualValues(t, "NotEqual", w.Operator)
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		url, scheme, host string
	}{
		{"http://weaviate:8080", "http", "weaviate:8080"},
		{"https://cloud.example.com/", "https", "cloud.example.com"},
		{"localhost:8080", "http", "localhost:8080"},
	}
	for _, tt := range tests {
		cfg := clientConfig(tt.url)
		assert.Equal(t, tt.scheme, cfg.Scheme, tt.url)
		assert.Equal(t, tt.host, cfg.Host, tt.url)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{URL: "  "})
	assert.Error(t, err)
}

func TestWeaviateStore_Hybrid(t *testing.T) {
	assert.False(t, (&WeaviateStore{vectorizer: "none"}).Hybrid())
	assert.True(t, (&WeaviateStore{vectorizer: "text2vec-transformers"}).Hybrid())
}

func TestObjectsOfAndParseHits(t *testing.T) {
	data := map[string]models.JSONObject{
		"Get": map[string]interface{}{
			DefaultClassName: []interface{}{
				map[string]interface{}{
					"text":       "goroutines are cheap",
					"image_path": "",
					"file_path":  "go.pdf",
					"_additional": map[string]interface{}{
						"id":    "0b9b2f6e-3f0c-4c4e-9f54-4a4e0f0b6f1a",
						"score": "0.82",
					},
				},
				"malformed",
				map[string]interface{}{
					"text":        "channels",
					"_additional": map[string]interface{}{"id": "x", "score": 0.5},
				},
			},
		},
	}

	hits := parseHits(objectsOf(data, DefaultClassName))
	require.Len(t, hits, 2)
	assert.Equal(t, "goroutines are cheap", hits[0].Text)
	assert.Equal(t, "go.pdf", hits[0].FilePath)
	assert.InDelta(t, 0.82, hits[0].Score, 1e-9)
	assert.Equal(t, "0b9b2f6e-3f0c-4c4e-9f54-4a4e0f0b6f1a", hits[0].ID)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	assert.Empty(t, objectsOf(map[string]models.JSONObject{}, DefaultClassName))
	assert.Empty(t, parseHits(nil))
	assert.NotNil(t, parseHits(nil))
}

func TestEntrySchema(t *testing.T) {
	class := entrySchema(DefaultClassName, "none")
	assert.Equal(t, "none", class.Vectorizer)
	names := make([]string, len(class.Properties))
	for i, p := range class.Properties {
		names[i] = p.Name
	}
	assert.Equal(t, []string{FieldText, FieldImagePath, FieldFilePath}, names)
	assert.Equal(t, "word", class.Properties[0].Tokenization)
}
