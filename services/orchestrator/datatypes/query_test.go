// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/services/vectorstore"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{name: "trims", query: "  which topics?  ", want: "which topics?"},
		{name: "empty", query: "", wantErr: true},
		{name: "blank", query: " \t\n ", wantErr: true},
		{name: "at limit", query: strings.Repeat("a", MaxQueryBytes), want: strings.Repeat("a", MaxQueryBytes)},
		{name: "over limit", query: strings.Repeat("a", MaxQueryBytes+1), wantErr: true},
		{name: "padding does not count", query: " " + strings.Repeat("a", MaxQueryBytes) + " ", want: strings.Repeat("a", MaxQueryBytes)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := QueryRequest{Query: tt.query}
			err := req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Query)
		})
	}
}

func TestSearchRequest_Validate(t *testing.T) {
	ok := SearchRequest{Query: " go ", TopK: 5}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "go", ok.Query)

	assert.Error(t, (&SearchRequest{Query: "go", TopK: MaxTopK + 1}).Validate())
	assert.Error(t, (&SearchRequest{Query: "go", TopK: -1}).Validate())
	assert.Error(t, (&SearchRequest{Query: "  "}).Validate())
}

func TestAddRequest_Validate(t *testing.T) {
	assert.NoError(t, (&AddRequest{Entries: []vectorstore.Entry{{Text: "notes"}}}).Validate())
	assert.Error(t, (&AddRequest{}).Validate(), "at least one entry")
	assert.Error(t, (&AddRequest{Entries: []vectorstore.Entry{{FilePath: "a.txt"}}}).Validate(), "text is required")
	assert.Error(t, (&AddRequest{Entries: []vectorstore.Entry{{ID: "not-a-uuid", Text: "x"}}}).Validate())

	tooMany := make([]vectorstore.Entry, MaxEntriesPerRequest+1)
	for i := range tooMany {
		tooMany[i].Text = "x"
	}
	assert.Error(t, (&AddRequest{Entries: tooMany}).Validate())
}

func TestConditionRequests_Validate(t *testing.T) {
	cond := vectorstore.Condition{Field: vectorstore.FieldFilePath, Operator: vectorstore.OpEqual, Value: "a.txt"}

	assert.NoError(t, (&DeleteRequest{Condition: cond}).Validate())
	assert.Error(t, (&DeleteRequest{}).Validate())
	assert.ErrorIs(t,
		(&DeleteRequest{Condition: vectorstore.Condition{Field: "color", Operator: vectorstore.OpEqual}}).Validate(),
		vectorstore.ErrInvalidCondition)

	assert.NoError(t, (&UpdateRequest{Condition: cond, Values: vectorstore.Values{vectorstore.FieldText: "new"}}).Validate())
	assert.Error(t, (&UpdateRequest{Condition: cond}).Validate(), "nothing to set")
	assert.ErrorIs(t,
		(&UpdateRequest{Condition: cond, Values: vectorstore.Values{"color": "red"}}).Validate(),
		vectorstore.ErrInvalidValues)
}
