// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import "github.com/weaviate/weaviate/entities/models"

// entrySchema defines the entry class. text is word-tokenized for BM25;
// the path fields are filterable whole values.
func entrySchema(class, vectorizer string) *models.Class {
	filterable := true
	searchable := false

	return &models.Class{
		Class:       class,
		Description: "A text entry with optional image and file references.",
		Vectorizer:  vectorizer,
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:      true,
			IndexPropertyLength: true,
		},
		Properties: []*models.Property{
			{
				Name:            FieldText,
				DataType:        []string{"text"},
				Description:     "Entry text.",
				IndexFilterable: &filterable,
				Tokenization:    "word",
			},
			{
				Name:            FieldImagePath,
				DataType:        []string{"text"},
				Description:     "Path of an associated image, if any.",
				IndexFilterable: &filterable,
				IndexSearchable: &searchable,
				Tokenization:    "field",
			},
			{
				Name:            FieldFilePath,
				DataType:        []string{"text"},
				Description:     "Path of the source file, if any.",
				IndexFilterable: &filterable,
				IndexSearchable: &searchable,
				Tokenization:    "field",
			},
		},
	}
}
