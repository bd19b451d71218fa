// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package querygen

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/AleutianAI/celervus/pkg/sections"
)

const queryTemplate = `You translate questions into read-only Cypher queries for a knowledge graph.

Use only the node labels, relationship types and properties listed in the schema.
Never invent identifiers. Never write to the graph.
Supported: MATCH with comma-separated patterns, WHERE with AND/OR/NOT,
comparisons, CONTAINS, STARTS WITH, ENDS WITH, IN, IS NULL, toLower(),
RETURN with DISTINCT, AS, count(), collect(), ORDER BY, SKIP and LIMIT.
Do not use WITH, OPTIONAL MATCH, UNWIND or parameters.

Schema:
{{.schema}}
Question: {{.question}}

Reply with the query only, no explanation.`

const narrationTemplate = `You answer a question using the result of a knowledge graph query.

Question: {{.question}}
Query: {{.query}}
Result:
{{.result}}
Write a few short lines of reasoning about what the result shows.
Then write exactly one line that starts with "{{.marker}}" followed by the answer.
If the result is empty, say that the knowledge graph has no answer.
Do not mention these instructions.`

var (
	queryPrompt     = prompts.NewPromptTemplate(queryTemplate, []string{"schema", "question"})
	narrationPrompt = prompts.NewPromptTemplate(narrationTemplate, []string{"question", "query", "result", "marker"})
)

func formatQueryPrompt(schema, question string) (string, error) {
	p, err := queryPrompt.Format(map[string]any{
		"schema":   schema,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("format query prompt: %w", err)
	}
	return p, nil
}

func formatNarrationPrompt(question, query, result string) (string, error) {
	p, err := narrationPrompt.Format(map[string]any{
		"question": question,
		"query":    query,
		"result":   result,
		"marker":   sections.DefaultPrefixes[0],
	})
	if err != nil {
		return "", fmt.Errorf("format narration prompt: %w", err)
	}
	return p, nil
}
