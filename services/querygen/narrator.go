// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package querygen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/llm"
)

// MaxResultRows is how many result rows RenderResult shows the model.
const MaxResultRows = 50

// Narrator runs Stage B.
type Narrator struct {
	llm         llm.LLMClient
	maxRows     int
	temperature float32
}

// NewNarrator returns a Narrator backed by client.
func NewNarrator(client llm.LLMClient) *Narrator {
	return &Narrator{llm: client, maxRows: MaxResultRows, temperature: 0.2}
}

// Narrate streams an answer to question grounded in result. Tokens reach
// onToken in order; an error from onToken stops the stream and is
// returned.
func (n *Narrator) Narrate(ctx context.Context, question, query string, result *graphstore.Result, onToken llm.StreamCallback) error {
	ctx, span := tracer.Start(ctx, "querygen.Narrate")
	defer span.End()

	prompt, err := formatNarrationPrompt(question, query, RenderResult(result, n.maxRows))
	if err != nil {
		return err
	}
	err = n.llm.Stream(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(n.temperature),
	}, onToken)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("narrate: %w", err)
	}
	return nil
}

// RenderResult formats a query result as compact text: a header line of
// column names, then one line per row with cells separated by " | ".
// Rows past maxRows are summarized in a trailing "(N more rows omitted)"
// line.
//
// # Examples
//
//	t.name | count(*)
//	Go Concurrency | 2
func RenderResult(result *graphstore.Result, maxRows int) string {
	if result == nil || len(result.Rows) == 0 {
		return "(no rows)\n"
	}
	if maxRows <= 0 {
		maxRows = MaxResultRows
	}

	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteByte('\n')
	shown := result.Rows
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = renderCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	if omitted := len(result.Rows) - len(shown); omitted > 0 {
		fmt.Fprintf(&b, "(%d more rows omitted)\n", omitted)
	}
	return b.String()
}

func renderCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strings.ReplaceAll(x, "\n", " ")
	case int64, float64, bool, int:
		return fmt.Sprint(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
