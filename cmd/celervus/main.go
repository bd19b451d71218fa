// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command celervus is the knowledge-graph question answering CLI.
//
// It runs the orchestrator (`celervus serve`), chats with a running one
// (`celervus chat`, `celervus ask`) and administers its graph and vector
// store (`celervus topics`, `celervus graph`, `celervus db`).
//
// # Usage
//
//	celervus serve
//	celervus graph ingest outline.json
//	celervus chat
//	celervus ask "Which topics cover channels?"
package main

import (
	"errors"
	"os"

	"github.com/AleutianAI/celervus/pkg/ux"
)

// errReported exits non-zero without printing again.
var errReported = errors.New("already reported")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			ux.Error(err.Error())
		}
		os.Exit(1)
	}
}
