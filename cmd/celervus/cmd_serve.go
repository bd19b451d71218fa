// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/celervus/services/orchestrator"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg.Orchestrator)
}

// serve runs the orchestrator until ctx is cancelled.
func serve(ctx context.Context, oc orchestrator.Config) error {
	slog.Info("Starting orchestrator",
		"port", oc.Port,
		"llm_backend", oc.LLM.Backend,
		"graph_path", oc.GraphPath,
		"weaviate_url", oc.WeaviateURL,
	)

	svc, err := orchestrator.New(oc, nil)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator stopped: %w", err)
	}
	return nil
}
