// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the Celervus orchestrator HTTP server.
//
// This is the container entry point. Unlike `celervus serve` it reads no
// config file: it starts from the built-in defaults and applies a .env
// file and environment variables on top.
//
// # Environment Variables
//
//   - CELERVUS_PORT: HTTP server port (default: 12210)
//   - CELERVUS_LLM_BACKEND: openai, groq or ollama (default: openai)
//   - CELERVUS_GRAPH_PATH: badger directory (default: in-memory)
//   - CELERVUS_WEAVIATE_URL: Weaviate URL (optional)
//   - CELERVUS_ADMIN_TOKEN: bearer token for DELETE /db/drop
//   - CELERVUS_INGEST_DIR: directory watched for outline files
//   - CELERVUS_LOG_LEVEL, CELERVUS_LOG_DIR: logging
//   - OPENAI_API_KEY, GROQ_API_KEY, OLLAMA_BASE_URL: provider settings
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	CELERVUS_GRAPH_PATH=/data/graph ./orchestrator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/celervus/cmd/celervus/config"
	"github.com/AleutianAI/celervus/pkg/logging"
	"github.com/AleutianAI/celervus/services/orchestrator"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "celervus-orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	logger.SetDefault()

	slog.Info("Starting orchestrator",
		"port", cfg.Orchestrator.Port,
		"llm_backend", cfg.Orchestrator.LLM.Backend,
		"graph_path", cfg.Orchestrator.GraphPath,
		"weaviate_url", cfg.Orchestrator.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg.Orchestrator, nil)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
}
