// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/celervus/cmd/celervus/config"
	"github.com/AleutianAI/celervus/pkg/logging"
	"github.com/AleutianAI/celervus/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	serverURL        string
	personalityLevel string

	// cfg is filled by the root PersistentPreRunE.
	cfg    config.CelervusConfig
	logger *logging.Logger

	// chat / ask
	plainChat bool
	rawAsk    bool

	// graph / db
	ingestLimit int
	searchTopK  int
	assumeYes   bool
	addFile     string
	addImage    string
	condField   string
	condOp      string

	rootCmd = &cobra.Command{
		Use:   "celervus",
		Short: "Ask questions about a knowledge graph built from your documents",
		Long: `Celervus turns document outlines into a topic graph and answers
natural-language questions about it with an LLM, streaming the
model's reasoning and final answer as they are produced.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Questions ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with the knowledge graph",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk, // Defined in cmd_chat.go
	}

	// --- Graph ---
	topicsCmd = &cobra.Command{
		Use:   "topics [id]",
		Short: "List topics, or show one topic or subtopic",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTopics, // Defined in cmd_graph.go
	}
	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Inspect and populate the knowledge graph",
	}
	graphSchemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Print the graph schema and node counts",
		Args:  cobra.NoArgs,
		RunE:  runGraphSchema, // Defined in cmd_graph.go
	}
	graphIngestCmd = &cobra.Command{
		Use:   "ingest [outline.json...]",
		Short: "Upload outline files to build the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGraphIngest, // Defined in cmd_graph.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Report server, graph and vector store status",
		Args:  cobra.NoArgs,
		RunE:  runHealth, // Defined in cmd_graph.go
	}

	// --- Vector store ---
	dbCmd = &cobra.Command{
		Use:   "db",
		Short: "Manage the vector store",
	}
	dbSearchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored entries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDBSearch, // Defined in cmd_db.go
	}
	dbAddCmd = &cobra.Command{
		Use:   "add [text]",
		Short: "Add an entry",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDBAdd, // Defined in cmd_db.go
	}
	dbDeleteCmd = &cobra.Command{
		Use:   "delete [value]",
		Short: "Delete entries matching a condition",
		Args:  cobra.ExactArgs(1),
		RunE:  runDBDelete, // Defined in cmd_db.go
	}
	dbDropCmd = &cobra.Command{
		Use:   "drop",
		Short: "DANGER: delete every entry in the vector store",
		Args:  cobra.NoArgs,
		RunE:  runDBDrop, // Defined in cmd_db.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.celervus/celervus.yaml)")
	pf.StringVar(&serverURL, "server", "", "orchestrator URL (overrides client.server_url)")
	pf.StringVar(&personalityLevel, "personality", "", "output style: full, minimal or machine")

	chatCmd.Flags().BoolVar(&plainChat, "plain", false, "use a line-based prompt instead of the full-screen UI")
	askCmd.Flags().BoolVar(&rawAsk, "raw", false, "print the streamed text as it arrives, unparsed")

	graphIngestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "maximum subtopics to ingest per file (0 = server default)")
	dbSearchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "maximum results (0 = server default)")
	dbAddCmd.Flags().StringVar(&addFile, "file-path", "", "source document of the entry")
	dbAddCmd.Flags().StringVar(&addImage, "image-path", "", "image the entry describes")
	dbDeleteCmd.Flags().StringVar(&condField, "field", "file_path", "field to match: text, image_path or file_path")
	dbDeleteCmd.Flags().StringVar(&condOp, "op", "equal", "operator: equal, not_equal or like")
	dbDropCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	graphCmd.AddCommand(graphSchemaCmd, graphIngestCmd)
	dbCmd.AddCommand(dbSearchCmd, dbAddCmd, dbDeleteCmd, dbDropCmd)
	rootCmd.AddCommand(serveCmd, chatCmd, askCmd, topicsCmd, graphCmd, healthCmd, dbCmd)
}

// loadSettings resolves the config, output personality and logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		loaded.Client.ServerURL = serverURL
	}
	cfg = loaded

	// Piped output stays in machine mode unless the flag says otherwise.
	ux.InitPersonality()
	level := cfg.Client.Personality
	if personalityLevel != "" {
		level = personalityLevel
	}
	p := ux.GetPersonality()
	if level != "" && (personalityLevel != "" || p.Level != ux.PersonalityMachine) {
		p.Level = ux.ParsePersonalityLevel(level)
		ux.SetPersonality(p)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	logger = logging.New(logging.Config{
		Level:   logLevel,
		LogDir:  cfg.Logging.Dir,
		Service: "celervus",
		JSON:    cfg.Logging.JSON,
		// The full-screen chat owns the terminal.
		Quiet: cmd == chatCmd && !plainChat,
	})
	logger.SetDefault()
	return nil
}

func newClient() *apiClient {
	return newAPIClient(cfg.Client.ServerURL, cfg.Client.AdminToken, cfg.Client.RequestTimeout)
}

func newTransport() *ux.Transport {
	return ux.NewTransport(ux.TransportConfig{
		BaseURL:     cfg.Client.ServerURL,
		IdleTimeout: cfg.Client.IdleTimeout,
	})
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
