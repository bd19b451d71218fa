// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/celervus/pkg/ux"
	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
)

func runTopics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient()

	if len(args) == 0 {
		topics, err := client.Topics(ctx)
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			ux.Info("The graph is empty. Run `celervus graph ingest <outline.json>` first.")
			return nil
		}
		ux.Title(fmt.Sprintf("%d topics", len(topics)))
		for _, t := range topics {
			ux.KeyValue(t.ID, t.Name)
		}
		return nil
	}

	id := args[0]
	details, err := client.Topic(ctx, id)
	if err == nil {
		ux.Title(details.Name)
		printSubtopicTree(details.Subtopics, 0)
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	sub, err := client.Subtopic(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("no topic or subtopic with id %q", id)
		}
		return err
	}
	ux.Title(sub.Name)
	if sub.Text != "" {
		ux.Info(sub.Text)
	}
	for _, bp := range sub.BulletPoints {
		ux.Info(string(ux.IconBullet) + " " + bp)
	}
	printSubtopicTree(sub.Children, 0)
	return nil
}

func printSubtopicTree(nodes []graphstore.SubtopicNode, depth int) {
	for _, n := range nodes {
		ux.KeyValue(n.ID, strings.Repeat("  ", depth)+n.Name)
		printSubtopicTree(n.Children, depth+1)
	}
}

func runGraphSchema(cmd *cobra.Command, args []string) error {
	schema, err := newClient().Schema(cmd.Context())
	if err != nil {
		return err
	}

	ux.Title("Nodes")
	for _, n := range schema.Nodes {
		ux.Info(n)
	}
	ux.Title("Relationships")
	for _, r := range schema.Relationships {
		ux.Info(r)
	}
	ux.Title("Properties")
	for _, p := range schema.Properties {
		ux.Info(p)
	}
	if len(schema.Counts) > 0 {
		ux.Title("Counts")
		labels := make([]string, 0, len(schema.Counts))
		for l := range schema.Counts {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			ux.KeyValue(l, strconv.Itoa(schema.Counts[l]))
		}
	}
	return nil
}

func runGraphIngest(cmd *cobra.Command, args []string) error {
	client := newClient()
	failed := 0
	for _, path := range args {
		var resp datatypes.CreateGraphResponse
		err := ux.WithSpinner("Ingesting "+path, func() error {
			var ierr error
			resp, ierr = client.Ingest(cmd.Context(), path, ingestLimit)
			return ierr
		})
		if err != nil {
			ux.Error(fmt.Sprintf("%s: %v", path, err))
			failed++
			continue
		}
		msg := fmt.Sprintf("%s: %d topics, %d subtopics", path, len(resp.Topics), resp.Subtopics)
		if resp.Truncated {
			msg += " (truncated)"
		}
		ux.Success(msg)
		if resp.Warning != "" {
			ux.Warning(resp.Warning)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := newClient().Health(cmd.Context())
	if err != nil {
		return err
	}
	ux.KeyValue("server", h.Status)
	ux.KeyValue("graph", h.Graph)
	ux.KeyValue("vector store", h.Vector)
	return nil
}
