// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/celervus/pkg/ux"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

func runDBSearch(cmd *cobra.Command, args []string) error {
	hits, err := newClient().Search(cmd.Context(), joinArgs(args), searchTopK)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		ux.Info("No matching entries.")
		return nil
	}
	for i, h := range hits {
		ux.Title(fmt.Sprintf("%d. %s (score %.3f)", i+1, h.ID, h.Score))
		ux.Info(h.Text)
		if h.FilePath != "" {
			ux.KeyValue("file", h.FilePath)
		}
		if h.ImagePath != "" {
			ux.KeyValue("image", h.ImagePath)
		}
	}
	return nil
}

func runDBAdd(cmd *cobra.Command, args []string) error {
	_, err := newClient().Add(cmd.Context(), []vectorstore.Entry{{
		Text:      joinArgs(args),
		FilePath:  addFile,
		ImagePath: addImage,
	}})
	if err != nil {
		return err
	}
	ux.Success("Entry added")
	return nil
}

func runDBDelete(cmd *cobra.Command, args []string) error {
	cond := vectorstore.Condition{Field: condField, Operator: vectorstore.Operator(condOp), Value: args[0]}
	if err := cond.Validate(); err != nil {
		return err
	}
	n, err := newClient().Delete(cmd.Context(), cond)
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Deleted %d entries", n))
	return nil
}

// errNotConfirmed is returned when the user declines a destructive action.
var errNotConfirmed = errors.New("cancelled")

func runDBDrop(cmd *cobra.Command, args []string) error {
	if !assumeYes {
		if !ux.IsTerminal(os.Stdin.Fd()) {
			return errors.New("refusing to drop without a terminal; pass --yes")
		}
		ok, err := confirm("Drop every entry in the vector store?",
			"This deletes all stored vectors. The knowledge graph is not affected.")
		if err != nil {
			return err
		}
		if !ok {
			return errNotConfirmed
		}
	}

	if err := newClient().Drop(cmd.Context()); err != nil {
		return err
	}
	ux.Success("Vector store dropped")
	return nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Drop").
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
