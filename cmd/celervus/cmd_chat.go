// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/celervus/pkg/ux"
)

const plainPrompt = "> "

func runChat(cmd *cobra.Command, args []string) error {
	session := ux.NewChatSession(ux.NewConversation(), newTransport())
	defer session.Close()

	if plainChat || !ux.IsInteractive() {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runPlainChat(ctx, session, os.Stdin, os.Stdout, renderOptions())
	}
	return runChatTUI(cmd.Context(), session)
}

func renderOptions() ux.RenderOptions {
	p := ux.GetPersonality()
	return ux.RenderOptions{Level: p.Level, ExpandReasoning: p.ExpandReasoning}
}

// runPlainChat is the line-based chat used when the full-screen UI is off.
//
// # Description
//
// Reads one question per line, streams the answer to completion and prints
// its rendering. "/reasoning" toggles expanded reasoning and "/quit" or EOF
// ends the session.
func runPlainChat(ctx context.Context, session *ux.ChatSession, in io.Reader, out io.Writer, opts ux.RenderOptions) error {
	plain := opts.Level == ux.PersonalityMachine
	if !plain {
		fmt.Fprintln(out, "Ask about the knowledge graph. /reasoning toggles reasoning, /quit exits.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		if !plain {
			fmt.Fprint(out, plainPrompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reasoning":
			opts.ExpandReasoning = !opts.ExpandReasoning
			fmt.Fprintf(out, "reasoning expanded: %t\n", opts.ExpandReasoning)
			continue
		}

		turn, err := session.Send(ctx, line)
		if err != nil {
			fmt.Fprintln(out, err.Error())
			continue
		}
		if m, ok := session.Conversation().Message(turn.AssistantID); ok {
			fmt.Fprintln(out, ux.RenderMessage(m, opts))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return askOnce(ctx, newTransport(), joinArgs(args), os.Stdout, rawAsk, renderOptions())
}

// askOnce streams a single answer. Raw mode copies chunks as they arrive;
// otherwise the parsed message is rendered once the stream ends.
func askOnce(ctx context.Context, streamer ux.Streamer, question string, out io.Writer, raw bool, opts ux.RenderOptions) error {
	if raw {
		if strings.TrimSpace(question) == "" {
			return ux.ErrEmptyInput
		}
		err := streamer.Open(ctx, ux.QueryRequest{Question: question}, ux.StreamHandlerFuncs{
			Chunk: func(s string) { fmt.Fprint(out, s) },
		})
		fmt.Fprintln(out)
		if err != nil {
			return errors.New(ux.UserMessage(err))
		}
		return nil
	}

	session := ux.NewChatSession(ux.NewConversation(), streamer)
	defer session.Close()

	turn, err := session.Send(ctx, question)
	if err != nil {
		return err
	}
	m, _ := session.Conversation().Message(turn.AssistantID)
	fmt.Fprintln(out, ux.RenderMessage(m, opts))
	if m.Status == ux.StatusFailed {
		return errReported
	}
	return nil
}
