// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the celervus configuration file.
//
// # Description
//
// One YAML file configures both sides: the client settings used by chat,
// ask and the admin commands, and the orchestrator settings used by serve.
// Values are resolved in this order, later wins:
//
//  1. DefaultConfig()
//  2. ~/.celervus/celervus.yaml (created from the defaults on first run)
//  3. a .env file in the working directory
//  4. CELERVUS_* environment variables and the provider keys
//     OPENAI_API_KEY, GROQ_API_KEY and OLLAMA_BASE_URL
package config

import (
	"time"

	"github.com/AleutianAI/celervus/services/orchestrator"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// DefaultServerURL is where the client looks for the orchestrator.
const DefaultServerURL = "http://localhost:12210"

// CelervusConfig is the whole file.
type CelervusConfig struct {
	Meta         MetaConfig          `yaml:"meta"`
	Client       ClientConfig        `yaml:"client"`
	Logging      LoggingConfig       `yaml:"logging"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
}

// MetaConfig records the file format version.
type MetaConfig struct {
	Version string `yaml:"version"`
}

// ClientConfig is used by the commands that talk to a running server.
type ClientConfig struct {
	// ServerURL is the orchestrator base URL.
	ServerURL string `yaml:"server_url"`

	// IdleTimeout fails a stream that sends nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds the non-streaming admin calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Personality is full, minimal or machine.
	Personality string `yaml:"personality"`

	// AdminToken is sent as a bearer token by `db drop`.
	AdminToken string `yaml:"admin_token"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the values written on first run.
func DefaultConfig() CelervusConfig {
	return CelervusConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Client: ClientConfig{
			ServerURL:      DefaultServerURL,
			IdleTimeout:    90 * time.Second,
			RequestTimeout: 2 * time.Minute,
			Personality:    "full",
		},
		Logging:      LoggingConfig{Level: "info"},
		Orchestrator: orchestrator.DefaultConfig(),
	}
}
