// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every celervus environment override.
const EnvPrefix = "CELERVUS_"

// DefaultPath returns ~/.celervus/celervus.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".celervus", "celervus.yaml"), nil
}

// Load reads the config at path, creating it from DefaultConfig when it
// does not exist, and then applies .env and environment overrides.
//
// # Inputs
//
//   - path: The YAML file. Empty means DefaultPath().
//
// # Outputs
//
//   - CelervusConfig: The resolved configuration.
//   - error: Unreadable or malformed file, or an unparsable override.
func Load(path string) (CelervusConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return CelervusConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Info("First run, creating config", "path", path)
		if err := createDefault(path); err != nil {
			return CelervusConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CelervusConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CelervusConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return CelervusConfig{}, err
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return CelervusConfig{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error. Variables already set are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overlays environment variables onto cfg.
//
// # Description
//
// Only non-empty variables override. The provider keys are applied to the
// LLM block only when it does not already carry a value and the variable
// matches the selected backend.
//
// # Inputs
//
//   - cfg: Modified in place.
//   - getenv: Usually os.Getenv. Tests pass a map lookup.
//
// # Outputs
//
//   - error: The first override that failed to parse, naming the variable.
func ApplyEnv(cfg *CelervusConfig, getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.setString("SERVER_URL", &cfg.Client.ServerURL)
	e.setDuration("IDLE_TIMEOUT", &cfg.Client.IdleTimeout)
	e.setString("PERSONALITY", &cfg.Client.Personality)
	e.setString("LOG_LEVEL", &cfg.Logging.Level)
	e.setString("LOG_DIR", &cfg.Logging.Dir)

	o := &cfg.Orchestrator
	e.setInt("PORT", &o.Port)
	e.setString("GIN_MODE", &o.GinMode)
	e.setString("LLM_BACKEND", &o.LLM.Backend)
	e.setString("LLM_MODEL", &o.LLM.Model)
	e.setString("GRAPH_PATH", &o.GraphPath)
	e.setString("WEAVIATE_URL", &o.WeaviateURL)
	e.setString("OTEL_ENDPOINT", &o.OTelEndpoint)
	e.setBool("ENABLE_METRICS", &o.EnableMetrics)
	e.setFloat("RATE_LIMIT_RPS", &o.RateLimitRPS)
	e.setInt("RATE_LIMIT_BURST", &o.RateLimitBurst)
	e.setString("INGEST_DIR", &o.IngestDir)
	if e.setString("ADMIN_TOKEN", &o.AdminToken) {
		cfg.Client.AdminToken = o.AdminToken
	}
	if v := getenv(EnvPrefix + "CORS_ORIGINS"); v != "" {
		o.CORSOrigins = splitList(v)
	}
	if o.OTelEndpoint == "" {
		o.OTelEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	switch strings.ToLower(o.LLM.Backend) {
	case "", "openai":
		fillEmpty(&o.LLM.APIKey, getenv("OPENAI_API_KEY"))
	case "groq":
		fillEmpty(&o.LLM.APIKey, getenv("GROQ_API_KEY"))
	case "ollama":
		fillEmpty(&o.LLM.BaseURL, getenv("OLLAMA_BASE_URL"))
	}

	return e.err
}

// envReader reads CELERVUS_<key> overrides and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(EnvPrefix + key))
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, value, err)
	}
}

func (e *envReader) setString(key string, dst *string) bool {
	v, ok := e.lookup(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
