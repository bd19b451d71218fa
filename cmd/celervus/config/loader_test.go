// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".celervus", "celervus.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "config file written on first run")
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.Equal(t, DefaultServerURL, cfg.Client.ServerURL)
	assert.Equal(t, 12210, cfg.Orchestrator.Port)

	var onDisk CelervusConfig
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, 90*time.Second, onDisk.Client.IdleTimeout, "durations round-trip")
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "celervus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  server_url: http://graph.internal:9000
orchestrator:
  port: 9000
  graph_path: /var/lib/celervus/graph
  llm:
    backend: ollama
    model: llama3.1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://graph.internal:9000", cfg.Client.ServerURL)
	assert.Equal(t, 9000, cfg.Orchestrator.Port)
	assert.Equal(t, "/var/lib/celervus/graph", cfg.Orchestrator.GraphPath)
	assert.Equal(t, "ollama", cfg.Orchestrator.LLM.Backend)
	assert.Equal(t, "llama3.1", cfg.Orchestrator.LLM.Model)
	assert.True(t, cfg.Orchestrator.EnableMetrics, "unset keys keep their defaults")
	assert.Equal(t, 90*time.Second, cfg.Client.IdleTimeout)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "celervus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"CELERVUS_SERVER_URL":         "http://remote:1",
		"CELERVUS_IDLE_TIMEOUT":       "5s",
		"CELERVUS_PORT":               "8088",
		"CELERVUS_LLM_BACKEND":        "groq",
		"CELERVUS_ENABLE_METRICS":     "false",
		"CELERVUS_RATE_LIMIT_RPS":     "0.5",
		"CELERVUS_CORS_ORIGINS":       "http://a.test, http://b.test,",
		"CELERVUS_ADMIN_TOKEN":        "s3cret",
		"GROQ_API_KEY":                "gsk-123",
		"OPENAI_API_KEY":              "sk-ignored",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://remote:1", cfg.Client.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Client.IdleTimeout)
	assert.Equal(t, 8088, cfg.Orchestrator.Port)
	assert.Equal(t, "groq", cfg.Orchestrator.LLM.Backend)
	assert.Equal(t, "gsk-123", cfg.Orchestrator.LLM.APIKey)
	assert.False(t, cfg.Orchestrator.EnableMetrics)
	assert.Equal(t, 0.5, cfg.Orchestrator.RateLimitRPS)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Orchestrator.CORSOrigins)
	assert.Equal(t, "s3cret", cfg.Orchestrator.AdminToken)
	assert.Equal(t, "s3cret", cfg.Client.AdminToken)
	assert.Equal(t, "collector:4317", cfg.Orchestrator.OTelEndpoint)
}

func TestApplyEnv_ProviderKeys(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		preset  string
		env     map[string]string
		wantKey string
		wantURL string
	}{
		{"openai key", "openai", "", map[string]string{"OPENAI_API_KEY": "sk-1"}, "sk-1", ""},
		{"file key wins", "openai", "sk-file", map[string]string{"OPENAI_API_KEY": "sk-1"}, "sk-file", ""},
		{"ollama url", "ollama", "", map[string]string{"OLLAMA_BASE_URL": "http://ollama:11434"}, "", "http://ollama:11434"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Orchestrator.LLM.Backend = tt.backend
			cfg.Orchestrator.LLM.APIKey = tt.preset
			require.NoError(t, ApplyEnv(&cfg, envMap(tt.env)))
			assert.Equal(t, tt.wantKey, cfg.Orchestrator.LLM.APIKey)
			assert.Equal(t, tt.wantURL, cfg.Orchestrator.LLM.BaseURL)
		})
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"CELERVUS_PORT":           "eighty",
		"CELERVUS_ENABLE_METRICS": "maybe",
		"CELERVUS_RATE_LIMIT_RPS": "fast",
		"CELERVUS_IDLE_TIMEOUT":   "90",
	} {
		t.Run(key, func(t *testing.T) {
			cfg := DefaultConfig()
			err := ApplyEnv(&cfg, envMap(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CELERVUS_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CELERVUS_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("CELERVUS_TEST_DOTENV"))
}
