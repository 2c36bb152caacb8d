// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	sc, err := cfg.ToSearchConfig()
	require.NoError(t, err)
	assert.Equal(t, search.DefaultConfig(), sc)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search, cfg.Search)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "mctsr.yaml", `
search:
  max_rollouts: 16
  max_children: 3
  selection_policy: pairwise_importance_sampling
  num_reward_samples: 5
  seed: 99
  prompts:
    critique: "Be harsh."
responder:
  backend: ollama
  model: llama3
  base_url: http://localhost:11434
  timeout: 45s
  circuit_breaker:
    failure_threshold: 5
    open_duration: 1m
store:
  in_memory: true
server:
  addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Search.MaxRollouts)
	assert.Equal(t, 3, cfg.Search.MaxChildren)
	assert.Equal(t, "Be harsh.", cfg.Search.Prompts.Critique)
	assert.Equal(t, "ollama", cfg.Responder.Backend)
	assert.Equal(t, 45*time.Second, cfg.Responder.Timeout)
	assert.Equal(t, 5, cfg.Responder.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Responder.CircuitBreaker.OpenDuration)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	// Untouched fields keep their defaults.
	assert.Equal(t, search.DefaultEpsilon, cfg.Search.Epsilon)

	sc, err := cfg.ToSearchConfig()
	require.NoError(t, err)
	assert.Equal(t, search.PolicyPairwiseImportanceSampling, sc.SelectionPolicy)
	assert.Equal(t, uint64(99), sc.Seed)
	assert.Equal(t, 5, sc.NumRewardSamples)
}

func TestLoad_JSONFallback(t *testing.T) {
	path := writeFile(t, "mctsr.json", `{"search": {"max_rollouts": 3, "selection_policy": "GREEDY"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MaxRollouts)
	assert.Equal(t, "GREEDY", cfg.Search.SelectionPolicy)
}

func TestLoad_Unparseable(t *testing.T) {
	path := writeFile(t, "bad.yaml", "search: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MCTSR_MAX_ROLLOUTS", "21")
	t.Setenv("MCTSR_SELECTION_POLICY", "GREEDY")
	t.Setenv("MCTSR_SEED", "7")
	t.Setenv("MCTSR_MODEL", "gpt-4o")
	t.Setenv("MCTSR_LOG_JSON", "true")
	t.Setenv("MCTSR_RUN_TTL", "1h")
	t.Setenv("MCTSR_MAX_CHILDREN", "not-a-number")

	path := writeFile(t, "mctsr.yaml", "search:\n  max_rollouts: 4\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 21, cfg.Search.MaxRollouts, "env wins over file")
	assert.Equal(t, "GREEDY", cfg.Search.SelectionPolicy)
	assert.Equal(t, uint64(7), cfg.Search.Seed)
	assert.Equal(t, "gpt-4o", cfg.Responder.Model)
	assert.True(t, cfg.Observability.LogJSON)
	assert.Equal(t, time.Hour, cfg.Store.RunTTL)
	assert.Equal(t, search.DefaultMaxChildren, cfg.Search.MaxChildren, "unparseable values are ignored")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FullConfig)
	}{
		{"zero rollouts", func(c *FullConfig) { c.Search.MaxRollouts = 0 }},
		{"unknown policy", func(c *FullConfig) { c.Search.SelectionPolicy = "RANDOM" }},
		{"negative penalty", func(c *FullConfig) { c.Search.ExcessRewardPenalty = -1 }},
		{"unknown backend", func(c *FullConfig) { c.Responder.Backend = "carrier-pigeon" }},
		{"missing model", func(c *FullConfig) { c.Responder.Model = "" }},
		{"bad base url", func(c *FullConfig) { c.Responder.BaseURL = "not a url" }},
		{"bad log level", func(c *FullConfig) { c.Observability.LogLevel = "loud" }},
		{"sample rate above one", func(c *FullConfig) { c.Observability.SampleRate = 1.5 }},
		{"otlp without endpoint", func(c *FullConfig) {
			c.Observability.TraceExporter = "otlp"
			c.Observability.OTLPEndpoint = ""
		}},
		{"store without path", func(c *FullConfig) { c.Store.Path = "" }},
		{"bad server addr", func(c *FullConfig) { c.Server.Addr = "nowhere" }},
		{"too many workers", func(c *FullConfig) { c.Search.Workers = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_InMemoryStoreNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Store.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestToSearchConfig_EmptyRootAnswer(t *testing.T) {
	cfg := Default()
	cfg.Search.RootAnswer = ""
	sc, err := cfg.ToSearchConfig()
	require.NoError(t, err)
	assert.Equal(t, search.DefaultRootAnswer, sc.RootAnswer)
}

func TestNewResponder(t *testing.T) {
	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("MCTSR_TEST_KEY", "")
		cfg := Default().Responder
		cfg.APIKeyEnv = "MCTSR_TEST_KEY"
		_, err := NewResponder(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MCTSR_TEST_KEY")
	})

	t.Run("openai with key", func(t *testing.T) {
		t.Setenv("MCTSR_TEST_KEY", "sk-test")
		cfg := Default().Responder
		cfg.APIKeyEnv = "MCTSR_TEST_KEY"
		r, err := NewResponder(cfg, nil)
		require.NoError(t, err)
		guard, ok := r.(*responder.Guard)
		require.True(t, ok, "backend should be guarded")
		assert.Equal(t, responder.CircuitClosed, guard.Breaker().State())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := Default().Responder
		cfg.Backend = "smoke-signals"
		_, err := NewResponder(cfg, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "mctsr.yaml", "search:\n  max_rollouts: 4\n")
	initial, err := Load(path)
	require.NoError(t, err)

	changed := make(chan FullConfig, 4)
	w, err := NewWatcher(path, initial, func(cfg FullConfig) { changed <- cfg }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("search:\n  max_rollouts: 9\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 9, cfg.Search.MaxRollouts)
		assert.Equal(t, 9, w.Current().Search.MaxRollouts)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestWatcher_IgnoresInvalidChange(t *testing.T) {
	path := writeFile(t, "mctsr.yaml", "search:\n  max_rollouts: 4\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, nil, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("search:\n  max_rollouts: -1\n"), 0o600))
	w.reload()
	assert.Equal(t, 4, w.Current().Search.MaxRollouts)
}
