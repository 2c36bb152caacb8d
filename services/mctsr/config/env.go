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
	"os"
	"strconv"
	"time"
)

// loadFromEnv overrides cfg from MCTSR_* variables. Unparseable values are
// ignored.
func loadFromEnv(cfg *FullConfig) {
	// Search
	envInt("MCTSR_MAX_ROLLOUTS", &cfg.Search.MaxRollouts)
	envFloat("MCTSR_EXPLORATION_CONSTANT", &cfg.Search.ExplorationConstant)
	envInt("MCTSR_MAX_CHILDREN", &cfg.Search.MaxChildren)
	envInt("MCTSR_REWARD_LIMIT", &cfg.Search.RewardLimit)
	envInt("MCTSR_EXCESS_REWARD_PENALTY", &cfg.Search.ExcessRewardPenalty)
	envString("MCTSR_SELECTION_POLICY", &cfg.Search.SelectionPolicy)
	envInt("MCTSR_NUM_REWARD_SAMPLES", &cfg.Search.NumRewardSamples)
	envInt("MCTSR_WORKERS", &cfg.Search.Workers)
	if v := os.Getenv("MCTSR_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Search.Seed = u
		}
	}

	// Responder
	envString("MCTSR_RESPONDER_BACKEND", &cfg.Responder.Backend)
	envString("MCTSR_MODEL", &cfg.Responder.Model)
	envString("MCTSR_BASE_URL", &cfg.Responder.BaseURL)
	envString("MCTSR_API_KEY_ENV", &cfg.Responder.APIKeyEnv)
	envInt("MCTSR_MAX_TOKENS", &cfg.Responder.MaxTokens)
	envDuration("MCTSR_RESPONDER_TIMEOUT", &cfg.Responder.Timeout)
	envFloat("MCTSR_REQUESTS_PER_SECOND", &cfg.Responder.RequestsPerSecond)

	// Observability
	envString("MCTSR_LOG_LEVEL", &cfg.Observability.LogLevel)
	envString("MCTSR_LOG_DIR", &cfg.Observability.LogDir)
	envBool("MCTSR_LOG_JSON", &cfg.Observability.LogJSON)
	envBool("MCTSR_TRACING_ENABLED", &cfg.Observability.TracingEnabled)
	envString("MCTSR_TRACE_EXPORTER", &cfg.Observability.TraceExporter)
	envString("MCTSR_METRICS_EXPORTER", &cfg.Observability.MetricsExporter)
	envString("MCTSR_OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)
	envFloat("MCTSR_TRACE_SAMPLE_RATE", &cfg.Observability.SampleRate)

	// Store
	envString("MCTSR_STORE_PATH", &cfg.Store.Path)
	envBool("MCTSR_STORE_IN_MEMORY", &cfg.Store.InMemory)
	envDuration("MCTSR_RUN_TTL", &cfg.Store.RunTTL)

	// Server
	envString("MCTSR_SERVER_ADDR", &cfg.Server.Addr)
	envInt("MCTSR_MAX_CONCURRENT_RUNS", &cfg.Server.MaxConcurrentRuns)
	envDuration("MCTSR_RUN_TIMEOUT", &cfg.Server.RunTimeout)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
