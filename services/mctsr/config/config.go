// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the full mctsr configuration: search parameters,
// Responder backend, observability, run store and HTTP server.
//
// Values are layered as defaults, then a YAML (or JSON) file, then MCTSR_*
// environment variables, and finally validated.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// FullConfig is the top-level configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type FullConfig struct {
	// Search contains the search algorithm settings.
	Search SearchConfig `json:"search" yaml:"search"`

	// Responder selects and tunes the text-generation backend.
	Responder ResponderConfig `json:"responder" yaml:"responder"`

	// Observability contains logging, tracing and metrics settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// Store configures persistence of finished runs.
	Store StoreConfig `json:"store" yaml:"store"`

	// Server configures the HTTP API.
	Server ServerConfig `json:"server" yaml:"server"`
}

// SearchConfig mirrors search.Config with file-friendly types.
type SearchConfig struct {
	MaxRollouts         int            `json:"max_rollouts" yaml:"max_rollouts" validate:"gt=0"`
	ExplorationConstant float64        `json:"exploration_constant" yaml:"exploration_constant" validate:"gte=0"`
	MaxChildren         int            `json:"max_children" yaml:"max_children" validate:"gt=0"`
	Epsilon             float64        `json:"epsilon" yaml:"epsilon" validate:"gt=0"`
	RewardLimit         int            `json:"reward_limit" yaml:"reward_limit"`
	ExcessRewardPenalty int            `json:"excess_reward_penalty" yaml:"excess_reward_penalty" validate:"gte=0"`
	SelectionPolicy     string         `json:"selection_policy" yaml:"selection_policy" validate:"required"`
	NumRewardSamples    int            `json:"num_reward_samples" yaml:"num_reward_samples" validate:"gt=0"`
	MaxParseAttempts    int            `json:"max_parse_attempts" yaml:"max_parse_attempts" validate:"gt=0"`
	RootAnswer          string         `json:"root_answer" yaml:"root_answer"`
	Seed                uint64         `json:"seed" yaml:"seed"`
	Workers             int            `json:"workers" yaml:"workers" validate:"gte=0,lte=64"`
	Prompts             search.Prompts `json:"prompts" yaml:"prompts"`
}

// ResponderConfig selects the backend.
type ResponderConfig struct {
	// Backend is "openai" or "ollama".
	Backend string `json:"backend" yaml:"backend" validate:"oneof=openai ollama"`

	// Model is the model name passed to the backend.
	Model string `json:"model" yaml:"model" validate:"required"`

	// BaseURL overrides the backend endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`

	// MaxTokens caps each reply. Zero leaves it to the backend.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`

	// Timeout bounds each Responder call. Zero disables the bound.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`

	// RequestsPerSecond limits the call rate. Zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the rate limiter bucket size.
	Burst int `json:"burst" yaml:"burst" validate:"gte=0"`

	// CircuitBreaker configures the breaker around the backend.
	CircuitBreaker responder.BreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// ObservabilityConfig contains logging, tracing and metrics settings.
type ObservabilityConfig struct {
	ServiceName     string  `json:"service_name" yaml:"service_name" validate:"required"`
	LogLevel        string  `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogDir          string  `json:"log_dir" yaml:"log_dir"`
	LogJSON         bool    `json:"log_json" yaml:"log_json"`
	TracingEnabled  bool    `json:"tracing_enabled" yaml:"tracing_enabled"`
	TraceExporter   string  `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricsExporter string  `json:"metrics_exporter" yaml:"metrics_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint    string  `json:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	SampleRate      float64 `json:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// StoreConfig configures the run store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `json:"path" yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps runs in memory only.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// RunTTL expires stored runs. Zero keeps them forever.
	RunTTL time.Duration `json:"run_ttl" yaml:"run_ttl" validate:"gte=0"`

	// GCInterval is how often value log garbage collection runs.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string        `json:"addr" yaml:"addr" validate:"required,hostname_port"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs" yaml:"max_concurrent_runs" validate:"gt=0"`
	RunTimeout        time.Duration `json:"run_timeout" yaml:"run_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the default configuration.
func Default() FullConfig {
	sc := search.DefaultConfig()
	return FullConfig{
		Search: SearchConfig{
			MaxRollouts:         sc.MaxRollouts,
			ExplorationConstant: sc.ExplorationConstant,
			MaxChildren:         sc.MaxChildren,
			Epsilon:             sc.Epsilon,
			RewardLimit:         sc.RewardLimit,
			ExcessRewardPenalty: sc.ExcessRewardPenalty,
			SelectionPolicy:     sc.SelectionPolicy.String(),
			NumRewardSamples:    sc.NumRewardSamples,
			MaxParseAttempts:    sc.MaxParseAttempts,
			RootAnswer:          sc.RootAnswer,
			Workers:             1,
		},
		Responder: ResponderConfig{
			Backend:        "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Timeout:        2 * time.Minute,
			Burst:          1,
			CircuitBreaker: responder.DefaultBreakerConfig(),
		},
		Observability: ObservabilityConfig{
			ServiceName:     "mctsr",
			LogLevel:        "info",
			TraceExporter:   "none",
			MetricsExporter: "prometheus",
			OTLPEndpoint:    "localhost:4317",
			SampleRate:      1.0,
		},
		Store: StoreConfig{
			Path:       defaultStorePath(),
			RunTTL:     30 * 24 * time.Hour,
			GCInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8088",
			MaxConcurrentRuns: 4,
			RunTimeout:        30 * time.Minute,
			ShutdownTimeout:   15 * time.Second,
		},
	}
}

func defaultStorePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "mctsr" + string(os.PathSeparator) + "runs"
	}
	return ".mctsr/runs"
}

// Load builds the configuration from defaults, the optional file at path
// and MCTSR_* environment variables, then validates it.
//
// Inputs:
//   - path: YAML or JSON config file. Empty or missing uses defaults.
//
// Outputs:
//   - FullConfig: The loaded configuration.
//   - error: Non-nil if the file cannot be parsed or validation fails.
func Load(path string) (FullConfig, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *FullConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// Validate checks struct constraints and cross-field rules.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig, nil if valid.
func (c FullConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.ToSearchConfig(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ToSearchConfig converts the search section to search.Config.
//
// Outputs:
//   - search.Config: The converted configuration.
//   - error: Wraps search.ErrConfiguration if the policy name is unknown or
//     a value is out of range.
func (c FullConfig) ToSearchConfig() (search.Config, error) {
	policy, err := search.ParseSelectionPolicy(c.Search.SelectionPolicy)
	if err != nil {
		return search.Config{}, err
	}
	rootAnswer := c.Search.RootAnswer
	if rootAnswer == "" {
		rootAnswer = search.DefaultRootAnswer
	}
	sc := search.Config{
		MaxRollouts:         c.Search.MaxRollouts,
		ExplorationConstant: c.Search.ExplorationConstant,
		MaxChildren:         c.Search.MaxChildren,
		Epsilon:             c.Search.Epsilon,
		RewardLimit:         c.Search.RewardLimit,
		ExcessRewardPenalty: c.Search.ExcessRewardPenalty,
		SelectionPolicy:     policy,
		NumRewardSamples:    c.Search.NumRewardSamples,
		MaxParseAttempts:    c.Search.MaxParseAttempts,
		RootAnswer:          rootAnswer,
		Seed:                c.Search.Seed,
	}
	if err := sc.Validate(); err != nil {
		return search.Config{}, err
	}
	return sc, nil
}
