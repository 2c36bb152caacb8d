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
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// NewResponder builds the configured backend wrapped in a responder.Guard.
//
// Inputs:
//   - cfg: Responder section of the configuration.
//   - logger: Logger handed to the backend and guard.
//
// Outputs:
//   - responder.Responder: The guarded backend.
//   - error: Non-nil if the backend cannot be created, e.g. a missing API key.
func NewResponder(cfg ResponderConfig, logger *slog.Logger) (responder.Responder, error) {
	var (
		backend responder.Responder
		err     error
	)
	switch cfg.Backend {
	case "openai":
		keyEnv := cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		backend, err = responder.NewOpenAI(responder.OpenAIConfig{
			APIKey:    os.Getenv(keyEnv),
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, keyEnv)
		}
	case "ollama":
		backend, err = responder.NewOllama(responder.OllamaConfig{
			ServerURL: cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown responder backend %q", ErrInvalidConfig, cfg.Backend)
	}

	return responder.NewGuard(backend, responder.GuardConfig{
		Backend:           cfg.Backend,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Timeout:           cfg.Timeout,
		Breaker:           cfg.CircuitBreaker,
	}, logger), nil
}
