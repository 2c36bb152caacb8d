// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package responder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig configures a local Ollama backend.
type OllamaConfig struct {
	// ServerURL is the Ollama endpoint. Empty uses the library default.
	ServerURL string

	// Model is the local model name. Required.
	Model string

	// MaxTokens caps the reply length. Zero leaves it to the server.
	MaxTokens int
}

// Ollama is a Responder backed by a local Ollama server.
//
// Thread Safety: Safe for concurrent use.
type Ollama struct {
	llm       *ollama.LLM
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOllama creates an Ollama responder.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama responder: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama responder: %w", err)
	}

	logger.Info("Initializing Ollama responder", "model", cfg.Model, "server_url", cfg.ServerURL)
	return &Ollama{
		llm:       llm,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// Respond implements Responder.
func (o *Ollama) Respond(ctx context.Context, conversation []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(conversation))
	for _, m := range conversation {
		content = append(content, llms.TextParts(ollamaRole(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if o.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.maxTokens))
	}

	o.logger.Debug("Requesting ollama generation", "model", o.model, "messages", len(content))
	resp, err := o.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama generate: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}

func ollamaRole(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
