// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package responder defines the text-generation capability the search
// consumes, along with concrete backends and a guard wrapper.
//
// A Responder turns a conversation into one assistant reply. The search
// never interprets anything beyond that reply's text.
package responder

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend produced no reply content.
var ErrEmptyResponse = errors.New("empty response")

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Responder produces one assistant reply for a conversation.
//
// Implementations must be safe for concurrent use when shared by a
// parallel search.
type Responder interface {
	Respond(ctx context.Context, conversation []Message) (string, error)
}

// Func adapts an ordinary function to the Responder interface.
type Func func(ctx context.Context, conversation []Message) (string, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, conversation []Message) (string, error) {
	return f(ctx, conversation)
}
