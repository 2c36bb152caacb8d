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
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Scripted when no replies remain.
var ErrScriptExhausted = errors.New("scripted responder exhausted")

// Reply is one scripted outcome: either text or an error.
type Reply struct {
	Text string
	Err  error
}

// Scripted replays queued replies in order and records every conversation
// it receives. It is meant for tests and dry runs.
//
// Thread Safety: Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	fallback func([]Message) (string, error)
	calls    [][]Message
}

// NewScripted returns a responder that answers with texts in order.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, text := range texts {
		s.replies = append(s.replies, Reply{Text: text})
	}
	return s
}

// Push queues more replies.
func (s *Scripted) Push(replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

// PushText queues more text replies.
func (s *Scripted) PushText(texts ...string) *Scripted {
	for _, text := range texts {
		s.Push(Reply{Text: text})
	}
	return s
}

// WithFallback sets a function that answers once the queue is empty.
func (s *Scripted) WithFallback(fn func(conversation []Message) (string, error)) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// Respond implements Responder.
func (s *Scripted) Respond(_ context.Context, conversation []Message) (string, error) {
	s.mu.Lock()
	recorded := make([]Message, len(conversation))
	copy(recorded, conversation)
	s.calls = append(s.calls, recorded)

	if len(s.replies) == 0 {
		fallback := s.fallback
		s.mu.Unlock()
		if fallback != nil {
			return fallback(recorded)
		}
		return "", ErrScriptExhausted
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	return reply.Text, reply.Err
}

// Calls returns a copy of every conversation received so far.
func (s *Scripted) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([][]Message, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// Remaining returns the number of queued replies.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
