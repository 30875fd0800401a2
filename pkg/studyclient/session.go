// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studyclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// ErrSuperseded is returned by Send when a newer turn started before this
// one finished. Its deltas after that point were dropped.
var ErrSuperseded = errors.New("chat turn superseded")

// ChatSession keeps a conversation and accumulates streamed replies.
//
// # Description
//
// Each Send starts a new turn identified by a token. Starting a turn
// cancels the one in flight, and any delta that arrives for an older token
// is dropped rather than delivered, so a slow reply can never bleed into
// the display of a newer one.
//
// The history only grows on a completed, current turn: the user message
// and the full assistant reply are appended together.
//
// # Thread Safety
//
// Safe for concurrent use. onDelta callbacks run with the session lock
// held and must not call back into the session.
type ChatSession struct {
	client   *Client
	username string

	mu      sync.Mutex
	turn    uint64
	cancel  context.CancelFunc
	history []datatypes.ChatMessage
}

// NewChatSession starts an empty conversation for username.
func NewChatSession(client *Client, username string) *ChatSession {
	return &ChatSession{client: client, username: username}
}

// Send asks for the reply to text and returns it once complete.
//
// # Outputs
//
//   - string: the accumulated reply. Partial on error.
//   - error: ErrSuperseded if a later Send (or Reset) took over, otherwise
//     the stream error.
func (s *ChatSession) Send(ctx context.Context, text string, onDelta func(string)) (string, error) {
	s.mu.Lock()
	s.turn++
	token := s.turn
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	messages := make([]datatypes.ChatMessage, len(s.history), len(s.history)+1)
	copy(messages, s.history)
	messages = append(messages, datatypes.ChatMessage{Role: "user", Content: text})
	s.mu.Unlock()
	defer cancel()

	var reply strings.Builder
	err := s.client.streamChat(ctx, &datatypes.ChatRequest{
		Username: s.username,
		Messages: messages,
	}, func(delta string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.turn != token {
			return ErrSuperseded
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != token {
		return reply.String(), ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		return reply.String(), err
	}
	s.history = append(messages, datatypes.ChatMessage{Role: "assistant", Content: reply.String()})
	return reply.String(), nil
}

// History returns a copy of the completed turns.
func (s *ChatSession) History() []datatypes.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Reset clears the history and supersedes any turn in flight.
func (s *ChatSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.history = nil
}
