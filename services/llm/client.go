// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the client side of the external AI completion service.
//
// The service is opaque: it accepts a prompt or a message list and returns
// text, either whole or as a stream of deltas.
package llm

import "context"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Roles accepted by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies a streamed event.
type StreamEventType string

const (
	StreamEventDelta StreamEventType = "delta"
	StreamEventDone  StreamEventType = "done"
)

// StreamEvent is one event from ChatStream.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives streamed events in order. Returning an error
// aborts the stream and ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the interface for the AI completion service.
type LLMClient interface {
	// Generate returns the full completion for a single user prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat returns the full assistant reply to a conversation.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream completes a conversation, calling cb for each delta and a
	// final StreamEventDone. It returns when the stream ends, cb fails or
	// ctx is cancelled.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, cb StreamCallback) error
}
