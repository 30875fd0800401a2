// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// DoneMarker is the data payload of the final event of a chat stream.
const DoneMarker = "[DONE]"

// SSEWriter writes chat stream events to an HTTP response.
//
// # Description
//
// Each delta is one event:
//
//	id: <uuid>
//	data: {"text":"..."}
//
// The stream ends with "data: [DONE]". Failures are reported as
// data: {"error":"..."} before the terminator.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the heartbeat goroutine
// writes keepalives while the handler writes deltas.
type SSEWriter interface {
	// WriteDelta writes one piece of the reply.
	WriteDelta(text string) error

	// WriteError writes an error event. errMsg must already be safe to
	// show the client.
	WriteError(errMsg string) error

	// WriteDone writes the terminal [DONE] event.
	WriteDone() error

	// WriteKeepAlive writes an SSE comment so proxies do not time out an
	// idle connection. Clients ignore it.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Thread Safety
//
// Thread-safe via mutex.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for w.
//
// # Inputs
//
//   - w: must implement http.Flusher. Headers must already be set with
//     SetSSEHeaders.
//
// # Outputs
//
//   - SSEWriter: ready to write.
//   - error: when w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteDelta(text string) error {
	data, err := json.Marshal(datatypes.ChatDelta{Text: text})
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	return w.write("id: " + uuid.NewString() + "\ndata: " + string(data) + "\n\n")
}

func (w *sseWriter) WriteError(errMsg string) error {
	data, err := json.Marshal(datatypes.ErrorResponse{Error: errMsg})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	return w.write("data: " + string(data) + "\n\n")
}

func (w *sseWriter) WriteDone() error {
	return w.write("data: " + DoneMarker + "\n\n")
}

func (w *sseWriter) WriteKeepAlive() error {
	return w.write(": ping\n\n")
}

func (w *sseWriter) write(frame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for an event stream. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
