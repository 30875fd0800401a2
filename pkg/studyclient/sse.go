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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// doneMarker terminates a chat event stream.
const doneMarker = "[DONE]"

// maxEventBytes bounds one SSE line. Deltas are small; this leaves room
// for an unusually long error message.
const maxEventBytes = 1 << 20

// =============================================================================
// Events
// =============================================================================

// EventType identifies a parsed chat stream event.
type EventType string

const (
	EventDelta EventType = "delta"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// Event is one parsed chat stream event.
type Event struct {
	Type EventType

	// ID is the SSE id of a delta event, if the server sent one.
	ID string

	// Text is the delta text, or the message of an error event.
	Text string
}

// =============================================================================
// Parser
// =============================================================================

// eventParser assembles SSE lines into events.
//
// # Description
//
// Handles the three frames the chat endpoint emits:
//
//	id: <uuid>
//	data: {"text":"..."}
//
//	data: {"error":"..."}
//
//	data: [DONE]
//
// Comment lines (": ping") and unknown fields are ignored. An "id:" line
// applies to the next data line only.
type eventParser struct {
	pendingID string
}

// parseLine returns a completed event, or nil when line does not finish
// one.
func (p *eventParser) parseLine(line string) (*Event, error) {
	line = strings.TrimRight(line, "\r")
	switch {
	case line == "" || strings.HasPrefix(line, ":"):
		return nil, nil
	case strings.HasPrefix(line, "id:"):
		p.pendingID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		return nil, nil
	case strings.HasPrefix(line, "data:"):
		data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		id := p.pendingID
		p.pendingID = ""
		return parseData(id, data)
	default:
		return nil, nil
	}
}

func parseData(id, data string) (*Event, error) {
	if data == doneMarker {
		return &Event{Type: EventDone}, nil
	}
	var raw struct {
		Text  *string `json:"text"`
		Error string  `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("malformed chat event %q: %w", data, err)
	}
	if raw.Error != "" {
		return &Event{Type: EventError, Text: raw.Error}, nil
	}
	if raw.Text == nil {
		return nil, nil
	}
	return &Event{Type: EventDelta, ID: id, Text: *raw.Text}, nil
}

// =============================================================================
// Reader
// =============================================================================

// ReadEvents parses an SSE chat stream from r, calling fn for each event in
// order.
//
// # Outputs
//
//   - error: ctx.Err() on cancellation, fn's error, a parse or read error.
//     Nil once the done event was delivered. A stream that ends before the
//     done event returns an error wrapping io.ErrUnexpectedEOF.
func ReadEvents(ctx context.Context, r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	var p eventParser
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := p.parseLine(scanner.Text())
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := fn(*ev); err != nil {
			return err
		}
		if ev.Type == EventDone {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("chat stream ended before [DONE]: %w", io.ErrUnexpectedEOF)
}
