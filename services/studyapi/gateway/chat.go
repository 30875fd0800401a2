// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// DeltaFunc receives each streamed piece of the reply. Returning an error
// stops the stream.
type DeltaFunc func(text string) error

// ChatGateway streams chat replies.
type ChatGateway struct {
	deps    Deps
	timeout time.Duration
	params  llm.GenerationParams
}

// NewChatGateway builds a gateway. A zero timeout uses DefaultChatTimeout.
func NewChatGateway(deps Deps, timeout time.Duration) *ChatGateway {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	temp := float32(0.7)
	return &ChatGateway{
		deps:    deps,
		timeout: timeout,
		params:  llm.GenerationParams{Temperature: &temp},
	}
}

// ChatStats describes a finished stream.
type ChatStats struct {
	Reply      string
	Deltas     int
	FirstDelta time.Duration
}

// Stream sends the conversation to the AI service and calls onDelta for
// each piece of the reply, in order.
//
// # Description
//
// The incoming messages are logged as chat_message before the call and the
// assembled reply as chat_response after it, both without waiting for the
// write. The response is logged even when the stream fails part way, with
// whatever text was received.
//
// # Outputs
//
//   - ChatStats: the assembled reply and timing.
//   - error: *errs.ValidationError, errs.ErrTimeout, the client's error or
//     onDelta's error.
func (g *ChatGateway) Stream(ctx context.Context, req *datatypes.ChatRequest, onDelta DeltaFunc) (ChatStats, error) {
	if err := req.Validate(); err != nil {
		return ChatStats{}, err
	}

	ctx, span := tracer.Start(ctx, "ChatGateway.Stream")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.message_count", len(req.Messages)))

	g.dispatch(req.Username, eventlog.KindChatMessage, map[string]any{
		"messages": req.LogPayload(),
	})

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		reply strings.Builder
		stats ChatStats
	)
	start := time.Now()
	err := g.deps.Client.ChatStream(callCtx, req.LLMMessages(), g.params, func(ev llm.StreamEvent) error {
		if ev.Type != llm.StreamEventDelta {
			return nil
		}
		if stats.Deltas == 0 {
			stats.FirstDelta = time.Since(start)
		}
		stats.Deltas++
		reply.WriteString(ev.Content)
		return onDelta(ev.Content)
	})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", errs.ErrTimeout, g.timeout)
	}
	stats.Reply = reply.String()
	g.deps.Metrics.RecordAICall(observability.GatewayChat, outcomeOf(err), time.Since(start))

	extra := map[string]any{
		"text":   stats.Reply,
		"deltas": stats.Deltas,
		"ok":     err == nil,
	}
	if err != nil {
		extra["error"] = err.Error()
	}
	g.dispatch(req.Username, eventlog.KindChatResponse, extra)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat stream failed")
		return stats, err
	}
	span.SetAttributes(attribute.Int("chat.delta_count", stats.Deltas))
	return stats, nil
}

func (g *ChatGateway) dispatch(username, kind string, extra map[string]any) {
	if g.deps.Events != nil {
		g.deps.Events.Dispatch(username, kind, extra)
	}
}
