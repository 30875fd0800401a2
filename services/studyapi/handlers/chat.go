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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	heartbeatInterval = 15 * time.Second

	transportSSE       = "sse"
	transportWebSocket = "websocket"
)

var tracer = otel.Tracer("writingstudy.handlers")

// ChatHandler serves streamed chat replies over SSE and WebSocket.
type ChatHandler struct {
	chat      ChatStreamer
	metrics   *observability.Metrics
	log       *slog.Logger
	heartbeat time.Duration
}

// NewChatHandler creates a ChatHandler. metrics and log may be nil.
func NewChatHandler(chat ChatStreamer, metrics *observability.Metrics, log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{chat: chat, metrics: metrics, log: log, heartbeat: heartbeatInterval}
}

// HandleChatStream serves POST /api/chat.
//
// # Description
//
// Validation happens before any byte is streamed so a bad request still
// gets a 400. After that the response is an event stream: one event per
// delta, keepalive comments while the model is slow, an error event if
// the stream fails and always a final [DONE].
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ChatHandler.HandleChatStream")
	defer span.End()

	h.metrics.StreamStarted(transportSSE)
	defer h.metrics.StreamEnded(transportSSE)

	var req datatypes.ChatRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		respondError(c, err)
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go func() {
		defer close(heartbeatStopped)
		h.runHeartbeat(ctx, writer, heartbeatDone)
	}()

	start := time.Now()
	stats, streamErr := h.chat.Stream(ctx, &req, func(text string) error {
		return writer.WriteDelta(text)
	})
	// The heartbeat must be gone before the final frames and before the
	// writer is handed back to gin.
	close(heartbeatDone)
	<-heartbeatStopped

	if stats.Deltas > 0 {
		h.metrics.RecordTimeToFirstDelta(transportSSE, stats.FirstDelta)
	}
	span.SetAttributes(attribute.Int("stream.delta_count", stats.Deltas))

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "chat stream failed")
		h.log.Warn("handler.chat.stream_failed",
			"transport", transportSSE,
			"deltas", stats.Deltas,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", streamErr)
		if ctx.Err() != nil {
			// Client went away; nobody is listening.
			return
		}
		_ = writer.WriteError(clientMessage(streamErr))
	}
	_ = writer.WriteDone()
}

// runHeartbeat writes keepalives every heartbeat interval until done is
// closed or ctx ends. A failed write stops it.
func (h *ChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.log.Debug("handler.chat.keepalive_failed", "error", err)
				return
			}
		}
	}
}

// clientMessage is the error text safe to stream to the client.
func clientMessage(err error) string {
	if errors.Is(err, errs.ErrTimeout) {
		return "ai service timed out"
	}
	return "An error occurred while processing your request"
}
