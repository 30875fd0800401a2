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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// maxWSMessageBytes bounds one inbound chat request frame.
const maxWSMessageBytes = 1 << 20

var upgrader = websocket.Upgrader{
	// The add-in is served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleChatWebSocket serves GET /api/chat/ws.
//
// # Description
//
// Each inbound text frame is a ChatRequest. The reply is sent as delta
// frames followed by one stop frame:
//
//	{"type":"delta","text":"..."}
//	{"type":"stop"}
//
// A failed turn sends an error frame and the connection stays open for the
// next request. Turns are handled one at a time, so frame writes never
// overlap.
func (h *ChatHandler) HandleChatWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("handler.chat_ws.upgrade_failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxWSMessageBytes)

	h.metrics.StreamStarted(transportWebSocket)
	defer h.metrics.StreamEnded(transportWebSocket)

	ctx := c.Request.Context()
	for {
		var req datatypes.ChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("handler.chat_ws.read_ended", "error", err)
			}
			return
		}
		if err := req.Validate(); err != nil {
			if werr := ws.WriteJSON(datatypes.WSFrame{Type: datatypes.WSFrameError, Text: err.Error()}); werr != nil {
				return
			}
			continue
		}

		stats, streamErr := h.chat.Stream(ctx, &req, func(text string) error {
			return ws.WriteJSON(datatypes.WSFrame{Type: datatypes.WSFrameDelta, Text: text})
		})
		if stats.Deltas > 0 {
			h.metrics.RecordTimeToFirstDelta(transportWebSocket, stats.FirstDelta)
		}

		if streamErr != nil {
			h.log.Warn("handler.chat.stream_failed",
				"transport", transportWebSocket,
				"deltas", stats.Deltas,
				"error", streamErr)
			var closeErr *websocket.CloseError
			if errors.As(streamErr, &closeErr) || ctx.Err() != nil {
				return
			}
			if err := ws.WriteJSON(datatypes.WSFrame{Type: datatypes.WSFrameError, Text: clientMessage(streamErr)}); err != nil {
				return
			}
		}
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(datatypes.WSFrame{Type: datatypes.WSFrameStop}); err != nil {
			return
		}
		_ = ws.SetWriteDeadline(time.Time{})
	}
}
