// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the study service.
//
// Handlers depend on small interfaces rather than concrete components so
// each can be tested with a fake. Errors are mapped to status codes through
// errs.HTTPStatus and internal messages never reach the client.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/gateway"
)

// =============================================================================
// Interfaces
// =============================================================================

// EventLogger writes one event and waits for the result.
type EventLogger interface {
	LogEvent(ctx context.Context, username, kind string, extra map[string]any) error
}

// Suggester produces writing suggestions.
type Suggester interface {
	Suggest(ctx context.Context, req *datatypes.SuggestionRequest) (datatypes.SuggestionResult, error)
}

// Reflector produces reflections. It is expected to be fail-soft.
type Reflector interface {
	Reflect(ctx context.Context, req *datatypes.ReflectionRequest) ([]datatypes.ReflectionItem, error)
}

// ChatStreamer streams a chat reply delta by delta.
type ChatStreamer interface {
	Stream(ctx context.Context, req *datatypes.ChatRequest, onDelta gateway.DeltaFunc) (gateway.ChatStats, error)
}

// LogExporter guards researcher access to the event log.
type LogExporter interface {
	Authorize(secret string) ([]string, error)
	Poll(secret string, since int64) ([]eventlog.LogEntry, error)
	ArchiveName() string
	Stream(ctx context.Context, names []string, w io.Writer) error
}

// =============================================================================
// Helper Functions
// =============================================================================

// respondError writes the JSON error body for err.
//
// Validation errors carry their details. Everything that maps to 500 is
// logged and answered with a generic message.
func respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	body := datatypes.ErrorResponse{Error: http.StatusText(status)}

	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Error = verr.Message
		body.Details = verr.Details
	case status == http.StatusUnauthorized:
		body.Error = "unauthorized"
	case status == http.StatusNotFound:
		body.Error = "no logs found"
	case status == http.StatusGatewayTimeout:
		body.Error = "ai service timed out"
	default:
		slog.Error("handler.internal_error",
			"path", c.FullPath(),
			"error", err)
		body.Error = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes the request body into v. A malformed body is reported
// as a validation error.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return errs.Invalid("invalid request body", err.Error())
	}
	return nil
}
