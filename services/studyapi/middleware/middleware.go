// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the study service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► RequestMetrics ──► (AI routes) RateLimit ──► Handler
//
// RequestID tags the request and response with X-Request-ID. RequestMetrics
// counts every response by route and status class. RateLimit applies a
// per-user token bucket to the routes that call the AI service.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	// RequestIDHeader carries the request ID in and out.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "writingstudy_request_id"
)

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns each request an ID.
//
// # Description
//
// An incoming X-Request-ID is kept when it looks sane, otherwise a new UUID
// is generated. The ID is stored in the Gin context and echoed on the
// response.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID set by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Metrics
// =============================================================================

// RequestMetrics records one request observation per response. Routes
// that did not match are reported as "unmatched" to keep label cardinality
// bounded.
func RequestMetrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordRequest(endpoint, c.Writer.Status())
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively. Returns "" when the
// header is missing or malformed.
func BearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
