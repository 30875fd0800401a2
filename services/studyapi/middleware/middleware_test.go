// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// RequestID Tests
// =============================================================================

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-abc")
	w := serve(r, req)

	assert.Equal(t, "trace-abc", w.Header().Get(RequestIDHeader))
}

// =============================================================================
// RequestMetrics Tests
// =============================================================================

func TestRequestMetrics_LabelsByRoute(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(RequestMetrics(m))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/items/1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/items/2", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestsTotal))
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

func TestUserLimiter_BurstThenReject(t *testing.T) {
	l := NewUserLimiter(1, 2)
	fixed := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "buckets are per user")

	fixed = fixed.Add(time.Second)
	assert.True(t, l.Allow("alice"), "one token refills per second")
}

func TestUserLimiter_Sweep(t *testing.T) {
	l := NewUserLimiter(1, 1)
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(5 * time.Minute)
	l.Allow("bob")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestRateLimit_Returns429(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	l := NewUserLimiter(0.001, 1)
	r := gin.New()
	r.POST("/api/get_suggestion", RateLimit(l, m), func(c *gin.Context) { c.Status(http.StatusOK) })

	newReq := func(remoteAddr, user string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/get_suggestion", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Study-User", user)
		return req
	}

	assert.Equal(t, http.StatusOK, serve(r, newReq("192.0.2.10:4100", "alice")).Code)
	w := serve(r, newReq("192.0.2.10:4101", "alice"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve(r, newReq("192.0.2.20:4100", "alice")).Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("/api/get_suggestion")))
}

func TestRateLimit_IgnoresClientIdentityHeaders(t *testing.T) {
	l := NewUserLimiter(0.001, 1)
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	r.POST("/api/get_suggestion", RateLimit(l, nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/get_suggestion", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		req.Header.Set("X-Study-User", fmt.Sprintf("user-%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		codes = append(codes, serve(r, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, l.Len())
}

// =============================================================================
// BearerToken Tests
// =============================================================================

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer ABC", "ABC"},
		{"Basic abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			c.Request.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(c), tt.header)
	}
}
