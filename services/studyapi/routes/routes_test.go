// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/gateway"
	"github.com/AleutianAI/WritingStudy/services/studyapi/middleware"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type nopLogger struct{}

func (nopLogger) LogEvent(context.Context, string, string, map[string]any) error { return nil }

type nopSuggester struct{}

func (nopSuggester) Suggest(context.Context, *datatypes.SuggestionRequest) (datatypes.SuggestionResult, error) {
	return gateway.NoAIResult(), nil
}

type nopReflector struct{}

func (nopReflector) Reflect(context.Context, *datatypes.ReflectionRequest) ([]datatypes.ReflectionItem, error) {
	return []datatypes.ReflectionItem{}, nil
}

type nopChat struct{}

func (nopChat) Stream(context.Context, *datatypes.ChatRequest, gateway.DeltaFunc) (gateway.ChatStats, error) {
	return gateway.ChatStats{}, nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	store, err := eventlog.OpenStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return Deps{
		Events:         nopLogger{},
		Suggester:      nopSuggester{},
		Reflector:      nopReflector{},
		Chat:           nopChat{},
		Exporter:       eventlog.NewExporter(store, eventlog.StaticSecret("k"), nil, nil),
		Controller:     study.NewController(nopLogger{}, nil),
		Wave:           eventlog.StaticWave("wave-2"),
		CompletionCode: "C728GXTB",
	}
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t))

	want := map[string]bool{
		"GET /health":              false,
		"POST /api/log":            false,
		"POST /api/get_suggestion": false,
		"POST /api/reflections":    false,
		"POST /api/chat":           false,
		"GET /api/chat/ws":         false,
		"POST /api/logs_poll":      false,
		"GET /api/download_logs":   false,
		"GET /api/study/page":      false,
		"POST /api/study/submit":   false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
		assert.NotEqual(t, "GET /metrics", key, "metrics are off unless enabled")
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestSetupRoutes_MetricsEnabled(t *testing.T) {
	router := gin.New()
	d := testDeps(t)
	d.MetricsEnabled = true
	SetupRoutes(router, d)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_RateLimitOnlyOnAIRoutes(t *testing.T) {
	router := gin.New()
	d := testDeps(t)
	d.Limiter = middleware.NewUserLimiter(0.001, 1)
	SetupRoutes(router, d)

	post := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	suggestion := `{"gtype":"no_ai","doc_context":{}}`
	assert.Equal(t, http.StatusOK, post("/api/get_suggestion", suggestion))
	assert.Equal(t, http.StatusTooManyRequests, post("/api/get_suggestion", suggestion))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post("/api/log", `{"event":"launchConsentForm"}`))
	}
}
