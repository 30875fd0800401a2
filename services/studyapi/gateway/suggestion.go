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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

var tracer = otel.Tracer("writingstudy.gateway")

// SuggestionGateway produces writing suggestions.
type SuggestionGateway struct {
	deps    Deps
	timeout time.Duration
	params  llm.GenerationParams
}

// NewSuggestionGateway builds a gateway. A zero timeout uses DefaultTimeout.
func NewSuggestionGateway(deps Deps, timeout time.Duration) *SuggestionGateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	temp := float32(1.0)
	return &SuggestionGateway{
		deps:    deps,
		timeout: timeout,
		params:  llm.GenerationParams{Temperature: &temp},
	}
}

// NoAIResult is the canned response for the no_ai condition.
func NoAIResult() datatypes.SuggestionResult {
	return datatypes.SuggestionResult{
		GenerationType: datatypes.GTypeNoAI,
		Result:         NoAIMessage,
		ExtraData:      map[string]any{},
	}
}

// Suggest returns a suggestion for the request.
//
// # Description
//
// The no_ai type returns NoAIResult without contacting the AI service and
// without logging. Every other type makes one AI call bounded by the
// gateway timeout, and the attempt is dispatched to the event log whether
// it succeeded or not.
//
// # Outputs
//
//   - datatypes.SuggestionResult: the suggestion.
//   - error: *errs.ValidationError for a bad request, errs.ErrTimeout when
//     the AI call exceeds the timeout, or the AI client's error.
func (g *SuggestionGateway) Suggest(ctx context.Context, req *datatypes.SuggestionRequest) (datatypes.SuggestionResult, error) {
	if err := req.Validate(); err != nil {
		return datatypes.SuggestionResult{}, err
	}
	if req.GType == datatypes.GTypeNoAI {
		g.deps.Metrics.RecordAICall(observability.GatewaySuggestion, observability.OutcomeBypass, 0)
		return NoAIResult(), nil
	}

	ctx, span := tracer.Start(ctx, "SuggestionGateway.Suggest")
	defer span.End()
	span.SetAttributes(
		attribute.String("suggestion.gtype", req.GType),
		attribute.Bool("suggestion.anonymous", req.Username == ""),
	)

	prompt, err := BuildSuggestionPrompt(req.GType, *req.DocContext)
	if err != nil {
		return datatypes.SuggestionResult{}, err
	}

	start := time.Now()
	text, err := callWithTimeout(ctx, g.timeout, func(ctx context.Context) (string, error) {
		return g.deps.Client.Generate(ctx, prompt, g.params)
	})
	elapsed := time.Since(start)
	g.deps.Metrics.RecordAICall(observability.GatewaySuggestion, outcomeOf(err), elapsed)

	result := datatypes.SuggestionResult{
		GenerationType: req.GType,
		Result:         text,
		ExtraData: map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
		},
	}
	g.record(req, result, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggestion failed")
		g.deps.logger().Warn("gateway.suggestion.failed",
			"gtype", req.GType,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err)
		return datatypes.SuggestionResult{}, err
	}
	return result, nil
}

func (g *SuggestionGateway) record(req *datatypes.SuggestionRequest, result datatypes.SuggestionResult, callErr error) {
	if g.deps.Events == nil {
		return
	}
	extra := map[string]any{
		"generation_type": req.GType,
		"result":          result.Result,
		"extra_data":      result.ExtraData,
		"doc_context":     loggedDocContext(req.Username, *req.DocContext),
		"ok":              callErr == nil,
	}
	if callErr != nil {
		extra["error"] = callErr.Error()
	}
	g.deps.Events.Dispatch(req.Username, eventlog.KindSuggestionGenerated, extra)
}

// loggedDocContext redacts the text around the cursor for anonymous
// sessions. The selection is kept.
func loggedDocContext(username string, doc datatypes.DocContext) map[string]any {
	before, after := doc.BeforeCursor, doc.AfterCursor
	if username == "" {
		before, after = Redacted, Redacted
	}
	return map[string]any{
		"beforeCursor": before,
		"selectedText": doc.SelectedText,
		"afterCursor":  after,
	}
}
