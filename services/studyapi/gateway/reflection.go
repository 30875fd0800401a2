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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// ReflectionGateway produces reflections on a paragraph.
//
// # Description
//
// Reflect is fail-soft: apart from request validation, any failure yields
// an empty list and a nil error so the client simply shows nothing.
type ReflectionGateway struct {
	deps    Deps
	cache   *ReflectionCache
	timeout time.Duration
	params  llm.GenerationParams
}

// NewReflectionGateway builds a gateway. cache may be nil.
func NewReflectionGateway(deps Deps, cache *ReflectionCache, timeout time.Duration) *ReflectionGateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	temp := float32(1.0)
	return &ReflectionGateway{
		deps:    deps,
		cache:   cache,
		timeout: timeout,
		params:  llm.GenerationParams{Temperature: &temp},
	}
}

// Reflect returns reflections for the request.
//
// # Outputs
//
//   - []datatypes.ReflectionItem: never nil. Empty on any AI, timeout or
//     parse failure.
//   - error: *errs.ValidationError only.
func (g *ReflectionGateway) Reflect(ctx context.Context, req *datatypes.ReflectionRequest) ([]datatypes.ReflectionItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "ReflectionGateway.Reflect")
	defer span.End()

	start := time.Now()
	var (
		items  []datatypes.ReflectionItem
		cached bool
		err    error
	)
	if g.cache != nil {
		items, cached, err = g.cache.Fetch(ctx, CacheKey(req.Prompt, req.Paragraph), func(ctx context.Context) ([]datatypes.ReflectionItem, error) {
			return g.generate(ctx, req)
		})
	} else {
		items, err = g.generate(ctx, req)
	}
	elapsed := time.Since(start)

	outcome := outcomeOf(err)
	if cached {
		outcome = observability.OutcomeCached
	}
	g.deps.Metrics.RecordAICall(observability.GatewayReflection, outcome, elapsed)
	span.SetAttributes(
		attribute.Bool("reflection.cached", cached),
		attribute.Int("reflection.count", len(items)),
	)

	g.record(req, items, cached, err)

	if err != nil {
		span.RecordError(err)
		g.deps.logger().Warn("gateway.reflection.failed",
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err)
		return []datatypes.ReflectionItem{}, nil
	}
	return items, nil
}

func (g *ReflectionGateway) generate(ctx context.Context, req *datatypes.ReflectionRequest) ([]datatypes.ReflectionItem, error) {
	text, err := callWithTimeout(ctx, g.timeout, func(ctx context.Context) (string, error) {
		return g.deps.Client.Chat(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: req.Prompt},
			{Role: llm.RoleUser, Content: req.Paragraph},
		}, g.params)
	})
	if err != nil {
		return nil, err
	}
	return ParseReflections(text)
}

func (g *ReflectionGateway) record(req *datatypes.ReflectionRequest, items []datatypes.ReflectionItem, cached bool, callErr error) {
	if g.deps.Events == nil {
		return
	}
	username := req.Participant()
	paragraph := req.Paragraph
	if username == "" {
		paragraph = Redacted
	}

	result := make([]any, len(items))
	for i, it := range items {
		result[i] = it.Reflection
	}
	extra := map[string]any{
		"prompt":    req.Prompt,
		"paragraph": paragraph,
		"result":    result,
		"cached":    cached,
		"ok":        callErr == nil,
	}
	if callErr != nil {
		extra["error"] = callErr.Error()
	}
	g.deps.Events.Dispatch(username, eventlog.KindReflectionGenerated, extra)
}
