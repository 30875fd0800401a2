// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway mediates every call from the study service to the
// external AI completion service.
//
// # Description
//
// Three gateways share one AI client:
//
//	SuggestionGateway  writing suggestions, no_ai bypass, hard timeout
//	ReflectionGateway  reflections, fail-soft, cached
//	ChatGateway        streamed chat replies
//
// Each attempt is recorded through the event dispatcher without waiting for
// the write. Document text from anonymous sessions is redacted before it
// reaches the log.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// Redacted replaces document text logged for anonymous sessions.
const Redacted = "[REDACTED]"

// DefaultTimeout bounds a single suggestion or reflection call.
const DefaultTimeout = 30 * time.Second

// DefaultChatTimeout bounds a whole streamed chat reply.
const DefaultChatTimeout = 2 * time.Minute

// EventDispatcher schedules an event log write without waiting for it.
type EventDispatcher interface {
	Dispatch(username, kind string, extra map[string]any)
}

// Deps are the collaborators shared by all gateways.
type Deps struct {
	Client  llm.LLMClient
	Events  EventDispatcher
	Metrics *observability.Metrics
	Log     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

// callResult carries a completion back from the worker goroutine.
type callResult struct {
	text string
	err  error
}

// callWithTimeout runs fn under a deadline of timeout.
//
// fn runs in its own goroutine so a client that ignores cancellation still
// cannot hold the caller past the deadline; its late result is discarded.
// A deadline expiry is reported as errs.ErrTimeout. Cancellation of the
// parent context is returned as is.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		text, err := fn(callCtx)
		done <- callResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", errs.ErrTimeout, timeout)
		}
		return r.text, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w after %s", errs.ErrTimeout, timeout)
	}
}

// outcomeOf labels err for metrics.
func outcomeOf(err error) observability.Outcome {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, errs.ErrTimeout):
		return observability.OutcomeTimeout
	default:
		return observability.OutcomeError
	}
}
