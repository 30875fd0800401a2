// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package study

import (
	"context"
	"log/slog"
	"net/url"
)

// SurveyCompleteKind returns the event kind logged when a stage is submitted.
func SurveyCompleteKind(stage Stage) string {
	return "surveyComplete:" + string(stage)
}

// EventLogger is the part of the event logger the controller needs.
type EventLogger interface {
	LogEvent(ctx context.Context, username, kind string, extra map[string]any) error
}

// Transition is the outcome of submitting a stage.
type Transition struct {
	From Stage
	To   Stage

	// Query is the URL query to navigate to. It equals the submitted
	// query when Done is true.
	Query url.Values

	// Done is true when the submitted stage was the terminal one.
	Done bool

	// Logged is false when the survey log write failed. Navigation still
	// proceeds.
	Logged bool
}

// Controller sequences survey logging and stage navigation.
//
// # Description
//
// On submission the controller logs a surveyComplete:<stage> event carrying
// the buffered answers, waits for the write to be attempted, and only then
// computes the next URL. A failed write is reported and the participant
// still advances.
type Controller struct {
	logger EventLogger
	log    *slog.Logger
}

// NewController creates a controller writing through logger.
func NewController(logger EventLogger, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{logger: logger, log: log}
}

// Submit logs the current stage's answers and returns the next location.
//
// # Inputs
//
//   - ctx: bounds the log write.
//   - p: parameters of the page being submitted.
//   - buf: the stage's answers. Reset after the write is attempted. May be nil.
//
// # Outputs
//
//   - Transition: where to navigate next.
//
// # Limitations
//
//   - Submitting the terminal stage logs nothing and returns Done.
func (c *Controller) Submit(ctx context.Context, p Params, buf *SurveyBuffer) Transition {
	next, ok := NextPage(p.Page)
	if !ok {
		return Transition{From: p.Page, To: p.Page, Query: p.Query(), Done: true, Logged: true}
	}

	answers := map[string]any{}
	if buf != nil {
		answers = buf.Snapshot()
	}

	extra := map[string]any{
		"survey":     answers,
		"condition":  string(p.Condition),
		"experiment": p.Experiment,
		"prolific":   p.Prolific,
	}

	logged := true
	if err := c.logger.LogEvent(ctx, p.Username, SurveyCompleteKind(p.Page), extra); err != nil {
		logged = false
		c.log.Warn("study.survey.log_failed",
			"stage", string(p.Page),
			"username_present", p.Username != "",
			"error", err,
		)
	}

	if buf != nil {
		buf.Reset()
	}

	return Transition{
		From:   p.Page,
		To:     next,
		Query:  p.WithPage(next),
		Logged: logged,
	}
}

// Descriptor is what a client needs to render the current stage.
type Descriptor struct {
	Page           Stage     `json:"page"`
	Condition      Condition `json:"condition"`
	Code           string    `json:"condition_code"`
	UsesAI         bool      `json:"uses_ai"`
	Next           string    `json:"next,omitempty"`
	Prev           string    `json:"prev,omitempty"`
	Terminal       bool      `json:"terminal"`
	CompletionCode string    `json:"completion_code,omitempty"`
	AutoRefreshSec int       `json:"auto_refresh_interval,omitempty"`
}

// Describe resolves params into a Descriptor.
//
// The completion code is only disclosed on the terminal stage and only to
// Prolific participants.
func Describe(p Params, completionCode string) Descriptor {
	d := Descriptor{
		Page:           p.Page,
		Condition:      p.Condition,
		Code:           p.Code,
		UsesAI:         p.Condition.UsesAI(),
		Terminal:       p.Page.IsTerminal(),
		AutoRefreshSec: int(p.AutoRefresh.Seconds()),
	}
	if next, ok := NextPage(p.Page); ok {
		d.Next = "?" + p.WithPage(next).Encode()
	}
	if prev, ok := PrevPage(p.Page); ok {
		d.Prev = "?" + p.WithPage(prev).Encode()
	}
	if d.Terminal && p.Prolific {
		d.CompletionCode = completionCode
	}
	return d
}
