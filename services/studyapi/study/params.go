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
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
)

// Query parameter names.
const (
	ParamUsername            = "username"
	ParamCondition           = "condition"
	ParamPage                = "page"
	ParamExperiment          = "experiment"
	ParamProlific            = "isProlific"
	ParamAutoRefreshInterval = "autoRefreshInterval"
)

// Params are the study parameters carried in the page URL.
//
// # Description
//
// Params is an immutable value. It is rebuilt from the query on every page
// load and never stored; moving to another stage means producing a new query
// with WithPage and navigating to it.
//
// # Fields
//
//   - Username: participant identifier. Empty for anonymous sessions.
//   - Code / Condition: the condition code and its resolved arm.
//   - Page: current stage, consent when the query has none.
//   - Experiment: optional experiment variant label.
//   - Prolific: true when the participant arrived through Prolific.
//   - AutoRefresh: optional polling interval for researcher views.
type Params struct {
	Username    string
	Code        string
	Condition   Condition
	Page        Stage
	Experiment  string
	Prolific    bool
	AutoRefresh time.Duration

	raw url.Values
}

// ParseParams builds Params from URL query values.
//
// # Outputs
//
//   - Params: parsed parameters.
//   - error: *errs.ValidationError listing every malformed parameter.
//     An unknown condition code is reported as *InvalidConditionError.
func ParseParams(q url.Values) (Params, error) {
	p := Params{
		Username:   strings.TrimSpace(q.Get(ParamUsername)),
		Code:       q.Get(ParamCondition),
		Experiment: q.Get(ParamExperiment),
		Page:       StageConsent,
		raw:        cloneValues(q),
	}

	cond, err := ResolveCondition(p.Code)
	if err != nil {
		return Params{}, err
	}
	p.Condition = cond

	var details []string

	if page := q.Get(ParamPage); page != "" {
		if !IsStage(page) {
			details = append(details, fmt.Sprintf("page: unknown stage %q", page))
		} else {
			p.Page = Stage(page)
		}
	}

	if v := q.Get(ParamProlific); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			details = append(details, fmt.Sprintf("isProlific: not a boolean %q", v))
		}
		p.Prolific = b
	}

	if v := q.Get(ParamAutoRefreshInterval); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			details = append(details, fmt.Sprintf("autoRefreshInterval: not a non-negative integer %q", v))
		} else {
			p.AutoRefresh = time.Duration(secs) * time.Second
		}
	}

	if len(details) > 0 {
		return Params{}, errs.Invalid("invalid study parameters", details...)
	}
	return p, nil
}

// WithPage returns a copy of the original query with page set to stage.
//
// Every other parameter, including ones this package does not interpret, is
// preserved.
func (p Params) WithPage(stage Stage) url.Values {
	q := cloneValues(p.raw)
	if q == nil {
		q = url.Values{}
	}
	q.Set(ParamPage, string(stage))
	return q
}

// Query returns a copy of the query the params were parsed from.
func (p Params) Query() url.Values {
	return cloneValues(p.raw)
}

func cloneValues(q url.Values) url.Values {
	if q == nil {
		return nil
	}
	out := make(url.Values, len(q))
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
