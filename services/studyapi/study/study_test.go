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
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Condition Resolver
// =============================================================================

func TestResolveCondition_AllCodes(t *testing.T) {
	want := map[string]Condition{
		"n": ConditionNoAI,
		"c": ConditionCompleteDocument,
		"e": ConditionExampleSentences,
		"a": ConditionAnalysis,
		"p": ConditionProposal,
	}

	seen := map[Condition]bool{}
	for _, code := range Codes() {
		got, err := ResolveCondition(code)
		require.NoError(t, err, code)
		assert.Equal(t, want[code], got)
		assert.False(t, seen[got], "condition %s resolved twice", got)
		seen[got] = true

		back, ok := CodeFor(got)
		require.True(t, ok)
		assert.Equal(t, code, back)
	}
	assert.Len(t, seen, 5)
}

func TestResolveCondition_Unknown(t *testing.T) {
	for _, code := range []string{"", "x", "N", "no_ai", "g"} {
		_, err := ResolveCondition(code)
		require.Error(t, err, code)

		var invalid *InvalidConditionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, code, invalid.Code)

		var validation *errs.ValidationError
		assert.True(t, errors.As(err, &validation), "should surface as a validation error")
	}
}

// =============================================================================
// Stage Sequence
// =============================================================================

func TestNextPage_WalksToFinal(t *testing.T) {
	var visited []Stage
	cur := StageConsent
	visited = append(visited, cur)
	for {
		next, ok := NextPage(cur)
		if !ok {
			break
		}
		visited = append(visited, next)
		cur = next
	}

	assert.Equal(t, StageFinal, cur)
	assert.Len(t, visited, 7)
	if diff := cmp.Diff(Stages(), visited); diff != "" {
		t.Errorf("stage walk mismatch (-want +got):\n%s", diff)
	}
}

func TestNextPage_TerminalAndUnknown(t *testing.T) {
	_, ok := NextPage(StageFinal)
	assert.False(t, ok)

	_, ok = NextPage("nope")
	assert.False(t, ok)

	assert.True(t, StageFinal.IsTerminal())
	assert.False(t, StageTask.IsTerminal())
}

func TestPrevPage(t *testing.T) {
	prev, ok := PrevPage(StageIntro)
	require.True(t, ok)
	assert.Equal(t, StageConsent, prev)

	_, ok = PrevPage(StageConsent)
	assert.False(t, ok)
}

// =============================================================================
// Params
// =============================================================================

func TestParseParams_Defaults(t *testing.T) {
	p, err := ParseParams(url.Values{"username": {"alice"}, "condition": {"e"}})
	require.NoError(t, err)

	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, ConditionExampleSentences, p.Condition)
	assert.Equal(t, StageConsent, p.Page)
	assert.False(t, p.Prolific)
	assert.Zero(t, p.AutoRefresh)
}

func TestParseParams_AllFields(t *testing.T) {
	q := url.Values{
		"username":            {"bob"},
		"condition":           {"a"},
		"page":                {"task"},
		"experiment":          {"v2"},
		"isProlific":          {"true"},
		"autoRefreshInterval": {"15"},
	}
	p, err := ParseParams(q)
	require.NoError(t, err)

	assert.Equal(t, StageTask, p.Page)
	assert.Equal(t, "v2", p.Experiment)
	assert.True(t, p.Prolific)
	assert.Equal(t, 15*time.Second, p.AutoRefresh)
}

func TestParseParams_Invalid(t *testing.T) {
	_, err := ParseParams(url.Values{"condition": {"z"}})
	var invalid *InvalidConditionError
	assert.ErrorAs(t, err, &invalid)

	_, err = ParseParams(url.Values{"condition": {"n"}, "page": {"lobby"}, "isProlific": {"maybe"}})
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, validation.Details, 2)
}

func TestWithPage_PreservesOtherParams(t *testing.T) {
	q := url.Values{
		"username":  {"carol"},
		"condition": {"p"},
		"page":      {"intro"},
		"custom":    {"keep-me"},
	}
	p, err := ParseParams(q)
	require.NoError(t, err)

	next := p.WithPage(StageIntroSurvey)
	assert.Equal(t, "intro-survey", next.Get("page"))
	assert.Equal(t, "carol", next.Get("username"))
	assert.Equal(t, "p", next.Get("condition"))
	assert.Equal(t, "keep-me", next.Get("custom"))

	// the source query is untouched
	assert.Equal(t, "intro", q.Get("page"))
	assert.Equal(t, StageIntro, p.Page)
}

// =============================================================================
// Controller
// =============================================================================

type recordingLogger struct {
	mu      sync.Mutex
	kinds   []string
	extras  []map[string]any
	err     error
	onWrite func()
}

func (r *recordingLogger) LogEvent(_ context.Context, _ string, kind string, extra map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.extras = append(r.extras, extra)
	if r.onWrite != nil {
		r.onWrite()
	}
	return r.err
}

func TestController_SubmitLogsThenNavigates(t *testing.T) {
	p, err := ParseParams(url.Values{"username": {"dana"}, "condition": {"c"}, "page": {"intro-survey"}})
	require.NoError(t, err)

	buf := NewSurveyBuffer()
	buf.Set("age", 30)
	buf.Set("writes_often", true)

	var bufLenAtWrite int
	rec := &recordingLogger{}
	rec.onWrite = func() { bufLenAtWrite = buf.Len() }

	tr := NewController(rec, nil).Submit(context.Background(), p, buf)

	require.Len(t, rec.kinds, 1)
	assert.Equal(t, "surveyComplete:intro-survey", rec.kinds[0])
	assert.Equal(t, map[string]any{"age": 30, "writes_often": true}, rec.extras[0]["survey"])
	assert.Equal(t, 2, bufLenAtWrite, "buffer must still hold answers while the log is written")

	assert.Equal(t, StageStartTask, tr.To)
	assert.Equal(t, "start-task", tr.Query.Get("page"))
	assert.Equal(t, "dana", tr.Query.Get("username"))
	assert.True(t, tr.Logged)
	assert.False(t, tr.Done)
	assert.Equal(t, 0, buf.Len(), "buffer is reset after submission")
}

func TestController_LogFailureStillNavigates(t *testing.T) {
	p, err := ParseParams(url.Values{"condition": {"n"}, "page": {"consent"}})
	require.NoError(t, err)

	rec := &recordingLogger{err: errors.New("disk full")}
	tr := NewController(rec, nil).Submit(context.Background(), p, NewSurveyBuffer())

	assert.False(t, tr.Logged)
	assert.Equal(t, StageIntro, tr.To)
}

func TestController_FinalIsDone(t *testing.T) {
	p, err := ParseParams(url.Values{"condition": {"n"}, "page": {"final"}})
	require.NoError(t, err)

	rec := &recordingLogger{}
	tr := NewController(rec, nil).Submit(context.Background(), p, nil)

	assert.True(t, tr.Done)
	assert.Empty(t, rec.kinds)
}

func TestParseParams_ProlificStudyURL(t *testing.T) {
	q, err := url.ParseQuery("username=p1&condition=a&page=final&isProlific=true&experiment=type")
	require.NoError(t, err)
	p, err := ParseParams(q)
	require.NoError(t, err)
	assert.True(t, p.Prolific)
	assert.Equal(t, ConditionAnalysis, p.Condition)

	d := Describe(p, "C728GXTB")
	assert.Equal(t, "C728GXTB", d.CompletionCode)

	q.Set("isProlific", "false")
	p, err = ParseParams(q)
	require.NoError(t, err)
	assert.Empty(t, Describe(p, "C728GXTB").CompletionCode)

	// The flag is only read under its study URL name.
	p, err = ParseParams(url.Values{"condition": {"a"}, "page": {"final"}, "prolific": {"true"}})
	require.NoError(t, err)
	assert.False(t, p.Prolific)
}

func TestDescribe_CompletionCodeOnlyForProlificFinal(t *testing.T) {
	p, err := ParseParams(url.Values{"condition": {"e"}, "page": {"final"}, "isProlific": {"1"}})
	require.NoError(t, err)
	d := Describe(p, "C728GXTB")
	assert.Equal(t, "C728GXTB", d.CompletionCode)
	assert.True(t, d.Terminal)
	assert.Empty(t, d.Next)
	assert.NotEmpty(t, d.Prev)

	p, err = ParseParams(url.Values{"condition": {"e"}, "page": {"final"}})
	require.NoError(t, err)
	assert.Empty(t, Describe(p, "C728GXTB").CompletionCode)

	p, err = ParseParams(url.Values{"condition": {"n"}, "page": {"task"}, "isProlific": {"1"}})
	require.NoError(t, err)
	d = Describe(p, "C728GXTB")
	assert.Empty(t, d.CompletionCode)
	assert.False(t, d.UsesAI)
	assert.Contains(t, d.Next, "page=post-task-survey")
}
