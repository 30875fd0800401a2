// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/gateway"
	"github.com/AleutianAI/WritingStudy/services/studyapi/handlers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ============================================================================
// ReadEvents Tests
// ============================================================================

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": ping",
		"",
		"id: a1",
		`data: {"text":"Hel"}`,
		"",
		`data: {"text":"lo"}`,
		"",
		`data: {"error":"ai service timed out"}`,
		"",
		"data: [DONE]",
		"",
		`data: {"text":"after done"}`,
		"",
	}, "\n")

	var got []Event
	err := ReadEvents(context.Background(), strings.NewReader(stream), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	want := []Event{
		{Type: EventDelta, ID: "a1", Text: "Hel"},
		{Type: EventDelta, Text: "lo"},
		{Type: EventError, Text: "ai service timed out"},
		{Type: EventDone},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEvents_EmptyDeltaIsKept(t *testing.T) {
	var got []Event
	err := ReadEvents(context.Background(), strings.NewReader("data: {\"text\":\"\"}\n\ndata: [DONE]\n\n"), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventDelta, got[0].Type)
	assert.Equal(t, EventDone, got[1].Type)
}

func TestReadEvents_EOFBeforeDone(t *testing.T) {
	var got []Event
	err := ReadEvents(context.Background(), strings.NewReader("data: {\"text\":\"half\"}\n\n"), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Len(t, got, 1)
	assert.Equal(t, "half", got[0].Text)
}

func TestReadEvents_Malformed(t *testing.T) {
	err := ReadEvents(context.Background(), strings.NewReader("data: {nope\n\n"), func(Event) error { return nil })
	assert.ErrorContains(t, err, "malformed chat event")
}

func TestReadEvents_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadEvents(context.Background(), strings.NewReader("data: {\"text\":\"a\"}\ndata: {\"text\":\"b\"}\n"), func(Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadEvents_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadEvents(ctx, strings.NewReader("data: {\"text\":\"a\"}\n"), func(Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Chat against the real SSE handler
// ============================================================================

type scriptedChat struct {
	deltas []string
	err    error
}

func (s scriptedChat) Stream(_ context.Context, _ *datatypes.ChatRequest, fn gateway.DeltaFunc) (gateway.ChatStats, error) {
	stats := gateway.ChatStats{}
	for _, d := range s.deltas {
		if err := fn(d); err != nil {
			return stats, err
		}
		stats.Deltas++
		stats.Reply += d
	}
	return stats, s.err
}

func chatServer(t *testing.T, chat handlers.ChatStreamer) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.POST("/api/chat", handlers.NewChatHandler(chat, nil, nil).HandleChatStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func chatRequest(text string) *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		Username: "p-17",
		Messages: []datatypes.ChatMessage{{Role: "user", Content: text}},
	}
}

func TestClient_Chat_Accumulates(t *testing.T) {
	srv := chatServer(t, scriptedChat{deltas: []string{"The ", "opening ", "works."}})
	c := New(srv.URL)

	var seen []string
	reply, err := c.Chat(context.Background(), chatRequest("thoughts?"), func(d string) { seen = append(seen, d) })
	require.NoError(t, err)
	assert.Equal(t, "The opening works.", reply)
	assert.Equal(t, []string{"The ", "opening ", "works."}, seen)
}

func TestClient_Chat_StreamError(t *testing.T) {
	srv := chatServer(t, scriptedChat{deltas: []string{"par"}, err: errors.New("upstream failed")})
	c := New(srv.URL)

	reply, err := c.Chat(context.Background(), chatRequest("hi"), nil)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Message)
	assert.Equal(t, "par", reply)
}

func TestClient_Chat_InvalidRequest(t *testing.T) {
	srv := chatServer(t, scriptedChat{})
	c := New(srv.URL)

	_, err := c.Chat(context.Background(), &datatypes.ChatRequest{}, nil)
	assert.True(t, IsStatus(err, http.StatusBadRequest), "got %v", err)
}

// ============================================================================
// ChatSession Tests
// ============================================================================

// turnServer streams one delta for "slow" then holds the connection open;
// every other message gets a complete reply.
func turnServer(t *testing.T, slowStarted chan<- struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handlers.SetSSEHeaders(w)
		sse, err := handlers.NewSSEWriter(w)
		if err != nil {
			return
		}
		last := req.Messages[len(req.Messages)-1].Content
		if last == "slow" {
			_ = sse.WriteDelta("stale-1")
			slowStarted <- struct{}{}
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			_ = sse.WriteDelta("stale-2")
			_ = sse.WriteDone()
			return
		}
		_ = sse.WriteDelta("reply to ")
		_ = sse.WriteDelta(last)
		_ = sse.WriteDone()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatSession_HistoryGrowsOnCompletedTurns(t *testing.T) {
	s := NewChatSession(New(turnServer(t, make(chan struct{}, 1)).URL), "p-17")

	reply, err := s.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "reply to one", reply)

	_, err = s.Send(context.Background(), "two", nil)
	require.NoError(t, err)

	want := []datatypes.ChatMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "reply to one"},
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "reply to two"},
	}
	if diff := cmp.Diff(want, s.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestChatSession_DropsSupersededDeltas(t *testing.T) {
	started := make(chan struct{}, 1)
	s := NewChatSession(New(turnServer(t, started).URL), "p-17")

	var (
		mu     sync.Mutex
		deltas []string
	)
	record := func(d string) {
		mu.Lock()
		defer mu.Unlock()
		deltas = append(deltas, d)
	}

	type result struct {
		reply string
		err   error
	}
	slow := make(chan result, 1)
	go func() {
		reply, err := s.Send(context.Background(), "slow", record)
		slow <- result{reply, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow turn never started")
	}
	// The first delta is flushed before the signal; wait until it lands.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deltas) == 1
	}, 2*time.Second, 5*time.Millisecond)

	reply, err := s.Send(context.Background(), "fast", record)
	require.NoError(t, err)
	assert.Equal(t, "reply to fast", reply)

	select {
	case r := <-slow:
		assert.ErrorIs(t, r.err, ErrSuperseded)
		assert.Equal(t, "stale-1", r.reply)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded turn did not return")
	}

	mu.Lock()
	assert.Equal(t, []string{"stale-1", "reply to ", "fast"}, deltas)
	mu.Unlock()

	want := []datatypes.ChatMessage{
		{Role: "user", Content: "fast"},
		{Role: "assistant", Content: "reply to fast"},
	}
	if diff := cmp.Diff(want, s.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestChatSession_TruncatedStreamIsNotCommitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.SetSSEHeaders(w)
		sse, err := handlers.NewSSEWriter(w)
		if err != nil {
			return
		}
		_ = sse.WriteDelta("half a rep")
	}))
	t.Cleanup(srv.Close)
	s := NewChatSession(New(srv.URL), "p-17")

	reply, err := s.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "half a rep", reply)
	assert.Empty(t, s.History())
}

func TestChatSession_Reset(t *testing.T) {
	s := NewChatSession(New(turnServer(t, make(chan struct{}, 1)).URL), "p-17")
	_, err := s.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	s.Reset()
	assert.Empty(t, s.History())
}

// ============================================================================
// JSON endpoint Tests
// ============================================================================

func TestClient_LogFlattensExtra(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/log", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"message":"Feedback logged successfully."}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Log(context.Background(), "p-17", "taskStart", map[string]any{"event": "ignored", "page": "task"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "p-17", "event": "taskStart", "page": "task"}, got)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid request body","details":["gtype: must be one of ..."]}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Suggest(context.Background(), &datatypes.SuggestionRequest{GType: "bogus"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid request body", apiErr.Message)
	assert.Len(t, apiErr.Details, 1)
	assert.Contains(t, apiErr.Error(), "400")
}

func TestClient_ReflectNeverNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"reflections":null}`)
	}))
	defer srv.Close()

	items, err := New(srv.URL).Reflect(context.Background(), &datatypes.ReflectionRequest{Paragraph: "p", Prompt: "q"})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestClient_PollLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.LogsPollRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Secret != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		fmt.Fprintf(w, `{"logs":[{"username":"p-1","event":"launchConsentForm","extra_data":{},"timestamp":%d,"wave":"wave-2","commit":"x"}]}`, req.Since+1)
	}))
	defer srv.Close()
	c := New(srv.URL)

	logs, err := c.PollLogs(context.Background(), "k", 41)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(42), logs[0].Timestamp)

	_, err = c.PollLogs(context.Background(), "bad", 0)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestClient_DownloadLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="logs-2025-03-14T10-00-00Z.zip"`)
		fmt.Fprint(w, "PK-zip-bytes")
	}))
	defer srv.Close()
	c := New(srv.URL)

	var buf bytes.Buffer
	name, n, err := c.DownloadLogs(context.Background(), "k", &buf)
	require.NoError(t, err)
	assert.Equal(t, "logs-2025-03-14T10-00-00Z.zip", name)
	assert.Equal(t, int64(len("PK-zip-bytes")), n)
	assert.Equal(t, "PK-zip-bytes", buf.String())

	_, _, err = c.DownloadLogs(context.Background(), "nope", io.Discard)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestClient_StudyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/study/page":
			assert.Equal(t, "n", r.URL.Query().Get("condition"))
			fmt.Fprint(w, `{"page":"intro","condition":"no_ai","condition_code":"n","uses_ai":false,"terminal":false}`)
		case "/api/study/submit":
			var req datatypes.StudySubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			q, err := url.ParseQuery(req.Query)
			require.NoError(t, err)
			assert.Equal(t, "intro", q.Get("page"))
			assert.Equal(t, "yes", req.Survey["consent"])
			fmt.Fprint(w, `{"from":"intro","to":"intro-survey","query":"page=intro-survey","done":false,"logged":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	q := url.Values{"username": {"p-1"}, "condition": {"n"}, "page": {"intro"}}
	d, err := c.StudyPage(context.Background(), q)
	require.NoError(t, err)
	assert.EqualValues(t, "intro", d.Page)

	res, err := c.SubmitStudy(context.Background(), q, map[string]any{"consent": "yes"})
	require.NoError(t, err)
	assert.Equal(t, "intro-survey", res.To)
	assert.True(t, res.Logged)
}
