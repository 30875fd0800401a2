// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package studyclient is a Go client for the writing-study API.
//
// It covers every endpoint the add-in uses (event logging, suggestions,
// reflections, streamed chat, study navigation) plus the researcher
// endpoints for polling and exporting logs.
//
// # Usage
//
//	c := studyclient.New("http://localhost:5000")
//	if err := c.Log(ctx, "p-17", "taskStart", nil); err != nil {
//	    return err
//	}
//	reply, err := c.Chat(ctx, &datatypes.ChatRequest{...}, func(d string) {
//	    fmt.Print(d)
//	})
//
// # Thread Safety
//
// Client is safe for concurrent use. ChatSession serializes its turns.
package studyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// =============================================================================
// Errors
// =============================================================================

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Details []string
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("study api: %d %s (%s)", e.Status, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("study api: %d %s", e.Status, e.Message)
}

// StreamError is an error event received inside a chat stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "chat stream: " + e.Message
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// =============================================================================
// Client
// =============================================================================

// Client calls the study API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The default has no overall
// timeout, since chat streams are long-lived; use contexts instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client for baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health is the body of GET /health.
type Health struct {
	Status string `json:"status"`
	Wave   string `json:"wave"`
	Commit string `json:"commit"`
}

// Health checks the service.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// Log records one study event synchronously.
//
// extra keys are flattened into the request body; "username" and "event"
// in extra are overwritten.
func (c *Client) Log(ctx context.Context, username, event string, extra map[string]any) error {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["username"] = username
	body["event"] = event
	return c.doJSON(ctx, http.MethodPost, "/api/log", body, nil)
}

// Suggest requests a writing suggestion.
func (c *Client) Suggest(ctx context.Context, req *datatypes.SuggestionRequest) (datatypes.SuggestionResult, error) {
	var res datatypes.SuggestionResult
	err := c.doJSON(ctx, http.MethodPost, "/api/get_suggestion", req, &res)
	return res, err
}

// Reflect requests reflections on a paragraph. An empty list is a normal
// result: the server reports AI failures that way.
func (c *Client) Reflect(ctx context.Context, req *datatypes.ReflectionRequest) ([]datatypes.ReflectionItem, error) {
	var res datatypes.ReflectionsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/reflections", req, &res); err != nil {
		return nil, err
	}
	if res.Reflections == nil {
		return []datatypes.ReflectionItem{}, nil
	}
	return res.Reflections, nil
}

// PollLogs returns entries with timestamp > since, oldest first.
func (c *Client) PollLogs(ctx context.Context, secret string, since int64) ([]eventlog.LogEntry, error) {
	var res struct {
		Logs []eventlog.LogEntry `json:"logs"`
	}
	req := datatypes.LogsPollRequest{Secret: secret, Since: since}
	if err := c.doJSON(ctx, http.MethodPost, "/api/logs_poll", req, &res); err != nil {
		return nil, err
	}
	return res.Logs, nil
}

// DownloadLogs streams the zip export into w.
//
// # Outputs
//
//   - string: the archive file name suggested by the server.
//   - int64: bytes written to w.
//   - error: *APIError for 401 (bad secret) or 404 (no logs).
func (c *Client) DownloadLogs(ctx context.Context, secret string, w io.Writer) (string, int64, error) {
	q := url.Values{"secret": {secret}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download_logs?"+q.Encode(), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download logs: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", 0, err
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return name, n, fmt.Errorf("download logs: %w", err)
	}
	return name, n, nil
}

// StudyPage resolves a participant page query to its stage descriptor.
func (c *Client) StudyPage(ctx context.Context, query url.Values) (study.Descriptor, error) {
	var d study.Descriptor
	err := c.doJSON(ctx, http.MethodGet, "/api/study/page?"+query.Encode(), nil, &d)
	return d, err
}

// SubmitStudy logs the survey for the current stage and returns the
// transition to the next one.
func (c *Client) SubmitStudy(ctx context.Context, query url.Values, survey map[string]any) (datatypes.StudySubmitResponse, error) {
	var res datatypes.StudySubmitResponse
	req := datatypes.StudySubmitRequest{Query: query.Encode(), Survey: survey}
	err := c.doJSON(ctx, http.MethodPost, "/api/study/submit", req, &res)
	return res, err
}

// Chat streams one assistant reply over SSE, calling onDelta for each
// fragment, and returns the accumulated text.
//
// # Outputs
//
//   - string: the reply accumulated so far, also on error.
//   - error: *APIError before streaming starts, *StreamError for an error
//     event, or a transport error.
func (c *Client) Chat(ctx context.Context, req *datatypes.ChatRequest, onDelta func(string)) (string, error) {
	var sb strings.Builder
	err := c.streamChat(ctx, req, func(delta string) error {
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
		return nil
	})
	return sb.String(), err
}

func (c *Client) streamChat(ctx context.Context, req *datatypes.ChatRequest, onDelta func(string) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}
	hreq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	var streamErr error
	err = ReadEvents(ctx, resp.Body, func(ev Event) error {
		switch ev.Type {
		case EventDelta:
			return onDelta(ev.Text)
		case EventError:
			streamErr = &StreamError{Message: ev.Text}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return streamErr
}

// =============================================================================
// Helper Functions
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	return req, nil
}

// doJSON sends in as JSON (if non-nil) and decodes a 2xx body into out
// (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

// checkStatus converts a non-2xx response into *APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body datatypes.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	return apiErr
}
