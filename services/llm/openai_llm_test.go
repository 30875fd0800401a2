// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"A reader may wonder why."},"finish_reason":"stop"}]}`)
	})

	out, err := c.Generate(context.Background(), "Write a question.", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "A reader may wonder why.", out)

	assert.Equal(t, defaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "Write a question.", got.Messages[1].Content)
}

func TestOpenAIClient_ChatSendsMessagesAsGiven(t *testing.T) {
	var roles []string
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, m := range body.Messages {
			roles = append(roles, m.Role)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c2","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"- one\n- two"},"finish_reason":"stop"}]}`)
	})

	out, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "Ask about the paragraph."},
		{Role: RoleUser, Content: "The paragraph."},
	}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "- one\n- two", out)
	assert.Equal(t, []string{RoleSystem, RoleUser}, roles, "no persona is prepended to chats")
}

func TestOpenAIClient_GenerateNoChoices(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	})

	_, err := c.Generate(context.Background(), "x", GenerationParams{})
	assert.Error(t, err)
}

func TestOpenAIClient_GenerateServerError(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := c.Generate(context.Background(), "x", GenerationParams{})
	assert.Error(t, err)
}

func streamHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	c := newTestOpenAI(t, streamHandler("Hel", "", "lo", " there"))

	var deltas []string
	var done int
	err := c.ChatStream(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}},
		GenerationParams{},
		func(ev StreamEvent) error {
			switch ev.Type {
			case StreamEventDelta:
				deltas = append(deltas, ev.Content)
			case StreamEventDone:
				done++
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", " there"}, deltas)
	assert.Equal(t, 1, done)
	assert.Equal(t, "Hello there", strings.Join(deltas, ""))
}

func TestOpenAIClient_ChatStreamCallbackAborts(t *testing.T) {
	c := newTestOpenAI(t, streamHandler("a", "b", "c"))
	stop := errors.New("client gone")

	calls := 0
	err := c.ChatStream(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}},
		GenerationParams{},
		func(ev StreamEvent) error {
			calls++
			return stop
		})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
