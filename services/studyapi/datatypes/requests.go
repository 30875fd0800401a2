// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request and response bodies of the study API.
package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxDocumentBytes bounds each document context field.
	MaxDocumentBytes = 256 * 1024

	// MaxMessageContentBytes bounds a single chat message.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest bounds chat history length.
	MaxMessagesPerRequest = 100
)

// Generation types accepted by /api/get_suggestion.
const (
	GTypeExampleSentences = "example_sentences"
	GTypeAnalysis         = "analysis_readerPerspective"
	GTypeProposal         = "proposal_advice"
	GTypeCompleteDocument = "complete_document"
	GTypeNoAI             = "no_ai"
)

// =============================================================================
// Validation
// =============================================================================

var studyValidate *validator.Validate

func init() {
	studyValidate = validator.New()
	_ = studyValidate.RegisterValidation("maxbytes", validateMaxBytes)

	// Report fields by their JSON names.
	studyValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateMaxBytes checks byte length against the tag parameter, which
// string length tags do not, since they count runes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	var limit int
	if _, err := fmt.Sscanf(fl.Param(), "%d", &limit); err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// validate runs tag validation and converts failures into a
// *errs.ValidationError with one detail per field.
func validate(v any) error {
	err := studyValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Invalid("invalid request", err.Error())
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, describeFieldError(fe))
	}
	return errs.Invalid("invalid request", details...)
}

func describeFieldError(fe validator.FieldError) string {
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	case "maxbytes":
		return fmt.Sprintf("%s: exceeds %s bytes", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: must have at least %s items", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must have at most %s items", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// =============================================================================
// Suggestions
// =============================================================================

// DocContext is the editor state around the cursor.
type DocContext struct {
	BeforeCursor string `json:"beforeCursor" validate:"maxbytes=262144"`
	SelectedText string `json:"selectedText" validate:"maxbytes=262144"`
	AfterCursor  string `json:"afterCursor" validate:"maxbytes=262144"`
}

// Text returns the whole document.
func (d DocContext) Text() string {
	return d.BeforeCursor + d.SelectedText + d.AfterCursor
}

// SuggestionRequest is the body of POST /api/get_suggestion.
type SuggestionRequest struct {
	Username   string      `json:"username"`
	GType      string      `json:"gtype" validate:"required,oneof=example_sentences analysis_readerPerspective proposal_advice complete_document no_ai"`
	DocContext *DocContext `json:"doc_context" validate:"required"`
}

// Validate checks tags and returns *errs.ValidationError on failure.
func (r *SuggestionRequest) Validate() error {
	return validate(r)
}

// SuggestionResult is the response of POST /api/get_suggestion.
type SuggestionResult struct {
	GenerationType string         `json:"generation_type"`
	Result         string         `json:"result"`
	ExtraData      map[string]any `json:"extra_data"`
}

// =============================================================================
// Reflections
// =============================================================================

// ReflectionRequest is the body of POST /api/reflections. Older clients
// send the participant as user_id.
type ReflectionRequest struct {
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	Paragraph string `json:"paragraph" validate:"required,maxbytes=262144"`
	Prompt    string `json:"prompt" validate:"required,maxbytes=32768"`
}

// Validate checks tags and returns *errs.ValidationError on failure.
func (r *ReflectionRequest) Validate() error {
	return validate(r)
}

// Participant returns username, falling back to user_id.
func (r *ReflectionRequest) Participant() string {
	if r.Username != "" {
		return r.Username
	}
	return r.UserID
}

// ReflectionItem is one generated reflection.
type ReflectionItem struct {
	Reflection string `json:"reflection"`
}

// ReflectionsResponse is the response of POST /api/reflections.
type ReflectionsResponse struct {
	Reflections []ReflectionItem `json:"reflections"`
}

// =============================================================================
// Chat
// =============================================================================

// ChatMessage is one chat turn from the client.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"maxbytes=32768"`
}

// ChatRequest is the body of POST /api/chat and the first frame of
// /api/chat/ws.
type ChatRequest struct {
	Username string        `json:"username"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
}

// Validate checks tags and returns *errs.ValidationError on failure.
func (r *ChatRequest) Validate() error {
	return validate(r)
}

// LLMMessages converts to the AI client's message type.
func (r *ChatRequest) LLMMessages() []llm.Message {
	out := make([]llm.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// LogPayload returns the messages as plain maps for event logging.
func (r *ChatRequest) LogPayload() []any {
	out := make([]any, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

// ChatDelta is one streamed chunk of the assistant reply.
type ChatDelta struct {
	Text string `json:"text"`
}

// WSFrame is a WebSocket chat frame.
type WSFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// WebSocket frame types.
const (
	WSFrameDelta = "delta"
	WSFrameStop  = "stop"
	WSFrameError = "error"
)

// =============================================================================
// Researcher access
// =============================================================================

// LogsPollRequest is the body of POST /api/logs_poll.
type LogsPollRequest struct {
	Secret string `json:"secret"`
	Since  int64  `json:"since" validate:"gte=0"`
}

// Validate checks tags and returns *errs.ValidationError on failure.
func (r *LogsPollRequest) Validate() error {
	return validate(r)
}

// =============================================================================
// Study flow
// =============================================================================

// StudySubmitRequest is the body of POST /api/study/submit.
//
// Query is the participant's current URL query string. Survey holds the
// answers collected on the page being left.
type StudySubmitRequest struct {
	Query  string         `json:"query" validate:"required"`
	Survey map[string]any `json:"survey"`
}

// Validate checks tags and returns *errs.ValidationError on failure.
func (r *StudySubmitRequest) Validate() error {
	return validate(r)
}

// StudySubmitResponse reports the page transition.
type StudySubmitResponse struct {
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Query  string `json:"query,omitempty"`
	Done   bool   `json:"done"`
	Logged bool   `json:"logged"`
}

// =============================================================================
// Common
// =============================================================================

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
