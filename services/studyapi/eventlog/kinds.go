// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventlog

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// Event kinds written by the server itself.
const (
	KindSuggestionGenerated = "suggestion_generated"
	KindReflectionGenerated = "reflection_generated"
	KindChatMessage         = "chat_message"
	KindChatResponse        = "chat_response"
)

// Event kinds the study pages send through /api/log.
const (
	KindLaunchConsentForm = "launchConsentForm"
	KindStartedStudy      = "Started Study"
	KindTaskStart         = "taskStart"
	KindTaskComplete      = "taskComplete"
	KindDocumentUpdate    = "documentUpdate"
)

var fixedKinds = map[string]struct{}{
	KindSuggestionGenerated: {},
	KindReflectionGenerated: {},
	KindChatMessage:         {},
	KindChatResponse:        {},
	KindLaunchConsentForm:   {},
	KindStartedStudy:        {},
	KindTaskStart:           {},
	KindTaskComplete:        {},
	KindDocumentUpdate:      {},
}

// stageTemplates are "<prefix>:<stage>" kinds. The suffix must be a stage.
var stageTemplates = map[string]struct{}{
	"view":           {},
	"surveyComplete": {},
}

// freeTemplates are "<prefix>:<suffix>" kinds with any non-empty suffix,
// such as aiRequest:example_sentences or chatMessage:assistant.
var freeTemplates = map[string]struct{}{
	"aiAutoRefresh": {},
	"aiRequest":     {},
	"aiResponse":    {},
	"chatMessage":   {},
}

// ValidateKind checks kind against the closed set.
//
// # Outputs
//
//   - error: *errs.ValidationError for unknown kinds, stage templates with
//     an unknown stage suffix, or free templates with an empty suffix.
func ValidateKind(kind string) error {
	if _, ok := fixedKinds[kind]; ok {
		return nil
	}
	prefix, suffix, found := strings.Cut(kind, ":")
	if found {
		if _, ok := stageTemplates[prefix]; ok {
			if study.IsStage(suffix) {
				return nil
			}
			return errs.Invalid("invalid event", fmt.Sprintf("event: unknown stage %q in %q", suffix, kind))
		}
		if _, ok := freeTemplates[prefix]; ok {
			if strings.TrimSpace(suffix) != "" {
				return nil
			}
			return errs.Invalid("invalid event", fmt.Sprintf("event: empty suffix in %q", kind))
		}
	}
	return errs.Invalid("invalid event", fmt.Sprintf("event: unknown kind %q", kind))
}

// templatePrefix returns the prefix of a template kind, or kind itself.
func templatePrefix(kind string) string {
	prefix, _, found := strings.Cut(kind, ":")
	if found {
		return prefix
	}
	return kind
}
