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
	"errors"
	"regexp"
	"strings"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// ErrEmptyResponse is returned when the AI reply has no usable text.
var ErrEmptyResponse = errors.New("empty ai response")

var (
	// finalMarker separates model reasoning from the answer.
	finalMarker = regexp.MustCompile(`FINAL (?:ANSWER|RESPONSE|OUTPUT)(?::|\.)?\s+`)

	// listItem matches the start of a dash or numbered Markdown list item.
	listItem = regexp.MustCompile(`(?m)^(?:-|\d+\.)\s+`)
)

// ParseReflections splits an AI reply into reflection items.
//
// # Description
//
// When a FINAL ANSWER / RESPONSE / OUTPUT marker is present, everything
// before the first one is reasoning and is discarded. The answer is cut at
// every line that starts a list item; each non-blank piece becomes one
// reflection, with its inner line breaks kept. Prose before the first item
// is a reflection of its own, and prose after the last item stays with it.
// A reply with no list items is returned as a single reflection.
//
// # Outputs
//
//   - []datatypes.ReflectionItem: at least one item on success.
//   - error: ErrEmptyResponse when nothing usable remains.
func ParseReflections(text string) ([]datatypes.ReflectionItem, error) {
	if loc := finalMarker.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var out []datatypes.ReflectionItem
	for _, piece := range listItem.Split(text, -1) {
		if s := strings.TrimSpace(piece); s != "" {
			out = append(out, datatypes.ReflectionItem{Reflection: s})
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}
