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
	"maps"
	"sync"
)

// SurveyBuffer holds the answers typed into the current stage's form.
//
// The buffer is the only state the flow keeps outside the URL. It is
// cleared once the stage is submitted.
//
// # Thread Safety
//
// Safe for concurrent use.
type SurveyBuffer struct {
	mu      sync.Mutex
	answers map[string]any
}

// NewSurveyBuffer returns an empty buffer.
func NewSurveyBuffer() *SurveyBuffer {
	return &SurveyBuffer{answers: make(map[string]any)}
}

// Set records the answer for a field, replacing any earlier value.
func (b *SurveyBuffer) Set(field string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[field] = value
}

// Merge records several answers at once.
func (b *SurveyBuffer) Merge(answers map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.answers, answers)
}

// Snapshot returns a copy of the current answers.
func (b *SurveyBuffer) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.answers)
}

// Len returns the number of answered fields.
func (b *SurveyBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.answers)
}

// Reset clears every answer.
func (b *SurveyBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.answers)
}
