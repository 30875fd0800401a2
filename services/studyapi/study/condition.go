// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package study holds the study-flow model: experimental conditions, the
// ordered stage sequence, URL-derived study parameters and the controller
// that moves a participant from one stage to the next.
//
// Everything here except Controller is a pure function over static tables.
package study

import (
	"fmt"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
)

// Condition is one of the five experimental arms.
type Condition string

const (
	ConditionNoAI             Condition = "no_ai"
	ConditionCompleteDocument Condition = "complete_document"
	ConditionExampleSentences Condition = "example_sentences"
	ConditionAnalysis         Condition = "analysis_readerPerspective"
	ConditionProposal         Condition = "proposal_advice"
)

// codeToCondition is the single source of truth for the code table.
// conditionToCode is derived from it in init so the two cannot drift.
var codeToCondition = map[string]Condition{
	"n": ConditionNoAI,
	"c": ConditionCompleteDocument,
	"e": ConditionExampleSentences,
	"a": ConditionAnalysis,
	"p": ConditionProposal,
}

var conditionToCode = make(map[Condition]string, len(codeToCondition))

func init() {
	for code, cond := range codeToCondition {
		if _, dup := conditionToCode[cond]; dup {
			panic(fmt.Sprintf("study: condition %q mapped by more than one code", cond))
		}
		conditionToCode[cond] = code
	}
}

// InvalidConditionError is returned for a code outside the closed set.
type InvalidConditionError struct {
	Code string
}

func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("invalid condition code %q", e.Code)
}

// Unwrap exposes the error as a validation failure so HTTP handlers
// answer 400 without knowing about this package.
func (e *InvalidConditionError) Unwrap() error {
	return errs.Invalid("invalid condition", fmt.Sprintf("condition: unknown code %q", e.Code))
}

// ResolveCondition maps a single-letter code to its condition.
//
// # Inputs
//
//   - code: one of n, c, e, a, p. Case sensitive.
//
// # Outputs
//
//   - Condition: the named arm.
//   - error: *InvalidConditionError for any other input.
func ResolveCondition(code string) (Condition, error) {
	cond, ok := codeToCondition[code]
	if !ok {
		return "", &InvalidConditionError{Code: code}
	}
	return cond, nil
}

// CodeFor returns the code of a condition and whether it is known.
func CodeFor(cond Condition) (string, bool) {
	code, ok := conditionToCode[cond]
	return code, ok
}

// Codes returns every valid condition code.
func Codes() []string {
	return []string{"n", "c", "e", "a", "p"}
}

// UsesAI reports whether participants in this arm receive AI assistance.
func (c Condition) UsesAI() bool {
	return c != ConditionNoAI
}
