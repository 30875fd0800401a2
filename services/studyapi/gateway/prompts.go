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
	"fmt"
	"strings"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// NoAIMessage is the canned result returned in the no_ai condition.
const NoAIMessage = "AI assistance is not available in this condition."

// cursorWindow is how many bytes either side of the cursor are quoted back
// to the model as the focus area.
const cursorWindow = 100

var suggestionInstructions = map[string]string{
	datatypes.GTypeExampleSentences: `You are helping a writer draft a document. Offer three fresh options for what the next sentence could be, to help the writer decide what to say next.

Guidelines:
- Work from the part of the document nearest the cursor.
- If the cursor is mid-sentence, give three ways to finish that sentence.
- If the cursor ends a paragraph, give three ways to open the next one.
- The options are alternatives, not a sequence.
- Keep each option to a single sentence; cut anything past about ten words with an ellipsis.
- Return the options as a Markdown list.`,

	datatypes.GTypeCompleteDocument: `You are helping a writer finish and polish a document. Return a complete, polished version of what they have started.

Guidelines:
- Treat the current text as the starting point and change whatever is needed to complete it.
- Keep the writer's tone and voice.
- Improve clarity and flow.`,

	datatypes.GTypeProposal: `You are helping a writer develop a document by giving three pieces of directive, non-prescriptive advice suited to its genre. Draw on whichever of these fits best:
- staying true to the stated goals or assignment;
- deciding what could come next;
- keeping focus on the main idea;
- backing claims with evidence, examples or reasoning;
- ordering material for a logical flow;
- choosing language that suits the audience.

Guidelines:
- Work from the part of the document nearest the cursor.
- Keep each piece of advice under 20 words.
- Phrase advice as an instruction, not a question.
- Do not supply specific words or phrases.
- Make every item specific to this document.
- Return the advice as a Markdown list.`,

	datatypes.GTypeAnalysis: `You are helping a writer who is drafting a document for a particular reader. List three questions that reader might have about the document so far.

Guidelines:
- Do not suggest specific words or phrases.
- Keep each question under 20 words.
- Tie every question to details of this document.
- Voice each question from the reader's perspective, not as an instruction to the writer.
- If there is too little text to ask genuine questions, return nothing.
- Return the questions as a Markdown list.`,
}

// BuildSuggestionPrompt renders the prompt for gtype over doc.
//
// # Outputs
//
//   - string: the full prompt.
//   - error: when gtype has no instructions, including no_ai.
func BuildSuggestionPrompt(gtype string, doc datatypes.DocContext) (string, error) {
	instructions, ok := suggestionInstructions[gtype]
	if !ok {
		return "", fmt.Errorf("no prompt for generation type %q", gtype)
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n# Writer's Document So Far\n\n<document>\n")
	b.WriteString(doc.Text())
	b.WriteString("</document>\n\n")

	before := tail(doc.BeforeCursor, cursorWindow)
	if doc.SelectedText == "" {
		fmt.Fprintf(&b, "## Text Right Before the Cursor\n\n%q", before)
	} else {
		after := head(doc.AfterCursor, cursorWindow)
		fmt.Fprintf(&b, "## Current Selection\n\n%s\n\n## Text Nearby The Selection\n\n%q",
			doc.SelectedText, before+doc.SelectedText+after)
	}
	return b.String(), nil
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// head returns at most n leading bytes of s without splitting a rune.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n
	for i > 0 && !isRuneStart(s[i]) {
		i--
	}
	return s[:i]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
