// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WritingStudy/services/studyapi/config"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// runStudyNext resolves a page query offline, with the same rules the
// server applies.
func runStudyNext(cmd *cobra.Command, args []string) error {
	q, err := url.ParseQuery(strings.TrimPrefix(args[0], "?"))
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	p, err := study.ParseParams(q)
	if err != nil {
		return err
	}

	code := config.DefaultCompletionCode
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		code = cfg.CompletionCode
	}

	printDescriptor(os.Stdout, study.Describe(p, code))
	return nil
}

func printDescriptor(w io.Writer, d study.Descriptor) {
	printField(w, "Stage", string(d.Page))
	printField(w, "Condition", fmt.Sprintf("%s (%s)", d.Condition, d.Code))
	printField(w, "Uses AI", fmt.Sprintf("%t", d.UsesAI))
	if d.Prev != "" {
		printField(w, "Previous", d.Prev)
	}
	if d.Next != "" {
		printField(w, "Next", d.Next)
	} else {
		printField(w, "Next", render(styles.Muted, "none (final stage)"))
	}
	if d.CompletionCode != "" {
		printField(w, "Completion code", d.CompletionCode)
	}
}
