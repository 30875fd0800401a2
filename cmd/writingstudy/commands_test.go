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
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string][]string{
		"serve": nil,
		"logs":  {"list", "poll", "export"},
		"study": {"next"},
		"chat":  nil,
	}
	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		for _, sub := range subs {
			c, _, err := rootCmd.Find([]string{name, sub})
			require.NoError(t, err)
			assert.Equal(t, sub, c.Name())
		}
	}
}

func TestPrintDescriptor_Final(t *testing.T) {
	plain = true
	q := url.Values{"username": {"p-1"}, "condition": {"e"}, "page": {"final"}, "isProlific": {"true"}}
	p, err := study.ParseParams(q)
	require.NoError(t, err)

	var buf bytes.Buffer
	printDescriptor(&buf, study.Describe(p, "C728GXTB"))
	out := buf.String()
	assert.Contains(t, out, "Stage: final")
	assert.Contains(t, out, "Condition: example_sentences (e)")
	assert.Contains(t, out, "Next: none (final stage)")
	assert.Contains(t, out, "Completion code: C728GXTB")
}

func TestPrintDescriptor_Intro(t *testing.T) {
	plain = true
	p, err := study.ParseParams(url.Values{"username": {"p-1"}, "condition": {"n"}, "page": {"intro"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	printDescriptor(&buf, study.Describe(p, "C728GXTB"))
	assert.Contains(t, buf.String(), "page=intro-survey")
	assert.NotContains(t, buf.String(), "Completion code")
}

func TestCountLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wave-2_2025-03-14.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n{}\n{}\n"), 0o600))
	n, err := countLines(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRunLogsExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="logs-2025-03-14T10-00-00Z.zip"`)
		fmt.Fprint(w, "zip-bytes")
	}))
	defer srv.Close()

	plain = true
	serverURL = srv.URL
	exportOut = filepath.Join(t.TempDir(), "out.zip")

	logSecret = "k"
	require.NoError(t, runLogsExport(logsExportCmd, nil))
	data, err := os.ReadFile(exportOut)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	logSecret = "wrong"
	err = runLogsExport(logsExportCmd, nil)
	assert.ErrorContains(t, err, "rejected the log secret")
}
