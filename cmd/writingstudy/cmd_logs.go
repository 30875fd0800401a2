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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WritingStudy/pkg/studyclient"
	"github.com/AleutianAI/WritingStudy/services/studyapi/config"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
)

// =============================================================================
// logs list
// =============================================================================

func runLogsList(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		dir = cfg.LogsDir
	}

	store, err := eventlog.OpenStore(dir, nil, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Files()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		printWarning(fmt.Sprintf("no log shards in %s", dir))
		return nil
	}

	printTitle("Log shards in " + dir)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SHARD\tENTRIES\tBYTES\tMODIFIED")
	for _, name := range names {
		info, err := os.Stat(store.Path(name))
		if err != nil {
			return err
		}
		lines, err := countLines(store.Path(name))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, lines, info.Size(), info.ModTime().UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	n := 0
	for {
		c, err := f.Read(buf)
		n += bytes.Count(buf[:c], []byte{'\n'})
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// =============================================================================
// logs poll
// =============================================================================

func runLogsPoll(cmd *cobra.Command, args []string) error {
	interval, err := time.ParseDuration(pollInterval)
	if err != nil || interval <= 0 {
		return fmt.Errorf("invalid --interval %q", pollInterval)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client := studyclient.New(serverURL)
	enc := json.NewEncoder(os.Stdout)
	since := pollSince

	for {
		entries, err := client.PollLogs(ctx, logSecret, since)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if studyclient.IsStatus(err, http.StatusUnauthorized) {
				return errors.New("the server rejected the log secret (set --secret or LOG_SECRET)")
			}
			return err
		}
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
			if e.Timestamp > since {
				since = e.Timestamp
			}
		}
		if !pollFollow {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// =============================================================================
// logs export
// =============================================================================

func runLogsExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := studyclient.New(serverURL)

	out := exportOut
	tmp, err := os.CreateTemp(dirOf(out), ".writingstudy-export-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, n, err := client.DownloadLogs(ctx, logSecret, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	switch {
	case studyclient.IsStatus(err, http.StatusUnauthorized):
		return errors.New("the server rejected the log secret (set --secret or LOG_SECRET)")
	case studyclient.IsStatus(err, http.StatusNotFound):
		printWarning("the server has no log shards yet")
		return nil
	case err != nil:
		return err
	}

	if out == "" {
		out = filepath.Base(name)
		if out == "" || out == "." {
			out = "logs.zip"
		}
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("wrote %s (%d bytes)", out, n))
	return nil
}

// dirOf returns the directory a file at path would be created in.
func dirOf(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}
