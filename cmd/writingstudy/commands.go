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
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:5000"

var (
	// Global flags
	configPath string
	serverURL  string
	logLevel   string

	// logs flags
	logsDir      string
	logSecret    string
	pollSince    int64
	pollFollow   bool
	pollInterval string
	exportOut    string

	// chat flags
	chatUser string

	rootCmd = &cobra.Command{
		Use:           "writingstudy",
		Short:         "Writing-study API server and researcher tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initOutput()
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the study API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Logs ---
	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Inspect and export study event logs",
	}
	logsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List local log shards with their sizes and entry counts",
		Args:  cobra.NoArgs,
		RunE:  runLogsList, // Defined in cmd_logs.go
	}
	logsPollCmd = &cobra.Command{
		Use:   "poll",
		Short: "Print entries newer than --since from a running server as JSON lines",
		Args:  cobra.NoArgs,
		RunE:  runLogsPoll, // Defined in cmd_logs.go
	}
	logsExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Download all shards from a running server as a zip archive",
		Args:  cobra.NoArgs,
		RunE:  runLogsExport, // Defined in cmd_logs.go
	}

	// --- Study ---
	studyCmd = &cobra.Command{
		Use:   "study",
		Short: "Check study navigation without a browser",
	}
	studyNextCmd = &cobra.Command{
		Use:   "next [query]",
		Short: "Resolve a participant page query and show the next stage",
		Example: `  writingstudy study next "username=p-1&condition=e&page=intro"
  writingstudy study next "?username=p-1&condition=n&page=final&isProlific=true"`,
		Args: cobra.ExactArgs(1),
		RunE: runStudyNext, // Defined in cmd_study.go
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Chat with the study assistant through a running server",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_chat.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("STUDY_CONFIG"),
		"YAML config file (env STUDY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("STUDY_SERVER", defaultServer),
		"base URL of a running study API (env STUDY_SERVER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"operational log level: debug, info, warn, error")

	logsListCmd.Flags().StringVar(&logsDir, "dir", "",
		"logs directory (default: logs_dir from config)")
	for _, c := range []*cobra.Command{logsPollCmd, logsExportCmd} {
		c.Flags().StringVar(&logSecret, "secret", os.Getenv("LOG_SECRET"),
			"log access secret (env LOG_SECRET)")
	}
	logsPollCmd.Flags().Int64Var(&pollSince, "since", 0,
		"only entries with a timestamp (Unix ms) greater than this")
	logsPollCmd.Flags().BoolVarP(&pollFollow, "follow", "f", false,
		"keep polling for new entries")
	logsPollCmd.Flags().StringVar(&pollInterval, "interval", "2s",
		"poll interval with --follow")
	logsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "",
		"output file (default: the archive name sent by the server)")

	chatCmd.Flags().StringVar(&chatUser, "user", "",
		"participant username sent with each message")

	logsCmd.AddCommand(logsListCmd, logsPollCmd, logsExportCmd)
	studyCmd.AddCommand(studyNextCmd)
	rootCmd.AddCommand(serveCmd, logsCmd, studyCmd, chatCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
