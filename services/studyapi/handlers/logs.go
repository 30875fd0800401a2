// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/middleware"
)

// LogsPollResponse is the body of a successful POST /api/logs_poll.
type LogsPollResponse struct {
	Logs []eventlog.LogEntry `json:"logs"`
}

// HandleLogsPoll serves POST /api/logs_poll.
//
// # Description
//
// Returns every entry with a timestamp strictly greater than since, in
// timestamp order. The secret may be sent in the body or as a bearer
// token.
//
// # Outputs
//
//	200 {"logs": [...]}
//	400 malformed body
//	401 wrong or unset secret
//	500 the store could not be read
func HandleLogsPoll(exp LogExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LogsPollRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}
		secret := req.Secret
		if secret == "" {
			secret = middleware.BearerToken(c)
		}

		entries, err := exp.Poll(secret, req.Since)
		if err != nil {
			respondError(c, err)
			return
		}
		if entries == nil {
			entries = []eventlog.LogEntry{}
		}
		c.JSON(http.StatusOK, LogsPollResponse{Logs: entries})
	}
}

// HandleDownloadLogs serves GET /api/download_logs.
//
// # Description
//
// Authorization and the shard listing happen before any byte is written,
// so a wrong secret or an empty store still gets a proper status. The
// archive is then streamed shard by shard. A failure after streaming has
// begun can only be logged; the client sees a truncated archive.
//
// # Outputs
//
//	200 application/zip attachment named logs-<UTC timestamp>.zip
//	401 wrong or unset secret
//	404 no shards
//	500 the store could not be listed
func HandleDownloadLogs(exp LogExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.Query("secret")
		if secret == "" {
			secret = middleware.BearerToken(c)
		}

		names, err := exp.Authorize(secret)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", `attachment; filename="`+exp.ArchiveName()+`"`)
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusOK)

		if err := exp.Stream(c.Request.Context(), names, c.Writer); err != nil {
			slog.Error("handler.download_logs.stream_failed",
				"shards", len(names),
				"error", err)
		}
	}
}
