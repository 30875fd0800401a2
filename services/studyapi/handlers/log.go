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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
)

// maxLogBodyBytes bounds a single client log request.
const maxLogBodyBytes = 1 << 20

// LoggedMessage is the acknowledgement body of POST /api/log.
const LoggedMessage = "Feedback logged successfully."

// HandleLog records a client event.
//
// # Description
//
// The body is a flat JSON object: username and event are lifted out and
// every other field becomes the entry's extra_data. The write completes
// before the response is sent.
//
// # Outputs
//
//	200 {"message": "Feedback logged successfully."}
//	400 malformed body, unknown event kind or payload schema violation
//	500 the append failed
func HandleLog(logger EventLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, event, extra, err := decodeLogBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := logger.LogEvent(c.Request.Context(), username, event, extra); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.MessageResponse{Message: LoggedMessage})
	}
}

func decodeLogBody(c *gin.Context) (username, event string, extra map[string]any, err error) {
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxLogBodyBytes))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return "", "", nil, errs.Invalid("invalid request body", err.Error())
	}
	if body == nil {
		return "", "", nil, errs.Invalid("invalid request body", "body: must be a JSON object")
	}

	var details []string
	switch v := body["username"].(type) {
	case nil:
	case string:
		username = v
	default:
		details = append(details, fmt.Sprintf("username: must be a string, got %T", v))
	}
	switch v := body["event"].(type) {
	case string:
		event = v
	case nil:
		details = append(details, "event: is required")
	default:
		details = append(details, fmt.Sprintf("event: must be a string, got %T", v))
	}
	if len(details) > 0 {
		return "", "", nil, errs.Invalid("invalid request body", details...)
	}

	delete(body, "username")
	delete(body, "event")
	return username, event, body, nil
}
