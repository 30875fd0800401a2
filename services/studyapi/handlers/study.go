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
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// HandleStudyPage serves GET /api/study/page.
//
// The request's own query string is the participant's page URL query; the
// response describes the stage it resolves to.
func HandleStudyPage(completionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := study.ParseParams(c.Request.URL.Query())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, study.Describe(p, completionCode))
	}
}

// HandleStudySubmit serves POST /api/study/submit.
//
// # Description
//
// Logs surveyComplete:<stage> with the submitted answers, waits for the
// write, and returns the query of the next stage. A failed write is
// reported in "logged" but does not stop navigation.
func HandleStudySubmit(ctrl *study.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StudySubmitRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}

		q, err := url.ParseQuery(strings.TrimPrefix(req.Query, "?"))
		if err != nil {
			respondError(c, errs.Invalid("invalid request body", "query: "+err.Error()))
			return
		}
		p, err := study.ParseParams(q)
		if err != nil {
			respondError(c, err)
			return
		}

		buf := study.NewSurveyBuffer()
		buf.Merge(req.Survey)
		t := ctrl.Submit(c.Request.Context(), p, buf)

		c.JSON(http.StatusOK, datatypes.StudySubmitResponse{
			From:   string(t.From),
			To:     string(t.To),
			Query:  t.Query.Encode(),
			Done:   t.Done,
			Logged: t.Logged,
		})
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Wave   string `json:"wave"`
	Commit string `json:"commit"`
}

// WaveSource reports the current wave.
type WaveSource interface {
	Wave() string
}

// HandleHealth serves GET /health.
func HandleHealth(wave WaveSource, commit string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok", Wave: wave.Wave(), Commit: commit})
	}
}
