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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// HandleGetSuggestion serves POST /api/get_suggestion.
//
// # Outputs
//
//	200 {"generation_type", "result", "extra_data"}
//	400 invalid request
//	504 the AI service timed out
//	500 any other AI failure
func HandleGetSuggestion(s Suggester) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SuggestionRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		result, err := s.Suggest(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleReflections serves POST /api/reflections.
//
// Only a malformed request fails; an AI failure answers 200 with an empty
// list.
func HandleReflections(r Reflector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReflectionRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		items, err := r.Reflect(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		if items == nil {
			items = []datatypes.ReflectionItem{}
		}
		c.JSON(http.StatusOK, datatypes.ReflectionsResponse{Reflections: items})
	}
}
