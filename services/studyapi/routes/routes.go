// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/WritingStudy/services/studyapi/handlers"
	"github.com/AleutianAI/WritingStudy/services/studyapi/middleware"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

// Deps are the components the routes are served by.
type Deps struct {
	Events     handlers.EventLogger
	Suggester  handlers.Suggester
	Reflector  handlers.Reflector
	Chat       handlers.ChatStreamer
	Exporter   handlers.LogExporter
	Controller *study.Controller

	Wave           handlers.WaveSource
	Commit         string
	CompletionCode string

	// Limiter guards the AI routes. Nil disables rate limiting.
	Limiter *middleware.UserLimiter
	Metrics *observability.Metrics
	Log     *slog.Logger

	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
}

// SetupRoutes registers every study endpoint on router.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HandleHealth(d.Wave, d.Commit))
	if d.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	limit := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if d.Limiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{middleware.RateLimit(d.Limiter, d.Metrics), h}
	}
	chat := handlers.NewChatHandler(d.Chat, d.Metrics, d.Log)

	api := router.Group("/api")
	{
		api.POST("/log", handlers.HandleLog(d.Events))

		api.POST("/get_suggestion", limit(handlers.HandleGetSuggestion(d.Suggester))...)
		api.POST("/reflections", limit(handlers.HandleReflections(d.Reflector))...)
		api.POST("/chat", limit(chat.HandleChatStream)...)
		api.GET("/chat/ws", limit(chat.HandleChatWebSocket)...)

		api.POST("/logs_poll", handlers.HandleLogsPoll(d.Exporter))
		api.GET("/download_logs", handlers.HandleDownloadLogs(d.Exporter))

		studyGroup := api.Group("/study")
		{
			studyGroup.GET("/page", handlers.HandleStudyPage(d.CompletionCode))
			studyGroup.POST("/submit", handlers.HandleStudySubmit(d.Controller))
		}
	}
}
