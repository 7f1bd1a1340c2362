// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"

	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/AleutianAI/flowdom/services/flowdom/config"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// RegisterRoutes mounts the flowdom routes on rg. Every middleware in
// analysisMiddleware runs before the analysis endpoints only; health
// checks are never limited.
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, api.NewHandlers(analyzer), api.RateLimit(50, 100))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, analysisMiddleware ...gin.HandlerFunc) {
	flowdom := rg.Group("/flowdom")
	{
		flowdom.GET("/health", handlers.HandleHealth)

		analyses := flowdom.Group("", analysisMiddleware...)
		analyses.POST("/analyze", handlers.HandleAnalyze)
		analyses.POST("/dot", handlers.HandleDOT)
		analyses.POST("/dominated", handlers.HandleDominated)
	}
}

// NewRouter builds the complete HTTP engine: recovery, OTel tracing, the
// /metrics endpoint, and the flowdom routes with the configured rate limit.
func NewRouter(analyzer *analysis.Analyzer, cfg config.ServerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flowdom"))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	var middleware []gin.HandlerFunc
	if cfg.RateLimit > 0 {
		middleware = append(middleware, RateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(analyzer), middleware...)
	return router
}

// RateLimit rejects requests beyond limit per second (with burst) with 429.
// The limiter is shared by every request through the middleware. A burst
// below 1 is raised to 1.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
