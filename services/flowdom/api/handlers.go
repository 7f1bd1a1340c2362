// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the flowdom analyses over HTTP.
//
// Routes (mounted under /v1 by NewRouter):
//
//	POST /v1/flowdom/analyze              - Analyze a JSON listing
//	POST /v1/flowdom/dot?view=cfg         - Render one view as DOT
//	POST /v1/flowdom/dominated?node=N     - Strictly dominated blocks of N
//	GET  /v1/flowdom/health               - Health check
//	GET  /metrics                         - Prometheus metrics
//
// Request bodies are listings in JSON form, at most
// listing.MaxListingFileSize bytes:
//
//	{"name": "conditional",
//	 "instructions": [{"offset": 0, "kind": "cond_jump", "targets": [2, 3]},
//	                  {"offset": 1, "kind": "jump", "targets": [3]},
//	                  {"offset": 2, "kind": "linear"},
//	                  {"offset": 3, "kind": "return"}]}
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/listing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DOTContentType is the media type of rendered graphs.
const DOTContentType = "text/vnd.graphviz; charset=utf-8"

// Handlers serves the flowdom routes.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	analyzer *analysis.Analyzer
}

// NewHandlers creates handlers backed by analyzer.
//
// Panics if analyzer is nil.
func NewHandlers(analyzer *analysis.Analyzer) *Handlers {
	if analyzer == nil {
		panic("analyzer must not be nil")
	}
	return &Handlers{analyzer: analyzer}
}

// HandleHealth handles GET /v1/flowdom/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleAnalyze handles POST /v1/flowdom/analyze.
//
// Responses:
//
//	200 - AnalyzeResponse
//	400 - INVALID_REQUEST, INVALID_LISTING, MALFORMED_INSTRUCTIONS
//	413 - TOO_MANY_BLOCKS
//	500 - ANALYSIS_FAILED
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	res, ok := h.analyze(c, "HandleAnalyze")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newAnalyzeResponse(res))
}

// HandleDOT handles POST /v1/flowdom/dot?view=cfg|dom|postdom|cdg.
// The view defaults to cfg.
func (h *Handlers) HandleDOT(c *gin.Context) {
	view, err := analysis.ParseView(c.DefaultQuery("view", string(analysis.ViewCFG)))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_VIEW"})
		return
	}

	res, ok := h.analyze(c, "HandleDOT")
	if !ok {
		return
	}
	out, err := res.DOT(view)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RENDER_FAILED"})
		return
	}
	c.Data(http.StatusOK, DOTContentType, []byte(out))
}

// HandleDominated handles POST /v1/flowdom/dominated?node=N[&post=true].
//
// Responses:
//
//	200 - DominatedResponse
//	400 - INVALID_NODE plus the analysis errors of HandleAnalyze
//	404 - NODE_NOT_IN_TREE
func (h *Handlers) HandleDominated(c *gin.Context) {
	node, err := strconv.Atoi(c.Query("node"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "node must be an integer", Code: "INVALID_NODE"})
		return
	}
	post := false
	if raw := c.Query("post"); raw != "" {
		if post, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "post must be a boolean", Code: "INVALID_REQUEST"})
			return
		}
	}

	res, ok := h.analyze(c, "HandleDominated")
	if !ok {
		return
	}
	dominated, err := res.Dominated(node, post)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NODE_NOT_IN_TREE"})
		return
	}
	c.JSON(http.StatusOK, DominatedResponse{Node: node, Post: post, Dominated: dominated})
}

// analyze binds the listing body and runs the analyzer, writing the error
// response itself when it returns false.
func (h *Handlers) analyze(c *gin.Context, handler string) (*analysis.Result, bool) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", handler)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, listing.MaxListingFileSize)

	var l listing.Listing
	if err := c.ShouldBindJSON(&l); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Request body too large", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large", Code: "BODY_TOO_LARGE"})
			return nil, false
		}
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return nil, false
	}
	if err := l.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_LISTING"})
		return nil, false
	}

	res, err := h.analyzer.Analyze(c.Request.Context(), &l)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "ANALYSIS_FAILED"

		if errors.Is(err, bytecode.ErrMalformedInput) || errors.Is(err, graph.ErrDuplicateNode) {
			statusCode = http.StatusBadRequest
			errCode = "MALFORMED_INSTRUCTIONS"
		} else if errors.Is(err, graph.ErrMaxNodesExceeded) {
			statusCode = http.StatusRequestEntityTooLarge
			errCode = "TOO_MANY_BLOCKS"
		}

		logger.Error("Analysis failed", "listing", l.Name, "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return nil, false
	}

	logger.Info("Analysis complete",
		"listing", res.Name,
		"run_id", res.RunID,
		"cached", res.Cached)
	return res, true
}

// getOrCreateRequestID returns the X-Request-ID header, generating one if
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
