// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes mctsr over HTTP.
//
// Routes:
//
//	GET  /health                 liveness
//	GET  /metrics                Prometheus scrape endpoint
//	POST /v1/mctsr/solve         run a search and wait for the answer
//	GET  /v1/mctsr/runs          list stored runs, newest first
//	GET  /v1/mctsr/runs/:id      fetch one stored run with its tree
//	GET  /v1/mctsr/runs/:id/dot  the run's tree as Graphviz DOT
//	DELETE /v1/mctsr/runs/:id    delete a stored run
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/mctsr/services/mctsr/config"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
	"github.com/AleutianAI/mctsr/services/mctsr/solver"
	"github.com/AleutianAI/mctsr/services/mctsr/store"
)

// ErrBusy is reported when MaxConcurrentRuns searches are already running.
var ErrBusy = errors.New("too many concurrent runs")

// Settings returns the configuration a request should use. The serve
// command passes the config watcher's Current method so edits apply to
// the next request.
type Settings func() config.FullConfig

// Server holds the API's dependencies.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	solver   *solver.Solver
	store    *store.RunStore
	settings Settings
	metrics  http.Handler
	logger   *slog.Logger
	sem      chan struct{}
}

// Deps are the collaborators of a Server.
type Deps struct {
	// Solver runs searches. Required.
	Solver *solver.Solver

	// Store serves the runs endpoints. Required.
	Store *store.RunStore

	// Settings supplies per-request configuration. Required.
	Settings Settings

	// Metrics serves /metrics. Nil omits the route.
	Metrics http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewServer creates a Server. The concurrency limit is read once from the
// initial settings.
func NewServer(deps Deps) (*Server, error) {
	if deps.Solver == nil || deps.Store == nil || deps.Settings == nil {
		return nil, errors.New("api: solver, store and settings are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := deps.Settings().Server.MaxConcurrentRuns
	if limit <= 0 {
		limit = 1
	}
	return &Server{
		solver:   deps.Solver,
		store:    deps.Store,
		settings: deps.Settings,
		metrics:  deps.Metrics,
		logger:   logger,
		sem:      make(chan struct{}, limit),
	}, nil
}

// Router builds the gin engine with tracing and request logging.
func (s *Server) Router(serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(s.requestLogger())
	s.SetupRoutes(router)
	return router
}

// SetupRoutes registers the API on router.
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/v1/mctsr")
	{
		v1.POST("/solve", s.handleSolve)
		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/dot", s.handleGetRunDot)
			runs.DELETE("/:id", s.handleDeleteRun)
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_runs": len(s.sem)})
}

// SolveRequest is the body of POST /v1/mctsr/solve. Unset overrides keep
// the server's configured values. Overrides are bounded so one request
// cannot start an unbounded worker pool or run.
type SolveRequest struct {
	Problem             string   `json:"problem" binding:"required"`
	MaxRollouts         *int     `json:"max_rollouts,omitempty" binding:"omitempty,gt=0,lte=1000"`
	ExplorationConstant *float64 `json:"exploration_constant,omitempty" binding:"omitempty,gte=0"`
	MaxChildren         *int     `json:"max_children,omitempty" binding:"omitempty,gt=0,lte=64"`
	SelectionPolicy     string   `json:"selection_policy,omitempty"`
	Seed                uint64   `json:"seed,omitempty"`
	Workers             *int     `json:"workers,omitempty" binding:"omitempty,gte=0,lte=64"`
	IncludeTree         bool     `json:"include_tree,omitempty"`
}

// SolveResponse is the result of a solve call.
type SolveResponse struct {
	RunID    string               `json:"run_id"`
	Status   store.RunStatus      `json:"status"`
	Answer   string               `json:"answer,omitempty"`
	BestQ    float64              `json:"best_q"`
	Rollouts int                  `json:"rollouts"`
	Error    string               `json:"error,omitempty"`
	Tree     *search.TreeSnapshot `json:"tree,omitempty"`
}

// buildRequest merges req over the current settings.
func (s *Server) buildRequest(req SolveRequest) (solver.Request, time.Duration, error) {
	settings := s.settings()
	cfg, err := settings.ToSearchConfig()
	if err != nil {
		return solver.Request{}, 0, err
	}
	if req.MaxRollouts != nil {
		cfg.MaxRollouts = *req.MaxRollouts
	}
	if req.ExplorationConstant != nil {
		cfg.ExplorationConstant = *req.ExplorationConstant
	}
	if req.MaxChildren != nil {
		cfg.MaxChildren = *req.MaxChildren
	}
	if req.SelectionPolicy != "" {
		policy, err := search.ParseSelectionPolicy(req.SelectionPolicy)
		if err != nil {
			return solver.Request{}, 0, err
		}
		cfg.SelectionPolicy = policy
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	workers := settings.Search.Workers
	if req.Workers != nil {
		workers = *req.Workers
	}
	if err := cfg.Validate(); err != nil {
		return solver.Request{}, 0, err
	}
	return solver.Request{
		Problem: req.Problem,
		Config:  cfg,
		Prompts: settings.Search.Prompts,
		Workers: workers,
	}, settings.Server.RunTimeout, nil
}

func (s *Server) handleSolve(c *gin.Context) {
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	solveReq, timeout, err := s.buildRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": ErrBusy.Error()})
		return
	}

	ctx := c.Request.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.solver.Solve(ctx, solveReq)
	if res == nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := SolveResponse{
		RunID:    res.Run.ID,
		Status:   res.Run.Status,
		Answer:   res.Run.Answer,
		BestQ:    res.Run.BestQ,
		Rollouts: res.Run.Rollouts,
		Error:    res.Run.Error,
	}
	if req.IncludeTree {
		resp.Tree = res.Run.Tree
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	c.JSON(status, resp)
}

// statusFor maps search errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, search.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, search.ErrResponder), errors.Is(err, search.ErrScoreParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	var query struct {
		Limit int `form:"limit" binding:"gte=0,lte=1000"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}
	runs, err := s.store.List(c.Request.Context(), query.Limit)
	if err != nil {
		s.logger.Error("List runs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) lookupRun(c *gin.Context) (*store.Run, bool) {
	run, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		s.logger.Error("Get run failed", slog.String("run_id", c.Param("id")), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return nil, false
	}
	return run, true
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetRunDot(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if run.Tree == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run has no tree"})
		return
	}
	dot, err := run.Tree.ToDot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(dot))
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	err := s.store.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
