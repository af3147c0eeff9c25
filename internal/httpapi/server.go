// Package httpapi provides the HTTP API for memoryd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/services"
)

// Server exposes the memory API over HTTP.
type Server struct {
	echo   *echo.Echo
	api    *services.API
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(api *services.API, logger *zap.Logger, cfg *Config) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("api cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8085,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		api:    api,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleInitializeSession)
	v1.DELETE("/sessions/:session_id", s.handleClearSession)
	v1.POST("/runs/:run_id/completion", s.handleRecordRunCompletion)
	v1.POST("/memories/query", s.handleQueryMemory)
	v1.POST("/memories/facts", s.handleRecordFact)
	v1.POST("/memories/experiences", s.handleRecordExperience)
	v1.GET("/memories/stats/:user_id", s.handleStats)
	v1.POST("/consolidation/:user_id", s.handleRunConsolidation)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// InitializeSessionRequest is the request body for POST /api/v1/sessions.
type InitializeSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Goal      string `json:"goal"`
}

func (s *Server) handleInitializeSession(c echo.Context) error {
	var req InitializeSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and session_id are required")
	}

	if err := s.api.InitializeSession(req.UserID, req.SessionID, req.Goal); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusCreated)
}

// ClearSessionResponse is the response body for DELETE /api/v1/sessions/:session_id.
type ClearSessionResponse struct {
	Cleared bool `json:"cleared"`
}

func (s *Server) handleClearSession(c echo.Context) error {
	cleared := s.api.ClearSession(c.Param("session_id"))
	return c.JSON(http.StatusOK, ClearSessionResponse{Cleared: cleared})
}

// RecordRunCompletionRequest is the request body for
// POST /api/v1/runs/:run_id/completion.
type RecordRunCompletionRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleRecordRunCompletion(c echo.Context) error {
	var req RecordRunCompletionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	extraction, err := s.api.RecordRunCompletion(c.Request().Context(), c.Param("run_id"), req.UserID)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, extraction)
}

// QueryMemoryRequest is the request body for POST /api/v1/memories/query.
type QueryMemoryRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleQueryMemory(c echo.Context) error {
	var req QueryMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	results, err := s.api.QueryMemory(c.Request().Context(), req.UserID, req.Text, req.SessionID)
	if err != nil {
		return s.mapError(err)
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleRecordFact(c echo.Context) error {
	var m memory.FactualMemory
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	stored, err := s.api.RecordManualFact(c.Request().Context(), &m)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleRecordExperience(c echo.Context) error {
	var m memory.ExperientialMemory
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	stored, err := s.api.RecordManualExperience(c.Request().Context(), &m)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.api.GetMemoryStats(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRunConsolidation(c echo.Context) error {
	result, err := s.api.RunConsolidation(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrEmptyUserID),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, memory.ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, memory.ErrStorage):
		s.logger.Error("storage failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
