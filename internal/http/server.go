// Package http provides the HTTP API for archagent.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

// RunService is the part of service.Service the API needs.
type RunService interface {
	Start(ctx context.Context, req service.StartRequest) (*runstore.Run, error)
	Get(ctx context.Context, id string) (*runstore.Run, error)
	List(ctx context.Context, opts runstore.ListOptions) ([]*runstore.Run, error)
	Follow(ctx context.Context, id string) ([]orchestrator.Event, <-chan orchestrator.Event, func(), error)
	Artifact(ctx context.Context, id, name string) ([]byte, error)
	Artifacts(ctx context.Context, id string) ([]string, error)
}

// Server provides HTTP endpoints for archagent.
type Server struct {
	echo    *echo.Echo
	runs    RunService
	auth    *Authenticator
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Models is served at /api/v1/models.
	Models []llm.Model

	// JWTSecret enables bearer-token auth on /api/v1 when set.
	JWTSecret string
	Issuer    string

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(runs RunService, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if len(cfg.Models) == 0 {
		cfg.Models = llm.Catalogue("anthropic", nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runs:    runs,
		metrics: NewHTTPMetrics(logger),
		logger:  logger,
		config:  cfg,
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuthenticator(cfg.JWTSecret, cfg.Issuer)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	if s.auth != nil {
		v1.Use(s.auth.Middleware())
	}
	v1.GET("/samples", s.handleSamples)
	v1.GET("/models", s.handleModels)
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/events", s.handleEvents)
	v1.GET("/runs/:id/ws", s.handleWebSocket)
	v1.GET("/runs/:id/artifacts", s.handleListArtifacts)
	v1.GET("/runs/:id/artifacts/:name", s.handleArtifact)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSamples(c echo.Context) error {
	return c.JSON(http.StatusOK, SamplesResponse{Samples: service.Samples()})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, ModelsResponse{Models: s.config.Models, Default: llm.DefaultModelID})
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxCycles < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_cycles must be >= 0")
	}

	run, err := s.runs.Start(c.Request().Context(), service.StartRequest{
		Requirement: req.Requirement,
		ModelID:     llm.NormalizeModelID(req.ModelID),
		MaxCycles:   req.MaxCycles,
	})
	switch {
	case errors.Is(err, service.ErrEmptyRequirement):
		return echo.NewHTTPError(http.StatusBadRequest, "requirement field is required")
	case errors.Is(err, service.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	case err != nil:
		s.logger.Error("starting run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/runs/"+run.ID)
	return c.JSON(http.StatusAccepted, CreateRunResponse{ID: run.ID, Status: run.Status})
}

func (s *Server) handleListRuns(c echo.Context) error {
	opts := runstore.ListOptions{}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := c.QueryParam("status"); v != "" {
		status := runstore.Status(v)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
		}
		opts.Status = status
	}

	runs, err := s.runs.List(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error("listing runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	if runs == nil {
		runs = []*runstore.Run{}
	}
	return c.JSON(http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.runs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError(err, "run")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListArtifacts(c echo.Context) error {
	names, err := s.runs.Artifacts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError(err, "run")
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, ArtifactListResponse{Artifacts: names})
}

func (s *Server) handleArtifact(c echo.Context) error {
	name := c.Param("name")
	data, err := s.runs.Artifact(c.Request().Context(), c.Param("id"), name)
	if err != nil {
		return s.lookupError(err, "artifact")
	}
	return c.Blob(http.StatusOK, artifact.ContentType(name), data)
}

// lookupError maps store errors onto HTTP status codes.
func (s *Server) lookupError(err error, what string) error {
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, artifact.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	case errors.Is(err, artifact.ErrInvalidName):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact name")
	}
	s.logger.Error("looking up "+what, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to load "+what)
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
