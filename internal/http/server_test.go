package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

// fakeRuns is an in-memory RunService.
type fakeRuns struct {
	mu        sync.Mutex
	runs      map[string]*runstore.Run
	started   []service.StartRequest
	startErr  error
	listOpts  runstore.ListOptions
	history   map[string][]orchestrator.Event
	live      map[string]chan orchestrator.Event
	cancelled map[string]bool
	artifacts map[string]map[string][]byte
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:      make(map[string]*runstore.Run),
		history:   make(map[string][]orchestrator.Event),
		live:      make(map[string]chan orchestrator.Event),
		cancelled: make(map[string]bool),
		artifacts: make(map[string]map[string][]byte),
	}
}

func (f *fakeRuns) add(run *runstore.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
}

func (f *fakeRuns) Start(_ context.Context, req service.StartRequest) (*runstore.Run, error) {
	if strings.TrimSpace(req.Requirement) == "" {
		return nil, service.ErrEmptyRequirement
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	run := &runstore.Run{ID: "run-new", Requirement: req.Requirement, Status: runstore.StatusPending}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (*runstore.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) List(_ context.Context, opts runstore.ListOptions) ([]*runstore.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = opts
	var out []*runstore.Run
	for _, r := range f.runs {
		if opts.Status == "" || r.Status == opts.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuns) Follow(_ context.Context, id string) ([]orchestrator.Event, <-chan orchestrator.Event, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return nil, nil, func() {}, runstore.ErrNotFound
	}
	cancel := func() {
		f.mu.Lock()
		f.cancelled[id] = true
		f.mu.Unlock()
	}
	ch, ok := f.live[id]
	if !ok {
		return f.history[id], nil, cancel, nil
	}
	return f.history[id], ch, cancel, nil
}

func (f *fakeRuns) Artifact(_ context.Context, id, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return nil, runstore.ErrNotFound
	}
	if strings.HasPrefix(name, ".") {
		return nil, artifact.ErrInvalidName
	}
	data, ok := f.artifacts[id][name]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return data, nil
}

func (f *fakeRuns) Artifacts(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return nil, runstore.ErrNotFound
	}
	var names []string
	for n := range f.artifacts[id] {
		names = append(names, n)
	}
	return names, nil
}

func setupTestServer(t *testing.T) (*Server, *fakeRuns) {
	t.Helper()
	runs := newFakeRuns()
	server, err := NewServer(runs, zap.NewNop(), &Config{Host: "localhost", Port: 8080, Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)
	return server, runs
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(b))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 9090}
		server, err := NewServer(newFakeRuns(), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
		assert.Nil(t, server.auth)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newFakeRuns(), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
		assert.Equal(t, 30*time.Second, server.config.Heartbeat)
		assert.NotEmpty(t, server.config.Models)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newFakeRuns(), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when run service is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "run service cannot be nil")
	})

	t.Run("enables auth when a secret is set", func(t *testing.T) {
		server, err := NewServer(newFakeRuns(), zap.NewNop(), &Config{JWTSecret: "s3cret"})
		require.NoError(t, err)
		assert.NotNil(t, server.auth)
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleSamplesAndModels(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/api/v1/samples", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var samples SamplesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	assert.Len(t, samples.Samples, len(service.Samples()))

	rec = do(t, server, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, llm.DefaultModelID, models.Default)
	assert.Len(t, models.Models, 3)
}

func TestHandleCreateRun(t *testing.T) {
	t.Run("accepts a run", func(t *testing.T) {
		server, runs := setupTestServer(t)

		rec := do(t, server, http.MethodPost, "/api/v1/runs", CreateRunRequest{
			Requirement: "serverless API",
			ModelID:     "anthropic.claude-3-haiku-20240307-v1:0",
			MaxCycles:   2,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "/api/v1/runs/run-new", rec.Header().Get(echo.HeaderLocation))

		var resp CreateRunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-new", resp.ID)
		assert.Equal(t, runstore.StatusPending, resp.Status)

		require.Len(t, runs.started, 1)
		assert.Equal(t, "claude-3-haiku-20240307", runs.started[0].ModelID)
		assert.Equal(t, 2, runs.started[0].MaxCycles)
	})

	t.Run("rejects empty requirement", func(t *testing.T) {
		server, _ := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/runs", CreateRunRequest{Requirement: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "requirement field is required")
	})

	t.Run("rejects negative cycles", func(t *testing.T) {
		server, _ := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/runs", CreateRunRequest{Requirement: "x", MaxCycles: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		server, _ := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reports shutdown", func(t *testing.T) {
		server, runs := setupTestServer(t)
		runs.startErr = service.ErrShuttingDown
		rec := do(t, server, http.MethodPost, "/api/v1/runs", CreateRunRequest{Requirement: "x"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleListRuns(t *testing.T) {
	server, runs := setupTestServer(t)
	runs.add(&runstore.Run{ID: "a", Status: runstore.StatusCompleted})
	runs.add(&runstore.Run{ID: "b", Status: runstore.StatusRunning})

	rec := do(t, server, http.MethodGet, "/api/v1/runs?limit=10&status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "a", resp.Runs[0].ID)
	assert.Equal(t, 10, runs.listOpts.Limit)
	assert.Equal(t, runstore.StatusCompleted, runs.listOpts.Status)

	rec = do(t, server, http.MethodGet, "/api/v1/runs?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/runs?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/runs?status=paused", nil).Code)
}

func TestHandleGetRun(t *testing.T) {
	server, runs := setupTestServer(t)
	runs.add(&runstore.Run{ID: "r1", Status: runstore.StatusCompleted, Accepted: true, Score: 92})

	rec := do(t, server, http.MethodGet, "/api/v1/runs/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run runstore.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.True(t, run.Accepted)
	assert.Equal(t, 92.0, run.Score)

	rec = do(t, server, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleArtifacts(t *testing.T) {
	server, runs := setupTestServer(t)
	runs.add(&runstore.Run{ID: "r1"})
	runs.artifacts["r1"] = map[string][]byte{
		artifact.DesignFile:  []byte("Diagram: {}"),
		artifact.DiagramFile: {0x89, 'P', 'N', 'G'},
	}

	rec := do(t, server, http.MethodGet, "/api/v1/runs/r1/artifacts/design.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Diagram: {}", rec.Body.String())
	assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))

	rec = do(t, server, http.MethodGet, "/api/v1/runs/r1/artifacts/diagram.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))

	rec = do(t, server, http.MethodGet, "/api/v1/runs/r1/artifacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ArtifactListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.ElementsMatch(t, []string{artifact.DesignFile, artifact.DiagramFile}, list.Artifacts)

	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/runs/r1/artifacts/critique.md", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/v1/runs/nope/artifacts/design.yaml", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/api/v1/runs/r1/artifacts/.hidden", nil).Code)
}
