package http

import (
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// CreateRunRequest is the request body for POST /api/v1/runs.
type CreateRunRequest struct {
	Requirement string `json:"requirement"`
	ModelID     string `json:"model_id,omitempty"`
	MaxCycles   int    `json:"max_cycles,omitempty"`
}

// CreateRunResponse is the response body for POST /api/v1/runs.
type CreateRunResponse struct {
	ID     string          `json:"id"`
	Status runstore.Status `json:"status"`
}

// RunListResponse is the response body for GET /api/v1/runs.
type RunListResponse struct {
	Runs  []*runstore.Run `json:"runs"`
	Count int             `json:"count"`
}

// ArtifactListResponse is the response body for GET /api/v1/runs/:id/artifacts.
type ArtifactListResponse struct {
	Artifacts []string `json:"artifacts"`
}

// SamplesResponse is the response body for GET /api/v1/samples.
type SamplesResponse struct {
	Samples []service.Sample `json:"samples"`
}

// ModelsResponse is the response body for GET /api/v1/models.
type ModelsResponse struct {
	Models  []llm.Model `json:"models"`
	Default string      `json:"default"`
}
