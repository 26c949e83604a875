// Package runstore persists refinement runs and their event history.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Run is the persisted summary of one refinement run.
type Run struct {
	ID          string                       `json:"id"`
	Requirement string                       `json:"requirement"`
	ModelID     string                       `json:"model_id,omitempty"`
	MaxCycles   int                          `json:"max_cycles,omitempty"`
	Status      Status                       `json:"status"`
	Accepted    bool                         `json:"accepted"`
	Reason      orchestrator.Reason          `json:"reason,omitempty"`
	Score       float64                      `json:"score"`
	Cycles      int                          `json:"cycles"`
	Iterations  int                          `json:"iterations"`
	Artifact    string                       `json:"yaml_content,omitempty"`
	Explanation string                       `json:"architecture_explanation,omitempty"`
	Critique    string                       `json:"validation_result,omitempty"`
	Error       *orchestrator.ErrorInfo      `json:"error,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
	FinishedAt  *time.Time                   `json:"finished_at,omitempty"`
	Feedback    *orchestrator.RenderFeedback `json:"render_feedback,omitempty"`
}

// Complete copies a terminal outcome into the run.
func (r *Run) Complete(out *orchestrator.Outcome, now time.Time) {
	r.Accepted = out.Accepted
	r.Reason = out.Reason
	r.Score = out.Score
	r.Cycles = out.Cycles
	r.Iterations = out.Iterations
	r.Artifact = out.Artifact
	r.Explanation = out.Explanation
	r.Critique = out.ValidationResult
	r.Feedback = out.RenderFeedback.Clone()
	r.Error = out.Error
	r.Status = StatusCompleted
	if out.Error != nil {
		r.Status = StatusFailed
	}
	r.UpdatedAt = now
	r.FinishedAt = &now
}

// ListOptions filters List.
type ListOptions struct {
	Limit  int
	Status Status
}

// Store persists runs and events.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Update(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	AppendEvent(ctx context.Context, ev orchestrator.Event) error
	Events(ctx context.Context, runID string) ([]orchestrator.Event, error)
	Close() error
}
