// Package workflows runs the refinement loop as a durable Temporal workflow.
//
// This file contains the types exchanged between the workflow, its activities and clients.
package workflows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// TaskQueue is the default task queue for refinement workflows.
const TaskQueue = "archagent-refinement"

// Query types served by RefinementWorkflow.
const (
	// QueryEvents returns the events with a sequence greater than its int argument.
	QueryEvents = "events"
	// QueryProgress returns a Progress snapshot.
	QueryProgress = "progress"
)

// ErrInvalidInput is returned by RefinementInput.Validate.
var ErrInvalidInput = errors.New("invalid refinement input")

// RefinementInput starts one RefinementWorkflow.
type RefinementInput struct {
	RunID       string              `json:"run_id"`      // Run ID, also used as the workflow ID
	Requirement string              `json:"requirement"` // Natural-language requirement, already scrubbed
	ModelID     string              `json:"model_id"`    // Passed through to Generator and Validator
	Config      orchestrator.Config `json:"config"`      // Acceptance and budget for this run
}

// Validate checks that all required fields are set.
func (in *RefinementInput) Validate() error {
	if strings.TrimSpace(in.RunID) == "" {
		return fmt.Errorf("%w: run_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Requirement) == "" {
		return fmt.Errorf("%w: %v", ErrInvalidInput, orchestrator.ErrEmptyRequirement)
	}
	if err := in.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// RefinementResult is the workflow result. Events holds every event the run emitted,
// terminal event last.
type RefinementResult struct {
	Outcome orchestrator.Outcome `json:"outcome"`
	Events  []orchestrator.Event `json:"events"`
}

// StageResult is returned by each activity: the state after the stage and its event.
type StageResult struct {
	State *orchestrator.WorkflowState `json:"state"`
	Event *orchestrator.Event         `json:"event"`
}

// Progress is the QueryProgress snapshot.
type Progress struct {
	Stage     orchestrator.Stage `json:"stage"`
	Next      orchestrator.Stage `json:"next"`
	Cycle     int                `json:"cycle"`
	Iteration int                `json:"iteration"`
	Score     float64            `json:"score"`
	Events    int                `json:"events"`
	Done      bool               `json:"done"`
}
