package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// WorkflowError is an activity failure outside the stage handlers, such as reading or
// writing the rendered diagram.
type WorkflowError struct {
	Operation string // e.g. "store diagram"
	Err       error
	Context   string
}

func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a WorkflowError.
func NewWorkflowError(operation string, err error, context string) *WorkflowError {
	return &WorkflowError{Operation: operation, Err: err, Context: context}
}

// ErrTypeInvalidInput is the application error type for rejected workflow input
const ErrTypeInvalidInput = "invalid_input"

// activityError converts a stage failure into a non-retryable Temporal application error
// whose type is the failure kind and whose details carry the ErrorInfo. A failed
// collaborator call ends the run; it is never repeated.
func activityError(stage orchestrator.Stage, err error) error {
	var se *orchestrator.StageError
	if !errors.As(err, &se) {
		se = &orchestrator.StageError{
			Kind:    orchestrator.KindUnexpectedState,
			Stage:   stage,
			Message: "stage handler failed",
			Err:     err,
		}
	}
	return temporal.NewNonRetryableApplicationError(se.Message, string(se.Kind), se.Err, *se.Info())
}

// failureInfo recovers the ErrorInfo of a failed activity. Timeouts and errors without
// details are attributed to the stage's own failure kind.
func failureInfo(stage orchestrator.Stage, err error) *orchestrator.ErrorInfo {
	if temporal.IsCanceledError(err) {
		return &orchestrator.ErrorInfo{Kind: orchestrator.KindCancelled, Stage: stage, Message: "run cancelled"}
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		var info orchestrator.ErrorInfo
		if appErr.HasDetails() && appErr.Details(&info) == nil && info.Kind != "" {
			return &info
		}
		if appErr.Type() != "" {
			return &orchestrator.ErrorInfo{Kind: orchestrator.ErrorKind(appErr.Type()), Stage: stage, Message: appErr.Error()}
		}
	}

	msg := err.Error()
	if temporal.IsTimeoutError(err) {
		msg = fmt.Sprintf("%s activity timed out", stage)
	}
	return &orchestrator.ErrorInfo{Kind: stageKind(stage), Stage: stage, Message: msg}
}

func stageKind(stage orchestrator.Stage) orchestrator.ErrorKind {
	switch stage {
	case orchestrator.StageGenerate:
		return orchestrator.KindGenerationFailure
	case orchestrator.StageRender:
		return orchestrator.KindRenderInvocationFailure
	case orchestrator.StageValidate:
		return orchestrator.KindValidationInvocationFailure
	default:
		return orchestrator.KindUnexpectedState
	}
}
