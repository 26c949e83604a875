package workflows

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

func TestWorkflowError(t *testing.T) {
	base := errors.New("boom")
	err := NewWorkflowError("store diagram", base, "run-1")
	assert.Equal(t, "store diagram failed: boom (run-1)", err.Error())
	assert.ErrorIs(t, err, base)

	err = NewWorkflowError("load diagram", base, "")
	assert.Equal(t, "load diagram failed: boom", err.Error())
}

func TestActivityError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantType     string
		nonRetryable bool
	}{
		{
			name:         "generation failure",
			err:          &orchestrator.StageError{Kind: orchestrator.KindGenerationFailure, Stage: orchestrator.StageGenerate, Message: "no artifact"},
			wantType:     "generation_failure",
			nonRetryable: true,
		},
		{
			name:         "validation failure",
			err:          &orchestrator.StageError{Kind: orchestrator.KindValidationInvocationFailure, Stage: orchestrator.StageValidate, Message: "validator call failed"},
			wantType:     "validation_invocation_failure",
			nonRetryable: true,
		},
		{
			name:         "render invocation failure",
			err:          &orchestrator.StageError{Kind: orchestrator.KindRenderInvocationFailure, Stage: orchestrator.StageRender, Message: "renderer invocation failed"},
			wantType:     "render_invocation_failure",
			nonRetryable: true,
		},
		{
			name:         "untyped error",
			err:          errors.New("nil render result"),
			wantType:     "unexpected_state",
			nonRetryable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := activityError(orchestrator.StageRender, tt.err)
			var appErr *temporal.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantType, appErr.Type())
			assert.Equal(t, tt.nonRetryable, appErr.NonRetryable())
		})
	}
}

func TestFailureInfo(t *testing.T) {
	se := &orchestrator.StageError{
		Kind:    orchestrator.KindGenerationFailure,
		Stage:   orchestrator.StageGenerate,
		Message: "no artifact in generator response",
		Trace:   "*errors.errorString: artifact markers not found",
	}
	info := failureInfo(orchestrator.StageGenerate, activityError(orchestrator.StageGenerate, se))
	assert.Equal(t, se.Info(), info)

	info = failureInfo(orchestrator.StageRender, temporal.NewApplicationError("storing rendered diagram", "render_invocation_failure"))
	assert.Equal(t, orchestrator.KindRenderInvocationFailure, info.Kind)
	assert.Equal(t, orchestrator.StageRender, info.Stage)

	info = failureInfo(orchestrator.StageValidate, temporal.NewCanceledError())
	assert.Equal(t, orchestrator.KindCancelled, info.Kind)

	info = failureInfo(orchestrator.StageValidate, errors.New("connection reset"))
	assert.Equal(t, orchestrator.KindValidationInvocationFailure, info.Kind)
	assert.Equal(t, "connection reset", info.Message)
}

func TestStageKind(t *testing.T) {
	assert.Equal(t, orchestrator.KindGenerationFailure, stageKind(orchestrator.StageGenerate))
	assert.Equal(t, orchestrator.KindRenderInvocationFailure, stageKind(orchestrator.StageRender))
	assert.Equal(t, orchestrator.KindValidationInvocationFailure, stageKind(orchestrator.StageValidate))
	assert.Equal(t, orchestrator.KindUnexpectedState, stageKind(orchestrator.StageStart))
}
