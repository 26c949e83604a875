package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

const bucketYAML = "Diagram:\n  Resources:\n    Bucket:\n      Type: AWS::S3::Bucket"

// ports records every call the activities make.
type ports struct {
	mu        sync.Mutex
	generated []orchestrator.GenerateRequest
	rendered  int
	validated []orchestrator.ValidateRequest

	genResponse string
	genErr      error
	renderErr   error
	critique    string
}

func newPorts() *ports {
	return &ports{
		genResponse: "<YAML>\n" + bucketYAML + "\n</YAML>\nExplanation: a single bucket",
		critique:    "Well designed. Score: 95",
	}
}

func (p *ports) Ports() Ports {
	return Ports{
		Generator: orchestrator.GeneratorFunc(func(_ context.Context, req orchestrator.GenerateRequest) (string, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.generated = append(p.generated, req)
			return p.genResponse, p.genErr
		}),
		Renderer: orchestrator.RendererFunc(func(_ context.Context, _ string) (*orchestrator.RenderResult, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.rendered++
			if p.renderErr != nil {
				return nil, p.renderErr
			}
			return &orchestrator.RenderResult{
				Success:  true,
				Feedback: orchestrator.RenderFeedback{Warnings: []string{"icon fallback"}},
				Image:    &orchestrator.Image{MediaType: "image/png", Data: []byte("png-bytes")},
			}, nil
		}),
		Validator: orchestrator.ValidatorFunc(func(_ context.Context, req orchestrator.ValidateRequest) (string, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.validated = append(p.validated, req)
			return p.critique, nil
		}),
	}
}

type findingGate struct{}

func (findingGate) Name() string { return "test-gate" }

func (findingGate) Check(context.Context, *orchestrator.WorkflowState) ([]orchestrator.Finding, error) {
	return []orchestrator.Finding{{Gate: "test-gate", Severity: orchestrator.SeverityWarning, Message: "checked"}}, nil
}

func newEnv(t *testing.T, p Ports, store artifact.Store) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	acts, err := NewActivities(p, store, nil)
	require.NoError(t, err)
	env.RegisterActivity(acts)
	return env
}

func input(cfg orchestrator.Config) RefinementInput {
	return RefinementInput{
		RunID:       "run-1",
		Requirement: "static website on S3",
		ModelID:     "claude-3-haiku-20240307",
		Config:      cfg,
	}
}

func eventTypes(events []orchestrator.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type) + ":" + string(ev.Stage)
	}
	return out
}

func TestRefinementWorkflow_Accepted(t *testing.T) {
	p := newPorts()
	store := artifact.NewMemoryStore()
	env := newEnv(t, p.Ports(), store)

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.Config{AcceptThreshold: 90, MaxCycles: 3}))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RefinementResult
	require.NoError(t, env.GetWorkflowResult(&result))

	out := result.Outcome
	assert.True(t, out.Accepted)
	assert.Equal(t, orchestrator.ReasonAccepted, out.Reason)
	assert.Equal(t, 95.0, out.Score)
	assert.Equal(t, 1, out.Cycles)
	assert.Equal(t, 4, out.Iterations)
	assert.Equal(t, bucketYAML, out.Artifact)
	assert.Equal(t, "a single bucket", out.Explanation)
	assert.Nil(t, out.Error)
	require.NotNil(t, out.Image)
	assert.Equal(t, artifact.DiagramFile, out.Image.Path)

	assert.Equal(t, []string{"stage:generate", "stage:render", "stage:validate", "finished:finish"}, eventTypes(result.Events))
	for i, ev := range result.Events {
		assert.Equal(t, i+1, ev.Sequence)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, 0.66, result.Events[1].Progress)
	assert.Equal(t, artifact.DiagramFile, result.Events[1].ImagePath)
	require.NotNil(t, result.Events[3].Outcome)
	assert.True(t, result.Events[3].Outcome.Accepted)

	stored, err := store.Get(context.Background(), "run-1", artifact.DiagramFile)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), stored)

	require.Len(t, p.validated, 1)
	require.NotNil(t, p.validated[0].Image)
	assert.Equal(t, []byte("png-bytes"), p.validated[0].Image.Data, "validator must see the stored image")
	assert.Equal(t, "claude-3-haiku-20240307", p.validated[0].ModelID)
}

func TestRefinementWorkflow_BudgetExhausted(t *testing.T) {
	p := newPorts()
	p.critique = "Missing redundancy. Score: 40"
	env := newEnv(t, p.Ports(), artifact.NewMemoryStore())

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.Config{AcceptThreshold: 90, MaxCycles: 2}))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result RefinementResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.False(t, result.Outcome.Accepted)
	assert.Equal(t, orchestrator.ReasonBudgetExhausted, result.Outcome.Reason)
	assert.Equal(t, 2, result.Outcome.Cycles)
	assert.Equal(t, orchestrator.IterationsForCycles(2), result.Outcome.Iterations)
	assert.Len(t, result.Events, 7)

	require.Len(t, p.generated, 2)
	assert.False(t, p.generated[0].Refining())
	assert.Equal(t, 40.0, p.generated[1].PreviousScore)
	assert.Equal(t, "Missing redundancy. Score: 40", p.generated[1].PreviousValidation)
	assert.Equal(t, 2, p.generated[1].Cycle)
	assert.NotEmpty(t, p.generated[1].History)
}

func TestRefinementWorkflow_GenerationFailureIsNotRetried(t *testing.T) {
	p := newPorts()
	p.genResponse = "no markers here"
	env := newEnv(t, p.Ports(), artifact.NewMemoryStore())

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.DefaultConfig()))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result RefinementResult
	require.NoError(t, env.GetWorkflowResult(&result))

	require.NotNil(t, result.Outcome.Error)
	assert.Equal(t, orchestrator.KindGenerationFailure, result.Outcome.Error.Kind)
	assert.Equal(t, orchestrator.StageGenerate, result.Outcome.Error.Stage)
	assert.False(t, result.Outcome.Accepted)
	assert.Len(t, p.generated, 1)

	require.Len(t, result.Events, 1)
	last := result.Events[0]
	assert.Equal(t, orchestrator.EventError, last.Type)
	assert.Equal(t, 1.0, last.Progress)
	require.NotNil(t, last.Error)
	assert.Equal(t, orchestrator.KindGenerationFailure, last.Error.Kind)
}

func TestRefinementWorkflow_RenderFailureEndsRunWithoutRetry(t *testing.T) {
	p := newPorts()
	p.renderErr = errors.New("awsdac: executable file not found")
	env := newEnv(t, p.Ports(), artifact.NewMemoryStore())

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.DefaultConfig()))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result RefinementResult
	require.NoError(t, env.GetWorkflowResult(&result))

	require.NotNil(t, result.Outcome.Error)
	assert.Equal(t, orchestrator.KindRenderInvocationFailure, result.Outcome.Error.Kind)
	assert.Equal(t, orchestrator.StageRender, result.Outcome.Error.Stage)
	assert.Equal(t, 1, p.rendered, "the renderer is called once")
	assert.Empty(t, p.validated)
	assert.Equal(t, bucketYAML, result.Outcome.Artifact, "partial state survives the failure")
	assert.Equal(t, []string{"stage:generate", "error:render"}, eventTypes(result.Events))
}

// putFailingStore rejects every write.
type putFailingStore struct {
	artifact.Store
}

func (putFailingStore) Put(context.Context, string, string, []byte) error {
	return errors.New("bucket unavailable")
}

func TestRefinementWorkflow_DiagramStoreFailureEndsRun(t *testing.T) {
	p := newPorts()
	env := newEnv(t, p.Ports(), putFailingStore{Store: artifact.NewMemoryStore()})

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.DefaultConfig()))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result RefinementResult
	require.NoError(t, env.GetWorkflowResult(&result))

	require.NotNil(t, result.Outcome.Error)
	assert.Equal(t, orchestrator.KindRenderInvocationFailure, result.Outcome.Error.Kind)
	assert.Equal(t, 1, p.rendered)
	assert.Empty(t, p.validated)
}

func TestActivityOptions_SingleAttempt(t *testing.T) {
	opts := ActivityOptions()
	require.NotNil(t, opts.RetryPolicy)
	assert.EqualValues(t, 1, opts.RetryPolicy.MaximumAttempts)
}

func TestRefinementWorkflow_GatesRunInsideActivities(t *testing.T) {
	p := newPorts()
	pp := p.Ports()
	pp.Gates = map[orchestrator.Stage][]orchestrator.Gate{
		orchestrator.StageValidate: {findingGate{}},
	}
	env := newEnv(t, pp, artifact.NewMemoryStore())

	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.DefaultConfig()))
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, p.validated, 1)
	assert.Contains(t, p.validated[0].Feedback.Warnings, "icon fallback")
	assert.Contains(t, p.validated[0].Feedback.Warnings, "[test-gate] checked")
}

func TestRefinementWorkflow_InvalidInput(t *testing.T) {
	env := newEnv(t, newPorts().Ports(), artifact.NewMemoryStore())

	in := input(orchestrator.DefaultConfig())
	in.Requirement = "  "
	env.ExecuteWorkflow(RefinementWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requirement is empty")
}

func TestRefinementWorkflow_Queries(t *testing.T) {
	env := newEnv(t, newPorts().Ports(), artifact.NewMemoryStore())
	env.ExecuteWorkflow(RefinementWorkflow, input(orchestrator.DefaultConfig()))
	require.NoError(t, env.GetWorkflowError())

	val, err := env.QueryWorkflow(QueryEvents, 2)
	require.NoError(t, err)
	var events []orchestrator.Event
	require.NoError(t, val.Get(&events))
	require.Len(t, events, 2)
	assert.Equal(t, 3, events[0].Sequence)
	assert.Equal(t, orchestrator.EventFinished, events[1].Type)

	val, err = env.QueryWorkflow(QueryProgress)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, val.Get(&progress))
	assert.True(t, progress.Done)
	assert.Equal(t, orchestrator.StageFinish, progress.Stage)
	assert.Equal(t, 4, progress.Events)
	assert.Equal(t, 95.0, progress.Score)
}

func TestRefinementInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RefinementInput)
		wantErr string
	}{
		{name: "valid", mutate: func(*RefinementInput) {}},
		{name: "missing run id", mutate: func(in *RefinementInput) { in.RunID = "" }, wantErr: "run_id is required"},
		{name: "blank requirement", mutate: func(in *RefinementInput) { in.Requirement = "\n" }, wantErr: "requirement is empty"},
		{name: "bad threshold", mutate: func(in *RefinementInput) { in.Config.AcceptThreshold = 120 }, wantErr: "accept_threshold"},
		{name: "negative cycles", mutate: func(in *RefinementInput) { in.Config.MaxCycles = -1 }, wantErr: "max_cycles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(orchestrator.DefaultConfig())
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewActivities_Validation(t *testing.T) {
	_, err := NewActivities(Ports{}, artifact.NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = NewActivities(newPorts().Ports(), nil, nil)
	assert.ErrorContains(t, err, "artifact store")
}
