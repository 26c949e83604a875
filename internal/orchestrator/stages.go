package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/archagent/internal/orchestrator"

var tracer = otel.Tracer(instrumentationName)

// StageHandler executes one stage against the run state and returns the stage event
type StageHandler interface {
	Stage() Stage
	Execute(ctx context.Context, state *WorkflowState) (*Event, error)
}

func startSpan(ctx context.Context, stage Stage, state *WorkflowState) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator."+string(stage), trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.Int("cycle", state.Cycle),
		attribute.Int("iteration", state.IterationCount),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// GenerateHandler calls the Generator and extracts the artifact
type GenerateHandler struct {
	generator Generator
}

// NewGenerateHandler creates the Generate stage
func NewGenerateHandler(g Generator) *GenerateHandler {
	return &GenerateHandler{generator: g}
}

func (h *GenerateHandler) Stage() Stage { return StageGenerate }

func (h *GenerateHandler) Execute(ctx context.Context, state *WorkflowState) (_ *Event, err error) {
	state.Cycle++
	ctx, span := startSpan(ctx, StageGenerate, state)
	defer func() { endSpan(span, err) }()

	req := GenerateRequest{
		RunID:              state.RunID,
		Requirement:        state.Requirement,
		PreviousValidation: state.PreviousValidation,
		PreviousScore:      state.PreviousScore,
		ModelID:            state.ModelID,
		Cycle:              state.Cycle,
		History:            state.History(),
	}
	if req.Refining() {
		state.appendHistory("user", fmt.Sprintf("Refine the design. Previous score: %v\n%s", state.PreviousScore, state.PreviousValidation))
	} else {
		state.appendHistory("user", state.Requirement)
	}

	response, err := h.generator.Generate(ctx, req)
	if err != nil {
		return nil, newStageError(KindGenerationFailure, StageGenerate, "generator call failed", err)
	}
	state.appendHistory("assistant", response)

	ext, err := ExtractArtifact(response)
	if err != nil {
		return nil, newStageError(KindGenerationFailure, StageGenerate, "no artifact in generator response", err)
	}

	state.Artifact = ext.Artifact
	state.Explanation = ext.Explanation
	state.CurrentStage = StageGenerate
	span.SetAttributes(attribute.Int("artifact.bytes", len(ext.Artifact)))

	return &Event{
		Type:        EventStage,
		Stage:       StageGenerate,
		Artifact:    ext.Artifact,
		Explanation: ext.Explanation,
	}, nil
}

// RenderHandler calls the Renderer
type RenderHandler struct {
	renderer Renderer
}

// NewRenderHandler creates the Render stage
func NewRenderHandler(r Renderer) *RenderHandler {
	return &RenderHandler{renderer: r}
}

func (h *RenderHandler) Stage() Stage { return StageRender }

func (h *RenderHandler) Execute(ctx context.Context, state *WorkflowState) (_ *Event, err error) {
	ctx, span := startSpan(ctx, StageRender, state)
	defer func() { endSpan(span, err) }()

	if state.Artifact == "" {
		return nil, newStageError(KindUnexpectedState, StageRender, "render requested without an artifact", nil)
	}

	res, err := h.renderer.Render(ctx, state.Artifact)
	if err != nil {
		return nil, newStageError(KindRenderInvocationFailure, StageRender, "renderer invocation failed", err)
	}
	if res == nil {
		return nil, newStageError(KindRenderInvocationFailure, StageRender, "renderer returned no result", errors.New("nil render result"))
	}

	fb := res.Feedback
	state.RenderSucceeded = res.Success
	state.RenderFeedback = &fb
	state.Image = res.Image
	state.CurrentStage = StageRender
	span.SetAttributes(
		attribute.Bool("render.success", res.Success),
		attribute.Int("render.warnings", len(fb.Warnings)),
		attribute.Int("render.errors", len(fb.Errors)),
	)

	ev := &Event{
		Type:            EventStage,
		Stage:           StageRender,
		RenderSucceeded: boolPtr(res.Success),
		RenderFeedback:  fb.Clone(),
	}
	if res.Image != nil {
		ev.ImagePath = res.Image.Path
	}
	return ev, nil
}

// ValidateHandler calls the Validator and parses the score
type ValidateHandler struct {
	validator Validator
}

// NewValidateHandler creates the Validate stage
func NewValidateHandler(v Validator) *ValidateHandler {
	return &ValidateHandler{validator: v}
}

func (h *ValidateHandler) Stage() Stage { return StageValidate }

func (h *ValidateHandler) Execute(ctx context.Context, state *WorkflowState) (_ *Event, err error) {
	ctx, span := startSpan(ctx, StageValidate, state)
	defer func() { endSpan(span, err) }()

	if state.RenderFeedback == nil {
		return nil, newStageError(KindUnexpectedState, StageValidate, "validate requested before render feedback exists", nil)
	}

	critique, err := h.validator.Validate(ctx, ValidateRequest{
		RunID:       state.RunID,
		Requirement: state.Requirement,
		Artifact:    state.Artifact,
		Explanation: state.Explanation,
		Feedback:    *state.RenderFeedback.Clone(),
		Image:       state.Image,
		ModelID:     state.ModelID,
	})
	if err != nil {
		return nil, newStageError(KindValidationInvocationFailure, StageValidate, "validator call failed", err)
	}

	// Unparsable scores count as 0 so they can never accept.
	score, _ := ParseScore(critique)

	state.ValidationResult = critique
	state.Score = score
	state.CurrentStage = StageValidate
	state.appendHistory("validator", critique)
	span.SetAttributes(attribute.Float64("score", score))

	return &Event{
		Type:             EventStage,
		Stage:            StageValidate,
		ValidationResult: critique,
		Score:            floatPtr(score),
	}, nil
}
