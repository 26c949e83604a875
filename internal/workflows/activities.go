package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// Ports are the collaborators the activities call.
type Ports struct {
	Generator orchestrator.Generator
	Renderer  orchestrator.Renderer
	Validator orchestrator.Validator

	// Gates run inside the activity of their stage, before the stage handler.
	Gates map[orchestrator.Stage][]orchestrator.Gate
}

// Activities executes the refinement stages for RefinementWorkflow. Each activity takes
// the workflow state, runs one orchestrator stage handler on it and returns the result.
//
// Rendered images do not travel through workflow history: Render stores them in the
// artifact store and Validate loads them back.
type Activities struct {
	generate  *orchestrator.GenerateHandler
	render    *orchestrator.RenderHandler
	validate  *orchestrator.ValidateHandler
	gates     map[orchestrator.Stage][]orchestrator.Gate
	artifacts artifact.Store
	logger    *zap.Logger
}

// NewActivities creates the activities. All ports and the artifact store are required.
func NewActivities(ports Ports, artifacts artifact.Store, logger *zap.Logger) (*Activities, error) {
	if ports.Generator == nil || ports.Renderer == nil || ports.Validator == nil {
		return nil, errors.New("generator, renderer and validator are required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		generate:  orchestrator.NewGenerateHandler(ports.Generator),
		render:    orchestrator.NewRenderHandler(ports.Renderer),
		validate:  orchestrator.NewValidateHandler(ports.Validator),
		gates:     ports.Gates,
		artifacts: artifacts,
		logger:    logger,
	}, nil
}

// Generate runs the Generate stage.
func (a *Activities) Generate(ctx context.Context, state *orchestrator.WorkflowState) (*StageResult, error) {
	return a.run(ctx, a.generate, state)
}

// Render runs the Render stage and stores the rendered image.
func (a *Activities) Render(ctx context.Context, state *orchestrator.WorkflowState) (*StageResult, error) {
	res, err := a.run(ctx, a.render, state)
	if err != nil {
		return nil, err
	}

	img := res.State.Image
	if img == nil || len(img.Data) == 0 {
		return res, nil
	}
	if err := a.artifacts.Put(ctx, state.RunID, artifact.DiagramFile, img.Data); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("storing rendered diagram",
			string(orchestrator.KindRenderInvocationFailure), NewWorkflowError("store diagram", err, state.RunID))
	}
	img.Path = artifact.DiagramFile
	res.Event.ImagePath = img.Path
	return res, nil
}

// Validate loads the stored image and runs the Validate stage.
func (a *Activities) Validate(ctx context.Context, state *orchestrator.WorkflowState) (*StageResult, error) {
	if state != nil && state.Image != nil && len(state.Image.Data) == 0 && state.Image.Path != "" {
		data, err := a.artifacts.Get(ctx, state.RunID, state.Image.Path)
		switch {
		case err == nil:
			state.Image.Data = data
		case errors.Is(err, artifact.ErrNotFound):
			// The Validator falls back to the YAML alone.
			state.Image = nil
		default:
			return nil, temporal.NewNonRetryableApplicationError("loading rendered diagram",
				string(orchestrator.KindValidationInvocationFailure), NewWorkflowError("load diagram", err, state.RunID))
		}
	}
	return a.run(ctx, a.validate, state)
}

func (a *Activities) run(ctx context.Context, h orchestrator.StageHandler, state *orchestrator.WorkflowState) (*StageResult, error) {
	stage := h.Stage()
	if state == nil {
		return nil, temporal.NewNonRetryableApplicationError("missing workflow state",
			string(orchestrator.KindUnexpectedState), nil)
	}
	log := a.logger.With(
		zap.String("run.id", state.RunID),
		zap.String("stage", string(stage)),
		zap.Int32("attempt", activity.GetInfo(ctx).Attempt),
	)

	start := time.Now()
	ev, err := a.execute(ctx, h, state)
	recordActivity(ctx, stage, time.Since(start), err)
	if err != nil {
		log.Warn("activity failed", zap.String("kind", string(orchestrator.KindOf(err))), zap.Error(err))
		return nil, activityError(stage, err)
	}

	log.Debug("activity completed",
		zap.Int("cycle", state.Cycle),
		zap.Duration("duration", time.Since(start)),
	)
	return &StageResult{State: state, Event: ev}, nil
}

func (a *Activities) execute(ctx context.Context, h orchestrator.StageHandler, state *orchestrator.WorkflowState) (*orchestrator.Event, error) {
	if err := orchestrator.RunGates(ctx, h.Stage(), state, a.gates[h.Stage()]); err != nil {
		return nil, err
	}
	ev, err := h.Execute(ctx, state)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("%s handler returned no event", h.Stage())
	}
	return ev, nil
}
