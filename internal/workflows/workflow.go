package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// ActivityOptions returns the options every refinement activity runs with. Each stage
// activity makes a single attempt, so a failed collaborator call ends the run.
func ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// RefinementWorkflow drives orchestrator.Decide and the stage activities until the run
// finishes or a stage fails.
//
// This workflow:
// 1. Asks Decide for the next stage
// 2. Runs the Generate, Render or Validate activity on the state
// 3. Records the stage event, served to clients through QueryEvents
// 4. Returns the outcome and every event once Decide selects Finish
//
// Stage failures end the run with an error outcome; the workflow itself only fails on
// invalid input.
func RefinementWorkflow(ctx workflow.Context, input RefinementInput) (*RefinementResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}

	cfg := input.Config.WithDefaults()
	state := orchestrator.NewWorkflowState(input.RunID, input.Requirement, input.ModelID)
	state.StartedAt = workflow.Now(ctx)
	r := &refinement{cfg: cfg, state: state}

	if err := workflow.SetQueryHandler(ctx, QueryEvents, r.eventsAfter); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, r.progress); err != nil {
		return nil, err
	}

	logger.Info("Starting refinement",
		"run_id", input.RunID,
		"model_id", input.ModelID,
		"iteration_cap", cfg.IterationCap(),
		"accept_threshold", cfg.AcceptThreshold)

	ctx = workflow.WithActivityOptions(ctx, ActivityOptions())
	var a *Activities
	activities := map[orchestrator.Stage]any{
		orchestrator.StageGenerate: a.Generate,
		orchestrator.StageRender:   a.Render,
		orchestrator.StageValidate: a.Validate,
	}

	for {
		if ctx.Err() != nil {
			return r.fail(ctx, &orchestrator.ErrorInfo{
				Kind:    orchestrator.KindCancelled,
				Stage:   r.state.NextStage,
				Message: "run cancelled",
			}), nil
		}

		d := orchestrator.Decide(r.state, cfg)
		switch d.Reason {
		case orchestrator.ReasonUnexpectedState:
			logger.Warn("Unexpected state, regenerating",
				"stage", r.state.CurrentStage,
				"iteration", r.state.IterationCount)
		case orchestrator.ReasonRefine:
			logger.Info("Refinement cycle triggered",
				"previous_score", r.state.PreviousScore,
				"keyword", d.Keyword,
				"iteration", r.state.IterationCount)
		}

		if d.Next == orchestrator.StageFinish {
			return r.finish(ctx, d), nil
		}

		activityFn, ok := activities[d.Next]
		if !ok {
			return r.fail(ctx, &orchestrator.ErrorInfo{
				Kind:    orchestrator.KindUnexpectedState,
				Stage:   d.Next,
				Message: "no activity registered for stage " + string(d.Next),
			}), nil
		}

		var res StageResult
		if err := workflow.ExecuteActivity(ctx, activityFn, r.state).Get(ctx, &res); err != nil {
			logger.Error("Refinement stage failed", "stage", d.Next, "error", err, "cycle", r.state.Cycle)
			return r.fail(ctx, failureInfo(d.Next, err)), nil
		}
		if res.State == nil || res.Event == nil {
			return r.fail(ctx, &orchestrator.ErrorInfo{
				Kind:    orchestrator.KindUnexpectedState,
				Stage:   d.Next,
				Message: "activity returned an incomplete result",
			}), nil
		}

		r.state = res.State
		r.send(ctx, *res.Event)
	}
}

// refinement is the per-execution bookkeeping of RefinementWorkflow.
type refinement struct {
	cfg    orchestrator.Config
	state  *orchestrator.WorkflowState
	events []orchestrator.Event
	done   bool
}

func (r *refinement) eventsAfter(after int) ([]orchestrator.Event, error) {
	if after < 0 {
		after = 0
	}
	if after >= len(r.events) {
		return []orchestrator.Event{}, nil
	}
	return append([]orchestrator.Event(nil), r.events[after:]...), nil
}

func (r *refinement) progress() (Progress, error) {
	return Progress{
		Stage:     r.state.CurrentStage,
		Next:      r.state.NextStage,
		Cycle:     r.state.Cycle,
		Iteration: r.state.IterationCount,
		Score:     r.state.Score,
		Events:    len(r.events),
		Done:      r.done,
	}, nil
}

func (r *refinement) send(ctx workflow.Context, ev orchestrator.Event) {
	ev.RunID = r.state.RunID
	ev.Sequence = len(r.events) + 1
	ev.Cycle = r.state.Cycle
	ev.Iteration = r.state.IterationCount
	if ev.Progress == 0 {
		ev.Progress = ev.Stage.Progress()
	}
	ev.Timestamp = workflow.Now(ctx)
	r.events = append(r.events, ev)
}

func (r *refinement) outcome(ctx workflow.Context) orchestrator.Outcome {
	s := r.state
	return orchestrator.Outcome{
		Accepted:         r.cfg.Accepts(s),
		Score:            s.Score,
		Artifact:         s.Artifact,
		Explanation:      s.Explanation,
		ValidationResult: s.ValidationResult,
		RenderFeedback:   s.RenderFeedback.Clone(),
		Image:            s.Image,
		Cycles:           s.Cycle,
		Iterations:       s.IterationCount,
		Duration:         workflow.Now(ctx).Sub(s.StartedAt),
	}
}

func (r *refinement) finish(ctx workflow.Context, d orchestrator.Decision) *RefinementResult {
	out := r.outcome(ctx)
	out.Reason = d.Reason
	r.state.CurrentStage = orchestrator.StageFinish

	score := out.Score
	r.send(ctx, orchestrator.Event{
		Type:    orchestrator.EventFinished,
		Stage:   orchestrator.StageFinish,
		Score:   &score,
		Outcome: &out,
	})
	return r.result(ctx, out)
}

func (r *refinement) fail(ctx workflow.Context, info *orchestrator.ErrorInfo) *RefinementResult {
	out := r.outcome(ctx)
	out.Accepted = false
	out.Error = info

	workflow.GetLogger(ctx).Error("Refinement failed",
		"kind", info.Kind,
		"stage", info.Stage,
		"message", info.Message)
	r.send(ctx, orchestrator.Event{
		Type:     orchestrator.EventError,
		Stage:    info.Stage,
		Progress: 1.0,
		Error:    info,
	})
	return r.result(ctx, out)
}

func (r *refinement) result(ctx workflow.Context, out orchestrator.Outcome) *RefinementResult {
	r.done = true
	if !workflow.IsReplaying(ctx) {
		recordRefinement(&out)
	}
	workflow.GetLogger(ctx).Info("Refinement complete",
		"accepted", out.Accepted,
		"reason", out.Reason,
		"score", out.Score,
		"cycles", out.Cycles)
	return &RefinementResult{
		Outcome: out,
		Events:  append([]orchestrator.Event(nil), r.events...),
	}
}
