package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// ConfigSource supplies the refinement configuration for new runs.
// *orchestrator.Orchestrator implements it.
type ConfigSource interface {
	Config() orchestrator.Config
}

// Client is the part of client.Client the runner uses.
type Client interface {
	workflowStarter
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
}

var _ Client = (client.Client)(nil)

// RunnerOptions configures a TemporalRunner.
type RunnerOptions struct {
	// TaskQueue the workers poll (default: TaskQueue)
	TaskQueue string

	// PollInterval between event queries while a run is in progress (default: 500ms)
	PollInterval time.Duration

	// CancelGrace bounds the wait for a cancelled workflow to report its outcome (default: 30s)
	CancelGrace time.Duration

	// Artifacts restores the rendered image into the outcome. Optional.
	Artifacts artifact.Store

	Logger *zap.Logger
}

// TemporalRunner executes refinement runs as workflows on a Temporal cluster. It has the
// same contract as orchestrator.Orchestrator.Run, so the service can use either.
type TemporalRunner struct {
	client    Client
	config    ConfigSource
	taskQueue string
	poll      time.Duration
	grace     time.Duration
	artifacts artifact.Store
	logger    *zap.Logger
}

// NewTemporalRunner creates a runner that starts workflows through c.
func NewTemporalRunner(c Client, cfg ConfigSource, opts RunnerOptions) (*TemporalRunner, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if opts.TaskQueue == "" {
		opts.TaskQueue = TaskQueue
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &TemporalRunner{
		client:    c,
		config:    cfg,
		taskQueue: opts.TaskQueue,
		poll:      opts.PollInterval,
		grace:     opts.CancelGrace,
		artifacts: opts.Artifacts,
		logger:    opts.Logger,
	}, nil
}

// Run starts a workflow for req and relays its events to emit until it completes.
// Cancelling ctx cancels the workflow.
func (r *TemporalRunner) Run(ctx context.Context, req orchestrator.RunRequest, emit orchestrator.EventCallback) (*orchestrator.Outcome, error) {
	if strings.TrimSpace(req.Requirement) == "" {
		return &orchestrator.Outcome{}, orchestrator.ErrEmptyRequirement
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if emit == nil {
		emit = func(orchestrator.Event) {}
	}
	cfg := r.config.Config()
	if req.MaxCycles > 0 {
		cfg.MaxCycles = req.MaxCycles
		cfg.MaxIterations = 0
	}
	log := r.logger.With(zap.String("run.id", req.ID))

	run, err := StartRefinement(ctx, r.client, r.taskQueue, RefinementInput{
		RunID:       req.ID,
		Requirement: req.Requirement,
		ModelID:     req.ModelID,
		Config:      cfg,
	})
	if err != nil {
		se := &orchestrator.StageError{
			Kind:    orchestrator.KindUnexpectedState,
			Stage:   orchestrator.StageStart,
			Message: "starting refinement workflow",
			Err:     err,
		}
		return &orchestrator.Outcome{Error: se.Info()}, se
	}
	log.Info("refinement workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("workflow_run_id", run.GetRunID()),
	)

	relay := &relay{emit: emit}
	result, err := r.await(ctx, run, relay, log)
	if err != nil {
		kind := orchestrator.KindUnexpectedState
		if ctx.Err() != nil {
			kind = orchestrator.KindCancelled
		}
		se := &orchestrator.StageError{Kind: kind, Stage: orchestrator.StageStart, Message: "refinement workflow failed", Err: err}
		out := &orchestrator.Outcome{Error: se.Info()}
		relay.deliver([]orchestrator.Event{{
			RunID:     req.ID,
			Sequence:  relay.seq + 1,
			Type:      orchestrator.EventError,
			Stage:     se.Stage,
			Progress:  1.0,
			Timestamp: time.Now(),
			Error:     se.Info(),
		}})
		return out, se
	}

	relay.deliver(result.Events)
	out := &result.Outcome
	r.restoreImage(context.WithoutCancel(ctx), req.ID, out, log)
	if out.Error != nil {
		return out, &orchestrator.StageError{
			Kind:    out.Error.Kind,
			Stage:   out.Error.Stage,
			Message: out.Error.Message,
			Trace:   out.Error.Trace,
		}
	}
	return out, nil
}

// await polls the workflow for new events until it completes.
func (r *TemporalRunner) await(ctx context.Context, run client.WorkflowRun, relay *relay, log *zap.Logger) (*RefinementResult, error) {
	var result RefinementResult
	done := make(chan error, 1)
	go func() {
		done <- run.Get(context.WithoutCancel(ctx), &result)
	}()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	cancelled := ctx.Done()
	var grace <-chan time.Time

	for {
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
			return &result, nil

		case <-ticker.C:
			r.pollEvents(ctx, run, relay, log)

		case <-cancelled:
			cancelled = nil
			log.Info("cancelling refinement workflow")
			if err := r.client.CancelWorkflow(context.WithoutCancel(ctx), run.GetID(), run.GetRunID()); err != nil {
				log.Warn("cancelling workflow", zap.Error(err))
			}
			timer := time.NewTimer(r.grace)
			defer timer.Stop()
			grace = timer.C

		case <-grace:
			return nil, fmt.Errorf("workflow did not report an outcome within %s of cancellation: %w", r.grace, ctx.Err())
		}
	}
}

func (r *TemporalRunner) pollEvents(ctx context.Context, run client.WorkflowRun, relay *relay, log *zap.Logger) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.poll*4)
	defer cancel()

	val, err := r.client.QueryWorkflow(qctx, run.GetID(), run.GetRunID(), QueryEvents, relay.seq)
	if err != nil {
		// The first workflow task may not have run yet.
		log.Debug("querying workflow events", zap.Error(err))
		return
	}
	var events []orchestrator.Event
	if err := val.Get(&events); err != nil {
		log.Warn("decoding workflow events", zap.Error(err))
		return
	}
	relay.deliver(events)
}

// restoreImage loads the stored diagram bytes, which workflow history does not carry.
func (r *TemporalRunner) restoreImage(ctx context.Context, runID string, out *orchestrator.Outcome, log *zap.Logger) {
	if r.artifacts == nil || out.Image == nil || len(out.Image.Data) > 0 || out.Image.Path == "" {
		return
	}
	data, err := r.artifacts.Get(ctx, runID, out.Image.Path)
	if err != nil {
		log.Warn("loading rendered diagram", zap.Error(err))
		return
	}
	out.Image.Data = data
}

// relay forwards events to the callback once each, in sequence order.
type relay struct {
	emit orchestrator.EventCallback
	seq  int
}

func (r *relay) deliver(events []orchestrator.Event) {
	for _, ev := range events {
		if ev.Sequence <= r.seq {
			continue
		}
		r.seq = ev.Sequence
		r.emit(ev)
	}
}
