package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunRequest starts one refinement run
type RunRequest struct {
	ID          string `json:"id,omitempty"`
	Requirement string `json:"requirement"`
	ModelID     string `json:"model_id,omitempty"`

	// MaxCycles overrides the configured cycle budget when > 0
	MaxCycles int `json:"max_cycles,omitempty"`
}

// ErrEmptyRequirement is returned for a blank requirement
var ErrEmptyRequirement = errors.New("requirement is empty")

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConfig sets the refinement configuration
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg.WithDefaults() }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGate registers a gate that runs before stage
func WithGate(stage Stage, g Gate) Option {
	return func(o *Orchestrator) { o.RegisterGate(stage, g) }
}

// Orchestrator drives Decide and the stage handlers until a run finishes.
// It holds no per-run state and may serve concurrent runs.
type Orchestrator struct {
	handlers map[Stage]StageHandler
	gates    map[Stage][]Gate
	logger   *zap.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewOrchestrator creates an orchestrator with handlers for the three ports
func NewOrchestrator(gen Generator, rend Renderer, val Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		handlers: make(map[Stage]StageHandler),
		gates:    make(map[Stage][]Gate),
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
	}
	o.RegisterHandler(NewGenerateHandler(gen))
	o.RegisterHandler(NewRenderHandler(rend))
	o.RegisterHandler(NewValidateHandler(val))
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterHandler replaces the handler for a stage
func (o *Orchestrator) RegisterHandler(h StageHandler) {
	o.handlers[h.Stage()] = h
}

// RegisterGate adds a gate that runs before stage
func (o *Orchestrator) RegisterGate(stage Stage, g Gate) {
	o.gates[stage] = append(o.gates[stage], g)
}

// Config returns the active configuration
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// SetConfig replaces the configuration for runs started afterwards.
// Runs already in progress keep the configuration they started with.
func (o *Orchestrator) SetConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	return nil
}

// Run executes one refinement run, delivering events to emit in order.
// The returned outcome is never nil; on a fatal failure it carries the partial state and
// the error is a *StageError.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, emit EventCallback) (*Outcome, error) {
	if strings.TrimSpace(req.Requirement) == "" {
		return &Outcome{}, ErrEmptyRequirement
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	cfg := o.Config()
	if req.MaxCycles > 0 {
		cfg.MaxCycles = req.MaxCycles
		cfg.MaxIterations = 0
	}
	if emit == nil {
		emit = func(Event) {}
	}

	state := NewWorkflowState(req.ID, req.Requirement, req.ModelID)
	log := o.logger.With(zap.String("run.id", req.ID))
	r := &runner{o: o, cfg: cfg, state: state, emit: emit, log: log}

	log.Info("refinement run started",
		zap.String("model_id", req.ModelID),
		zap.Int("iteration_cap", cfg.IterationCap()),
		zap.Float64("accept_threshold", cfg.AcceptThreshold),
	)
	return r.loop(ctx)
}

// Stream runs the request on a new goroutine and returns its events on a channel that is
// closed after the terminal event. Sends block until the consumer receives or ctx ends.
func (o *Orchestrator) Stream(ctx context.Context, req RunRequest) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		_, _ = o.Run(ctx, req, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

type runner struct {
	o     *Orchestrator
	cfg   Config
	state *WorkflowState
	emit  EventCallback
	log   *zap.Logger
	seq   int
}

func (r *runner) loop(ctx context.Context) (*Outcome, error) {
	for {
		select {
		case <-ctx.Done():
			return r.fail(newStageError(KindCancelled, r.state.NextStage, "run cancelled", ctx.Err()))
		default:
		}

		d := Decide(r.state, r.cfg)
		switch d.Reason {
		case ReasonUnexpectedState:
			r.log.Warn("unexpected state, regenerating",
				zap.String("stage", string(r.state.CurrentStage)),
				zap.Int("iteration", r.state.IterationCount),
				zap.Bool("has_artifact", r.state.Artifact != ""),
				zap.Bool("has_validation", r.state.ValidationResult != ""),
			)
		case ReasonRefine:
			r.log.Info("refinement cycle triggered",
				zap.Float64("previous_score", r.state.PreviousScore),
				zap.String("keyword", d.Keyword),
				zap.Int("iteration", r.state.IterationCount),
			)
		}

		if d.Next == StageFinish {
			return r.finish(d), nil
		}

		if se := r.runGates(ctx, d.Next); se != nil {
			return r.fail(se)
		}

		handler, ok := r.o.handlers[d.Next]
		if !ok {
			return r.fail(newStageError(KindUnexpectedState, d.Next, fmt.Sprintf("no handler registered for stage %s", d.Next), nil))
		}

		ev, err := r.execute(ctx, handler)
		if err != nil {
			var se *StageError
			if ctx.Err() != nil {
				se = newStageError(KindCancelled, d.Next, "run cancelled", err)
			} else if !errors.As(err, &se) {
				se = newStageError(KindUnexpectedState, d.Next, "stage handler failed", err)
			}
			return r.fail(se)
		}
		r.send(*ev)
	}
}

func (r *runner) execute(ctx context.Context, h StageHandler) (*Event, error) {
	stageCtx := ctx
	if r.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, r.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	ev, err := h.Execute(stageCtx, r.state)
	r.log.Debug("stage completed",
		zap.String("stage", string(h.Stage())),
		zap.Int("cycle", r.state.Cycle),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return ev, err
}

func (r *runner) runGates(ctx context.Context, stage Stage) *StageError {
	gates := r.o.gates[stage]
	if len(gates) == 0 {
		return nil
	}
	err := RunGates(ctx, stage, r.state, gates)
	if err == nil {
		return nil
	}
	var se *StageError
	if !errors.As(err, &se) {
		se = newStageError(KindUnexpectedState, stage, "gate failed", err)
	}
	return se
}

// Gates returns the gates registered for stage
func (o *Orchestrator) Gates(stage Stage) []Gate {
	return append([]Gate(nil), o.gates[stage]...)
}

func (r *runner) send(ev Event) {
	r.seq++
	ev.RunID = r.state.RunID
	ev.Sequence = r.seq
	ev.Cycle = r.state.Cycle
	ev.Iteration = r.state.IterationCount
	if ev.Progress == 0 {
		ev.Progress = ev.Stage.Progress()
	}
	ev.Timestamp = time.Now()
	r.emit(ev)
}

func (r *runner) outcome() *Outcome {
	s := r.state
	return &Outcome{
		Accepted:         r.cfg.Accepts(s),
		Score:            s.Score,
		Artifact:         s.Artifact,
		Explanation:      s.Explanation,
		ValidationResult: s.ValidationResult,
		RenderFeedback:   s.RenderFeedback.Clone(),
		Image:            s.Image,
		Cycles:           s.Cycle,
		Iterations:       s.IterationCount,
		Duration:         time.Since(s.StartedAt),
	}
}

func (r *runner) finish(d Decision) *Outcome {
	out := r.outcome()
	out.Reason = d.Reason
	r.state.CurrentStage = StageFinish

	r.log.Info("refinement run finished",
		zap.Bool("accepted", out.Accepted),
		zap.String("reason", string(d.Reason)),
		zap.Float64("score", out.Score),
		zap.Int("cycles", out.Cycles),
		zap.Int("iterations", out.Iterations),
	)
	r.send(Event{Type: EventFinished, Stage: StageFinish, Score: floatPtr(out.Score), Outcome: out})
	return out
}

func (r *runner) fail(se *StageError) (*Outcome, error) {
	out := r.outcome()
	out.Accepted = false
	out.Error = se.Info()

	r.log.Error("refinement run failed",
		zap.String("kind", string(se.Kind)),
		zap.String("stage", string(se.Stage)),
		zap.Error(se),
	)
	r.send(Event{Type: EventError, Stage: se.Stage, Progress: 1.0, Error: se.Info()})
	return out, se
}
