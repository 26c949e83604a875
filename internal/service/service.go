package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/events"
	"github.com/fyrsmithlabs/archagent/internal/exemplar"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/publish"
	"github.com/fyrsmithlabs/archagent/internal/redact"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
)

var (
	// ErrEmptyRequirement is returned when the requirement is blank.
	ErrEmptyRequirement = errors.New("requirement is required")
	// ErrShuttingDown is returned by Start after Shutdown.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = runstore.ErrNotFound
)

// Runner executes one refinement run. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest, emit orchestrator.EventCallback) (*orchestrator.Outcome, error)
}

// Indexer stores accepted designs for retrieval. exemplar.Filtered implements it.
type Indexer interface {
	Add(ctx context.Context, ex exemplar.Exemplar) error
}

// Options wires the service's collaborators. Runner, Store and Artifacts are required.
type Options struct {
	Runner     Runner
	Store      runstore.Store
	Artifacts  artifact.Store
	Exemplars  Indexer
	Publishers []publish.Publisher
	Bus        events.Publisher
	Scrubber   *redact.Scrubber

	MaxConcurrentRuns int
	Logger            *zap.Logger
	Metrics           *Metrics
}

// StartRequest describes a run to start.
type StartRequest struct {
	Requirement string `json:"requirement"`
	ModelID     string `json:"model_id,omitempty"`
	MaxCycles   int    `json:"max_cycles,omitempty"`
}

// Service runs refinement jobs and records everything they produce.
type Service struct {
	runner     Runner
	store      runstore.Store
	artifacts  artifact.Store
	exemplars  Indexer
	publishers []publish.Publisher
	bus        events.Publisher
	scrubber   *redact.Scrubber
	hub        *events.Hub
	metrics    *Metrics
	logger     *zap.Logger

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]chan struct{}
	closed bool
}

// New validates opts and creates the service.
func New(opts Options) (*Service, error) {
	if opts.Runner == nil {
		return nil, errors.New("service: runner is required")
	}
	if opts.Store == nil {
		return nil, errors.New("service: run store is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("service: artifact store is required")
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Bus == nil {
		opts.Bus = events.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:     opts.Runner,
		store:      opts.Store,
		artifacts:  opts.Artifacts,
		exemplars:  opts.Exemplars,
		publishers: opts.Publishers,
		bus:        opts.Bus,
		scrubber:   opts.Scrubber,
		hub:        events.NewHub(256),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		sem:        make(chan struct{}, opts.MaxConcurrentRuns),
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]chan struct{}),
	}, nil
}

// Start persists a pending run and executes it in the background. It returns as soon as
// the run is recorded; the run waits for a free slot when MaxConcurrentRuns are busy.
func (s *Service) Start(ctx context.Context, req StartRequest) (*runstore.Run, error) {
	run, done, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	snapshot := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			s.abandon(run, done, s.ctx.Err())
			return
		}
		defer func() { <-s.sem }()
		s.execute(s.ctx, run, done)
	}()
	return &snapshot, nil
}

// Execute runs synchronously and returns the finished run. Cancelling ctx cancels the run.
func (s *Service) Execute(ctx context.Context, req StartRequest) (*runstore.Run, error) {
	run, done, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.abandon(run, done, ctx.Err())
		return run, ctx.Err()
	}
	defer func() { <-s.sem }()

	s.execute(ctx, run, done)
	return run, nil
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, id string) (*runstore.Run, error) {
	return s.store.Get(ctx, id)
}

// List returns recent runs.
func (s *Service) List(ctx context.Context, opts runstore.ListOptions) ([]*runstore.Run, error) {
	return s.store.List(ctx, opts)
}

// Events returns the recorded events of a run.
func (s *Service) Events(ctx context.Context, id string) ([]orchestrator.Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// Artifact returns one stored file of a run.
func (s *Service) Artifact(ctx context.Context, id, name string) ([]byte, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.artifacts.Get(ctx, id, name)
}

// Artifacts lists the stored files of a run.
func (s *Service) Artifacts(ctx context.Context, id string) ([]string, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.artifacts.List(ctx, id)
}

// Subscribe returns live events for a run. The channel closes after the terminal event.
func (s *Service) Subscribe(id string) (<-chan orchestrator.Event, func()) {
	return s.hub.Subscribe(id)
}

// Follow returns a run's recorded events and, when the run is still going, a channel of
// the events that come after them. live is nil for finished runs.
func (s *Service) Follow(ctx context.Context, id string) (history []orchestrator.Event, live <-chan orchestrator.Event, cancel func(), err error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, func() {}, err
	}

	var ch <-chan orchestrator.Event
	cancel = func() {}
	if !run.Status.Terminal() {
		// Subscribe before reading history so nothing falls between the two.
		ch, cancel = s.hub.Subscribe(id)
	}

	history, err = s.store.Events(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, func() {}, err
	}

	if ch == nil {
		return history, nil, cancel, nil
	}
	if !s.isActive(id) {
		// Finished between the status check and the subscription.
		cancel()
		history, err = s.store.Events(ctx, id)
		return history, nil, func() {}, err
	}

	last := 0
	if n := len(history); n > 0 {
		last = history[n-1].Sequence
	}
	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			cancel()
		})
	}
	return history, skipSeen(ch, last, stop), unsubscribe, nil
}

// Wait blocks until the run finishes or ctx ends, then returns the run.
func (s *Service) Wait(ctx context.Context, id string) (*runstore.Run, error) {
	s.mu.Lock()
	done, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.Get(ctx, id)
}

// Shutdown cancels background runs and waits for them to record their final state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

func (s *Service) prepare(ctx context.Context, req StartRequest) (*runstore.Run, chan struct{}, error) {
	requirement := strings.TrimSpace(req.Requirement)
	if requirement == "" {
		return nil, nil, ErrEmptyRequirement
	}
	if req.MaxCycles < 0 {
		return nil, nil, fmt.Errorf("max_cycles must be >= 0, got %d", req.MaxCycles)
	}

	if r := s.scrubber.Scrub(requirement); r.Redacted() {
		s.logger.Warn("redacted secrets from requirement", zap.Strings("rules", r.Rules()))
		requirement = r.Text
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrShuttingDown
	}
	s.mu.Unlock()

	run := &runstore.Run{
		ID:          uuid.NewString(),
		Requirement: requirement,
		ModelID:     req.ModelID,
		MaxCycles:   req.MaxCycles,
		Status:      runstore.StatusPending,
	}

	// Registered before the row exists so Follow never sees a live run as inactive.
	done := make(chan struct{})
	s.mu.Lock()
	s.active[run.ID] = done
	s.mu.Unlock()

	if err := s.store.Create(ctx, run); err != nil {
		s.finish(run.ID, done)
		return nil, nil, fmt.Errorf("recording run: %w", err)
	}
	return run, done, nil
}

func (s *Service) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// abandon records a run that never got a slot.
func (s *Service) abandon(run *runstore.Run, done chan struct{}, cause error) {
	out := &orchestrator.Outcome{Error: &orchestrator.ErrorInfo{
		Kind:    orchestrator.KindCancelled,
		Stage:   orchestrator.StageStart,
		Message: "run cancelled before it started",
	}}
	run.Complete(out, time.Now().UTC())
	if err := s.store.Update(context.Background(), run); err != nil {
		s.logger.Error("recording abandoned run", zap.String("run.id", run.ID), zap.Error(err))
	}
	s.metrics.RunsTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("run abandoned", zap.String("run.id", run.ID), zap.Error(cause))
	s.finish(run.ID, done)
}

func (s *Service) finish(id string, done chan struct{}) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	close(done)
}

// skipSeen forwards events with a sequence greater than last until in closes or stop is
// closed.
func skipSeen(in <-chan orchestrator.Event, last int, stop <-chan struct{}) <-chan orchestrator.Event {
	out := make(chan orchestrator.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Sequence <= last {
				continue
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out
}
