package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/exemplar"
	"github.com/fyrsmithlabs/archagent/internal/logging"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/publish"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
)

// execute runs the orchestrator and records the outcome. The terminal event is held back
// until the run row and artifacts are written so subscribers never see a finished event
// for a run that still reads as running.
func (s *Service) execute(ctx context.Context, run *runstore.Run, done chan struct{}) {
	ctx = logging.WithRunID(ctx, run.ID)
	log := s.logger.With(zap.String("run.id", run.ID))
	// Bookkeeping must outlive a cancelled run.
	persistCtx := context.WithoutCancel(ctx)

	run.Status = runstore.StatusRunning
	if err := s.store.Update(persistCtx, run); err != nil {
		log.Error("marking run as running", zap.Error(err))
	}

	s.metrics.ActiveRuns.Inc()
	defer s.metrics.ActiveRuns.Dec()

	var terminal *orchestrator.Event
	lastStageAt := time.Now()
	emit := func(ev orchestrator.Event) {
		if err := s.store.AppendEvent(persistCtx, ev); err != nil {
			log.Warn("recording event", zap.Int("sequence", ev.Sequence), zap.Error(err))
		}
		if ev.Type == orchestrator.EventStage {
			s.metrics.StageDuration.WithLabelValues(string(ev.Stage)).Observe(ev.Timestamp.Sub(lastStageAt).Seconds())
			lastStageAt = ev.Timestamp
		}
		if ev.Terminal() {
			held := ev
			terminal = &held
			return
		}
		s.broadcast(persistCtx, ev, log)
	}

	out, err := s.runner.Run(ctx, orchestrator.RunRequest{
		ID:          run.ID,
		Requirement: run.Requirement,
		ModelID:     run.ModelID,
		MaxCycles:   run.MaxCycles,
	}, emit)
	if out == nil {
		out = &orchestrator.Outcome{}
	}
	if err != nil && out.Error == nil {
		out.Error = &orchestrator.ErrorInfo{
			Kind:    orchestrator.KindUnexpectedState,
			Stage:   orchestrator.StageStart,
			Message: err.Error(),
		}
	}

	run.Complete(out, time.Now().UTC())
	s.storeArtifacts(persistCtx, run, out, log)
	if err := s.store.Update(persistCtx, run); err != nil {
		log.Error("recording run outcome", zap.Error(err))
	}
	s.observe(run, out)

	if run.Accepted {
		s.index(persistCtx, run, log)
		s.publish(persistCtx, run, out, log)
	}

	s.finish(run.ID, done)
	if terminal != nil {
		s.broadcast(persistCtx, *terminal, log)
	}

	log.Info("run recorded",
		zap.String("status", string(run.Status)),
		zap.Bool("accepted", run.Accepted),
		zap.Float64("score", run.Score),
		zap.Int("cycles", run.Cycles),
	)
}

func (s *Service) broadcast(ctx context.Context, ev orchestrator.Event, log *zap.Logger) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		log.Warn("publishing event", zap.Int("sequence", ev.Sequence), zap.Error(err))
	}
	_ = s.hub.Publish(ctx, ev)
}

func (s *Service) observe(run *runstore.Run, out *orchestrator.Outcome) {
	outcome := "rejected"
	switch {
	case out.Error != nil && out.Error.Kind == orchestrator.KindCancelled:
		outcome = "cancelled"
	case out.Error != nil:
		outcome = "failed"
	case run.Accepted:
		outcome = "accepted"
	}
	s.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	if out.Error == nil {
		s.metrics.RunCycles.Observe(float64(out.Cycles))
		s.metrics.FinalScore.Observe(out.Score)
	}
}

// storeArtifacts writes whatever the run produced, including partial output of failed runs.
func (s *Service) storeArtifacts(ctx context.Context, run *runstore.Run, out *orchestrator.Outcome, log *zap.Logger) {
	put := func(name string, content []byte) {
		if len(content) == 0 {
			return
		}
		if err := s.artifacts.Put(ctx, run.ID, name, content); err != nil {
			log.Warn("storing artifact", zap.String("name", name), zap.Error(err))
		}
	}
	put(artifact.DesignFile, []byte(out.Artifact))
	put(artifact.ExplanationFile, []byte(out.Explanation))
	put(artifact.CritiqueFile, []byte(out.ValidationResult))
	if out.Image != nil {
		put(artifact.DiagramFile, out.Image.Data)
	}
}

func (s *Service) index(ctx context.Context, run *runstore.Run, log *zap.Logger) {
	if s.exemplars == nil {
		return
	}
	err := s.exemplars.Add(ctx, exemplar.Exemplar{
		RunID:       run.ID,
		Requirement: run.Requirement,
		Artifact:    run.Artifact,
		Explanation: run.Explanation,
		Score:       run.Score,
		CreatedAt:   run.CreatedAt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("indexing exemplar", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, run *runstore.Run, out *orchestrator.Outcome, log *zap.Logger) {
	if len(s.publishers) == 0 {
		return
	}
	texts, findings := s.scrubber.ScrubAll(run.Requirement, run.Artifact, run.Explanation, run.Critique)
	if len(findings) > 0 {
		log.Warn("redacted secrets before publishing", zap.Int("findings", len(findings)))
	}
	d := publish.Design{
		RunID:       run.ID,
		Requirement: texts[0],
		Artifact:    texts[1],
		Explanation: texts[2],
		Critique:    texts[3],
		Score:       run.Score,
		CreatedAt:   run.CreatedAt,
	}
	if out.Image != nil {
		d.Image = out.Image.Data
	}
	for _, p := range s.publishers {
		loc, err := p.Publish(ctx, d)
		if err != nil {
			s.metrics.PublishErrors.WithLabelValues(p.Name()).Inc()
			log.Warn("publishing design", zap.String("publisher", p.Name()), zap.Error(err))
			continue
		}
		log.Info("design published", zap.String("publisher", p.Name()), zap.String("location", loc))
	}
}
