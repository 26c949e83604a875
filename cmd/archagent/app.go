package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/archagent/internal/agent"
	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/config"
	"github.com/fyrsmithlabs/archagent/internal/events"
	"github.com/fyrsmithlabs/archagent/internal/exemplar"
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/logging"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/publish"
	"github.com/fyrsmithlabs/archagent/internal/redact"
	"github.com/fyrsmithlabs/archagent/internal/render"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
	"github.com/fyrsmithlabs/archagent/internal/telemetry"
)

// appOptions tune how the app is assembled for each command.
type appOptions struct {
	// LogWriter replaces stdout for logs. The TUI and MCP stdio need stdout to themselves.
	LogWriter io.Writer
}

// app holds the collaborators shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	generator *agent.Generator
	validator *agent.Validator
	renderer  orchestrator.Renderer
	gates     map[orchestrator.Stage][]orchestrator.Gate
	orch      *orchestrator.Orchestrator

	artifacts artifact.Store
	exemplars exemplar.Store

	closers []func() error
}

// newApp loads configuration and builds the refinement loop with its ports.
//
// This function:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Creates the model client, exemplar store and renderer
//  4. Wires the orchestrator with its gates
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := loggingConfig(cfg.Logging, opts.LogWriter)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	if err := a.initPorts(ctx); err != nil {
		a.Close()
		return nil, err
	}

	zl := logger.Underlying()
	orchOpts := []orchestrator.Option{
		orchestrator.WithConfig(refinementConfig(cfg.Refinement)),
		orchestrator.WithLogger(zl.Named("orchestrator")),
	}
	for stage, gates := range a.gates {
		for _, g := range gates {
			orchOpts = append(orchOpts, orchestrator.WithGate(stage, g))
		}
	}
	a.orch = orchestrator.NewOrchestrator(a.generator, a.renderer, a.validator, orchOpts...)

	zl.Info("archagent initialized",
		zap.String("version", version),
		zap.String("llm.provider", cfg.LLM.Provider),
		zap.String("llm.model", cfg.LLM.Model),
		zap.Float64("accept_threshold", cfg.Refinement.AcceptThreshold),
		zap.Int("max_cycles", cfg.Refinement.MaxCycles),
		zap.String("artifacts.backend", cfg.Artifacts.Backend),
		zap.Bool("exemplars", a.exemplars != nil))
	return a, nil
}

// initPorts creates the generator, validator and renderer.
func (a *app) initPorts(ctx context.Context) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	client, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.LLM.Provider, err)
	}

	a.artifacts, err = artifact.New(cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	agentOpts := agent.Options{
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		DefaultModel:   llm.NormalizeModelID(cfg.LLM.Model),
		ValidatorModel: cfg.LLM.ValidatorModel,
		ExemplarK:      cfg.Exemplars.K,
		Logger:         zl.Named("agent"),
	}
	if cfg.Exemplars.Enabled {
		embedder, err := exemplar.NewOpenAIEmbedder(exemplar.EmbedderConfig{
			BaseURL: cfg.Exemplars.EmbeddingBaseURL,
			Model:   cfg.Exemplars.EmbeddingModel,
			APIKey:  cfg.Exemplars.EmbeddingAPIKey.Value(),
		})
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		store, err := exemplar.New(ctx, cfg.Exemplars, embedder, zl.Named("exemplar"))
		if err != nil {
			return fmt.Errorf("failed to create exemplar store: %w", err)
		}
		a.exemplars = store
		a.closers = append(a.closers, store.Close)
		agentOpts.Exemplars = store
	}
	a.generator = agent.NewGenerator(client, agentOpts)
	a.validator = agent.NewValidator(client, agentOpts)

	cli, err := render.NewCLIRenderer(render.Config{
		Binary:  cfg.Render.Binary,
		WorkDir: cfg.Render.WorkDir,
		Timeout: cfg.Render.Timeout.Duration(),
	}, zl.Named("render"))
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	cached, err := render.NewCached(cli, cfg.Render.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to create render cache: %w", err)
	}
	a.renderer = cached

	a.gates = validationGates(cfg)
	return nil
}

// newService builds the run service around runner.
func (a *app) newService(ctx context.Context, runner service.Runner) (*service.Service, error) {
	cfg := a.cfg
	zl := a.logger.Underlying()

	store, err := runstore.Open(ctx, cfg.RunStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	scrubber, err := redact.New(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}

	publishers, err := publish.New(ctx, cfg.Publish, zl.Named("publish"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publishers: %w", err)
	}

	opts := service.Options{
		Runner:            runner,
		Store:             store,
		Artifacts:         a.artifacts,
		Publishers:        publishers,
		Scrubber:          scrubber,
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		Logger:            zl.Named("service"),
	}
	if a.exemplars != nil {
		opts.Exemplars = exemplar.Filtered{Store: a.exemplars, MinScore: cfg.Exemplars.MinScore}
	}
	if cfg.Events.Enabled {
		bus, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, zl.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		a.closers = append(a.closers, bus.Close)
		opts.Bus = bus
		zl.Info("connected to nats", zap.String("url", cfg.Events.NATSURL))
	}

	return service.New(opts)
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Underlying().Warn("closing resources", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// refinementConfig maps the refinement section onto the orchestrator's config.
func refinementConfig(rc config.RefinementConfig) orchestrator.Config {
	return orchestrator.Config{
		AcceptThreshold: rc.AcceptThreshold,
		MaxCycles:       rc.MaxCycles,
		MaxIterations:   rc.MaxIterations,
		RefineKeywords:  append([]string(nil), rc.RefineKeywords...),
		StageTimeout:    rc.StageTimeout.Duration(),
	}
}

// validationGates returns the gates that inspect each artifact before it is reviewed.
func validationGates(cfg *config.Config) map[orchestrator.Stage][]orchestrator.Gate {
	var gates []orchestrator.Gate
	if cfg.Render.Lint {
		gates = append(gates, render.LintGate{})
	}
	gates = append(gates,
		orchestrator.NewSizeGate(cfg.Refinement.MaxArtifactBytes),
		orchestrator.NewMarkupGate(),
	)
	return map[orchestrator.Stage][]orchestrator.Gate{orchestrator.StageValidate: gates}
}

// loggingConfig maps the logging section onto the logger's config.
func loggingConfig(lc config.LoggingConfig, w io.Writer) (*logging.Config, error) {
	cfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level: %w", err)
	}
	cfg.Level = level
	cfg.Format = lc.Format
	cfg.Output.OTEL = lc.OTEL
	if w != nil {
		cfg.Output.Writer = w
	}
	if cfg.Level <= zapcore.DebugLevel {
		cfg.Sampling.Enabled = false
	}
	return cfg, nil
}
