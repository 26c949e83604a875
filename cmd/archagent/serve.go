package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/config"
	archhttp "github.com/fyrsmithlabs/archagent/internal/http"
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/service"
	"github.com/fyrsmithlabs/archagent/internal/workflows"
)

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the archagent HTTP API with SSE and WebSocket run streams.

Runs execute in-process unless temporal.enabled is set, in which case they are
dispatched to workers started with "archagent worker".

Examples:
  # Start with defaults
  archagent serve

  # Dispatch runs to Temporal
  ARCHAGENT_TEMPORAL_ENABLED=true archagent serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe serves until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	logger := a.logger.Underlying()

	var runner service.Runner = a.orch
	if cfg.Temporal.Enabled {
		c, err := workflows.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()
		runner, err = workflows.NewTemporalRunner(c, a.orch, workflows.RunnerOptions{
			TaskQueue: cfg.Temporal.TaskQueue,
			Artifacts: a.artifacts,
			Logger:    logger.Named("temporal"),
		})
		if err != nil {
			return err
		}
		logger.Info("dispatching runs to temporal",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	svc, err := a.newService(ctx, runner)
	if err != nil {
		return err
	}

	srv, err := archhttp.NewServer(svc, logger.Named("http"), &archhttp.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Models:    llm.Catalogue(cfg.LLM.Provider, cfg.LLM.Models),
		JWTSecret: cfg.Auth.JWTSecret.Value(),
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	watcher, err := watchRefinement(ctx, a)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("service shutdown", zap.Error(err))
	}
	logger.Info("server shutdown complete")
	return nil
}

// watchRefinement applies edits to the refinement section to runs started afterwards.
func watchRefinement(ctx context.Context, a *app) (*config.Watcher, error) {
	logger := a.logger.Underlying().Named("config")
	w, err := config.NewWatcher(configPath,
		func(cfg *config.Config) {
			if err := a.orch.SetConfig(refinementConfig(cfg.Refinement)); err != nil {
				logger.Warn("rejected refinement config", zap.Error(err))
				return
			}
			logger.Info("refinement config reloaded",
				zap.Float64("accept_threshold", cfg.Refinement.AcceptThreshold),
				zap.Int("max_cycles", cfg.Refinement.MaxCycles),
				zap.Strings("refine_keywords", cfg.Refinement.RefineKeywords))
		},
		func(err error) {
			logger.Warn("config reload failed", zap.Error(err))
		},
	)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
