package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/workflows"
)

// workerCmd runs a Temporal worker for refinement workflows
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker",
	Long: `Run a Temporal worker that executes refinement workflows and their
generate, render and validate activities.

Examples:
  # Poll the default task queue on localhost:7233
  archagent worker

  # Use another cluster
  ARCHAGENT_TEMPORAL_HOST_PORT=temporal:7233 archagent worker`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

// runWorker blocks until SIGINT or SIGTERM.
func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	logger := a.logger.Underlying()

	c, err := workflows.Dial(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	acts, err := workflows.NewActivities(workflows.Ports{
		Generator: a.generator,
		Renderer:  a.renderer,
		Validator: a.validator,
		Gates:     a.gates,
	}, a.artifacts, logger.Named("activities"))
	if err != nil {
		return fmt.Errorf("failed to create activities: %w", err)
	}

	w := workflows.NewWorker(c, cfg.Temporal.TaskQueue, acts)
	logger.Info("starting temporal worker",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("task_queue", cfg.Temporal.TaskQueue))

	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}
