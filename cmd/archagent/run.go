package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/artifact"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
	"github.com/fyrsmithlabs/archagent/internal/tui"
)

var runOpts struct {
	tui       bool
	model     string
	maxCycles int
	sample    int
	outDir    string
	logFile   string
}

// runCmd runs one refinement in-process
var runCmd = &cobra.Command{
	Use:   "run [requirement]",
	Short: "Design an architecture from the terminal",
	Long: `Run one refinement in-process and print the accepted design.

Examples:
  # Describe the system
  archagent run "static website on S3 behind CloudFront"

  # Watch progress in the terminal UI
  archagent run --tui "serverless REST API with Cognito"

  # Pick a built-in sample
  archagent run --tui
  archagent run --sample 3

  # Keep the YAML and the diagram
  archagent run --out ./design "three-tier web app"`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.tui, "tui", false, "show progress in the terminal UI")
	runCmd.Flags().StringVar(&runOpts.model, "model", "", "model ID for the generator and validator")
	runCmd.Flags().IntVar(&runOpts.maxCycles, "max-cycles", 0, "refinement cycle budget (default from config)")
	runCmd.Flags().IntVar(&runOpts.sample, "sample", 0, "use built-in sample requirement N (1-based)")
	runCmd.Flags().StringVar(&runOpts.outDir, "out", "", "directory to write design.yaml and diagram.png to")
	runCmd.Flags().StringVar(&runOpts.logFile, "log-file", "", "write logs to this file instead of stderr")
}

// runRun starts the run, follows its events and writes the result.
func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	requirement, err := resolveRequirement(ctx, args)
	if err != nil {
		return err
	}

	logWriter, closeLog, err := runLogWriter()
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(ctx, appOptions{LogWriter: logWriter})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger.Underlying()

	svc, err := a.newService(ctx, a.orch)
	if err != nil {
		return err
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("service shutdown", zap.Error(err))
		}
	}
	defer shutdown()

	run, err := svc.Start(ctx, service.StartRequest{
		Requirement: requirement,
		ModelID:     runOpts.model,
		MaxCycles:   runOpts.maxCycles,
	})
	if err != nil {
		return err
	}

	history, live, unsubscribe, err := svc.Follow(ctx, run.ID)
	if err != nil {
		return err
	}
	defer unsubscribe()
	events := relayEvents(history, live)

	out := cmd.OutOrStdout()
	if runOpts.tui {
		maxCycles := runOpts.maxCycles
		if maxCycles == 0 {
			maxCycles = a.cfg.Refinement.MaxCycles
		}
		model := tui.NewModel(run.ID, run.Requirement, maxCycles, events, func() { go shutdown() })
		if _, err := tui.Run(ctx, model); err != nil && ctx.Err() == nil {
			return err
		}
	} else {
		printEvents(ctx, out, events, func() { go shutdown() })
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if ctx.Err() != nil {
		shutdown()
	}
	finished, err := svc.Wait(waitCtx, run.ID)
	if err != nil {
		return fmt.Errorf("waiting for run %s: %w", run.ID, err)
	}

	if runOpts.outDir != "" && finished.Status == runstore.StatusCompleted {
		if err := writeOutputs(waitCtx, svc, finished.ID, runOpts.outDir); err != nil {
			return err
		}
	}
	if !runOpts.tui {
		printSummary(out, finished)
	}
	if finished.Error != nil {
		return fmt.Errorf("run %s failed: %s at %s: %s", finished.ID, finished.Error.Kind, finished.Error.Stage, finished.Error.Message)
	}
	return nil
}

// resolveRequirement takes the requirement from the arguments, --sample or the picker.
func resolveRequirement(ctx context.Context, args []string) (string, error) {
	if requirement := strings.TrimSpace(strings.Join(args, " ")); requirement != "" {
		return requirement, nil
	}

	samples := service.Samples()
	if runOpts.sample != 0 {
		if runOpts.sample < 1 || runOpts.sample > len(samples) {
			return "", fmt.Errorf("--sample must be between 1 and %d", len(samples))
		}
		return samples[runOpts.sample-1].Requirement, nil
	}

	if runOpts.tui {
		choices := make([]tui.Choice, len(samples))
		for i, s := range samples {
			choices[i] = tui.Choice{Title: s.Title, Detail: s.Requirement}
		}
		i, err := tui.Pick(ctx, choices)
		if err != nil {
			return "", err
		}
		return samples[i].Requirement, nil
	}

	var b strings.Builder
	b.WriteString("a requirement is required; pass one as an argument or use --sample N:\n")
	for i, s := range samples {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Title)
	}
	return "", errors.New(strings.TrimRight(b.String(), "\n"))
}

// runLogWriter returns where logs go. The terminal UI owns the screen, so without
// --log-file its logs are dropped.
func runLogWriter() (io.Writer, func(), error) {
	if runOpts.logFile != "" {
		f, err := os.OpenFile(runOpts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if runOpts.tui {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}

// relayEvents replays history and then forwards live events on one channel that
// closes after the terminal event.
func relayEvents(history []orchestrator.Event, live <-chan orchestrator.Event) <-chan orchestrator.Event {
	out := make(chan orchestrator.Event, len(history)+16)
	go func() {
		defer close(out)
		for _, ev := range history {
			out <- ev
			if ev.Terminal() {
				return
			}
		}
		if live == nil {
			return
		}
		for ev := range live {
			out <- ev
			if ev.Terminal() {
				return
			}
		}
	}()
	return out
}

// printEvents writes one line per event until the stream ends. Cancelling ctx calls
// cancel once and keeps reading so the final events are still shown.
func printEvents(ctx context.Context, w io.Writer, events <-chan orchestrator.Event, cancel func()) {
	done := ctx.Done()
	for {
		select {
		case <-done:
			fmt.Fprintln(w, "cancelling run...")
			cancel()
			done = nil
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintln(w, formatEvent(ev))
		}
	}
}

// formatEvent renders an event as a single progress line.
func formatEvent(ev orchestrator.Event) string {
	prefix := fmt.Sprintf("[%3s] cycle %d %-8s", tui.FormatPercentage(ev.Progress), ev.Cycle, ev.Stage)
	switch ev.Type {
	case orchestrator.EventError:
		if ev.Error != nil {
			return fmt.Sprintf("%s error: %s: %s", prefix, ev.Error.Kind, ev.Error.Message)
		}
		return prefix + " error"
	case orchestrator.EventFinished:
		if ev.Outcome != nil {
			return fmt.Sprintf("%s finished: %s (score %.0f)", prefix, ev.Outcome.Reason, ev.Outcome.Score)
		}
		return prefix + " finished"
	}

	switch ev.Stage {
	case orchestrator.StageGenerate:
		return fmt.Sprintf("%s design with %d lines", prefix, strings.Count(ev.Artifact, "\n")+1)
	case orchestrator.StageRender:
		ok := ev.RenderSucceeded != nil && *ev.RenderSucceeded
		if ev.RenderFeedback.Empty() {
			return fmt.Sprintf("%s rendered=%t", prefix, ok)
		}
		return fmt.Sprintf("%s rendered=%t warnings=%d errors=%d", prefix, ok,
			len(ev.RenderFeedback.Warnings), len(ev.RenderFeedback.Errors))
	case orchestrator.StageValidate:
		if ev.Score != nil {
			return fmt.Sprintf("%s score %.0f", prefix, *ev.Score)
		}
		return prefix + " no score"
	}
	return prefix
}

// writeOutputs copies the stored design and diagram into dir.
func writeOutputs(ctx context.Context, svc *service.Service, runID, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, name := range []string{artifact.DesignFile, artifact.DiagramFile, artifact.ExplanationFile, artifact.CritiqueFile} {
		data, err := svc.Artifact(ctx, runID, name)
		if errors.Is(err, artifact.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// printSummary prints the outcome followed by the final YAML.
func printSummary(w io.Writer, run *runstore.Run) {
	elapsed := time.Duration(0)
	if run.FinishedAt != nil {
		elapsed = run.FinishedAt.Sub(run.CreatedAt)
	}
	fmt.Fprintf(w, "\nrun %s: %s, accepted=%t, score %.0f, %d cycle(s) in %s\n",
		run.ID, run.Status, run.Accepted, run.Score, run.Cycles, tui.FormatElapsed(elapsed))
	if run.Artifact != "" {
		fmt.Fprintf(w, "\n%s\n", run.Artifact)
	}
	if run.Critique != "" {
		fmt.Fprintf(w, "\n%s\n", run.Critique)
	}
}
