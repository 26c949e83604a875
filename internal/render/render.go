// Package render turns diagram-as-code YAML into PNG images with the awsdac CLI.
package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"go.uber.org/zap"
)

const (
	inputFile  = "design.yaml"
	outputFile = "output.png"
	mediaType  = "image/png"
)

// ErrBinaryNotFound is returned when the awsdac executable cannot be located.
var ErrBinaryNotFound = errors.New("render: awsdac binary not found")

// Config configures the CLI renderer.
type Config struct {
	Binary  string
	WorkDir string
	Timeout time.Duration
}

// CLIRenderer invokes awsdac in a scratch directory per call.
type CLIRenderer struct {
	binary  string
	workDir string
	timeout time.Duration
	logger  *zap.Logger
}

var _ orchestrator.Renderer = (*CLIRenderer)(nil)

// NewCLIRenderer resolves the binary on PATH.
func NewCLIRenderer(cfg Config, logger *zap.Logger) (*CLIRenderer, error) {
	if cfg.Binary == "" {
		cfg.Binary = "awsdac"
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, cfg.Binary, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIRenderer{binary: bin, workDir: cfg.WorkDir, timeout: cfg.Timeout, logger: logger}, nil
}

// Render writes the artifact to a scratch directory and runs
// `awsdac design.yaml -o output.png`. A non-zero exit that printed ERROR lines is a
// content failure (Success=false, no error); any other failure to run is returned as an error.
func (r *CLIRenderer) Render(ctx context.Context, artifact string) (*orchestrator.RenderResult, error) {
	dir, err := os.MkdirTemp(r.workDir, "archagent-render-")
	if err != nil {
		return nil, fmt.Errorf("creating render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, inputFile), []byte(artifact), 0600); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, r.binary, inputFile, "-o", outputFile)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	feedback := ClassifyOutput(stderr.String())

	r.logger.Debug("awsdac finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("warnings", len(feedback.Warnings)),
		zap.Int("errors", len(feedback.Errors)),
		zap.Error(runErr))

	if runErr != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("awsdac timeout after %v", r.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && len(feedback.Errors) > 0 {
			return &orchestrator.RenderResult{Success: false, Feedback: feedback}, nil
		}
		return nil, fmt.Errorf("awsdac failed: %w (stderr: %s)", runErr, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(filepath.Join(dir, outputFile))
	if errors.Is(err, os.ErrNotExist) {
		feedback.Errors = append(feedback.Errors, "awsdac exited successfully but produced no image")
		return &orchestrator.RenderResult{Success: false, Feedback: feedback}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rendered image: %w", err)
	}

	return &orchestrator.RenderResult{
		Success:  true,
		Feedback: feedback,
		Image:    &orchestrator.Image{MediaType: mediaType, Data: data},
	}, nil
}

// ClassifyOutput sorts renderer output lines: WARN lines are warnings, ERROR lines are
// errors, and lines mentioning "consider" or "suggest" are suggestions.
func ClassifyOutput(output string) orchestrator.RenderFeedback {
	var fb orchestrator.RenderFeedback
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(line, "WARN"):
			fb.Warnings = append(fb.Warnings, line)
		case strings.Contains(line, "ERROR"):
			fb.Errors = append(fb.Errors, line)
		case strings.Contains(lower, "consider"), strings.Contains(lower, "suggest"):
			fb.Suggestions = append(fb.Suggestions, line)
		}
	}
	return fb
}
