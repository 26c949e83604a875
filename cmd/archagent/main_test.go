package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/archagent/internal/config"
	archhttp "github.com/fyrsmithlabs/archagent/internal/http"
	"github.com/fyrsmithlabs/archagent/internal/logging"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/render"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ARCHAGENT_AUTH_JWT_SECRET", "test-secret-with-enough-bytes")

	out, err := execute(t, "token", "--subject", "ci", "--ttl", "2h")
	require.NoError(t, err)

	claims, err := archhttp.NewAuthenticator("test-secret-with-enough-bytes", "archagent").Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	_, err := execute(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestRefinementConfig(t *testing.T) {
	rc := config.RefinementConfig{
		AcceptThreshold: 85,
		MaxCycles:       4,
		MaxIterations:   9,
		RefineKeywords:  []string{"missing"},
		StageTimeout:    config.Duration(time.Minute),
	}
	got := refinementConfig(rc)
	assert.Equal(t, orchestrator.Config{
		AcceptThreshold: 85,
		MaxCycles:       4,
		MaxIterations:   9,
		RefineKeywords:  []string{"missing"},
		StageTimeout:    time.Minute,
	}, got)

	got.RefineKeywords[0] = "changed"
	assert.Equal(t, "missing", rc.RefineKeywords[0], "keywords are copied")
}

func TestValidationGates(t *testing.T) {
	cfg := config.Default()
	gates := validationGates(cfg)
	require.Len(t, gates, 1)

	var names []string
	for _, g := range gates[orchestrator.StageValidate] {
		names = append(names, g.Name())
	}
	assert.Equal(t, []string{render.LintGate{}.Name(), "artifact-size", "markup-residue"}, names)

	cfg.Render.Lint = false
	assert.Len(t, validationGates(cfg)[orchestrator.StageValidate], 2)
}

func TestLoggingConfig(t *testing.T) {
	var buf bytes.Buffer
	cfg, err := loggingConfig(config.LoggingConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Same(t, &buf, cfg.Output.Writer)
	assert.False(t, cfg.Sampling.Enabled)

	cfg, err = loggingConfig(config.LoggingConfig{Level: "trace", Format: "json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, logging.TraceLevel, cfg.Level)
	assert.Nil(t, cfg.Output.Writer)

	_, err = loggingConfig(config.LoggingConfig{Level: "loud", Format: "json"}, nil)
	assert.Error(t, err)
}

func TestResolveRequirement(t *testing.T) {
	t.Cleanup(func() { runOpts.sample, runOpts.tui = 0, false })
	ctx := context.Background()

	got, err := resolveRequirement(ctx, []string{"static", "site"})
	require.NoError(t, err)
	assert.Equal(t, "static site", got)

	runOpts.sample = 2
	got, err = resolveRequirement(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, service.Samples()[1].Requirement, got)

	runOpts.sample = 99
	_, err = resolveRequirement(ctx, nil)
	assert.ErrorContains(t, err, "--sample must be between 1 and")

	runOpts.sample = 0
	_, err = resolveRequirement(ctx, []string{"  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), service.Samples()[0].Title)
}

func TestRelayEvents(t *testing.T) {
	history := []orchestrator.Event{
		{Sequence: 1, Type: orchestrator.EventStage, Stage: orchestrator.StageGenerate},
	}
	live := make(chan orchestrator.Event, 3)
	live <- orchestrator.Event{Sequence: 2, Type: orchestrator.EventStage, Stage: orchestrator.StageRender}
	live <- orchestrator.Event{Sequence: 3, Type: orchestrator.EventFinished, Stage: orchestrator.StageFinish}
	live <- orchestrator.Event{Sequence: 4, Type: orchestrator.EventStage}

	var seqs []int
	for ev := range relayEvents(history, live) {
		seqs = append(seqs, ev.Sequence)
	}
	assert.Equal(t, []int{1, 2, 3}, seqs, "nothing is forwarded after the terminal event")

	var finished []int
	for ev := range relayEvents([]orchestrator.Event{{Sequence: 1, Type: orchestrator.EventError}}, nil) {
		finished = append(finished, ev.Sequence)
	}
	assert.Equal(t, []int{1}, finished)
}

func TestPrintEvents_CancelsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan orchestrator.Event)
	calls := 0
	done := make(chan struct{})
	var out bytes.Buffer
	go func() {
		defer close(done)
		printEvents(ctx, &out, events, func() { calls++ })
	}()
	events <- orchestrator.Event{Type: orchestrator.EventError, Stage: orchestrator.StageValidate,
		Error: &orchestrator.ErrorInfo{Kind: orchestrator.KindCancelled, Message: "run cancelled"}}
	close(events)
	<-done

	assert.Equal(t, 1, calls)
	assert.Contains(t, out.String(), "cancelling run...")
	assert.Contains(t, out.String(), "error: cancelled: run cancelled")
}

func TestFormatEvent(t *testing.T) {
	score := 82.0
	ok := true
	tests := []struct {
		name string
		ev   orchestrator.Event
		want string
	}{
		{
			name: "generate",
			ev:   orchestrator.Event{Type: orchestrator.EventStage, Stage: orchestrator.StageGenerate, Cycle: 1, Progress: 0.33, Artifact: "a: 1\nb: 2"},
			want: "[33%] cycle 1 generate design with 2 lines",
		},
		{
			name: "render with feedback",
			ev: orchestrator.Event{Type: orchestrator.EventStage, Stage: orchestrator.StageRender, Cycle: 1, Progress: 0.66,
				RenderSucceeded: &ok, RenderFeedback: &orchestrator.RenderFeedback{Warnings: []string{"w"}}},
			want: "[66%] cycle 1 render   rendered=true warnings=1 errors=0",
		},
		{
			name: "validate",
			ev:   orchestrator.Event{Type: orchestrator.EventStage, Stage: orchestrator.StageValidate, Cycle: 2, Progress: 0.8, Score: &score},
			want: "[80%] cycle 2 validate score 82",
		},
		{
			name: "finished",
			ev: orchestrator.Event{Type: orchestrator.EventFinished, Stage: orchestrator.StageFinish, Cycle: 2, Progress: 1,
				Outcome: &orchestrator.Outcome{Reason: orchestrator.ReasonBudgetExhausted, Score: 82}},
			want: "[100%] cycle 2 finish   finished: budget_exhausted (score 82)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev))
		})
	}
}
