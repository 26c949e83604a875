package runstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/archagent/internal/config"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), config.RunStoreConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &Run{ID: "run-1", Requirement: "static website", ModelID: "claude-3-haiku-20240307", MaxCycles: 2}
	require.NoError(t, s.Create(ctx, run))
	assert.Equal(t, StatusPending, run.Status)

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "static website", got.Requirement)
	assert.Equal(t, 2, got.MaxCycles)
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.Feedback)

	got.Status = StatusRunning
	require.NoError(t, s.Update(ctx, got))

	out := &orchestrator.Outcome{
		Accepted:         true,
		Reason:           orchestrator.ReasonAccepted,
		Score:            93,
		Artifact:         "Diagram: {}",
		Explanation:      "one bucket",
		ValidationResult: "Looks good. Score: 93",
		RenderFeedback:   &orchestrator.RenderFeedback{Warnings: []string{"WARN: icon"}},
		Cycles:           1,
		Iterations:       4,
	}
	got.Complete(out, time.Now())
	require.NoError(t, s.Update(ctx, got))

	final, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.True(t, final.Accepted)
	assert.Equal(t, orchestrator.ReasonAccepted, final.Reason)
	assert.Equal(t, 93.0, final.Score)
	assert.Equal(t, 4, final.Iterations)
	assert.Equal(t, "Looks good. Score: 93", final.Critique)
	require.NotNil(t, final.Feedback)
	assert.Equal(t, []string{"WARN: icon"}, final.Feedback.Warnings)
	require.NotNil(t, final.FinishedAt)
	assert.Nil(t, final.Error)
}

func TestSQLStore_FailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &Run{ID: "run-err", Requirement: "x"}
	require.NoError(t, s.Create(ctx, run))
	run.Complete(&orchestrator.Outcome{Error: &orchestrator.ErrorInfo{
		Kind:    orchestrator.KindRenderInvocationFailure,
		Stage:   orchestrator.StageRender,
		Message: "awsdac not found",
	}}, time.Now())
	require.NoError(t, s.Update(ctx, run))

	got, err := s.Get(ctx, "run-err")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, orchestrator.KindRenderInvocationFailure, got.Error.Kind)
}

func TestSQLStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, &Run{ID: "nope"}), ErrNotFound)
	assert.Error(t, s.Create(ctx, &Run{}))
}

func TestSQLStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Requirement: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if id == "b" {
			run.Status = StatusFailed
		}
		require.NoError(t, s.Create(ctx, run))
	}

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	limited, err := s.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	failed, err := s.List(ctx, ListOptions{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
}

func TestSQLStore_Events(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	score := 72.0
	events := []orchestrator.Event{
		{RunID: "r", Sequence: 1, Type: orchestrator.EventStage, Stage: orchestrator.StageGenerate, Progress: 0.33, Artifact: "Diagram: {}"},
		{RunID: "r", Sequence: 2, Type: orchestrator.EventStage, Stage: orchestrator.StageValidate, Progress: 0.8, Score: &score},
		{RunID: "other", Sequence: 1, Type: orchestrator.EventStage, Stage: orchestrator.StageGenerate},
	}
	// Out of order on purpose.
	require.NoError(t, s.AppendEvent(ctx, events[1]))
	require.NoError(t, s.AppendEvent(ctx, events[0]))
	require.NoError(t, s.AppendEvent(ctx, events[2]))
	require.NoError(t, s.AppendEvent(ctx, events[0]))

	got, err := s.Events(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Sequence)
	assert.Equal(t, "Diagram: {}", got[0].Artifact)
	require.NotNil(t, got[1].Score)
	assert.Equal(t, 72.0, *got[1].Score)

	none, err := s.Events(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", rebind(DialectPostgres, q))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.RunStoreConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestOpen_Postgres(t *testing.T) {
	dsn := os.Getenv("ARCHAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARCHAGENT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, config.RunStoreConfig{Driver: "postgres", DSN: config.Secret(dsn)})
	require.NoError(t, err)
	defer s.Close()

	id := "pg-" + time.Now().Format("150405.000000")
	require.NoError(t, s.Create(ctx, &Run{ID: id, Requirement: "pg"}))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pg", got.Requirement)
}
