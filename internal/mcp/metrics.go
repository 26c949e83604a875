package mcp

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

const instrumentationName = "github.com/fyrsmithlabs/archagent/internal/mcp"

// errInvalidInput marks tool arguments rejected before a run starts.
var errInvalidInput = errors.New("invalid input")

// Metrics holds the tool-call and design-outcome instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inflight metric.Int64UpDownCounter
	designs  metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{meter: meter, logger: logger}

	var err error
	if m.calls, err = meter.Int64Counter(
		"archagent.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		m.warn("invocations_total", err)
	}
	if m.latency, err = meter.Float64Histogram(
		"archagent.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency. design_architecture spans a whole refinement run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	); err != nil {
		m.warn("duration_seconds", err)
	}
	if m.failures, err = meter.Int64Counter(
		"archagent.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{error}"),
	); err != nil {
		m.warn("errors_total", err)
	}
	if m.inflight, err = meter.Int64UpDownCounter(
		"archagent.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("active_requests", err)
	}
	if m.designs, err = meter.Int64Counter(
		"archagent.mcp.design.outcomes_total",
		metric.WithDescription("Finished design_architecture runs by stop reason"),
		metric.WithUnit("{run}"),
	); err != nil {
		m.warn("outcomes_total", err)
	}
	return m
}

func (m *Metrics) warn(instrument string, err error) {
	m.logger.Warn("failed to create mcp instrument", zap.String("instrument", instrument), zap.Error(err))
}

// RecordInvocation records one finished tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, d time.Duration, err error) {
	toolAttr := attribute.String("tool", tool)
	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(toolAttr))
	}
	if m.latency != nil {
		m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(toolAttr))
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(toolAttr, attribute.String("reason", errorReason(err))))
	}
}

// RecordDesign counts a finished design run by why it stopped.
func (m *Metrics) RecordDesign(ctx context.Context, run *runstore.Run) {
	if m.designs == nil || run == nil {
		return
	}
	reason := string(run.Reason)
	if run.Error != nil {
		reason = string(run.Error.Kind)
	}
	m.designs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("accepted", strconv.FormatBool(run.Accepted)),
	))
}

// IncrementActive marks a tool call as started.
func (m *Metrics) IncrementActive(ctx context.Context, tool string) {
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// DecrementActive marks a tool call as finished.
func (m *Metrics) DecrementActive(ctx context.Context, tool string) {
	if m.inflight != nil {
		m.inflight.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// errorReason maps a tool error to a low-cardinality label.
func errorReason(err error) string {
	var se *orchestrator.StageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidInput), errors.Is(err, service.ErrEmptyRequirement):
		return "invalid_input"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, service.ErrShuttingDown):
		return "unavailable"
	case errors.As(err, &se):
		return string(se.Kind)
	default:
		return "internal_error"
	}
}
