package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

const instrumentationName = "github.com/fyrsmithlabs/archagent/internal/workflows"

// Metrics for the refinement workflow
var (
	refinementCounter    metric.Int64Counter
	refinementCycles     metric.Int64Histogram
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	refinementCounter, err = meter.Int64Counter(
		"archagent.workflows.refinement.executions",
		metric.WithDescription("Total number of refinement workflow executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create refinement counter: %v", err))
	}

	refinementCycles, err = meter.Int64Histogram(
		"archagent.workflows.refinement.cycles",
		metric.WithDescription("Generate-render-validate cycles per refinement workflow"),
		metric.WithUnit("{cycle}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 7, 10),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create refinement cycles histogram: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"archagent.workflows.activity.duration",
		metric.WithDescription("Duration of refinement activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"archagent.workflows.activity.errors",
		metric.WithDescription("Number of refinement activity errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, stage orchestrator.Stage, d time.Duration, err error) {
	stageAttr := attribute.String("stage", string(stage))
	activityDuration.Record(ctx, d.Seconds(), metric.WithAttributes(stageAttr))
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(stageAttr,
			attribute.String("kind", string(orchestrator.KindOf(err)))))
	}
}

func recordRefinement(out *orchestrator.Outcome) {
	outcome := "rejected"
	switch {
	case out.Error != nil:
		outcome = "failed"
	case out.Accepted:
		outcome = "accepted"
	}
	ctx := context.Background()
	refinementCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	refinementCycles.Record(ctx, int64(out.Cycles))
}
