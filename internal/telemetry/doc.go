// Package telemetry wires OpenTelemetry tracing and metrics for archagent.
//
// Spans are exported over OTLP (grpc or http/protobuf) to a collector. The
// orchestrator opens one span per stage (orchestrator.generate, orchestrator.render,
// orchestrator.validate); the HTTP layer records request metrics through Meter.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// A failed exporter leaves the instance degraded with no-op providers; it never stops a run.
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
