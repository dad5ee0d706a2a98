package reconcile

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/c0deZ3R0/carsync/model"
)

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordOperation records a completed user operation and whether it reached the remote service.
	RecordOperation(op model.OperationKind, online bool, d time.Duration)

	// RecordReplay records the outcome of one replay pass.
	RecordReplay(report *ReplayReport)

	// RecordError records a failed user operation by error code.
	RecordError(op model.OperationKind, code string)
}

// NoOpMetricsCollector discards everything.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordOperation(model.OperationKind, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordReplay(*ReplayReport)                               {}
func (NoOpMetricsCollector) RecordError(model.OperationKind, string)                  {}

// OTelMetrics reports engine activity through OpenTelemetry instruments. With no
// MeterProvider installed the global one drops everything.
type OTelMetrics struct {
	operations    metric.Int64Counter
	operationTime metric.Float64Histogram
	errors        metric.Int64Counter
	replayed      metric.Int64Counter
	replayTime    metric.Float64Histogram
}

// NewOTelMetrics creates the engine instruments on meter.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	var (
		m   OTelMetrics
		err error
	)
	if m.operations, err = meter.Int64Counter("carsync.operations",
		metric.WithDescription("User operations completed")); err != nil {
		return nil, err
	}
	if m.operationTime, err = meter.Float64Histogram("carsync.operation.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("carsync.errors",
		metric.WithDescription("User operations that failed")); err != nil {
		return nil, err
	}
	if m.replayed, err = meter.Int64Counter("carsync.replay.commands",
		metric.WithDescription("Queued commands handled by replay, by outcome")); err != nil {
		return nil, err
	}
	if m.replayTime, err = meter.Float64Histogram("carsync.replay.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *OTelMetrics) RecordOperation(op model.OperationKind, online bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.Bool("online", online),
	)
	m.operations.Add(context.Background(), 1, attrs)
	m.operationTime.Record(context.Background(), d.Seconds(), attrs)
}

func (m *OTelMetrics) RecordReplay(report *ReplayReport) {
	ctx := context.Background()
	for outcome, n := range map[string]int{
		"succeeded":     report.Succeeded,
		"failed":        report.Failed,
		"deferred":      report.Deferred,
		"dead_lettered": report.DeadLettered,
	} {
		if n > 0 {
			m.replayed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	m.replayTime.Record(ctx, report.Duration.Seconds(),
		metric.WithAttributes(attribute.Bool("clean", report.Clean())))
}

func (m *OTelMetrics) RecordError(op model.OperationKind, code string) {
	m.errors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.String("code", code),
	))
}
