package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low-cardinality: operation names, statuses and
// algorithm names only. Job ids, URLs and file paths belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// RunFunc is a transfer run that reports the status it ended in.
type RunFunc func(ctx context.Context) (status string, err error)

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentRun wraps one transfer run in a span and records its final status.
func (t *Telemetry) InstrumentRun(ctx context.Context, fn RunFunc) {
	if t == nil {
		_, _ = fn(ctx)

		return
	}

	start := time.Now()

	t.incrementActiveRuns()
	defer t.decrementActiveRuns()

	var status string

	_ = t.InstrumentOperation(ctx, "transfer_run", "engine", func(ctx context.Context) error {
		var err error

		status, err = fn(ctx)

		return err
	})

	t.RecordRun(status, time.Since(start))
}
