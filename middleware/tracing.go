package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/job"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/fivestones/gmpreport"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used.
//
// Span attributes include: gmpreport.job.id, gmpreport.job.name,
// gmpreport.chain.id, gmpreport.queue, gmpreport.attempt and
// gmpreport.account. On error the span status is codes.Error and
// gmpreport.permanent records whether the failure is terminal.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "gmpreport.job.execute",
			trace.WithAttributes(
				attribute.String("gmpreport.job.id", j.ID.String()),
				attribute.String("gmpreport.job.name", j.Name),
				attribute.String("gmpreport.chain.id", j.ChainID.String()),
				attribute.String("gmpreport.queue", j.Queue),
				attribute.Int("gmpreport.attempt", j.Attempt),
				attribute.String("gmpreport.account", j.Account),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("gmpreport.permanent", backoff.IsPermanent(err)))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
