package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// OpenTelemetryMiddleware adds distributed tracing to command execution,
// using the global tracer provider by default.
func OpenTelemetryMiddleware(tracerName string) cqrs.CommandMiddleware {
	if tracerName == "" {
		tracerName = "github.com/eventflow/core"
	}
	return OpenTelemetryMiddlewareWithTracer(otel.Tracer(tracerName))
}

// OpenTelemetryMiddlewareWithTracer is OpenTelemetryMiddleware parameterized
// by an explicit tracer, for callers managing their own tracer provider.
func OpenTelemetryMiddlewareWithTracer(tracer trace.Tracer) cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "tracing",
		PriorityValue: 40,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				commandType := cmd.Command.CommandType()

				spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", commandType),
					trace.WithSpanKind(trace.SpanKindInternal),
					trace.WithAttributes(
						attribute.String("command.id", cmd.Metadata.CommandID),
						attribute.String("command.type", commandType),
						attribute.String("command.principal_id", cmd.Metadata.PrincipalID),
						attribute.String("command.correlation_id", cmd.Metadata.CorrelationID),
					),
				)
				defer span.End()

				events, err := next.Handle(spanCtx, cmd)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return nil, err
				}

				span.SetAttributes(attribute.Int("events.count", len(events)))
				if len(events) > 0 {
					eventTypes := make([]string, len(events))
					for i, evt := range events {
						eventTypes[i] = evt.EventType
					}
					span.SetAttributes(attribute.StringSlice("events.types", eventTypes))
				}

				span.SetStatus(codes.Ok, "command executed successfully")
				return events, nil
			})
		},
	}
}
