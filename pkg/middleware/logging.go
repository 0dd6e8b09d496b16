package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// LoggingMiddleware logs command execution with timing information using slog.
// Runs at priority 10, inside Retry and inside Transaction, so a retried
// attempt logs each try rather than just the final outcome.
func LoggingMiddleware(logger *slog.Logger) cqrs.CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}

	return cqrs.MiddlewareFunc{
		NameValue:     "logging",
		PriorityValue: 10,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				start := time.Now()

				commandType := cmd.Command.CommandType()
				commandID := cmd.Metadata.CommandID
				principalID := cmd.Metadata.PrincipalID

				logger.InfoContext(ctx, "executing command",
					slog.String("command_type", commandType),
					slog.String("command_id", commandID),
					slog.String("principal_id", principalID),
					slog.String("correlation_id", cmd.Metadata.CorrelationID),
				)

				events, err := next.Handle(ctx, cmd)

				duration := time.Since(start)

				if err != nil {
					logger.ErrorContext(ctx, "command execution failed",
						slog.String("command_type", commandType),
						slog.String("command_id", commandID),
						slog.Int64("duration_ms", duration.Milliseconds()),
						slog.String("error", err.Error()),
					)
					return nil, err
				}

				logger.InfoContext(ctx, "command executed successfully",
					slog.String("command_type", commandType),
					slog.String("command_id", commandID),
					slog.Int("events_count", len(events)),
					slog.Int64("duration_ms", duration.Milliseconds()),
				)

				return events, nil
			})
		},
	}
}
