package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// RecoveryMiddleware recovers from panics in command handlers. Runs
// outermost of the standard middlewares, outside Retry, so a panic in any
// inner middleware or the handler itself is converted to an error rather
// than crashing the dispatching goroutine.
func RecoveryMiddleware(logger *slog.Logger) cqrs.CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}

	return cqrs.MiddlewareFunc{
		NameValue:     "recovery",
		PriorityValue: 1000,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) (events []domain.DomainEvent, err error) {
				defer func() {
					if r := recover(); r != nil {
						stack := string(debug.Stack())

						logger.ErrorContext(ctx, "command handler panicked",
							slog.String("command_id", cmd.Metadata.CommandID),
							slog.String("command_type", cmd.Command.CommandType()),
							slog.Any("panic", r),
							slog.String("stack_trace", stack),
						)

						err = fmt.Errorf("command handler panicked: %v", r)
						events = nil
					}
				}()

				return next.Handle(ctx, cmd)
			})
		},
	}
}
