package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// RetryMiddleware re-invokes the wrapped handler on retryable errors
// (transient store errors, deadlocks) with exponential backoff, up to
// maxRetries retries after the first attempt (maxRetries+1 attempts in
// all). Non-retryable errors propagate immediately. This is
// meant to be the outermost middleware besides Recovery, so a retried
// attempt re-enters Validation/Authorization/Transaction from scratch.
func RetryMiddleware(maxRetries uint, logger *slog.Logger) cqrs.CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return cqrs.MiddlewareFunc{
		NameValue:     "retry",
		PriorityValue: 500,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				operation := func() ([]domain.DomainEvent, error) {
					events, err := next.Handle(ctx, cmd)
					if err != nil && !domain.IsRetryable(err) {
						return nil, backoff.Permanent(err)
					}
					return events, err
				}

				events, err := backoff.Retry(ctx, operation,
					backoff.WithBackOff(backoff.NewExponentialBackOff()),
					backoff.WithMaxTries(maxRetries+1),
					backoff.WithNotify(func(err error, d time.Duration) {
						logger.WarnContext(ctx, "retrying command after transient failure",
							slog.String("command_type", cmd.Command.CommandType()),
							slog.String("command_id", cmd.Metadata.CommandID),
							slog.String("error", err.Error()),
						)
					}),
				)
				return events, err
			})
		},
	}
}
