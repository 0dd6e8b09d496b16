package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// CircuitBreakerMiddleware trips per-command-type, stopping dispatch to a
// handler that's been failing repeatedly (e.g. a downstream dependency is
// down) instead of piling up retries against it.
func CircuitBreakerMiddleware(settings gobreaker.Settings) cqrs.CommandMiddleware {
	var mu sync.Mutex
	breakers := make(map[string]*gobreaker.CircuitBreaker)

	breakerFor := func(commandType string) *gobreaker.CircuitBreaker {
		mu.Lock()
		defer mu.Unlock()
		if cb, ok := breakers[commandType]; ok {
			return cb
		}
		s := settings
		if s.Name == "" {
			s.Name = commandType
		} else {
			s.Name = s.Name + "." + commandType
		}
		cb := gobreaker.NewCircuitBreaker(s)
		breakers[commandType] = cb
		return cb
	}

	return cqrs.MiddlewareFunc{
		NameValue:     "circuit-breaker",
		PriorityValue: 60,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				cb := breakerFor(cmd.Command.CommandType())
				result, err := cb.Execute(func() (any, error) {
					return next.Handle(ctx, cmd)
				})
				if err != nil {
					if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
						return nil, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
					}
					return nil, err
				}
				return result.([]domain.DomainEvent), nil
			})
		},
	}
}
