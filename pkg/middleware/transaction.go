package middleware

import (
	"context"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/txn"
)

// TransactionMiddleware wraps handler invocation in a transactional scope.
// Runs at priority 50. Commands may opt out via Metadata.SkipTransaction.
func TransactionMiddleware(manager *txn.Manager, opts txn.Options) cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "transaction",
		PriorityValue: 50,
		Predicate: func(cmd *domain.CommandEnvelope) bool {
			return !cmd.Metadata.SkipTransaction
		},
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				var events []domain.DomainEvent
				err := manager.ExecuteInTransaction(ctx, opts, func(txCtx context.Context, scope *txn.Scope) error {
					result, err := next.Handle(withScope(txCtx, scope), cmd)
					events = result
					return err
				})
				if err != nil {
					return nil, err
				}
				return events, nil
			})
		},
	}
}

type scopeContextKey struct{}

func withScope(ctx context.Context, scope *txn.Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext retrieves the active transaction scope, for handlers
// that need AfterCommit/AfterRollback hooks or direct *sql.Tx access.
func ScopeFromContext(ctx context.Context) (*txn.Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(*txn.Scope)
	return scope, ok
}
