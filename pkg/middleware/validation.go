package middleware

import (
	"context"
	"fmt"

	"github.com/asaskevich/govalidator"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// Validator validates a command's own field data before any side effect
// runs. ValidationMiddleware checks the concrete command's govalidator
// struct tags itself and does not call domain.ValidatableCommand's
// ValidationData; this interface lets callers plug in additional
// business-rule validation beyond field-level checks.
type Validator interface {
	Validate(cmd domain.Command) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(cmd domain.Command) error

func (f ValidatorFunc) Validate(cmd domain.Command) error { return f(cmd) }

// ValidationMiddleware rejects a command on schema/business-rule failure
// before the handler runs. Runs at priority 100, inside Recovery, Retry
// and MetadataValidation and outside the other standard middlewares.
func ValidationMiddleware(validator Validator) cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "validation",
		PriorityValue: 100,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				// Struct-tag validation (valid:"required", valid:"email", ...) on
				// the concrete command type.
				if ok, err := govalidator.ValidateStruct(cmd.Command); !ok && err != nil {
					return nil, fmt.Errorf("%w: %s", domain.ErrValidationFailed, err)
				}
				if validator != nil {
					if err := validator.Validate(cmd.Command); err != nil {
						return nil, fmt.Errorf("command validation failed: %w", err)
					}
				}
				return next.Handle(ctx, cmd)
			})
		},
	}
}

// MetadataValidationMiddleware validates command envelope metadata that
// every command, regardless of type, must carry.
func MetadataValidationMiddleware() cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "metadata-validation",
		PriorityValue: 110,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				if cmd.Metadata.CommandID == "" {
					return nil, fmt.Errorf("%w: command_id is required", domain.ErrValidationFailed)
				}
				if cmd.Command.CommandType() == "" {
					return nil, fmt.Errorf("%w: command_type is required", domain.ErrValidationFailed)
				}
				return next.Handle(ctx, cmd)
			})
		},
	}
}
