package middleware

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v3"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// Authorizer checks whether a principal may execute a command. Policies
// combine required permissions, roles, ownership, and custom predicates —
// the concrete check is left to the implementation.
type Authorizer interface {
	Authorize(ctx context.Context, principal domain.Principal, commandType string, command domain.Command) error
}

// Strictness controls how AuthorizationMiddleware treats a command type
// with no configured policy.
type Strictness int

const (
	// Strict denies any command type lacking a policy.
	Strict Strictness = iota
	// NonStrict lets commands from an unauthenticated (zero) principal
	// through when no policy applies.
	NonStrict
)

// AuthorizationMiddleware enforces authorization for commands. Runs at
// priority 90: after Validation, before Transaction.
func AuthorizationMiddleware(authorizer Authorizer, mode Strictness) cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "authorization",
		PriorityValue: 90,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				principal, _ := ctx.Value(principalContextKey{}).(domain.Principal)

				err := authorizer.Authorize(ctx, principal, cmd.Command.CommandType(), cmd.Command)
				if err != nil {
					if mode == NonStrict && errIsNoPolicy(err) && principal.IsZero() {
						return next.Handle(ctx, cmd)
					}
					return nil, fmt.Errorf("authorization failed: %w", err)
				}
				return next.Handle(ctx, cmd)
			})
		},
	}
}

type principalContextKey struct{}

// WithPrincipal attaches the acting principal to ctx for AuthorizationMiddleware to read.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// ErrNoPolicy signals that no policy is configured for a command type.
type ErrNoPolicy struct{ CommandType string }

func (e ErrNoPolicy) Error() string {
	return fmt.Sprintf("no authorization policy configured for command type %q", e.CommandType)
}

func errIsNoPolicy(err error) bool {
	_, ok := err.(ErrNoPolicy)
	return ok
}

// RoleBasedAuthorizer implements simple role-based authorization against a
// static commandType -> required-roles map, checked against the
// principal's own Roles.
type RoleBasedAuthorizer struct {
	commandRoles map[string][]string
}

func NewRoleBasedAuthorizer(commandRoles map[string][]string) *RoleBasedAuthorizer {
	return &RoleBasedAuthorizer{commandRoles: commandRoles}
}

func (a *RoleBasedAuthorizer) Authorize(ctx context.Context, principal domain.Principal, commandType string, command domain.Command) error {
	requiredRoles, exists := a.commandRoles[commandType]
	if !exists || len(requiredRoles) == 0 {
		return ErrNoPolicy{CommandType: commandType}
	}

	for _, role := range requiredRoles {
		if principal.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("principal %s lacks required role for command %s (required: %v)", principal.ID, commandType, requiredRoles)
}

// CasbinAuthorizer delegates policy decisions to a casbin enforcer, letting
// operators express role, permission, and ownership rules in a casbin
// model/policy file instead of Go code.
type CasbinAuthorizer struct {
	enforcer *casbin.Enforcer
}

func NewCasbinAuthorizer(enforcer *casbin.Enforcer) *CasbinAuthorizer {
	return &CasbinAuthorizer{enforcer: enforcer}
}

// Authorize asks casbin whether (principal, commandType, "execute") is
// permitted. The tenant is passed as casbin's domain parameter for
// multi-tenant policy isolation.
func (a *CasbinAuthorizer) Authorize(ctx context.Context, principal domain.Principal, commandType string, command domain.Command) error {
	allowed, err := a.enforcer.Enforce(principal.ID, principal.TenantID, commandType, "execute")
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("principal %s denied for command %s", principal.ID, commandType)
	}
	return nil
}
