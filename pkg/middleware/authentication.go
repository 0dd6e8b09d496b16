package middleware

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// principalClaims is the claim set a principal token carries: subject id
// plus the roles/permissions AuthorizationMiddleware checks against policy.
type principalClaims struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	TenantID    string   `json:"tenant_id"`
	jwt.RegisteredClaims
}

// JWTPrincipalResolver decodes a signed bearer token into a domain.Principal.
// Matches the teacher's static-credential style (pkg/security/credentials)
// rather than a JWKS rotation scheme: one fixed signing secret per resolver.
type JWTPrincipalResolver struct {
	secret []byte
}

// NewJWTPrincipalResolver builds a resolver that verifies tokens against
// the given HMAC secret.
func NewJWTPrincipalResolver(secret string) *JWTPrincipalResolver {
	return &JWTPrincipalResolver{secret: []byte(secret)}
}

// Resolve parses and verifies token, returning the domain.Principal it encodes.
func (r *JWTPrincipalResolver) Resolve(token string) (domain.Principal, error) {
	claims := &principalClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("parse principal token: %w", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Principal{}, fmt.Errorf("principal token missing subject")
	}

	return domain.Principal{
		ID:          subject,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

// AuthenticationMiddleware decodes the bearer token carried in
// CommandMetadata.Custom["bearer_token"] into a domain.Principal and
// attaches it to the context via WithPrincipal for AuthorizationMiddleware
// to consume downstream. A command with no bearer token passes through
// unauthenticated. Runs at priority 95, outside (before) Authorization's 90.
func AuthenticationMiddleware(resolver *JWTPrincipalResolver) cqrs.CommandMiddleware {
	return cqrs.MiddlewareFunc{
		NameValue:     "authentication",
		PriorityValue: 95,
		Wrap: func(next cqrs.CommandHandler) cqrs.CommandHandler {
			return cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
				token := cmd.Metadata.Custom["bearer_token"]
				if token == "" {
					return next.Handle(ctx, cmd)
				}

				principal, err := resolver.Resolve(token)
				if err != nil {
					return nil, fmt.Errorf("authentication failed: %w", err)
				}
				return next.Handle(WithPrincipal(ctx, principal), cmd)
			})
		},
	}
}
