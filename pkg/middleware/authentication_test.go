package middleware

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

const testSecret = "test-signing-secret"

func signTestToken(t *testing.T, claims principalClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestJWTPrincipalResolver_ResolveValidToken(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)
	token := signTestToken(t, principalClaims{
		Roles:            []string{"admin"},
		Permissions:      []string{"account.close"},
		TenantID:         "tenant-1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})

	principal, err := resolver.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.ID)
	assert.Equal(t, "tenant-1", principal.TenantID)
	assert.True(t, principal.HasRole("admin"))
	assert.True(t, principal.HasPermission("account.close"))
}

func TestJWTPrincipalResolver_RejectsBadSignature(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, principalClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = resolver.Resolve(signed)
	require.Error(t, err)
}

func TestJWTPrincipalResolver_RejectsMissingSubject(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)
	token := signTestToken(t, principalClaims{})

	_, err := resolver.Resolve(token)
	require.Error(t, err)
}

func TestAuthenticationMiddleware_AttachesPrincipalFromBearerToken(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)
	token := signTestToken(t, principalClaims{
		Roles:            []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})

	var seen domain.Principal
	next := cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		seen, _ = ctx.Value(principalContextKey{}).(domain.Principal)
		return nil, nil
	})

	handler := AuthenticationMiddleware(resolver).Handle(next)
	_, err := handler.Handle(context.Background(), &domain.CommandEnvelope{
		Metadata: domain.CommandMetadata{Custom: map[string]string{"bearer_token": token}},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", seen.ID)
	assert.True(t, seen.HasRole("admin"))
}

func TestAuthenticationMiddleware_PassesThroughWithoutToken(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)

	called := false
	next := cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		called = true
		principal, _ := ctx.Value(principalContextKey{}).(domain.Principal)
		assert.True(t, principal.IsZero())
		return nil, nil
	})

	handler := AuthenticationMiddleware(resolver).Handle(next)
	_, err := handler.Handle(context.Background(), &domain.CommandEnvelope{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAuthenticationMiddleware_RejectsInvalidToken(t *testing.T) {
	resolver := NewJWTPrincipalResolver(testSecret)
	next := cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		return nil, nil
	})

	handler := AuthenticationMiddleware(resolver).Handle(next)
	_, err := handler.Handle(context.Background(), &domain.CommandEnvelope{
		Metadata: domain.CommandMetadata{Custom: map[string]string{"bearer_token": "not-a-jwt"}},
	})
	require.Error(t, err)
}
