package multitenancy

import (
	"context"
	"fmt"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// TenantIsolationMiddleware ensures tenant isolation for all commands.
// It validates that:
// 1. Tenant ID is present in context
// 2. Aggregate IDs match the tenant context
// 3. Commands cannot cross tenant boundaries
type TenantIsolationMiddleware struct{}

func (TenantIsolationMiddleware) Name() string                                   { return "tenant-isolation" }
func (TenantIsolationMiddleware) Priority() int                                   { return 90 }
func (TenantIsolationMiddleware) ShouldProcess(cmd *domain.CommandEnvelope) bool  { return true }

func (TenantIsolationMiddleware) Handle(next cqrs.CommandHandler) cqrs.CommandHandler {
	return cqrs.CommandHandlerFunc(func(ctx context.Context, envelope *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		tenantID, err := GetTenantID(ctx)
		if err != nil {
			return nil, fmt.Errorf("tenant isolation: %w", err)
		}

		if envelope.Metadata.TenantID != "" && envelope.Metadata.TenantID != tenantID {
			return nil, fmt.Errorf("tenant isolation: metadata tenant (%s) doesn't match context tenant (%s)",
				envelope.Metadata.TenantID, tenantID)
		}
		envelope.Metadata.TenantID = tenantID

		events, err := next.Handle(ctx, envelope)
		if err != nil {
			return nil, err
		}

		for i := range events {
			if err := ValidateTenantID(string(events[i].AggregateID), tenantID); err != nil {
				return nil, fmt.Errorf("tenant isolation: event validation failed: %w", err)
			}
			events[i].Metadata.TenantID = tenantID
		}

		return events, nil
	})
}

// TenantExtractionMiddleware extracts the tenant ID from different sources.
// Priority: 1. Context, 2. Metadata, 3. Custom extractor function.
type TenantExtractionMiddleware struct {
	Extractor func(*domain.CommandEnvelope) (string, error)
}

func (TenantExtractionMiddleware) Name() string                                   { return "tenant-extraction" }
func (TenantExtractionMiddleware) Priority() int                                  { return 95 }
func (TenantExtractionMiddleware) ShouldProcess(cmd *domain.CommandEnvelope) bool { return true }

func (m TenantExtractionMiddleware) Handle(next cqrs.CommandHandler) cqrs.CommandHandler {
	return cqrs.CommandHandlerFunc(func(ctx context.Context, envelope *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		if HasTenantID(ctx) {
			return next.Handle(ctx, envelope)
		}

		if envelope.Metadata.TenantID != "" {
			ctx = WithTenantID(ctx, envelope.Metadata.TenantID)
			return next.Handle(ctx, envelope)
		}

		if m.Extractor != nil {
			tenantID, err := m.Extractor(envelope)
			if err != nil {
				return nil, fmt.Errorf("tenant extraction failed: %w", err)
			}
			ctx = WithTenantID(ctx, tenantID)
			return next.Handle(ctx, envelope)
		}

		return nil, fmt.Errorf("tenant ID not found and no extractor provided")
	})
}

// TenantAuthorizer checks whether a principal can access a tenant.
type TenantAuthorizer interface {
	Authorize(ctx context.Context, principalID, tenantID string) error
}

// TenantAuthorizationMiddleware ensures the requesting principal has access
// to the tenant attached to the command's context.
type TenantAuthorizationMiddleware struct {
	Authorizer TenantAuthorizer
}

func (TenantAuthorizationMiddleware) Name() string                                   { return "tenant-authorization" }
func (TenantAuthorizationMiddleware) Priority() int                                  { return 85 }
func (TenantAuthorizationMiddleware) ShouldProcess(cmd *domain.CommandEnvelope) bool { return true }

func (m TenantAuthorizationMiddleware) Handle(next cqrs.CommandHandler) cqrs.CommandHandler {
	return cqrs.CommandHandlerFunc(func(ctx context.Context, envelope *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		tenantID, err := GetTenantID(ctx)
		if err != nil {
			return nil, err
		}

		if err := m.Authorizer.Authorize(ctx, envelope.Metadata.PrincipalID, tenantID); err != nil {
			return nil, fmt.Errorf("tenant authorization failed: %w", err)
		}

		return next.Handle(ctx, envelope)
	})
}
