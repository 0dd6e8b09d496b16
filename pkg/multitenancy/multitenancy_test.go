package multitenancy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/repository"
)

// testAccountOpened and testAccount are a minimal hand-rolled aggregate
// used only to exercise MultiTenantEventStore end to end.
type testAccountOpened struct {
	OwnerName string `json:"owner_name"`
	Balance   string `json:"balance"`
}

type testAccount struct {
	domain.AggregateRoot
	OwnerName string
	Balance   string
}

func newTestAccount(id domain.AggregateId) *testAccount {
	a := &testAccount{}
	a.AggregateRoot = domain.NewAggregateRoot(id, "TestAccount")
	return a
}

func (a *testAccount) Open(ctx context.Context, ownerName, balance string, metadata domain.EventMetadata) error {
	_, err := a.ApplyChange(testAccountOpened{OwnerName: ownerName, Balance: balance}, "test.AccountOpened", metadata)
	if err != nil {
		return err
	}
	a.OwnerName = ownerName
	a.Balance = balance
	return nil
}

func (a *testAccount) ApplyEvent(event domain.DomainEvent) error {
	switch event.EventType {
	case "test.AccountOpened":
		var payload testAccountOpened
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		a.OwnerName = payload.OwnerName
		a.Balance = payload.Balance
	}
	return nil
}

func TestSharedDatabaseTenantIsolation(t *testing.T) {
	multiStore, err := NewMultiTenantEventStore(MultiTenantConfig{
		Strategy:  SharedDatabase,
		SharedDSN: ":memory:",
		WALMode:   true,
	})
	require.NoError(t, err)
	defer multiStore.Close()

	tenantACtx := WithTenantID(context.Background(), "tenant-a")
	aggregateIDA := domain.AggregateId(ComposeAggregateID("tenant-a", "acc-001"))

	storeA, err := multiStore.GetStore(tenantACtx)
	require.NoError(t, err)
	repoA := repository.NewRepository(storeA, "TestAccount", newTestAccount)

	accountA := newTestAccount(aggregateIDA)
	require.NoError(t, accountA.Open(tenantACtx, "Alice", "1000.00", domain.EventMetadata{
		PrincipalID: "user-alice",
		TenantID:    "tenant-a",
	}))
	require.NoError(t, repoA.Save(tenantACtx, accountA))

	tenantBCtx := WithTenantID(context.Background(), "tenant-b")
	aggregateIDB := domain.AggregateId(ComposeAggregateID("tenant-b", "acc-001"))

	storeB, err := multiStore.GetStore(tenantBCtx)
	require.NoError(t, err)
	repoB := repository.NewRepository(storeB, "TestAccount", newTestAccount)

	accountB := newTestAccount(aggregateIDB)
	require.NoError(t, accountB.Open(tenantBCtx, "Bob", "2000.00", domain.EventMetadata{
		PrincipalID: "user-bob",
		TenantID:    "tenant-b",
	}))
	require.NoError(t, repoB.Save(tenantBCtx, accountB))

	loadedA, err := repoA.Load(tenantACtx, aggregateIDA)
	require.NoError(t, err)
	require.Equal(t, "Alice", loadedA.OwnerName)
	require.Equal(t, "1000.00", loadedA.Balance)

	loadedB, err := repoB.Load(tenantBCtx, aggregateIDB)
	require.NoError(t, err)
	require.Equal(t, "Bob", loadedB.OwnerName)
	require.Equal(t, "2000.00", loadedB.Balance)

	require.Equal(t, "tenant-a::acc-001", string(loadedA.ID()))
	require.Equal(t, "tenant-b::acc-001", string(loadedB.ID()))
}

func TestComposeDecomposeAggregateID(t *testing.T) {
	tests := []struct {
		name        string
		tenantID    string
		aggregateID string
		compositeID string
	}{
		{
			name:        "Simple tenant and aggregate",
			tenantID:    "tenant-a",
			aggregateID: "acc-123",
			compositeID: "tenant-a::acc-123",
		},
		{
			name:        "UUID-style IDs",
			tenantID:    "550e8400-e29b-41d4-a716-446655440000",
			aggregateID: "123e4567-e89b-12d3-a456-426614174000",
			compositeID: "550e8400-e29b-41d4-a716-446655440000::123e4567-e89b-12d3-a456-426614174000",
		},
		{
			name:        "Empty tenant ID",
			tenantID:    "",
			aggregateID: "acc-123",
			compositeID: "acc-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compositeID := ComposeAggregateID(tt.tenantID, tt.aggregateID)
			require.Equal(t, tt.compositeID, compositeID)

			tenantID, aggregateID, err := DecomposeAggregateID(compositeID)
			require.NoError(t, err)
			require.Equal(t, tt.tenantID, tenantID)
			require.Equal(t, tt.aggregateID, aggregateID)
		})
	}
}

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name           string
		compositeID    string
		expectedTenant string
		wantErr        bool
	}{
		{
			name:           "Matching tenant",
			compositeID:    "tenant-a::acc-123",
			expectedTenant: "tenant-a",
			wantErr:        false,
		},
		{
			name:           "Mismatched tenant",
			compositeID:    "tenant-b::acc-123",
			expectedTenant: "tenant-a",
			wantErr:        true,
		},
		{
			name:           "No tenant prefix",
			compositeID:    "acc-123",
			expectedTenant: "tenant-a",
			wantErr:        false, // empty tenant ID is allowed (single-tenant mode)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.compositeID, tt.expectedTenant)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTenantContext(t *testing.T) {
	ctx := context.Background()

	require.False(t, HasTenantID(ctx))

	_, err := GetTenantID(ctx)
	require.Error(t, err)

	ctx = WithTenantID(ctx, "tenant-abc")

	require.True(t, HasTenantID(ctx))

	tenantID, err := GetTenantID(ctx)
	require.NoError(t, err)
	require.Equal(t, "tenant-abc", tenantID)

	require.Equal(t, "tenant-abc", MustGetTenantID(ctx))

	require.Panics(t, func() {
		MustGetTenantID(context.Background())
	})
}

func TestDatabasePerTenant(t *testing.T) {
	dir := t.TempDir()
	multiStore, err := NewMultiTenantEventStore(MultiTenantConfig{
		Strategy:             DatabasePerTenant,
		DatabasePathTemplate: dir + "/test_tenant_%s.db",
		WALMode:              true,
	})
	require.NoError(t, err)
	defer multiStore.Close()

	tenantXCtx := WithTenantID(context.Background(), "tenant-x")
	storeX, err := multiStore.GetStore(tenantXCtx)
	require.NoError(t, err)
	repoX := repository.NewRepository(storeX, "TestAccount", newTestAccount)

	accountX := newTestAccount("acc-001") // no tenant prefix needed, separate database
	require.NoError(t, accountX.Open(tenantXCtx, "Xavier", "5000.00", domain.EventMetadata{
		PrincipalID: "user-xavier",
		TenantID:    "tenant-x",
	}))
	require.NoError(t, repoX.Save(tenantXCtx, accountX))

	tenantYCtx := WithTenantID(context.Background(), "tenant-y")
	storeY, err := multiStore.GetStore(tenantYCtx)
	require.NoError(t, err)
	repoY := repository.NewRepository(storeY, "TestAccount", newTestAccount)

	accountY := newTestAccount("acc-001") // same id, different tenant database
	require.NoError(t, accountY.Open(tenantYCtx, "Yolanda", "6000.00", domain.EventMetadata{
		PrincipalID: "user-yolanda",
		TenantID:    "tenant-y",
	}))
	require.NoError(t, repoY.Save(tenantYCtx, accountY))

	loadedX, err := repoX.Load(tenantXCtx, "acc-001")
	require.NoError(t, err)
	require.Equal(t, "Xavier", loadedX.OwnerName)

	loadedY, err := repoY.Load(tenantYCtx, "acc-001")
	require.NoError(t, err)
	require.Equal(t, "Yolanda", loadedY.OwnerName)
}
