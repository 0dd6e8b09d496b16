package multitenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/store"
	"github.com/eventflow/core/pkg/store/sqlite"
)

// TenantStoreStrategy defines how tenants are isolated at the storage level.
type TenantStoreStrategy int

const (
	// SharedDatabase keeps all tenants in the same database, isolated by
	// tenant-prefixed aggregate IDs (see ComposeAggregateID).
	SharedDatabase TenantStoreStrategy = iota

	// DatabasePerTenant gives each tenant its own SQLite file.
	DatabasePerTenant
)

// MultiTenantEventStore wraps the tiered event store with multi-tenancy
// support, either a single shared store or one store per tenant.
type MultiTenantEventStore struct {
	strategy       TenantStoreStrategy
	sharedStore    store.EventStore
	tenantStores   map[string]store.EventStore
	tenantStoresMu sync.RWMutex
	config         MultiTenantConfig
}

type MultiTenantConfig struct {
	Strategy TenantStoreStrategy

	// For SharedDatabase strategy.
	SharedDSN string
	WALMode   bool
	HotTTL    time.Duration

	// For DatabasePerTenant strategy.
	DatabasePathTemplate string // e.g., "./data/tenant_%s.db"
}

// NewMultiTenantEventStore creates a new multi-tenant event store.
func NewMultiTenantEventStore(config MultiTenantConfig) (*MultiTenantEventStore, error) {
	s := &MultiTenantEventStore{
		strategy:     config.Strategy,
		tenantStores: make(map[string]store.EventStore),
		config:       config,
	}

	if config.Strategy == SharedDatabase {
		sharedStore, err := newTieredStore(config.SharedDSN, config.WALMode, config.HotTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared event store: %w", err)
		}
		s.sharedStore = sharedStore
	}

	return s, nil
}

func newTieredStore(dsn string, walMode bool, hotTTL time.Duration) (store.EventStore, error) {
	warm, err := sqlite.NewWarmStore(sqlite.WithDSN(dsn), sqlite.WithWALMode(walMode))
	if err != nil {
		return nil, err
	}
	if hotTTL <= 0 {
		hotTTL = 5 * time.Minute
	}
	hot := store.NewMemoryHotStore(hotTTL)
	return store.NewTieredStore(hot, warm), nil
}

// GetStore returns the event store for the tenant carried in ctx (or the
// shared store, under the SharedDatabase strategy).
func (m *MultiTenantEventStore) GetStore(ctx context.Context) (store.EventStore, error) {
	if m.strategy == SharedDatabase {
		return m.sharedStore, nil
	}

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	return m.getOrCreateTenantStore(tenantID)
}

// getOrCreateTenantStore gets or creates a per-tenant database.
func (m *MultiTenantEventStore) getOrCreateTenantStore(tenantID string) (store.EventStore, error) {
	m.tenantStoresMu.RLock()
	s, exists := m.tenantStores[tenantID]
	m.tenantStoresMu.RUnlock()

	if exists {
		return s, nil
	}

	m.tenantStoresMu.Lock()
	defer m.tenantStoresMu.Unlock()

	s, exists = m.tenantStores[tenantID]
	if exists {
		return s, nil
	}

	dsn := fmt.Sprintf(m.config.DatabasePathTemplate, tenantID)
	tenantStore, err := newTieredStore(dsn, m.config.WALMode, m.config.HotTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant store for %s: %w", tenantID, err)
	}

	m.tenantStores[tenantID] = tenantStore
	return tenantStore, nil
}

// Close closes all tenant stores.
func (m *MultiTenantEventStore) Close() error {
	if m.sharedStore != nil {
		if err := m.sharedStore.Close(); err != nil {
			return err
		}
	}

	m.tenantStoresMu.Lock()
	defer m.tenantStoresMu.Unlock()

	for tenantID, s := range m.tenantStores {
		if err := s.Close(); err != nil {
			return fmt.Errorf("failed to close store for tenant %s: %w", tenantID, err)
		}
	}

	return nil
}

// GetTenantEventStore is an alias of GetStore, kept for callers that prefer
// the more explicit name.
func (m *MultiTenantEventStore) GetTenantEventStore(ctx context.Context) (store.EventStore, error) {
	return m.GetStore(ctx)
}
