package cache

import (
	"context"

	"github.com/eventflow/core/pkg/store/sqlite"
)

// L3 adapts sqlite.CacheStore to the Tier interface.
type L3 struct {
	store *sqlite.CacheStore
}

func NewL3(store *sqlite.CacheStore) *L3 {
	return &L3{store: store}
}

func (l *L3) Get(ctx context.Context, key string) (Entry, bool, error) {
	row, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	return Entry{Key: row.Key, Value: row.Value, Tags: row.Tags, ExpiresAt: row.ExpiresAt, CreatedAt: row.CreatedAt}, true, nil
}

func (l *L3) Set(ctx context.Context, entry Entry) error {
	return l.store.Set(ctx, sqlite.CacheEntry{
		Key: entry.Key, Value: entry.Value, Tags: entry.Tags,
		ExpiresAt: entry.ExpiresAt, CreatedAt: entry.CreatedAt,
	})
}

func (l *L3) Delete(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

func (l *L3) InvalidateTags(ctx context.Context, tags []string) error {
	return l.store.InvalidateTags(ctx, tags)
}

func (l *L3) Close() error { return l.store.Close() }

var _ Tier = (*L3)(nil)
