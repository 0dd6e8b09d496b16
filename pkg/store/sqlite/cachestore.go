package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// CacheEntry is the SQLite-backed shape of one L3 cache row. pkg/cache
// adapts this into its own Entry type, keeping the durable tier free of a
// dependency on the cache package.
type CacheEntry struct {
	Key       string
	Value     []byte
	Tags      []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CacheStore is the SQLite-backed L3 cache tier: durable, long-TTL,
// tag-indexed via a simple delimited scan (the table is small relative to
// L1/L2, so no separate tag index table is needed).
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(opts ...Option) (*CacheStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &CacheStore{db: db}, nil
}

const tagDelimiter = "\x1f"

func joinTags(tags []string) string { return strings.Join(tags, tagDelimiter) }
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, tagDelimiter)
}

func (c *CacheStore) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	var entry CacheEntry
	var tags string
	var expiresAtUTC, createdAtUTC int64
	err := c.db.QueryRowContext(ctx, `
		SELECT cache_key, value, tags, expires_at, created_at FROM cache_entries WHERE cache_key = ?`,
		key,
	).Scan(&entry.Key, &entry.Value, &tags, &expiresAtUTC, &createdAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, domain.NewTransientStorageError("get cache entry", err)
	}
	entry.Tags = splitTags(tags)
	entry.ExpiresAt = time.Unix(expiresAtUTC, 0).UTC()
	entry.CreatedAt = time.Unix(createdAtUTC, 0).UTC()

	if domain.Now().After(entry.ExpiresAt) {
		_ = c.Delete(ctx, key)
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *CacheStore) Set(ctx context.Context, entry CacheEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, value, tags, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, tags = excluded.tags,
			expires_at = excluded.expires_at, created_at = excluded.created_at`,
		entry.Key, entry.Value, joinTags(entry.Tags), entry.ExpiresAt.Unix(), entry.CreatedAt.Unix(),
	)
	if err != nil {
		return domain.NewTransientStorageError("set cache entry", err)
	}
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		return domain.NewTransientStorageError("delete cache entry", err)
	}
	return nil
}

// InvalidateTags deletes every entry whose tags column contains one of
// tags as a whole delimited tag. The full-table scan is acceptable at L3
// scale (durable cache, not hot path).
func (c *CacheStore) InvalidateTags(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE instr(? || tags || ?, ?) > 0`,
			tagDelimiter, tagDelimiter, tagDelimiter+tag+tagDelimiter)
		if err != nil {
			return domain.NewTransientStorageError("invalidate cache tag", err)
		}
	}
	return nil
}

// PurgeExpired removes all entries past their expiry, for a periodic sweep.
func (c *CacheStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, domain.Now().Unix())
	if err != nil {
		return 0, domain.NewTransientStorageError("purge expired cache entries", err)
	}
	return res.RowsAffected()
}

func (c *CacheStore) Close() error { return c.db.Close() }
