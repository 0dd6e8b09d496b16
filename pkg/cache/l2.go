package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventflow/core/pkg/domain"
)

// L2 is the distributed cache tier, backed by Redis. Tags are tracked via
// a set-per-tag so InvalidateTags can find affected keys without scanning.
type L2 struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewL2(client redis.UniversalClient, keyPrefix string) *L2 {
	if keyPrefix == "" {
		keyPrefix = "eventflow:cache:"
	}
	return &L2{client: client, keyPrefix: keyPrefix}
}

type l2Payload struct {
	Value     []byte   `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"created_at"`
}

func (l *L2) dataKey(key string) string { return l.keyPrefix + "v:" + key }
func (l *L2) tagKey(tag string) string  { return l.keyPrefix + "t:" + tag }

func (l *L2) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := l.client.Get(ctx, l.dataKey(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("l2 get: %w", err)
	}

	var payload l2Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Entry{}, false, fmt.Errorf("l2 decode: %w", err)
	}

	ttl, err := l.client.TTL(ctx, l.dataKey(key)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("l2 ttl: %w", err)
	}

	return Entry{
		Key:       key,
		Value:     payload.Value,
		Tags:      payload.Tags,
		ExpiresAt: domain.Now().Add(ttl),
		CreatedAt: time.Unix(payload.CreatedAt, 0).UTC(),
	}, true, nil
}

func (l *L2) Set(ctx context.Context, entry Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(l2Payload{Value: entry.Value, Tags: entry.Tags, CreatedAt: entry.CreatedAt.Unix()})
	if err != nil {
		return fmt.Errorf("l2 encode: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, l.dataKey(entry.Key), payload, ttl)
	for _, tag := range entry.Tags {
		pipe.SAdd(ctx, l.tagKey(tag), entry.Key)
		pipe.Expire(ctx, l.tagKey(tag), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("l2 set: %w", err)
	}
	return nil
}

func (l *L2) Delete(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("l2 delete: %w", err)
	}
	return nil
}

func (l *L2) InvalidateTags(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		keys, err := l.client.SMembers(ctx, l.tagKey(tag)).Result()
		if err != nil {
			return fmt.Errorf("l2 tag members: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		dataKeys := make([]string, len(keys))
		for i, k := range keys {
			dataKeys[i] = l.dataKey(k)
		}
		if err := l.client.Del(ctx, dataKeys...).Err(); err != nil {
			return fmt.Errorf("l2 tag invalidate: %w", err)
		}
		l.client.Del(ctx, l.tagKey(tag))
	}
	return nil
}

func (l *L2) Close() error { return l.client.Close() }

var _ Tier = (*L2)(nil)
