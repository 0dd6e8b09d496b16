package config

import (
	"context"
	"fmt"

	"github.com/eventflow/core/pkg/security/credentials"
)

// DatabaseSecrets resolves the warm store's connection credentials from a
// credentials.Provider (backed by gocloud.dev/secrets — AWS Secrets
// Manager, GCP Secret Manager, Vault, or a local file in development).
type DatabaseSecrets struct {
	provider credentials.Provider
}

func NewDatabaseSecrets(provider credentials.Provider) *DatabaseSecrets {
	return &DatabaseSecrets{provider: provider}
}

// DSN resolves the current credentials into a SQLite DSN. Rotation is
// transparent: each call re-resolves through the provider's cache.
func (d *DatabaseSecrets) DSN(ctx context.Context) (string, error) {
	creds, err := d.provider.GetCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve database credentials: %w", err)
	}
	if dsn, ok := creds.Metadata["dsn"]; ok && dsn != "" {
		return dsn, nil
	}
	return "", fmt.Errorf("database credentials did not carry a 'dsn' metadata entry")
}

// QueueSecrets resolves the async job queue's broker credentials the same
// way.
type QueueSecrets struct {
	provider credentials.Provider
}

func NewQueueSecrets(provider credentials.Provider) *QueueSecrets {
	return &QueueSecrets{provider: provider}
}

func (q *QueueSecrets) URL(ctx context.Context) (string, error) {
	creds, err := q.provider.GetCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve queue credentials: %w", err)
	}
	if url, ok := creds.Metadata["url"]; ok && url != "" {
		return url, nil
	}
	return "", fmt.Errorf("queue credentials did not carry a 'url' metadata entry")
}
