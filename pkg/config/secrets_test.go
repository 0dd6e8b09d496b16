package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/security/credentials"
)

type fakeProvider struct {
	creds *credentials.Credentials
	err   error
}

func (p *fakeProvider) GetCredentials(ctx context.Context) (*credentials.Credentials, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.creds, nil
}

func (p *fakeProvider) Rotate(ctx context.Context) error { return nil }

func (p *fakeProvider) Type() credentials.CredentialType { return credentials.CredentialTypeToken }

func (p *fakeProvider) Close() error { return nil }

var _ credentials.Provider = (*fakeProvider)(nil)

func TestDatabaseSecrets_DSN(t *testing.T) {
	provider := &fakeProvider{creds: &credentials.Credentials{
		Type:     credentials.CredentialTypeToken,
		Metadata: map[string]string{"dsn": "file:/var/lib/app/events.db"},
	}}
	secrets := NewDatabaseSecrets(provider)

	dsn, err := secrets.DSN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file:/var/lib/app/events.db", dsn)
}

func TestDatabaseSecrets_MissingDSNMetadata(t *testing.T) {
	provider := &fakeProvider{creds: &credentials.Credentials{Type: credentials.CredentialTypeToken}}
	secrets := NewDatabaseSecrets(provider)

	_, err := secrets.DSN(context.Background())
	require.Error(t, err)
}

func TestQueueSecrets_URL(t *testing.T) {
	provider := &fakeProvider{creds: &credentials.Credentials{
		Type:     credentials.CredentialTypeToken,
		Metadata: map[string]string{"url": "nats://broker.internal:4222"},
	}}
	secrets := NewQueueSecrets(provider)

	url, err := secrets.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nats://broker.internal:4222", url)
}

func TestQueueSecrets_ProviderError(t *testing.T) {
	provider := &fakeProvider{err: assert.AnError}
	secrets := NewQueueSecrets(provider)

	_, err := secrets.URL(context.Background())
	require.Error(t, err)
}
