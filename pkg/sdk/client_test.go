package sdk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

type testPingCommand struct {
	id string
}

func (c testPingCommand) CommandID() string               { return c.id }
func (c testPingCommand) AggregateID() domain.AggregateId { return domain.AggregateId("ping-1") }
func (c testPingCommand) CommandType() string             { return "test.Ping" }

func newTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.SQLite.DSN = ":memory:"
	return cfg
}

func TestNewClient_DefaultsToDevelopmentMode(t *testing.T) {
	client, err := NewClient(newTestConfig())
	require.NoError(t, err)
	defer client.Close()

	assert.NotNil(t, client.EventStore())
	assert.NotNil(t, client.EventBus())
	assert.NotNil(t, client.CommandBus())
}

func TestNewClient_NilConfigUsesDefaults(t *testing.T) {
	client, err := NewClient(nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DevelopmentMode, client.config.Mode)
}

func TestNewClient_InvalidMode(t *testing.T) {
	cfg := newTestConfig()
	cfg.Mode = Mode("bogus")
	_, err := NewClient(cfg)
	require.Error(t, err)
}

func TestClient_SendCommandRoutesToHandler(t *testing.T) {
	client, err := NewClient(newTestConfig())
	require.NoError(t, err)
	defer client.Close()

	var received *domain.CommandEnvelope
	client.RegisterCommandHandler("test.Ping", cqrs.CommandHandlerFunc(
		func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
			received = cmd
			return []domain.DomainEvent{{EventType: "test.Ponged"}}, nil
		}))

	events, err := client.SendCommand(context.Background(), testPingCommand{id: "cmd-1"}, domain.CommandMetadata{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "test.Ponged", events[0].EventType)

	require.NotNil(t, received)
	assert.Equal(t, "cmd-1", received.Metadata.CommandID)
	assert.NotEmpty(t, received.Metadata.CorrelationID)
	assert.False(t, received.Metadata.Timestamp.IsZero())
}

func TestClient_SendCommandGeneratesIDsWhenMissing(t *testing.T) {
	client, err := NewClient(newTestConfig())
	require.NoError(t, err)
	defer client.Close()

	client.RegisterCommandHandler("test.Ping", cqrs.CommandHandlerFunc(
		func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
			return nil, nil
		}))

	_, err = client.SendCommand(context.Background(), testPingCommand{}, domain.CommandMetadata{})
	require.NoError(t, err)
}

func TestBuilder_BuildsClient(t *testing.T) {
	client, err := NewBuilder().
		WithSQLiteDSN(":memory:").
		WithWALMode(false).
		WithCommandTimeout(5 * time.Second).
		Build()
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DevelopmentMode, client.config.Mode)
}
