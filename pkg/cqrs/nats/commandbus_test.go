package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
	natspkg "github.com/eventflow/core/pkg/messaging/nats"
)

type pingCommand struct {
	ID   string
	Text string
}

func (c *pingCommand) CommandID() string               { return c.ID }
func (c *pingCommand) AggregateID() domain.AggregateId { return domain.AggregateId("ping") }
func (c *pingCommand) CommandType() string             { return "test.Ping" }

func startTestServer(t *testing.T) string {
	t.Helper()
	srv, err := natspkg.StartEmbeddedServer()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv.URL()
}

func TestCommandBus_SendRoutesToRegisteredHandler(t *testing.T) {
	url := startTestServer(t)

	registry := NewCommandRegistry()
	registry.Register("test.Ping", func() domain.Command { return &pingCommand{} })

	server, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: 2 * time.Second}, registry)
	require.NoError(t, err)
	defer server.Close()

	var received *pingCommand
	server.Register("test.Ping", cqrs.CommandHandlerFunc(
		func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
			received = cmd.Command.(*pingCommand)
			return []domain.DomainEvent{{EventType: "test.Ponged"}}, nil
		}))

	client, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: 2 * time.Second}, registry)
	require.NoError(t, err)
	defer client.Close()

	events, err := client.Send(context.Background(), &domain.CommandEnvelope{
		Command:  &pingCommand{ID: "cmd-1", Text: "hello"},
		Metadata: domain.CommandMetadata{CommandID: "cmd-1"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "test.Ponged", events[0].EventType)

	require.NotNil(t, received)
	require.Equal(t, "hello", received.Text)
}

func TestCommandBus_SendWithNoHandlerReturnsError(t *testing.T) {
	url := startTestServer(t)

	registry := NewCommandRegistry()
	registry.Register("test.Ping", func() domain.Command { return &pingCommand{} })

	server, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: 500 * time.Millisecond}, registry)
	require.NoError(t, err)
	defer server.Close()
	// No handler registered server-side, so the subscription never exists
	// and the request fails (no responders, or the bus timeout at worst).

	client, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: 500 * time.Millisecond}, registry)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Send(context.Background(), &domain.CommandEnvelope{
		Command: &pingCommand{ID: "cmd-1"},
	})
	require.Error(t, err)
}

func TestCommandBus_DispatchAsyncUnsupported(t *testing.T) {
	url := startTestServer(t)
	registry := NewCommandRegistry()

	bus, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: time.Second}, registry)
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.DispatchAsync(context.Background(), &domain.CommandEnvelope{Command: &pingCommand{ID: "x"}})
	require.Error(t, err)
}

func TestCommandBus_RegisterDuplicatePanics(t *testing.T) {
	url := startTestServer(t)
	registry := NewCommandRegistry()

	bus, err := NewCommandBus(CommandBusConfig{URL: url, Timeout: time.Second}, registry)
	require.NoError(t, err)
	defer bus.Close()

	noop := cqrs.CommandHandlerFunc(func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
		return nil, nil
	})
	bus.Register("test.Ping", noop)

	require.Panics(t, func() { bus.Register("test.Ping", noop) })
}
