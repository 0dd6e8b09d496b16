// Package nats implements cqrs.CommandBus over NATS request/reply,
// letting a command's handler live in a different process than its
// sender. Commands are looked up by CommandType in a registry so the
// wire envelope can carry a JSON payload instead of requiring generated
// marshal code per command.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
)

// CommandFactory creates a zero-value instance of a concrete command,
// ready for json.Unmarshal to populate.
type CommandFactory func() domain.Command

// CommandRegistry maps a CommandType string to the factory that
// reconstructs it from JSON. The server side needs this to deserialize
// incoming requests without knowing concrete command types ahead of time.
type CommandRegistry struct {
	mu        sync.RWMutex
	factories map[string]CommandFactory
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{factories: make(map[string]CommandFactory)}
}

func (r *CommandRegistry) Register(commandType string, factory CommandFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[commandType] = factory
}

func (r *CommandRegistry) New(commandType string) (domain.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[commandType]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// envelopeWire is the JSON wire format for a dispatched command.
type envelopeWire struct {
	CommandType string                 `json:"command_type"`
	Payload     json.RawMessage        `json:"payload"`
	Metadata    domain.CommandMetadata `json:"metadata"`
}

// responseWire is the JSON wire format for a command's result.
type responseWire struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Events  []domain.DomainEvent `json:"events,omitempty"`
}

// CommandBus is a NATS-based implementation of cqrs.CommandBus, routing
// each command type to whichever process has a QueueSubscribe'd handler
// for it.
type CommandBus struct {
	nc       *nats.Conn
	registry *CommandRegistry
	handlers map[string]cqrs.CommandHandler
	subs     map[string]*nats.Subscription
	timeout  time.Duration
	mu       sync.RWMutex
}

// CommandBusConfig holds configuration for the NATS command bus.
type CommandBusConfig struct {
	URL        string
	Timeout    time.Duration
	QueueGroup string
}

func DefaultCommandBusConfig() CommandBusConfig {
	return CommandBusConfig{
		URL:        nats.DefaultURL,
		Timeout:    30 * time.Second,
		QueueGroup: "command-handlers",
	}
}

// NewCommandBus connects to NATS and returns a distributed command bus.
// registry is used on the server side to reconstruct concrete commands
// from their JSON payload; pass a shared instance across client and
// server processes when they're compiled from the same module.
func NewCommandBus(config CommandBusConfig, registry *CommandRegistry) (*CommandBus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &CommandBus{
		nc:       nc,
		registry: registry,
		handlers: make(map[string]cqrs.CommandHandler),
		subs:     make(map[string]*nats.Subscription),
		timeout:  config.Timeout,
	}, nil
}

// Register registers a handler for a command type and starts a
// queue-grouped NATS subscription so only one instance in the group
// processes any given command.
func (b *CommandBus) Register(commandType string, handler cqrs.CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		panic(fmt.Sprintf("cqrs/nats: handler already registered for command type %q", commandType))
	}
	b.handlers[commandType] = handler

	subject := fmt.Sprintf("commands.%s", commandType)
	sub, err := b.nc.QueueSubscribe(subject, "command-handlers", func(msg *nats.Msg) {
		b.handleMessage(msg, commandType)
	})
	if err != nil {
		panic(fmt.Sprintf("cqrs/nats: failed to subscribe to %s: %v", subject, err))
	}
	b.subs[commandType] = sub
}

// Send publishes cmd and blocks for the handling instance's response.
func (b *CommandBus) Send(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
	if cmd == nil || cmd.Command == nil {
		return nil, domain.ErrValidationFailed
	}

	payload, err := json.Marshal(cmd.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize command payload: %w", err)
	}

	wire := envelopeWire{
		CommandType: cmd.Command.CommandType(),
		Payload:     payload,
		Metadata:    cmd.Metadata,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize command envelope: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	subject := fmt.Sprintf("commands.%s", wire.CommandType)
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp responseWire
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("command failed: %s", resp.Error)
	}
	return resp.Events, nil
}

// DispatchAsync is not supported over the request/reply transport — async
// dispatch belongs to the in-process cqrs.DefaultCommandBus fronting a
// durable job queue, not to this RPC bridge.
func (b *CommandBus) DispatchAsync(ctx context.Context, cmd *domain.CommandEnvelope) (string, error) {
	return "", fmt.Errorf("cqrs/nats: async dispatch not supported, use cqrs.DefaultCommandBus")
}

func (b *CommandBus) AsyncStatus(asyncID string) (cqrs.AsyncResult, bool) {
	return cqrs.AsyncResult{}, false
}

// Use is a no-op placeholder: middleware in a distributed deployment runs
// server-side, wrapped around the registered handler before Register is
// called, not inside this transport.
func (b *CommandBus) Use(middleware cqrs.CommandMiddleware) {}

// handleMessage processes an incoming command request on the server side.
func (b *CommandBus) handleMessage(msg *nats.Msg, commandType string) {
	ctx := context.Background()

	var wire envelopeWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		b.respondError(msg, fmt.Errorf("failed to deserialize command: %w", err))
		return
	}

	cmd, ok := b.registry.New(commandType)
	if !ok {
		b.respondError(msg, fmt.Errorf("no command factory registered for type %q", commandType))
		return
	}
	if err := json.Unmarshal(wire.Payload, cmd); err != nil {
		b.respondError(msg, fmt.Errorf("failed to deserialize command payload: %w", err))
		return
	}

	b.mu.RLock()
	handler, exists := b.handlers[commandType]
	b.mu.RUnlock()
	if !exists {
		b.respondError(msg, fmt.Errorf("no handler registered for command type %q", commandType))
		return
	}

	events, err := handler.Handle(ctx, &domain.CommandEnvelope{Command: cmd, Metadata: wire.Metadata})
	if err != nil {
		b.respondError(msg, err)
		return
	}
	b.respondSuccess(msg, events)
}

func (b *CommandBus) respondSuccess(msg *nats.Msg, events []domain.DomainEvent) {
	data, _ := json.Marshal(responseWire{Success: true, Events: events})
	msg.Respond(data)
}

func (b *CommandBus) respondError(msg *nats.Msg, err error) {
	data, _ := json.Marshal(responseWire{Success: false, Error: err.Error()})
	msg.Respond(data)
}

// Close unsubscribes all handlers and closes the NATS connection.
func (b *CommandBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}

var _ cqrs.CommandBus = (*CommandBus)(nil)
