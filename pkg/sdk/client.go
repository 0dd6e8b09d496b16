// Package sdk bundles the event store, command bus, and event bus into a
// single client, for callers that want a batteries-included entry point
// instead of wiring each component by hand.
package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/messaging"
	natspkg "github.com/eventflow/core/pkg/messaging/nats"
	"github.com/eventflow/core/pkg/store"
	"github.com/eventflow/core/pkg/store/sqlite"
)

// Client is a unified SDK for event sourcing that provides a great developer experience.
// It combines command bus, event bus, and event store in a single interface.
type Client struct {
	commandBus   cqrs.CommandBus
	eventBus     messaging.EventBus
	eventStore   store.EventStore
	embeddedNATS *natspkg.EmbeddedServer // non-nil only in development mode, for cleanup
	config       *Config
}

// Config holds configuration for the SDK client.
type Config struct {
	// Mode determines if the client runs in development or production mode
	Mode Mode

	// NATS configuration (used in production mode)
	NATS NATSConfig

	// SQLite configuration (event store)
	SQLite SQLiteConfig

	// HotStoreTTL controls how long the in-memory tier caches a loaded
	// aggregate stream before falling back to SQLite.
	HotStoreTTL time.Duration

	// Timeouts
	CommandTimeout time.Duration
}

// Mode represents the operational mode of the client.
type Mode string

const (
	// DevelopmentMode starts an embedded NATS server for local development.
	DevelopmentMode Mode = "development"

	// ProductionMode connects to an external NATS deployment.
	ProductionMode Mode = "production"
)

// NATSConfig holds NATS-specific configuration.
type NATSConfig struct {
	URL            string
	StreamName     string
	StreamSubjects []string
	MaxAge         time.Duration
	MaxBytes       int64
}

// SQLiteConfig holds SQLite event store configuration.
type SQLiteConfig struct {
	DSN     string
	WALMode bool
}

// DefaultConfig returns sensible defaults for the SDK.
func DefaultConfig() *Config {
	return &Config{
		Mode: DevelopmentMode,
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			StreamName:     "EVENTS",
			StreamSubjects: []string{"events.>"},
			MaxAge:         7 * 24 * time.Hour,
			MaxBytes:       1024 * 1024 * 1024,
		},
		SQLite: SQLiteConfig{
			DSN:     ":memory:",
			WALMode: false,
		},
		HotStoreTTL:    5 * time.Minute,
		CommandTimeout: 30 * time.Second,
	}
}

// NewClient creates a new SDK client based on the configuration.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	client := &Client{
		config:     config,
		commandBus: cqrs.NewCommandBus(cqrs.WithStatusTTL(config.CommandTimeout)),
	}

	warm, err := sqlite.NewWarmStore(sqlite.WithDSN(config.SQLite.DSN), sqlite.WithWALMode(config.SQLite.WALMode))
	if err != nil {
		return nil, fmt.Errorf("failed to create event store: %w", err)
	}
	client.eventStore = store.NewTieredStore(store.NewMemoryHotStore(config.HotStoreTTL), warm)

	var eventBus *natspkg.EventBus
	var embeddedNATS *natspkg.EmbeddedServer

	switch config.Mode {
	case DevelopmentMode:
		eventBus, embeddedNATS, err = natspkg.NewEmbeddedEventBus()
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded event bus: %w", err)
		}
		client.embeddedNATS = embeddedNATS

	case ProductionMode:
		eventBus, err = natspkg.NewEventBus(natspkg.Config{
			URL:            config.NATS.URL,
			StreamName:     config.NATS.StreamName,
			StreamSubjects: config.NATS.StreamSubjects,
			MaxAge:         config.NATS.MaxAge,
			MaxBytes:       config.NATS.MaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}

	default:
		return nil, fmt.Errorf("invalid mode: %s", config.Mode)
	}
	client.eventBus = eventBus

	return client, nil
}

// SendCommand sends a command through the command bus and waits for it to
// be processed.
func (c *Client) SendCommand(ctx context.Context, command domain.Command, metadata domain.CommandMetadata) ([]domain.DomainEvent, error) {
	if metadata.CommandID == "" {
		metadata.CommandID = command.CommandID()
	}
	if metadata.CommandID == "" {
		metadata.CommandID = domain.GenerateID()
	}
	if metadata.CorrelationID == "" {
		metadata.CorrelationID = domain.GenerateID()
	}
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = time.Now()
	}

	envelope := &domain.CommandEnvelope{
		Command:  command,
		Metadata: metadata,
	}

	if _, ok := ctx.Deadline(); !ok && c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	return c.commandBus.Send(ctx, envelope)
}

// SubscribeToEvents subscribes to events matching the filter.
func (c *Client) SubscribeToEvents(filter messaging.EventFilter, handler messaging.EventHandler) (messaging.Subscription, error) {
	return c.eventBus.Subscribe(filter, handler)
}

// RegisterCommandHandler registers a command handler for a command type.
func (c *Client) RegisterCommandHandler(commandType string, handler cqrs.CommandHandler) {
	c.commandBus.Register(commandType, handler)
}

// UseCommandMiddleware adds middleware to the command processing pipeline.
func (c *Client) UseCommandMiddleware(middleware cqrs.CommandMiddleware) {
	c.commandBus.Use(middleware)
}

// EventStore returns the underlying event store.
func (c *Client) EventStore() store.EventStore {
	return c.eventStore
}

// EventBus returns the underlying event bus.
func (c *Client) EventBus() messaging.EventBus {
	return c.eventBus
}

// CommandBus returns the underlying command bus.
func (c *Client) CommandBus() cqrs.CommandBus {
	return c.commandBus
}

// Close closes all connections and releases resources.
func (c *Client) Close() error {
	var errs []error

	if c.eventStore != nil {
		if err := c.eventStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event store close error: %w", err))
		}
	}

	if eb, ok := c.eventBus.(*natspkg.EventBus); ok && eb != nil {
		if err := eb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus close error: %w", err))
		}
	}

	if c.embeddedNATS != nil {
		c.embeddedNATS.Shutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Builder provides a fluent API for building SDK clients.
type Builder struct {
	config *Config
}

// NewBuilder creates a new builder with default configuration.
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithMode sets the operational mode.
func (b *Builder) WithMode(mode Mode) *Builder {
	b.config.Mode = mode
	return b
}

// WithNATSURL sets the NATS server URL.
func (b *Builder) WithNATSURL(url string) *Builder {
	b.config.NATS.URL = url
	return b
}

// WithSQLiteDSN sets the SQLite database DSN.
func (b *Builder) WithSQLiteDSN(dsn string) *Builder {
	b.config.SQLite.DSN = dsn
	return b
}

// WithWALMode enables or disables WAL mode for SQLite.
func (b *Builder) WithWALMode(enabled bool) *Builder {
	b.config.SQLite.WALMode = enabled
	return b
}

// WithCommandTimeout sets the command timeout.
func (b *Builder) WithCommandTimeout(timeout time.Duration) *Builder {
	b.config.CommandTimeout = timeout
	return b
}

// Build creates the client.
func (b *Builder) Build() (*Client, error) {
	return NewClient(b.config)
}
