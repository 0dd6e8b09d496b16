package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eventflow/core/pkg/domain"
)

// DeadLetter records an event batch whose durable write-back exhausted
// retries. Operators drain this list for manual replay.
type DeadLetter struct {
	AggregateID     domain.AggregateId
	ExpectedVersion int64
	Events          []domain.DomainEvent
	LastError       error
	FailedAt        time.Time
}

// TieredStoreOption configures a TieredStore.
type TieredStoreOption func(*TieredStore)

// WithLogger sets the structured logger used for write-back failures.
func WithLogger(logger *slog.Logger) TieredStoreOption {
	return func(t *TieredStore) { t.logger = logger }
}

// WithSynchronousWriteBack makes AppendEvents wait for the warm store
// write before returning, instead of scheduling a background job.
func WithSynchronousWriteBack(sync bool) TieredStoreOption {
	return func(t *TieredStore) { t.synchronous = sync }
}

// WithWriteBackRetries bounds the attempts (the first one included) for
// the async write-back job before an append lands in the dead-letter area.
func WithWriteBackRetries(max uint) TieredStoreOption {
	return func(t *TieredStore) { t.maxWriteBackRetries = max }
}

// TieredStore composes a HotStore and WarmStore into the EventStore
// contract: writes go to hot immediately and warm either synchronously
// or via a retried background job; reads try hot first and promote a
// warm hit back into hot.
type TieredStore struct {
	hot  HotStore
	warm WarmStore

	logger              *slog.Logger
	synchronous         bool
	maxWriteBackRetries uint

	mu          sync.Mutex
	deadLetters []DeadLetter

	wg sync.WaitGroup
}

// NewTieredStore composes the given tiers. By default write-back is
// asynchronous with up to 5 attempts before dead-lettering.
func NewTieredStore(hot HotStore, warm WarmStore, opts ...TieredStoreOption) *TieredStore {
	t := &TieredStore{
		hot:                 hot,
		warm:                warm,
		logger:              slog.Default(),
		maxWriteBackRetries: 5,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TieredStore) AppendEvents(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Hot accepts immediately so in-request follow-up reads see the write.
	t.hot.Append(ctx, aggregateID, events)

	if t.synchronous {
		if err := t.warm.Append(ctx, aggregateID, expectedVersion, events); err != nil {
			t.hot.Evict(ctx, aggregateID)
			return err
		}
		return nil
	}

	t.wg.Add(1)
	go t.writeBack(aggregateID, expectedVersion, events)
	return nil
}

func (t *TieredStore) writeBack(aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) {
	defer t.wg.Done()

	ctx := context.Background()
	op := func() (struct{}, error) {
		err := t.warm.Append(ctx, aggregateID, expectedVersion, events)
		if err != nil && domain.IsRetryable(err) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(t.maxWriteBackRetries),
	)
	if err != nil {
		t.hot.Evict(ctx, aggregateID)
		t.logger.Error("event store write-back exhausted retries",
			"aggregate_id", aggregateID.String(), "error", err)
		t.mu.Lock()
		t.deadLetters = append(t.deadLetters, DeadLetter{
			AggregateID:     aggregateID,
			ExpectedVersion: expectedVersion,
			Events:          events,
			LastError:       err,
			FailedAt:        time.Now(),
		})
		t.mu.Unlock()
	}
}

// DeadLetters returns a snapshot of failed write-backs awaiting operator
// intervention.
func (t *TieredStore) DeadLetters() []DeadLetter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]DeadLetter(nil), t.deadLetters...)
}

// Wait blocks until all in-flight async write-backs complete. Intended
// for tests and graceful shutdown.
func (t *TieredStore) Wait() { t.wg.Wait() }

func (t *TieredStore) AppendEventsIdempotent(
	ctx context.Context,
	aggregateID domain.AggregateId,
	expectedVersion int64,
	events []domain.DomainEvent,
	commandID string,
	ttl time.Duration,
) (domain.CommandResult, error) {
	if existing, ok, err := t.warm.LoadCommand(ctx, commandID); err != nil {
		return domain.CommandResult{}, err
	} else if ok {
		existing.AlreadyProcessed = true
		return existing, nil
	}

	if err := t.AppendEvents(ctx, aggregateID, expectedVersion, events); err != nil {
		return domain.CommandResult{}, err
	}

	result := domain.CommandResult{
		CommandID:        commandID,
		Events:           events,
		AlreadyProcessed: false,
		ProcessedAt:      domain.Now(),
	}
	if ttl <= 0 {
		ttl = domain.DefaultCommandTTL
	}
	if err := t.warm.RecordCommand(ctx, commandID, result, time.Now().Add(ttl)); err != nil {
		t.logger.Warn("failed to record command idempotency entry", "command_id", commandID, "error", err)
	}
	return result, nil
}

func (t *TieredStore) GetCommandResult(ctx context.Context, commandID string) (domain.CommandResult, bool, error) {
	return t.warm.LoadCommand(ctx, commandID)
}

func (t *TieredStore) LoadEvents(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) (domain.EventStream, error) {
	if cached, ok := t.hot.Get(ctx, aggregateID); ok {
		if afterVersion == 0 {
			return cached, nil
		}
		// Hot only covers whatever's been appended this process; if the
		// caller wants a version range we can't prove is covered, fall
		// through to warm to be safe.
	}

	events, err := t.warm.Load(ctx, aggregateID, afterVersion)
	if err != nil {
		return domain.EventStream{}, err
	}
	stream := domain.NewEventStream(aggregateID, events)

	if afterVersion == 0 {
		t.hot.Put(ctx, aggregateID, stream)
	}
	return stream, nil
}

func (t *TieredStore) LoadAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error) {
	return t.warm.LoadAll(ctx, fromPosition, limit)
}

func (t *TieredStore) LoadEventsByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error) {
	return t.warm.LoadByType(ctx, eventType, limit, offset)
}

func (t *TieredStore) LoadEventsFromSequence(ctx context.Context, fromSeq int64, limit int) ([]domain.DomainEvent, error) {
	return t.warm.LoadAll(ctx, fromSeq, limit)
}

func (t *TieredStore) GetAggregateVersion(ctx context.Context, aggregateID domain.AggregateId) (int64, error) {
	if cached, ok := t.hot.Get(ctx, aggregateID); ok {
		if last, ok := cached.Last(); ok {
			return last.Version, nil
		}
	}
	return t.warm.Version(ctx, aggregateID)
}

func (t *TieredStore) LatestSequence(ctx context.Context) (int64, error) {
	return t.warm.LatestSequence(ctx)
}

func (t *TieredStore) CheckUniqueness(ctx context.Context, indexName, value string) (bool, string, error) {
	return t.warm.CheckUniqueness(ctx, indexName, value)
}

func (t *TieredStore) GetConstraintOwner(ctx context.Context, indexName, value string) (string, error) {
	return t.warm.ConstraintOwner(ctx, indexName, value)
}

func (t *TieredStore) RebuildConstraints(ctx context.Context) error {
	return t.warm.RebuildConstraints(ctx)
}

func (t *TieredStore) EvictHot(ctx context.Context, aggregateID domain.AggregateId) {
	t.hot.Evict(ctx, aggregateID)
}

func (t *TieredStore) Close() error {
	t.wg.Wait()
	if mh, ok := t.hot.(*MemoryHotStore); ok {
		mh.Close()
	}
	if err := t.warm.Close(); err != nil {
		return fmt.Errorf("close warm store: %w", err)
	}
	return nil
}

var _ EventStore = (*TieredStore)(nil)
