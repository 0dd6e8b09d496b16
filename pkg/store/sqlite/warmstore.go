package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// WarmStore is the SQLite-backed durable tier of record.
type WarmStore struct {
	db *sql.DB
	mu sync.Mutex // serializes append transactions for simple, correct conflict detection
}

// NewWarmStore opens (and by default migrates) a SQLite-backed warm store.
func NewWarmStore(opts ...Option) (*WarmStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &WarmStore{db: db}, nil
}

func (w *WarmStore) Append(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewTransientStorageError("begin append tx", err)
	}
	defer tx.Rollback()

	var currentVersion int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = ?`,
		aggregateID.String(),
	).Scan(&currentVersion)
	if err != nil {
		return domain.NewTransientStorageError("read current version", err)
	}

	if currentVersion != expectedVersion {
		return &domain.ConcurrencyConflictError{
			AggregateID:     aggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	for _, evt := range events {
		for _, c := range evt.UniqueConstraints {
			if err := claimConstraint(ctx, tx, c, aggregateID.String()); err != nil {
				return err
			}
		}

		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		constraints, err := json.Marshal(evt.UniqueConstraints)
		if err != nil {
			return fmt.Errorf("marshal event constraints: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_store
				(event_id, aggregate_id, aggregate_type, event_type, event_version, payload, metadata, version, occurred_at, constraints)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.ID, aggregateID.String(), evt.AggregateType, evt.EventType, evt.EventVersion,
			[]byte(evt.Payload), string(metadata), evt.Version, evt.OccurredAt.UnixMicro(), string(constraints),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConcurrencyConflictError{
					AggregateID:     aggregateID,
					ExpectedVersion: expectedVersion,
					ActualVersion:   currentVersion,
				}
			}
			return domain.NewTransientStorageError("insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewTransientStorageError("commit append tx", err)
	}
	return nil
}

func claimConstraint(ctx context.Context, tx *sql.Tx, c domain.UniqueConstraint, ownerID string) error {
	switch c.Operation {
	case domain.ConstraintRelease:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM unique_constraints WHERE index_name = ? AND value = ? AND owner_id = ?`,
			c.IndexName, c.Value, ownerID)
		if err != nil {
			return fmt.Errorf("release unique constraint %s/%s: %w", c.IndexName, c.Value, err)
		}
		return nil
	default:
		var existingOwner string
		err := tx.QueryRowContext(ctx, `
			SELECT owner_id FROM unique_constraints WHERE index_name = ? AND value = ?`,
			c.IndexName, c.Value,
		).Scan(&existingOwner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// free to claim
		case err != nil:
			return fmt.Errorf("check unique constraint %s/%s: %w", c.IndexName, c.Value, err)
		case existingOwner != ownerID:
			return domain.ErrUniqueConstraintViolation
		default:
			return nil // already owned by this aggregate
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO unique_constraints (index_name, value, owner_id) VALUES (?, ?, ?)`,
			c.IndexName, c.Value, ownerID)
		if err != nil {
			return fmt.Errorf("claim unique constraint %s/%s: %w", c.IndexName, c.Value, err)
		}
		return nil
	}
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint errors with this substring;
	// there is no typed sentinel to check against.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (w *WarmStore) Load(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) ([]domain.DomainEvent, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, payload, metadata, version, occurred_at, constraints
		FROM event_store
		WHERE aggregate_id = ? AND version > ?
		ORDER BY version ASC`,
		aggregateID.String(), afterVersion,
	)
	if err != nil {
		return nil, domain.NewTransientStorageError("load events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (w *WarmStore) LoadAll(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, payload, metadata, version, occurred_at, constraints
		FROM event_store
		WHERE sequence_number > ?
		ORDER BY sequence_number ASC
		LIMIT ?`,
		fromPosition, limit,
	)
	if err != nil {
		return nil, domain.NewTransientStorageError("load all events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (w *WarmStore) LoadByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, payload, metadata, version, occurred_at, constraints
		FROM event_store
		WHERE event_type = ?
		ORDER BY sequence_number ASC
		LIMIT ? OFFSET ?`,
		eventType, limit, offset,
	)
	if err != nil {
		return nil, domain.NewTransientStorageError("load events by type", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.DomainEvent, error) {
	var events []domain.DomainEvent
	for rows.Next() {
		var (
			evt             domain.DomainEvent
			aggregateID     string
			metadataJSON    string
			constraintsJSON string
			occurredAtUTC   int64
		)
		if err := rows.Scan(
			&evt.ID, &aggregateID, &evt.AggregateType, &evt.EventType, &evt.EventVersion,
			&evt.Payload, &metadataJSON, &evt.Version, &occurredAtUTC, &constraintsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		evt.AggregateID = domain.AggregateIdFromString(aggregateID)
		evt.OccurredAt = time.UnixMicro(occurredAtUTC).UTC()
		if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		if constraintsJSON != "" {
			if err := json.Unmarshal([]byte(constraintsJSON), &evt.UniqueConstraints); err != nil {
				return nil, fmt.Errorf("unmarshal event constraints: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (w *WarmStore) Version(ctx context.Context, aggregateID domain.AggregateId) (int64, error) {
	var version int64
	err := w.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = ?`,
		aggregateID.String(),
	).Scan(&version)
	if err != nil {
		return 0, domain.NewTransientStorageError("read aggregate version", err)
	}
	return version, nil
}

func (w *WarmStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := w.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_number), 0) FROM event_store`).Scan(&seq)
	if err != nil {
		return 0, domain.NewTransientStorageError("read latest sequence", err)
	}
	return seq, nil
}

func (w *WarmStore) RecordCommand(ctx context.Context, commandID string, result domain.CommandResult, expiresAt time.Time) error {
	ids := make([]string, len(result.Events))
	for i, e := range result.Events {
		ids[i] = e.ID
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal event ids: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO processed_commands (command_id, event_ids, processed_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command_id) DO UPDATE SET event_ids = excluded.event_ids, processed_at = excluded.processed_at, expires_at = excluded.expires_at`,
		commandID, string(idsJSON), result.ProcessedAt.Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return domain.NewTransientStorageError("record command idempotency", err)
	}
	return nil
}

func (w *WarmStore) LoadCommand(ctx context.Context, commandID string) (domain.CommandResult, bool, error) {
	var (
		idsJSON     string
		processedAt int64
		expiresAt   int64
	)
	err := w.db.QueryRowContext(ctx, `
		SELECT event_ids, processed_at, expires_at FROM processed_commands WHERE command_id = ?`,
		commandID,
	).Scan(&idsJSON, &processedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CommandResult{}, false, nil
	}
	if err != nil {
		return domain.CommandResult{}, false, domain.NewTransientStorageError("load command result", err)
	}
	if time.Now().Unix() > expiresAt {
		return domain.CommandResult{}, false, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return domain.CommandResult{}, false, fmt.Errorf("unmarshal command event ids: %w", err)
	}

	events := make([]domain.DomainEvent, 0, len(ids))
	for _, id := range ids {
		rows, err := w.db.QueryContext(ctx, `
			SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, payload, metadata, version, occurred_at, constraints
			FROM event_store WHERE event_id = ?`, id)
		if err != nil {
			return domain.CommandResult{}, false, domain.NewTransientStorageError("load command event", err)
		}
		loaded, err := scanEvents(rows)
		rows.Close()
		if err != nil {
			return domain.CommandResult{}, false, err
		}
		events = append(events, loaded...)
	}

	return domain.CommandResult{
		CommandID:        commandID,
		Events:           events,
		AlreadyProcessed: true,
		ProcessedAt:      time.Unix(processedAt, 0).UTC(),
	}, true, nil
}

func (w *WarmStore) CheckUniqueness(ctx context.Context, indexName, value string) (bool, string, error) {
	var owner string
	err := w.db.QueryRowContext(ctx, `
		SELECT owner_id FROM unique_constraints WHERE index_name = ? AND value = ?`,
		indexName, value,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return true, "", nil
	}
	if err != nil {
		return false, "", domain.NewTransientStorageError("check uniqueness", err)
	}
	return false, owner, nil
}

func (w *WarmStore) ConstraintOwner(ctx context.Context, indexName, value string) (string, error) {
	_, owner, err := w.CheckUniqueness(ctx, indexName, value)
	return owner, err
}

// RebuildConstraints recomputes the unique-constraint index from the
// event log, for recovery when the index and log have drifted.
func (w *WarmStore) RebuildConstraints(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewTransientStorageError("begin rebuild tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unique_constraints`); err != nil {
		return domain.NewTransientStorageError("clear unique constraints", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT aggregate_id, constraints FROM event_store ORDER BY sequence_number ASC`)
	if err != nil {
		return domain.NewTransientStorageError("scan events for rebuild", err)
	}
	defer rows.Close()

	var replays []domain.UniqueConstraint
	var owners []string
	for rows.Next() {
		var aggregateID, constraintsJSON string
		if err := rows.Scan(&aggregateID, &constraintsJSON); err != nil {
			return fmt.Errorf("scan rebuild row: %w", err)
		}
		if constraintsJSON == "" || constraintsJSON == "[]" {
			continue
		}
		var constraints []domain.UniqueConstraint
		if err := json.Unmarshal([]byte(constraintsJSON), &constraints); err != nil {
			return fmt.Errorf("unmarshal rebuild constraints: %w", err)
		}
		for _, c := range constraints {
			replays = append(replays, c)
			owners = append(owners, aggregateID)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NewTransientStorageError("iterate rebuild rows", err)
	}
	rows.Close()

	for i, c := range replays {
		if err := claimConstraint(ctx, tx, c, owners[i]); err != nil && !errors.Is(err, domain.ErrUniqueConstraintViolation) {
			return err
		}
	}

	return tx.Commit()
}

func (w *WarmStore) Close() error {
	return w.db.Close()
}

var _ store.WarmStore = (*WarmStore)(nil)
