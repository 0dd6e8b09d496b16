package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/saga"
)

// SagaStore is the SQLite-backed implementation of saga.Store.
type SagaStore struct {
	db *sql.DB
}

func NewSagaStore(opts ...Option) (*SagaStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &SagaStore{db: db}, nil
}

func (s *SagaStore) Save(ctx context.Context, instance saga.Instance) error {
	metadata, err := json.Marshal(instance.Metadata)
	if err != nil {
		return fmt.Errorf("marshal saga metadata: %w", err)
	}

	var timeoutAt any
	if instance.TimeoutAt != nil {
		timeoutAt = instance.TimeoutAt.Unix()
	}

	now := domain.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sagas (saga_id, saga_type, state, data, metadata, timeout_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(saga_id) DO UPDATE SET
			state = excluded.state, data = excluded.data, metadata = excluded.metadata,
			timeout_at = excluded.timeout_at, updated_at = excluded.updated_at`,
		instance.ID, instance.Type, string(instance.State), []byte(instance.Data), string(metadata),
		timeoutAt, now.Unix(), now.Unix(),
	)
	if err != nil {
		return domain.NewTransientStorageError("save saga", err)
	}
	return nil
}

func (s *SagaStore) Load(ctx context.Context, id string) (saga.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT saga_id, saga_type, state, data, metadata, timeout_at, created_at, updated_at
		FROM sagas WHERE saga_id = ?`, id)
	instance, ok, err := scanSaga(row)
	return instance, ok, err
}

func (s *SagaStore) LoadActive(ctx context.Context) ([]saga.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id, saga_type, state, data, metadata, timeout_at, created_at, updated_at
		FROM sagas WHERE state IN ('PENDING', 'RUNNING', 'COMPENSATING')`)
	if err != nil {
		return nil, domain.NewTransientStorageError("load active sagas", err)
	}
	defer rows.Close()
	return scanSagas(rows)
}

func (s *SagaStore) LoadTimedOut(ctx context.Context, now int64) ([]saga.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id, saga_type, state, data, metadata, timeout_at, created_at, updated_at
		FROM sagas WHERE timeout_at IS NOT NULL AND timeout_at < ?
			AND state IN ('PENDING', 'RUNNING', 'COMPENSATING')`, now)
	if err != nil {
		return nil, domain.NewTransientStorageError("load timed out sagas", err)
	}
	defer rows.Close()
	return scanSagas(rows)
}

func (s *SagaStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sagas WHERE saga_id = ?`, id)
	if err != nil {
		return domain.NewTransientStorageError("delete saga", err)
	}
	return nil
}

func (s *SagaStore) Close() error { return s.db.Close() }

type scannable interface {
	Scan(dest ...any) error
}

func scanSaga(row scannable) (saga.Instance, bool, error) {
	var (
		instance                saga.Instance
		state, metadataJSON     string
		timeoutAt               sql.NullInt64
		createdAtUTC, updatedAtUTC int64
	)
	err := row.Scan(&instance.ID, &instance.Type, &state, &instance.Data, &metadataJSON,
		&timeoutAt, &createdAtUTC, &updatedAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Instance{}, false, nil
	}
	if err != nil {
		return saga.Instance{}, false, domain.NewTransientStorageError("scan saga", err)
	}
	instance.State = saga.State(state)
	instance.CreatedAt = time.Unix(createdAtUTC, 0).UTC()
	instance.UpdatedAt = time.Unix(updatedAtUTC, 0).UTC()
	if timeoutAt.Valid {
		t := time.Unix(timeoutAt.Int64, 0).UTC()
		instance.TimeoutAt = &t
	}
	if err := json.Unmarshal([]byte(metadataJSON), &instance.Metadata); err != nil {
		return saga.Instance{}, false, fmt.Errorf("unmarshal saga metadata: %w", err)
	}
	return instance, true, nil
}

func scanSagas(rows *sql.Rows) ([]saga.Instance, error) {
	var instances []saga.Instance
	for rows.Next() {
		instance, ok, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			instances = append(instances, instance)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewTransientStorageError("iterate sagas", err)
	}
	return instances, nil
}

var _ saga.Store = (*SagaStore)(nil)
