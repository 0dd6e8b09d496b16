package saga

import "context"

// Store persists saga instances.
type Store interface {
	Save(ctx context.Context, instance Instance) error
	Load(ctx context.Context, id string) (Instance, bool, error)

	// LoadActive returns every saga currently in a non-terminal, handling
	// state (PENDING, RUNNING, COMPENSATING).
	LoadActive(ctx context.Context) ([]Instance, error)

	// LoadTimedOut returns non-terminal sagas whose timeout has elapsed.
	LoadTimedOut(ctx context.Context, now int64) ([]Instance, error)

	Delete(ctx context.Context, id string) error
}
