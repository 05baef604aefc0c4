package store

import (
	"context"
	"errors"

	"fieldline/internal/domain"
)

// ErrNotFound is returned when a solicitation id is absent from the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when an insert collides with an existing id.
// Practically unreachable with timestamp-derived ids, still surfaced.
var ErrDuplicateID = errors.New("duplicate id")

// Store is the record-store boundary the engine persists through. There are
// no transactions and no partial updates: Replace overwrites the whole record
// and a replace based on stale data clobbers a concurrent writer's change.
type Store interface {
	// ListAll returns every solicitation, order unspecified.
	ListAll(ctx context.Context) ([]domain.Solicitation, error)
	// GetByID returns the solicitation or ErrNotFound.
	GetByID(ctx context.Context, id string) (domain.Solicitation, error)
	// Insert persists a new solicitation or fails with ErrDuplicateID.
	// No fields are generated server-side; the caller assigns id and timestamps.
	Insert(ctx context.Context, s domain.Solicitation) (domain.Solicitation, error)
	// Replace overwrites an existing solicitation or fails with ErrNotFound.
	Replace(ctx context.Context, s domain.Solicitation) (domain.Solicitation, error)
}
