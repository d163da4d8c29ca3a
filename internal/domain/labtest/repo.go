package labtest

import "context"

// Repository persists the whole record collection as one unit.
type Repository interface {
	// LoadAll returns every persisted record. An empty store yields an
	// empty slice.
	LoadAll(ctx context.Context) ([]*Record, error)
	// WriteAll replaces the persisted collection. On failure the previous
	// collection is kept intact.
	WriteAll(ctx context.Context, records []*Record) error
}
