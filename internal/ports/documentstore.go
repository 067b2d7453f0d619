package ports

import (
	"context"
	"firestorm/internal/types"
)

// Cancel stops a live watch. Implementations MUST make it idempotent.
type Cancel func()

// DocumentStore is the hosted document database as seen by the sync layer.
// Watches push only changes observed after registration; callers fetch the initial value
// themselves.
type DocumentStore interface {
	// GetDocument returns the document, or (nil, nil) if it does not exist.
	GetDocument(ctx context.Context, collection, id string) (types.Document, error)

	// SetDocument writes the whole document, replacing any existing one.
	SetDocument(ctx context.Context, collection, id string, fields types.Document) error

	// CreateDocument writes the document only if no document with the id exists.
	// Returns (false, nil) if the document already existed.
	CreateDocument(ctx context.Context, collection, id string, fields types.Document) (bool, error)

	// UpdateDocument merges partial into the stored document.
	// MUST return types.ErrNotFound if the document does not exist.
	UpdateDocument(ctx context.Context, collection, id string, partial types.Document) error

	DeleteDocument(ctx context.Context, collection, id string) error

	// WatchDocument calls onNext with the document (nil when deleted) on every change.
	WatchDocument(ctx context.Context, collection, id string,
		onNext func(types.Document), onError func(error)) (Cancel, error)

	// WatchQuery calls onNext with the full, ordered query result whenever a document of
	// the collection changes.
	WatchQuery(ctx context.Context, q types.Query,
		onNext func([]types.Document), onError func(error)) (Cancel, error)

	// RunQuery executes q once. Every returned document carries its "id" key.
	RunQuery(ctx context.Context, q types.Query) ([]types.Document, error)
}
