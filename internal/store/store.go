// Package store defines the record store consumed by the order manager.
// Callers issue structured insert/update/select calls against named
// collections; they never build raw queries, which keeps the core decoupled
// from any specific storage engine.
package store

import "context"

// Record is one stored row as a field map.
type Record map[string]interface{}

// Predicate matches records whose fields all equal the given values. An
// empty predicate matches every record in the collection.
type Predicate map[string]interface{}

// Store is a generic keyed record store.
type Store interface {
	// Insert adds one record to a collection.
	Insert(ctx context.Context, collection string, rec Record) error

	// Update sets fields on every record matching the predicate and
	// returns the number of records changed.
	Update(ctx context.Context, collection string, fields Record, pred Predicate) (int64, error)

	// Select returns every record matching the predicate.
	Select(ctx context.Context, collection string, pred Predicate) ([]Record, error)

	Close() error
}
