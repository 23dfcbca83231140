// Package storage implements the generic document store collaborator:
// named collections of JSON-shaped documents with add/read/read-one/
// update/delete, used by C11 (mining tasks, interconnections) and the
// rest of the engine for persisted state.
package storage

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned by ReadOne/Update/Delete when no
// document with the given id exists in the collection.
var ErrDocumentNotFound = errors.New("storage: document not found")

// Filter is an equality match over document fields; nil or empty
// matches every document in the collection.
type Filter map[string]any

// Store is the generic document-store contract every SPEC_FULL.md
// component persists through: DataItems, MiningTasks, and
// TaskInterconnections are all stored as collections of documents keyed
// by "id".
type Store interface {
	// Add inserts doc into collection and returns its assigned id. If
	// doc already carries an "id" field, that id is preserved.
	Add(ctx context.Context, collection string, doc map[string]any) (string, error)

	// ReadOne fetches the document with the given id.
	ReadOne(ctx context.Context, collection, id string) (map[string]any, error)

	// Read returns every document in collection matching filter,
	// optionally sorted by sortField (descending if desc is true).
	Read(ctx context.Context, collection string, filter Filter, sortField string, desc bool) ([]map[string]any, error)

	// Update merges patch into the document with the given id.
	Update(ctx context.Context, collection, id string, patch map[string]any) error

	// Delete removes the document with the given id.
	Delete(ctx context.Context, collection, id string) error

	// Close releases any held resources (connections, file handles).
	Close() error
}
