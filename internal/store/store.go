// Package store provides the knowledge-store boundary: durable persistence
// of challenges, solutions, learnings, and patterns as individually
// addressable documents keyed by id and grouped by category.
package store

import (
	"context"
	"errors"
)

// Record categories. Each category maps to a directory (file store) or a
// partition of the documents table (postgres store).
const (
	CategoryChallenges = "challenges"
	CategorySolutions  = "solutions"
	CategoryLearnings  = "learnings"
	CategoryPatterns   = "patterns"
)

// ErrNotFound is returned when no document exists for a category/id pair.
var ErrNotFound = errors.New("document not found")

// Store persists knowledge records as documents keyed by category and id.
// Persistence failures are recoverable: callers log them and continue with
// in-memory state.
type Store interface {
	// Save writes the record, replacing any existing document with the same id.
	Save(ctx context.Context, category, id string, record interface{}) error

	// Load reads the document into out.
	Load(ctx context.Context, category, id string, out interface{}) error

	// List returns the ids of all documents in a category.
	List(ctx context.Context, category string) ([]string, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, category, id string) error

	// Close releases the backing resources.
	Close() error
}
