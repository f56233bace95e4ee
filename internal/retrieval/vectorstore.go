package retrieval

import (
	"context"
	"time"
)

// Table names for the two logical collections.
const (
	ContextTable     = "context_vectors"
	InteractionTable = "interaction_vectors"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity over two tables: one for context entries and one for past
// interactions. ANN-capable backends can replace it behind this interface;
// use ExportAll to migrate data between backends.
type VectorStore interface {
	// Insert adds records to the given table.
	Insert(table string, records []Record) error

	// Search performs vector similarity search, returning the top-K most
	// similar records ranked by descending score.
	Search(table string, vector []float32, topK int) ([]ScoredRecord, error)

	// GetByIDs returns records matching the given IDs from the given table.
	GetByIDs(ctx context.Context, table string, ids []string) ([]Record, error)

	// Delete removes a record by ID from the given table.
	Delete(table string, id string) error

	// ExportAll returns all records from the given table in insertion order.
	ExportAll(table string) ([]Record, error)

	// Count returns the number of records in the given table.
	Count(table string) (int, error)
}

// Record represents a row in a vector table. Document carries the retrievable
// text; Metadata is a JSON object stored as text, never required for
// retrieval correctness.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	Document   string
	Metadata   string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
