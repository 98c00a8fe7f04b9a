package retrieval

import (
	"context"

	"github.com/kalambet/fieldguide/internal/chunker"
)

// VectorStore is the interface for vector storage and similarity search backends.
// The current implementation uses SQLite with brute-force cosine similarity,
// which is adequate for corpora of a few tens of thousands of chunks.
type VectorStore interface {
	// Insert adds records in order. Insertion order is the tie-break for
	// equal similarity scores in Search.
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to vector, by descending
	// score, then ascending insertion order.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is a chunk with its embedding.
type Record struct {
	chunker.Chunk
	Embedding []float32
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Seq   int64
	Score float32
}
