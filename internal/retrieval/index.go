package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/fieldguide/internal/chunker"
)

// ErrNoChunks is returned by Build when there is nothing to index.
var ErrNoChunks = errors.New("no chunks to index")

// TextEmbedder is the embedding surface an Index needs.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is a retrieved chunk with its cosine similarity to the query.
type Hit struct {
	chunker.Chunk
	Score float32 `json:"score"`
}

// Index is a read-only handle over a fully populated vector store. It is
// produced once by Build; nothing can be added to it afterwards, so it is
// safe for concurrent use.
type Index struct {
	store     VectorStore
	embedder  TextEmbedder
	size      int
	dimension int
	builtAt   time.Time
}

// Build embeds every chunk and inserts it into store in chunk order.
func Build(ctx context.Context, chunks []chunker.Chunk, embedder TextEmbedder, store VectorStore) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	dim := len(vecs[0])
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) != dim || dim == 0 {
			return nil, fmt.Errorf("chunk %s: embedding dimension %d, want %d", c.ID, len(vecs[i]), dim)
		}
		records[i] = Record{Chunk: c, Embedding: vecs[i]}
	}

	if err := store.Insert(ctx, records); err != nil {
		return nil, fmt.Errorf("storing vectors: %w", err)
	}

	return &Index{
		store:     store,
		embedder:  embedder,
		size:      len(records),
		dimension: dim,
		builtAt:   time.Now(),
	}, nil
}

// Search embeds question and returns the k most similar chunks, best first.
// Equal scores are ordered by position in the corpus.
func (ix *Index) Search(ctx context.Context, question string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := ix.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	scored, err := ix.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{Chunk: s.Chunk, Score: s.Score}
	}
	return hits, nil
}

// Size returns the number of indexed chunks.
func (ix *Index) Size() int { return ix.size }

// Dimension returns the embedding dimension.
func (ix *Index) Dimension() int { return ix.dimension }

// BuiltAt returns when the index finished building.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }
