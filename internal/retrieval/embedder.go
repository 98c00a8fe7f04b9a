package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 32

// EmbeddingClient turns texts into vectors, one per input in input order.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder batches texts against an EmbeddingClient.
type Embedder struct {
	client    EmbeddingClient
	batchSize int
}

// NewEmbedder creates an Embedder. batchSize <= 0 uses 32.
func NewEmbedder(client EmbeddingClient, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{client: client, batchSize: batchSize}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding text: got %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for multiple texts, sending up to four
// batches concurrently. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to stay under provider rate limits.

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.client.Embed(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch %d-%d: got %d vectors", start, end, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
