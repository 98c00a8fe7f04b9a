package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type mockClient struct {
	mu      sync.Mutex
	batches [][]string
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	m.mu.Unlock()
	return m.embedFn(ctx, texts)
}

// lengthVectors embeds each text as [len(text), 1].
func lengthVectors(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestEmbed_Single(t *testing.T) {
	m := &mockClient{embedFn: lengthVectors}
	vec, err := NewEmbedder(m, 8).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[0] != 5 {
		t.Errorf("vec = %v, want [5 1]", vec)
	}
}

func TestEmbed_Error(t *testing.T) {
	m := &mockClient{embedFn: func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("quota exceeded")
	}}
	_, err := NewEmbedder(m, 8).Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error = %v, want wrapped client error", err)
	}
}

func TestEmbedBatch_SplitsAndPreservesOrder(t *testing.T) {
	m := &mockClient{embedFn: lengthVectors}
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	vecs, err := NewEmbedder(m, 3).EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 10 {
		t.Fatalf("len = %d, want 10", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], i+1)
		}
	}
	if len(m.batches) != 4 {
		t.Errorf("batches = %d, want 4", len(m.batches))
	}
	for _, b := range m.batches {
		if len(b) > 3 {
			t.Errorf("batch of %d texts exceeds batch size 3", len(b))
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	m := &mockClient{embedFn: lengthVectors}
	vecs, err := NewEmbedder(m, 3).EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatch_PropagatesError(t *testing.T) {
	m := &mockClient{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		if texts[0] == "bad" {
			return nil, errors.New("rejected")
		}
		return lengthVectors(context.Background(), texts)
	}}
	_, err := NewEmbedder(m, 1).EmbedBatch(context.Background(), []string{"ok", "bad", "ok"})
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("error = %v, want batch error", err)
	}
}

func TestEmbedBatch_ShortResponse(t *testing.T) {
	m := &mockClient{embedFn: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	if _, err := NewEmbedder(m, 4).EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for short batch response")
	}
}
