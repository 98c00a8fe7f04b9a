package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/fieldguide/internal/chunker"
	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/session"
	"github.com/kalambet/fieldguide/internal/storage"
	"github.com/kalambet/fieldguide/internal/voice"
)

var vocabulary = []string{"communications", "equipment", "failure", "fire", "ambush"}

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, len(vocabulary)+1)
	lower := strings.ToLower(text)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocabulary)] = 0.01
	return v, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

// mockChat is a test double for pipeline.ChatClient.
type mockChat struct {
	reply string
	err   error
}

func (m *mockChat) Chat(context.Context, string) (string, error) {
	return m.reply, m.err
}

const protocolReply = "**Step-by-Step Procedure:**\n1. Switch to the backup set.\n\n**Protocol Reference:** manual.pdf, page 1"

type fixture struct {
	store    *storage.Store
	gate     *pipeline.IndexGate
	index    *retrieval.Index
	chat     *mockChat
	answerer *pipeline.Answerer
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	texts := []string{
		"During communications equipment failure switch to the backup set and use runners.",
		"Fire outbreak: evacuate upwind and fight the fire only with extinguishers.",
		"Ambush drill: return fire and move out of the kill zone.",
	}
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{ID: chunker.ID("manual.pdf", i+1, 0), File: "manual.pdf", Page: i + 1, Text: text}
	}
	ix, err := retrieval.Build(context.Background(), chunks, keywordEmbedder{}, retrieval.NewSQLiteStore(st.DB()))
	if err != nil {
		t.Fatalf("retrieval.Build: %v", err)
	}
	if err := st.SaveSource(storage.Source{File: "manual.pdf", Pages: 3, Chunks: 3}); err != nil {
		t.Fatalf("SaveSource: %v", err)
	}

	comp, err := composer.New(composer.Options{})
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	chat := &mockChat{reply: protocolReply}
	ans := pipeline.NewAnswerer(chat, comp, 2, 0.1)

	gate := pipeline.NewIndexGate()
	gate.Resolve(ix, pipeline.Report{Files: 1, Pages: 3, Chunks: 3})

	return &fixture{
		store:    st,
		gate:     gate,
		index:    ix,
		chat:     chat,
		answerer: ans,
		sessions: session.NewManager(session.Deps{
			Gate:       gate,
			Answerer:   ans,
			Recognizer: voice.NewRecognizer(nil, time.Second),
		}, time.Minute),
	}
}
