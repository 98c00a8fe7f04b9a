package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fieldguide/internal/chunker"
	"github.com/kalambet/fieldguide/internal/ingest"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/storage"
)

// CorpusLoader reads a directory into page documents.
type CorpusLoader interface {
	LoadDir(ctx context.Context, dir string) (ingest.Result, error)
}

// SourceRecorder persists per-file ingestion outcomes.
type SourceRecorder interface {
	SaveSource(src storage.Source) error
}

// Report summarizes one index build.
type Report struct {
	Files    int                  `json:"files"`
	Pages    int                  `json:"pages"`
	Chunks   int                  `json:"chunks"`
	Skipped  []ingest.SkippedFile `json:"skipped,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// Builder runs the one-time ingestion phase: load, split, embed, index.
type Builder struct {
	loader   CorpusLoader
	splitter *chunker.Splitter
	embedder retrieval.TextEmbedder
	vectors  retrieval.VectorStore
	sources  SourceRecorder
	logger   *slog.Logger
}

// NewBuilder creates a Builder. sources may be nil.
func NewBuilder(loader CorpusLoader, splitter *chunker.Splitter, embedder retrieval.TextEmbedder, vectors retrieval.VectorStore, sources SourceRecorder) *Builder {
	return &Builder{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		vectors:  vectors,
		sources:  sources,
		logger:   slog.Default(),
	}
}

// Build indexes every PDF in dir. Any failure is reported as
// ErrIndexUnavailable wrapping the cause.
func (b *Builder) Build(ctx context.Context, dir string) (*retrieval.Index, Report, error) {
	start := time.Now()
	var report Report
	if b.embedder == nil {
		return nil, report, fmt.Errorf("%w: no embedding client configured", ErrIndexUnavailable)
	}

	res, err := b.loader.LoadDir(ctx, dir)
	report.Skipped = res.Skipped
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	report.Files = len(res.Files)
	report.Pages = len(res.Documents)

	chunks := b.splitter.SplitAll(res.Documents)
	report.Chunks = len(chunks)
	b.logger.Info("corpus loaded",
		"dir", dir,
		"files", report.Files,
		"pages", report.Pages,
		"chunks", report.Chunks,
		"skipped", len(report.Skipped),
	)

	ix, err := retrieval.Build(ctx, chunks, b.embedder, b.vectors)
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	b.recordSources(res, chunks)
	report.Duration = time.Since(start)
	return ix, report, nil
}

func (b *Builder) recordSources(res ingest.Result, chunks []chunker.Chunk) {
	if b.sources == nil {
		return
	}
	perFile := make(map[string]int)
	for _, c := range chunks {
		perFile[c.File]++
	}
	now := time.Now()
	for _, f := range res.Files {
		src := storage.Source{File: f.File, Pages: f.Pages, Chunks: perFile[f.File], Status: storage.SourceIndexed, IngestedAt: now}
		if err := b.sources.SaveSource(src); err != nil {
			b.logger.Warn("recording source failed", "file", f.File, "error", err)
		}
	}
	for _, s := range res.Skipped {
		src := storage.Source{File: s.File, Status: storage.SourceSkipped, Reason: s.Reason, IngestedAt: now}
		if err := b.sources.SaveSource(src); err != nil {
			b.logger.Warn("recording source failed", "file", s.File, "error", err)
		}
	}
}
