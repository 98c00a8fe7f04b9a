package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrNoDocuments is returned when a corpus directory yields no extractable text.
var ErrNoDocuments = errors.New("no documents found")

// Document is the text of one PDF page.
type Document struct {
	File string // base name of the source file
	Page int    // 1-based
	Text string
}

// SkippedFile names a file that was left out of the corpus and why.
type SkippedFile struct {
	File   string
	Reason string
}

// FileSummary describes one file that contributed documents.
type FileSummary struct {
	File  string
	Pages int
}

// Result is the outcome of loading a corpus directory.
type Result struct {
	Documents []Document
	Files     []FileSummary
	Skipped   []SkippedFile
}

// Loader reads every PDF in a directory into page-level documents.
type Loader struct {
	extractor PageExtractor
	workers   int
	logger    *slog.Logger
}

// NewLoader creates a Loader. A nil extractor means PDFExtractor.
func NewLoader(extractor PageExtractor) *Loader {
	if extractor == nil {
		extractor = PDFExtractor{}
	}
	return &Loader{
		extractor: extractor,
		workers:   4,
		logger:    slog.Default(),
	}
}

type fileResult struct {
	pages []string
	err   error
}

// LoadDir loads every *.pdf file directly inside dir. Files are processed in
// name order; a file that fails to parse is recorded in Result.Skipped and
// the rest of the corpus is still loaded. Pages without text are dropped.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: directory %s does not exist", ErrNoDocuments, dir)
		}
		return Result{}, fmt.Errorf("reading corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Result{}, fmt.Errorf("%w: no PDF files in %s", ErrNoDocuments, dir)
	}

	results := make([]fileResult, len(names))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, name := range names {
		g.Go(func() error {
			pages, err := l.extractor.ExtractPages(gCtx, filepath.Join(dir, name))
			results[i] = fileResult{pages: pages, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	for i, name := range names {
		fr := results[i]
		if fr.err != nil {
			l.logger.Warn("skipping unreadable file", "file", name, "error", fr.err)
			res.Skipped = append(res.Skipped, SkippedFile{File: name, Reason: fr.err.Error()})
			continue
		}
		var kept int
		for p, text := range fr.pages {
			if strings.TrimSpace(text) == "" {
				continue
			}
			res.Documents = append(res.Documents, Document{File: name, Page: p + 1, Text: text})
			kept++
		}
		if kept == 0 {
			l.logger.Warn("skipping file without text", "file", name)
			res.Skipped = append(res.Skipped, SkippedFile{File: name, Reason: "no extractable text"})
			continue
		}
		res.Files = append(res.Files, FileSummary{File: name, Pages: kept})
		l.logger.Debug("loaded file", "file", name, "pages", kept)
	}

	if len(res.Documents) == 0 {
		return res, fmt.Errorf("%w: none of %d PDF files in %s had extractable text", ErrNoDocuments, len(names), dir)
	}
	return res, nil
}
