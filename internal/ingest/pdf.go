package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageExtractor returns the plain text of every page of one file, in page
// order. Index 0 is page 1.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]string, error)
}

// PDFExtractor extracts page text with github.com/ledongthuc/pdf.
type PDFExtractor struct{}

// ExtractPages opens the PDF at path and returns the text of each page.
// Pages the library cannot decode come back as empty strings so page numbers
// stay aligned with the document.
func (PDFExtractor) ExtractPages(ctx context.Context, path string) (pages []string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parsing %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i, err)
		}
		pages[i-1] = strings.ToValidUTF8(text, "")
	}
	return pages, nil
}
