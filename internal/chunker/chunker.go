// Package chunker splits page text into overlapping windows for embedding.
package chunker

import (
	"fmt"
	"strings"

	"github.com/kalambet/fieldguide/internal/ingest"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// separators are tried in order when looking for a natural cut point.
var separators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// Chunk is a window of page text with its provenance.
type Chunk struct {
	ID    string `json:"id"`
	File  string `json:"file"`
	Page  int    `json:"page"`
	Index int    `json:"index"` // position within the page
	Start int    `json:"start"` // rune offset within the page text
	Text  string `json:"text"`
}

// Splitter cuts text into windows of at most size runes where consecutive
// windows share exactly overlap runes.
type Splitter struct {
	size    int
	overlap int
}

// New returns a Splitter. overlap must be smaller than size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts one document into chunks. A whitespace-only document yields none.
//
// A window ends just after the last paragraph break, line break, or space
// that lies beyond the overlap region; if none exists it is cut at size. The
// next window starts overlap runes before that end.
func (s *Splitter) Split(doc ingest.Document) []Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	r := []rune(doc.Text)

	var chunks []Chunk
	start := 0
	for {
		end := start + s.size
		if end >= len(r) {
			chunks = append(chunks, s.chunk(doc, len(chunks), start, r[start:]))
			return chunks
		}

		cut := s.cutPoint(r, start, end)
		chunks = append(chunks, s.chunk(doc, len(chunks), start, r[start:cut]))
		start = cut - s.overlap
	}
}

// SplitAll splits every document, preserving input order.
func (s *Splitter) SplitAll(docs []ingest.Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, s.Split(d)...)
	}
	return out
}

// cutPoint returns an index in (start+overlap, end].
func (s *Splitter) cutPoint(r []rune, start, end int) int {
	lo := start + s.overlap
	for _, sep := range separators {
		if i := lastIndex(r[lo:end], sep); i >= 0 {
			return lo + i + len(sep)
		}
	}
	return end
}

func (s *Splitter) chunk(doc ingest.Document, idx, start int, text []rune) Chunk {
	return Chunk{
		ID:    ID(doc.File, doc.Page, idx),
		File:  doc.File,
		Page:  doc.Page,
		Index: idx,
		Start: start,
		Text:  string(text),
	}
}

// ID formats the stable identifier of a chunk.
func ID(file string, page, idx int) string {
	return fmt.Sprintf("%s#%d:%d", file, page, idx)
}

func lastIndex(r, sep []rune) int {
	for i := len(r) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if r[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
