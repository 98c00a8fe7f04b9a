package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/fieldguide/internal/ingest"
)

func mustNew(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return s
}

// reassemble concatenates chunks dropping the shared overlap prefix.
func reassemble(chunks []Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}
		b.WriteString(string([]rune(c.Text)[overlap:]))
	}
	return b.String()
}

func TestNew_InvalidOverlap(t *testing.T) {
	cases := [][2]int{{0, 0}, {100, 100}, {100, 150}, {100, -1}}
	for _, c := range cases {
		if _, err := New(c[0], c[1]); err == nil {
			t.Errorf("New(%d, %d) = nil error, want error", c[0], c[1])
		}
	}
}

func TestSplit_ShortDocument(t *testing.T) {
	s := mustNew(t, DefaultSize, DefaultOverlap)
	doc := ingest.Document{File: "a.pdf", Page: 2, Text: "Stay calm."}

	chunks := s.Split(doc)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != doc.Text || c.File != "a.pdf" || c.Page != 2 || c.Index != 0 || c.Start != 0 {
		t.Errorf("chunk = %+v", c)
	}
	if c.ID != "a.pdf#2:0" {
		t.Errorf("ID = %q, want %q", c.ID, "a.pdf#2:0")
	}
}

func TestSplit_WhitespaceOnly(t *testing.T) {
	s := mustNew(t, DefaultSize, DefaultOverlap)
	if got := s.Split(ingest.Document{File: "a.pdf", Page: 1, Text: " \n\t "}); len(got) != 0 {
		t.Errorf("got %d chunks for whitespace-only text, want 0", len(got))
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("Step ")
		b.WriteString(strings.Repeat("x", i%17))
		if i%7 == 0 {
			b.WriteString("\n\n")
		} else if i%3 == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	text := b.String()

	tests := []struct {
		name          string
		size, overlap int
		text          string
	}{
		{"defaults", DefaultSize, DefaultOverlap, strings.Repeat(text, 3)},
		{"small windows", 50, 10, text},
		{"no separators", 40, 15, strings.Repeat("abcdefghij", 30)},
		{"zero overlap", 64, 0, text},
		{"multibyte", 30, 5, strings.Repeat("Évacuation – ❄️ froid. ", 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustNew(t, tt.size, tt.overlap)
			chunks := s.Split(ingest.Document{File: "f.pdf", Page: 1, Text: tt.text})
			if len(chunks) < 2 {
				t.Fatalf("got %d chunks, want several", len(chunks))
			}
			if got := reassemble(chunks, tt.overlap); got != tt.text {
				t.Errorf("reassembled text differs from original (len %d vs %d)", len(got), len(tt.text))
			}
			for i, c := range chunks {
				n := utf8.RuneCountInString(c.Text)
				if n > tt.size {
					t.Errorf("chunk %d has %d runes, want <= %d", i, n, tt.size)
				}
				if c.Index != i {
					t.Errorf("chunk %d Index = %d", i, c.Index)
				}
				if i > 0 {
					prev := []rune(chunks[i-1].Text)
					shared := string(prev[len(prev)-tt.overlap:])
					if !strings.HasPrefix(c.Text, shared) {
						t.Errorf("chunk %d does not start with the previous chunk's last %d runes", i, tt.overlap)
					}
					if c.Start != chunks[i-1].Start+len(prev)-tt.overlap {
						t.Errorf("chunk %d Start = %d, want %d", i, c.Start, chunks[i-1].Start+len(prev)-tt.overlap)
					}
				}
			}
		})
	}
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	s := mustNew(t, 40, 5)
	text := "Immediate actions here.\n\nNext part of the text that runs long"
	chunks := s.Split(ingest.Document{File: "f.pdf", Page: 1, Text: text})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, "\n\n") {
		t.Errorf("first chunk = %q, want it to end at the paragraph break", chunks[0].Text)
	}
}

func TestSplitAll_PreservesOrder(t *testing.T) {
	s := mustNew(t, DefaultSize, DefaultOverlap)
	docs := []ingest.Document{
		{File: "a.pdf", Page: 1, Text: "alpha"},
		{File: "a.pdf", Page: 2, Text: "   "},
		{File: "b.pdf", Page: 1, Text: "bravo"},
	}
	chunks := s.SplitAll(docs)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "a.pdf#1:0" || chunks[1].ID != "b.pdf#1:0" {
		t.Errorf("IDs = %q, %q", chunks[0].ID, chunks[1].ID)
	}
}
