package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity search
// backed by the chunk_vectors table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The chunk_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds records to the chunk_vectors table in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors (id, file, page, chunk_index, start_offset, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Embedding) == 0 {
			tx.Rollback()
			return fmt.Errorf("record %s has no embedding", r.ID)
		}
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.ExecContext(ctx, r.ID, r.File, r.Page, r.Index, r.Start, r.Text, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// seqScore holds only the sequence number and score during the scan phase
// of Search. Full record details are fetched only for top-K winners.
type seqScore struct {
	Seq   int64
	Score float32
}

// Search performs brute-force cosine similarity search over all vectors,
// returning the top-K most similar records.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only seq + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT seq, embedding FROM chunk_vectors ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &seqScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for seq %d: %w", seq, err)
		}

		cand := seqScore{Seq: seq, Score: cosine(vector, buf, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if worse((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K rows.
	scores := make(map[int64]float32, h.Len())
	args := make([]any, 0, h.Len())
	for _, item := range *h {
		scores[item.Seq] = item.Score
		args = append(args, item.Seq)
	}

	fullQuery := `SELECT seq, id, file, page, chunk_index, start_offset, text, embedding
		FROM chunk_vectors WHERE seq IN (?` + strings.Repeat(",?", len(args)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	results := make([]ScoredRecord, 0, len(args))
	for fullRows.Next() {
		var r ScoredRecord
		var blob []byte
		if err := fullRows.Scan(&r.Seq, &r.ID, &r.File, &r.Page, &r.Index, &r.Start, &r.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		if r.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Score = scores[r.Seq]
		results = append(results, r)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// IN query doesn't preserve order.
	sort.Slice(results, func(i, j int) bool {
		return worse(seqScore{results[j].Seq, results[j].Score}, seqScore{results[i].Seq, results[i].Score})
	})

	return results, nil
}

// Count returns the number of records in the chunk_vectors table.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunk_vectors").Scan(&count)
	return count, err
}

// worse reports whether a ranks below b: lower score, or equal score and
// later insertion.
func worse(a, b seqScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Seq > b.Seq
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2
// norm of a. Vectors of different dimension score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// seqScoreHeap is a min-heap with the worst-ranked candidate at the root.
type seqScoreHeap []seqScore

func (h seqScoreHeap) Len() int           { return len(h) }
func (h seqScoreHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h seqScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqScoreHeap) Push(x any)        { *h = append(*h, x.(seqScore)) }
func (h *seqScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
