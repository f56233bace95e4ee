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
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Both vector tables share one schema; the table
// argument selects between them and anything else is rejected.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The vector tables must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// validTable guards against table names leaking into SQL text from callers.
func validTable(table string) error {
	if table != ContextTable && table != InteractionTable {
		return fmt.Errorf("unsupported table %q", table)
	}
	return nil
}

// Insert adds records to the given vector table in a single transaction.
func (s *SQLiteStore) Insert(table string, records []Record) error {
	if err := validTable(table); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ` + table + ` (id, source_id, source_type, document, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if err := insertRecord(stmt, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func insertRecord(stmt *sql.Stmt, r Record) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	metadata := r.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := stmt.Exec(r.ID, r.SourceID, r.SourceType, r.Document, metadata,
		encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", r.ID, err)
	}
	return nil
}

// Search performs brute-force cosine similarity search over all vectors in
// the table, returning the top-K most similar records ordered by score
// descending. Scanning touches only id + embedding; full rows are fetched
// for the winners alone.
func (s *SQLiteStore) Search(table string, vector []float32, topK int) ([]ScoredRecord, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := l2norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	winners, err := s.scanTopK(table, vector, queryNorm, topK)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(winners))
	scores := make(map[string]float32, len(winners))
	for _, c := range winners {
		ids = append(ids, c.id)
		scores[c.id] = c.score
	}

	records, err := s.GetByIDs(context.Background(), table, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}

	results := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	// The IN query does not preserve similarity order.
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// candidate pairs a row ID with its similarity during the scan phase.
type candidate struct {
	id    string
	score float32
}

// scanTopK streams id + embedding rows, keeping the topK highest-scoring
// candidates in a min-heap.
func (s *SQLiteStore) scanTopK(table string, vector []float32, queryNorm float64, topK int) ([]candidate, error) {
	rows, err := s.db.Query(`SELECT id, embedding FROM ` + table)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	// One decode buffer reused across rows.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sReuse(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		switch {
		case h.Len() < topK:
			heap.Push(h, candidate{id: id, score: score})
		case score > (*h)[0].score:
			(*h)[0] = candidate{id: id, score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return *h, nil
}

// Delete removes a record by ID from the given vector table.
func (s *SQLiteStore) Delete(table string, id string) error {
	if err := validTable(table); err != nil {
		return err
	}
	res, err := s.db.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

// ExportAll returns all records from the given table in insertion order.
func (s *SQLiteStore) ExportAll(table string) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id, source_id, source_type, document, metadata, embedding, created_at
		FROM ` + table + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying all vectors: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Count returns the number of records in the given vector table.
func (s *SQLiteStore) Count(table string) (int, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
	return count, err
}

// GetByIDs returns records matching the given IDs from the given table.
func (s *SQLiteStore) GetByIDs(ctx context.Context, table string, ids []string) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, source_id, source_type, document, metadata, embedding, created_at
		FROM ` + table + ` WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by IDs: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.SourceType, &r.Document, &r.Metadata, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for id %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
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
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sReuse(nil, b)
}

// decodeFloat32sReuse decodes into buf when it has capacity, allocating
// otherwise. A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sReuse(buf []float32, b []byte) ([]float32, error) {
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

// l2norm returns the L2 norm of a vector as float64.
func l2norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity given the precomputed norm of a.
func cosine(a, b []float32, aNorm float64) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (aNorm * bNorm))
}

// candidateHeap is a min-heap by score, so the weakest candidate sits at
// the root and is cheap to evict.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}
