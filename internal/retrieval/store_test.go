package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/rada-agent/rada/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func TestInsertAndCount(t *testing.T) {
	vs := openTestStore(t)

	records := []Record{
		{ID: "r1", SourceID: "s1", SourceType: "entry", Document: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: "r2", SourceID: "s2", SourceType: "entry", Document: "beta", Embedding: []float32{0, 1, 0}},
	}
	if err := vs.Insert(ContextTable, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := vs.Count(ContextTable)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}

	// The other table must stay untouched.
	count, err = vs.Count(InteractionTable)
	if err != nil {
		t.Fatalf("Count(interaction_vectors): %v", err)
	}
	if count != 0 {
		t.Errorf("interaction_vectors Count = %d, want 0", count)
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	vs := openTestStore(t)

	records := []Record{
		{ID: "exact", Document: "exact match", Embedding: []float32{1, 0, 0}},
		{ID: "close", Document: "close match", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "far", Document: "far away", Embedding: []float32{0, 0, 1}},
	}
	if err := vs.Insert(ContextTable, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := vs.Search(ContextTable, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "exact" {
		t.Errorf("top result = %q, want %q", results[0].ID, "exact")
	}
	if results[1].ID != "close" {
		t.Errorf("second result = %q, want %q", results[1].ID, "close")
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v < %v", results[0].Score, results[1].Score)
	}
}

func TestSearchEmptyTable(t *testing.T) {
	vs := openTestStore(t)

	results, err := vs.Search(ContextTable, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty table: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearchZeroVector(t *testing.T) {
	vs := openTestStore(t)

	if err := vs.Insert(ContextTable, []Record{{ID: "r1", Document: "d", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := vs.Search(ContextTable, []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search with zero vector: %v", err)
	}
	if results != nil {
		t.Errorf("got %v, want nil for zero query vector", results)
	}
}

func TestSearchRejectsUnknownTable(t *testing.T) {
	vs := openTestStore(t)

	if _, err := vs.Search("users", []float32{1}, 1); err == nil {
		t.Error("expected error for unknown table, got nil")
	}
	if err := vs.Insert("users; DROP TABLE interactions", nil); err == nil {
		t.Error("expected error for malicious table name, got nil")
	}
}

func TestGetByIDs(t *testing.T) {
	vs := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	records := []Record{
		{ID: "a", Document: "doc a", Metadata: `{"type":"seed"}`, Embedding: []float32{1, 2}, CreatedAt: now},
		{ID: "b", Document: "doc b", Embedding: []float32{3, 4}, CreatedAt: now},
	}
	if err := vs.Insert(InteractionTable, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := vs.GetByIDs(context.Background(), InteractionTable, []string{"a"})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 1 || got[0].Document != "doc a" {
		t.Fatalf("GetByIDs = %+v, want one record with document %q", got, "doc a")
	}
	if got[0].Metadata != `{"type":"seed"}` {
		t.Errorf("Metadata = %q", got[0].Metadata)
	}
	if len(got[0].Embedding) != 2 || got[0].Embedding[0] != 1 {
		t.Errorf("Embedding = %v, want [1 2]", got[0].Embedding)
	}
}

func TestDelete(t *testing.T) {
	vs := openTestStore(t)

	if err := vs.Insert(ContextTable, []Record{{ID: "r1", Document: "d", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := vs.Delete(ContextTable, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := vs.Delete(ContextTable, "r1"); err == nil {
		t.Error("expected error deleting missing record, got nil")
	}
}

func TestExportAllInsertionOrder(t *testing.T) {
	vs := openTestStore(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "first", Document: "1", Embedding: []float32{1}, CreatedAt: base},
		{ID: "second", Document: "2", Embedding: []float32{2}, CreatedAt: base.Add(time.Hour)},
	}
	if err := vs.Insert(ContextTable, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	all, err := vs.ExportAll(ContextTable)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(all) != 2 || all[0].ID != "first" || all[1].ID != "second" {
		t.Errorf("ExportAll order = %v", []string{all[0].ID, all[1].ID})
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decodeFloat32s: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob, got nil")
	}
}
