package semanticindex

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
)

type fakeBackend struct {
	vector []float32
	err    error
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func setupTestIndex(t *testing.T, backend EmbeddingBackend, topK int) *Index {
	t.Helper()
	f, err := os.CreateTemp("", "semanticindex_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	idx, err := Open(path, backend, topK)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func insertChunk(t *testing.T, idx *Index, id, text string, vec []float32) {
	t.Helper()
	embJSON, err := json.Marshal(vec)
	if err != nil {
		t.Fatalf("marshal vector: %v", err)
	}
	_, err = idx.db.Exec(`INSERT INTO policy_chunks (id, text, embedding, metadata) VALUES (?, ?, ?, '{}')`, id, text, string(embJSON))
	if err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
}

func TestQueryRanksByCosineSimilarity(t *testing.T) {
	backend := &fakeBackend{vector: []float32{1, 0}}
	idx := setupTestIndex(t, backend, 2)

	insertChunk(t, idx, "orthogonal", "unrelated", []float32{0, 1})
	insertChunk(t, idx, "aligned", "matches the query", []float32{1, 0})

	docs := idx.Query(context.Background(), "return policy")
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].ID != "aligned" {
		t.Errorf("expected the aligned vector to rank first, got %q", docs[0].ID)
	}
	if docs[0].Score < docs[1].Score {
		t.Errorf("expected results sorted descending by score")
	}
}

func TestQueryRespectsTopK(t *testing.T) {
	backend := &fakeBackend{vector: []float32{1, 0}}
	idx := setupTestIndex(t, backend, 1)

	insertChunk(t, idx, "a", "a", []float32{1, 0})
	insertChunk(t, idx, "b", "b", []float32{0.9, 0.1})

	docs := idx.Query(context.Background(), "q")
	if len(docs) != 1 {
		t.Fatalf("expected topK=1 to cap results, got %d", len(docs))
	}
}

func TestQueryReturnsNilOnEmbedError(t *testing.T) {
	backend := &fakeBackend{err: context.DeadlineExceeded}
	idx := setupTestIndex(t, backend, 3)

	docs := idx.Query(context.Background(), "q")
	if docs != nil {
		t.Errorf("expected nil docs on embed failure, got %v", docs)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"mismatched length", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", []float32{}, []float32{1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHasHighConfidenceResults(t *testing.T) {
	low := []domain.RetrievedDocument{{ID: "a", Score: 0.2}}
	high := []domain.RetrievedDocument{{ID: "b", Score: 0.9}}

	if HasHighConfidenceResults(low, DefaultConfidenceThreshold) {
		t.Error("expected low-score docs to fail the confidence gate")
	}
	if !HasHighConfidenceResults(high, DefaultConfidenceThreshold) {
		t.Error("expected a high-score doc to pass the confidence gate")
	}
}
