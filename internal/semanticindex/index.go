// Package semanticindex wraps an embedding backend and a SQLite-backed
// vector store into the embed -> topK query -> format operation of
// spec.md §4.3. It is the fallback retrieval path for policy/FAQ
// questions when the JSON-RPC tool service has no answer.
package semanticindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// EmbeddingBackend produces a dense vector for a piece of text.
type EmbeddingBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a read-only (from the gateway's perspective — ingestion is
// out of scope per spec.md §1) vector index over policy/FAQ chunks.
type Index struct {
	db      *sql.DB
	backend EmbeddingBackend
	topK    int
}

// Open opens (creating if needed) the SQLite file backing the index and
// ensures its schema exists.
func Open(path string, backend EmbeddingBackend, topK int) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("semanticindex: open: %w", err)
	}
	idx := &Index{db: db, backend: backend, topK: topK}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchema() error {
	_, err := idx.db.Exec(`
		CREATE TABLE IF NOT EXISTS policy_chunks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		return fmt.Errorf("semanticindex: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Query embeds the query text, scores it against every stored chunk by
// cosine similarity, and returns the top K matches. An embedding error,
// query error, or row-iteration error returns an empty slice rather than
// propagating, per §4.3 step 4; a single row that fails to scan or
// decode is skipped and the remaining rows are still scored.
func (idx *Index) Query(ctx context.Context, query string) []domain.RetrievedDocument {
	vector, err := idx.backend.Embed(ctx, query)
	if err != nil {
		L_warn("semanticindex: embed failed", "error", err)
		return nil
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM policy_chunks`)
	if err != nil {
		L_warn("semanticindex: query failed", "error", err)
		return nil
	}
	defer rows.Close()

	type scored struct {
		doc   domain.RetrievedDocument
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var id, text, embJSON, metaJSON string
		if err := rows.Scan(&id, &text, &embJSON, &metaJSON); err != nil {
			continue
		}
		var chunkVec []float32
		if err := json.Unmarshal([]byte(embJSON), &chunkVec); err != nil {
			continue
		}
		var meta map[string]string
		_ = json.Unmarshal([]byte(metaJSON), &meta)

		score := cosineSimilarity(vector, chunkVec)
		candidates = append(candidates, scored{
			doc:   domain.RetrievedDocument{ID: id, Text: text, Score: score, Metadata: meta},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		L_warn("semanticindex: row iteration error", "error", err)
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	k := idx.topK
	if k <= 0 {
		k = 3
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	out := make([]domain.RetrievedDocument, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].doc
	}
	return out
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HasHighConfidenceResults is the confidence gate of §4.3: true iff at
// least one match's score meets the threshold.
func HasHighConfidenceResults(docs []domain.RetrievedDocument, threshold float64) bool {
	for _, d := range docs {
		if d.Score >= threshold {
			return true
		}
	}
	return false
}

// DefaultConfidenceThreshold is the threshold spec.md §4.3 names.
const DefaultConfidenceThreshold = 0.7
