// Package index stores chunk vectors with their metadata and answers
// similarity searches. Backends are pluggable: a Postgres/pgvector store or
// an in-process brute-force store with identical search semantics.
package index

import (
	"context"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Record is a stored chunk vector with the metadata needed for scoping,
// ranking and citation.
type Record struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
	Revision   int64
	Model      string
	Embedding  []float32
}

// Query is a similarity search request. An empty DocumentID searches the
// whole corpus; otherwise the search is pinned to that document.
type Query struct {
	Embedding  []float32
	Model      string
	DocumentID string
	TopK       int
	MinScore   float32
}

// Match is a record with its cosine similarity to the query.
type Match struct {
	Record
	Score float32
}

// Index is the storage abstraction the retrieval core requires of a vector
// backend. Results are ranked by cosine similarity descending; ties break
// by newer document revision, then document id, then ordinal, so ordering
// is identical regardless of backend.
type Index interface {
	// Upsert stores records, replacing any prior record with the same chunk
	// id. A failed batch leaves prior state intact.
	Upsert(ctx context.Context, records []Record) error
	// DeleteDocument removes every record of the document. A concurrent
	// search sees either all of the document's chunks or none of them.
	DeleteDocument(ctx context.Context, documentID string) error
	// Search returns up to TopK matches scoring at least MinScore.
	Search(ctx context.Context, q Query) ([]Match, error)
	// HealthCheck reports backend reachability.
	HealthCheck(ctx context.Context) error
	// Backend names the backend for diagnostics.
	Backend() string
}

func validateQuery(q Query) error {
	if len(q.Embedding) == 0 {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "query embedding is required")
	}
	if q.Model == "" {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "query embedding model is required")
	}
	if q.TopK <= 0 {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "top_k must be positive")
	}
	return nil
}

func validateRecords(records []Record) error {
	for i := range records {
		r := &records[i]
		if r.ChunkID == "" || r.DocumentID == "" {
			return domain.NewDomainError(domain.ErrCodeInvalidInput, "record chunk and document ids are required")
		}
		if r.Model == "" {
			return domain.NewDomainError(domain.ErrCodeInvalidInput, "record embedding model is required")
		}
		if len(r.Embedding) == 0 {
			return domain.NewDomainError(domain.ErrCodeInvalidInput, "record embedding is required")
		}
	}
	return nil
}

// less orders matches for deterministic ranking.
func less(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Revision != b.Revision {
		return a.Revision > b.Revision
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.Ordinal < b.Ordinal
}
