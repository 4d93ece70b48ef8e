package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Memory is an in-process Index holding vectors in memory with a
// brute-force cosine scan. Functionally equivalent to the Postgres backend
// but without persistence across restarts. Each document lives in its own
// shard so mutations serialize per document while searches proceed on
// other documents.
type Memory struct {
	mu     sync.RWMutex // guards shards map, model and dimension
	model  string
	dim    int
	shards map[string]*docShard
}

type docShard struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-process index.
func NewMemory() *Memory {
	return &Memory{shards: make(map[string]*docShard)}
}

// Backend implements Index.
func (m *Memory) Backend() string { return "memory" }

// HealthCheck implements Index; the in-process backend is always reachable.
func (m *Memory) HealthCheck(ctx context.Context) error { return nil }

// Upsert implements Index. The batch is validated in full before any shard
// is touched, so a failed batch leaves prior state intact.
func (m *Memory) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	m.mu.Lock()
	if m.model == "" {
		m.model = records[0].Model
		m.dim = len(records[0].Embedding)
	}
	for i := range records {
		if records[i].Model != m.model || len(records[i].Embedding) != m.dim {
			m.mu.Unlock()
			return domain.ErrModelMismatch
		}
	}

	byDoc := make(map[string][]Record)
	for _, r := range records {
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
	}

	shards := make(map[*docShard][]Record, len(byDoc))
	for docID, recs := range byDoc {
		shard, ok := m.shards[docID]
		if !ok {
			shard = &docShard{records: make(map[string]Record)}
			m.shards[docID] = shard
		}
		shards[shard] = recs
	}
	m.mu.Unlock()

	for shard, recs := range shards {
		shard.mu.Lock()
		for _, r := range recs {
			shard.records[r.ChunkID] = r
		}
		shard.mu.Unlock()
	}
	return nil
}

// DeleteDocument implements Index. Removing the shard from the map makes
// the document's chunks disappear atomically from a searcher's view.
func (m *Memory) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "document ID is required")
	}
	m.mu.Lock()
	delete(m.shards, documentID)
	m.mu.Unlock()
	return nil
}

// Search implements Index.
func (m *Memory) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.model != "" && (q.Model != m.model || len(q.Embedding) != m.dim) {
		m.mu.RUnlock()
		return nil, domain.ErrModelMismatch
	}
	shards := make([]*docShard, 0, len(m.shards))
	if q.DocumentID != "" {
		if shard, ok := m.shards[q.DocumentID]; ok {
			shards = append(shards, shard)
		}
	} else {
		for _, shard := range m.shards {
			shards = append(shards, shard)
		}
	}
	m.mu.RUnlock()

	matches := make([]Match, 0)
	for _, shard := range shards {
		shard.mu.RLock()
		for _, r := range shard.records {
			score := cosine(q.Embedding, r.Embedding)
			if score >= q.MinScore {
				matches = append(matches, Match{Record: r, Score: score})
			}
		}
		shard.mu.RUnlock()
	}

	sort.Slice(matches, func(i, j int) bool { return less(matches[i], matches[j]) })
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
