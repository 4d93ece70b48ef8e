package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// MemoryDocumentRepository keeps the document registry in process memory.
// It backs the in-process index configuration and tests; semantics match
// DocumentRepository.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]domain.Document)}
}

func (r *MemoryDocumentRepository) Save(ctx context.Context, d *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[d.ID] = *d
	return nil
}

func (r *MemoryDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return &d, nil
}

func (r *MemoryDocumentRepository) ListAll(ctx context.Context) ([]*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(domain.Document) bool { return true }), nil
}

func (r *MemoryDocumentRepository) ListIndexedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(d domain.Document) bool { return d.IndexedAt.Before(cutoff) }), nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}

// collect returns matching documents ordered like the SQL queries. Callers
// hold r.mu.
func (r *MemoryDocumentRepository) collect(keep func(domain.Document) bool) []*domain.Document {
	var docs []*domain.Document
	for _, d := range r.docs {
		if keep(d) {
			doc := d
			docs = append(docs, &doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].IndexedAt.Equal(docs[j].IndexedAt) {
			return docs[i].IndexedAt.Before(docs[j].IndexedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}
