// Package service wires the retrieval core together: ingest, answering and
// maintenance.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/telemetry"
)

// Embedder defines the embedding operations ingest depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// DocumentRegistry defines the registry operations ingest depends on.
type DocumentRegistry interface {
	Save(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListAll(ctx context.Context) ([]*domain.Document, error)
	Delete(ctx context.Context, id string) error
}

// HealthStatus reports index reachability for the maintenance collaborator.
type HealthStatus struct {
	IndexBackend   string    `json:"index_backend"`
	IndexReachable bool      `json:"index_reachable"`
	LastWriteAt    time.Time `json:"last_write_at,omitempty"`
}

// IngestService runs the write path: chunk, embed, index. Mutations for the
// same document are serialized so a search never observes a half-replaced
// document; different documents proceed concurrently.
type IngestService struct {
	embedder Embedder
	idx      index.Index
	registry DocumentRegistry
	chunkCfg chunker.Config

	// docLocks stripes per-document mutation locks by id hash, so memory
	// stays bounded no matter how many distinct documents pass through.
	// A stripe collision only over-serializes, never under-serializes.
	docLocks  [lockStripes]sync.Mutex
	lastWrite atomic.Int64
}

const lockStripes = 64

// NewIngestService creates a new IngestService instance
func NewIngestService(embedder Embedder, idx index.Index, registry DocumentRegistry, chunkCfg chunker.Config) *IngestService {
	return &IngestService{
		embedder: embedder,
		idx:      idx,
		registry: registry,
		chunkCfg: chunkCfg,
	}
}

// IndexDocument chunks, embeds and indexes one document revision. Prior
// vectors for the document are invalidated first, so a revision change never
// leaves chunks of two revisions mixed in the index.
func (s *IngestService) IndexDocument(ctx context.Context, id, text string, revision int64) (*domain.Document, error) {
	doc := &domain.Document{ID: id, Text: text, Revision: revision}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "ingest.index_document", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "index_document",
	})
	defer span.End()

	chunks, err := chunker.Split(id, text, s.chunkCfg)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			TokenCount: c.TokenCount,
			Revision:   revision,
			Model:      s.embedder.Model(),
			Embedding:  vectors[i],
		}
	}

	unlock := s.lockDocument(id)
	defer unlock()

	if err := s.idx.DeleteDocument(ctx, id); err != nil {
		return nil, err
	}
	if err := s.idx.Upsert(ctx, records); err != nil {
		return nil, err
	}

	doc.ChunkCount = len(chunks)
	doc.IndexedAt = time.Now().UTC()
	if err := s.registry.Save(ctx, doc); err != nil {
		return nil, err
	}

	s.lastWrite.Store(doc.IndexedAt.UnixNano())
	return doc, nil
}

// DeleteDocument removes a document's vectors and registry entry.
func (s *IngestService) DeleteDocument(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "document ID is required")
	}

	unlock := s.lockDocument(id)
	defer unlock()

	if err := s.idx.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := s.registry.Delete(ctx, id); err != nil {
		return err
	}

	s.lastWrite.Store(time.Now().UTC().UnixNano())
	return nil
}

// ReindexAll re-chunks and re-embeds every registered document at its
// current revision. Failures on individual documents do not stop the pass.
func (s *IngestService) ReindexAll(ctx context.Context) (int, error) {
	docs, err := s.registry.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	var errs []error
	for _, d := range docs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.IndexDocument(ctx, d.ID, d.Text, d.Revision); err != nil {
			errs = append(errs, fmt.Errorf("reindex document %s: %w", d.ID, err))
			continue
		}
		indexed++
	}
	return indexed, errors.Join(errs...)
}

// HealthCheck reports index reachability and the last successful write.
func (s *IngestService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{IndexBackend: s.idx.Backend()}
	if err := s.idx.HealthCheck(ctx); err == nil {
		status.IndexReachable = true
	}
	if ns := s.lastWrite.Load(); ns > 0 {
		status.LastWriteAt = time.Unix(0, ns).UTC()
	}
	return status
}

func (s *IngestService) lockDocument(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &s.docLocks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
