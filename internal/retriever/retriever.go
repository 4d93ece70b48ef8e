// Package retriever turns a natural-language query into ranked chunk
// candidates from the vector index.
package retriever

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
)

// Embedder converts query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Retriever embeds queries and searches the index within a scope. Scope
// filtering happens inside the index search, never by post-filtering, so a
// file-scoped query cannot leak ranking information about other documents.
type Retriever struct {
	embedder Embedder
	primary  index.Index
	fallback index.Index
}

// New creates a Retriever. fallback may be nil; when set, searches fall
// back to it if the primary backend reports itself unavailable.
func New(embedder Embedder, primary, fallback index.Index) *Retriever {
	return &Retriever{embedder: embedder, primary: primary, fallback: fallback}
}

// Retrieve returns up to topK candidates scoring at least minScore within
// the scope, ranked descending. No candidate meeting the threshold is a
// valid empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope domain.Scope, topK int, minScore float32) ([]index.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	q := index.Query{
		Embedding:  vectors[0],
		Model:      r.embedder.Model(),
		DocumentID: scope.DocumentID,
		TopK:       topK,
		MinScore:   minScore,
	}

	matches, err := r.primary.Search(ctx, q)
	if err != nil && r.fallback != nil && isIndexUnavailable(err) {
		log.Printf("retriever: %s backend unavailable, falling back to %s: %v", r.primary.Backend(), r.fallback.Backend(), err)
		matches, err = r.fallback.Search(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func isIndexUnavailable(err error) bool {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == domain.ErrCodeIndexUnavailable
	}
	return false
}
