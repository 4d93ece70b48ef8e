package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/repository"
)

func newIngest(t *testing.T) (*IngestService, *index.Memory, *repository.MemoryDocumentRepository) {
	t.Helper()
	mem := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	svc := NewIngestService(&fakeEmbedder{}, mem, registry, chunker.Config{MaxTokens: 8, OverlapTokens: 2})
	return svc, mem, registry
}

func searchAll(t *testing.T, mem *index.Memory, text, docID string) []index.Match {
	t.Helper()
	matches, err := mem.Search(context.Background(), index.Query{
		Embedding:  hashEmbed(text),
		Model:      "fake-embedding",
		DocumentID: docID,
		TopK:       50,
	})
	require.NoError(t, err)
	return matches
}

func TestIndexDocumentWritesChunksAndRegistry(t *testing.T) {
	svc, mem, registry := newIngest(t)
	ctx := context.Background()

	text := strings.Repeat("the vacation policy allows fifteen days ", 4)
	doc, err := svc.IndexDocument(ctx, "handbook", text, 1)
	require.NoError(t, err)
	assert.Greater(t, doc.ChunkCount, 1)
	assert.False(t, doc.IndexedAt.IsZero())

	saved, err := registry.GetByID(ctx, "handbook")
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, saved.ChunkCount)

	matches := searchAll(t, mem, "vacation policy", "handbook")
	assert.Len(t, matches, doc.ChunkCount)

	health := svc.HealthCheck(ctx)
	assert.True(t, health.IndexReachable)
	assert.False(t, health.LastWriteAt.IsZero())
}

func TestIndexDocumentRevisionChangeInvalidatesOldChunks(t *testing.T) {
	svc, mem, _ := newIngest(t)
	ctx := context.Background()

	long := strings.Repeat("alpha beta gamma delta ", 8)
	doc, err := svc.IndexDocument(ctx, "d", long, 1)
	require.NoError(t, err)
	require.Greater(t, doc.ChunkCount, 1)

	short, err := svc.IndexDocument(ctx, "d", "alpha beta gamma delta", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, short.ChunkCount)

	// Only the single revision-2 chunk remains in the index.
	matches := searchAll(t, mem, "alpha beta", "d")
	require.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].Record.Revision)
}

func TestIndexDocumentRejectsEmptyText(t *testing.T) {
	svc, _, _ := newIngest(t)

	_, err := svc.IndexDocument(context.Background(), "d", "", 1)
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestIndexDocumentEmbeddingFailureLeavesIndexIntact(t *testing.T) {
	mem := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	good := NewIngestService(&fakeEmbedder{}, mem, registry, chunker.DefaultConfig())
	ctx := context.Background()

	_, err := good.IndexDocument(ctx, "d", "stable existing content", 1)
	require.NoError(t, err)

	bad := NewIngestService(&fakeEmbedder{fail: domain.ErrEmbeddingUnavailable}, mem, registry, chunker.DefaultConfig())
	_, err = bad.IndexDocument(ctx, "d", "replacement content", 2)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	matches := searchAll(t, mem, "stable existing content", "d")
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Record.Revision)
}

func TestDeleteDocumentRemovesVectorsAndRegistryEntry(t *testing.T) {
	svc, mem, registry := newIngest(t)
	ctx := context.Background()

	_, err := svc.IndexDocument(ctx, "d", "some document content here", 1)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, "d"))

	assert.Empty(t, searchAll(t, mem, "some document content here", "d"))
	_, err = registry.GetByID(ctx, "d")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDeleteDocumentUnknownID(t *testing.T) {
	svc, _, _ := newIngest(t)

	err := svc.DeleteDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestReindexAllRebuildsEveryDocument(t *testing.T) {
	svc, mem, _ := newIngest(t)
	ctx := context.Background()

	_, err := svc.IndexDocument(ctx, "a", "first document about vacations", 1)
	require.NoError(t, err)
	_, err = svc.IndexDocument(ctx, "b", "second document about expenses", 3)
	require.NoError(t, err)

	indexed, err := svc.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	matches := searchAll(t, mem, "first document about vacations", "a")
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(1), matches[0].Record.Revision)
}

func TestReindexAllContinuesPastFailures(t *testing.T) {
	mem := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	svc := NewIngestService(&fakeEmbedder{}, mem, registry, chunker.DefaultConfig())
	ctx := context.Background()

	_, err := svc.IndexDocument(ctx, "good", "healthy document content", 1)
	require.NoError(t, err)
	// A registry entry that fails chunking exercises the keep-going path.
	require.NoError(t, registry.Save(ctx, &domain.Document{ID: "bad", Text: " ", Revision: 1}))

	indexed, err := svc.ReindexAll(ctx)
	assert.Equal(t, 1, indexed)
	assert.Error(t, err)
}

func TestIndexDocumentConcurrentSameDocumentStaysConsistent(t *testing.T) {
	svc, mem, registry := newIngest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(rev int64) {
			defer wg.Done()
			_, err := svc.IndexDocument(ctx,
				"D1", "the policy text for this document revision", rev)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	// whichever revision won, the index holds chunks of exactly one
	matches := searchAll(t, mem, "the policy text for this document revision", "D1")
	require.NotEmpty(t, matches)
	rev := matches[0].Revision
	for _, m := range matches {
		assert.Equal(t, rev, m.Revision)
	}

	doc, err := registry.GetByID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, len(matches), doc.ChunkCount)
}
