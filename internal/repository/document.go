// Package repository persists the document registry backing ingest,
// reindexing and maintenance review.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// DocumentRepository stores documents in Postgres.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Save upserts a document; a re-save with the same id replaces the prior
// revision.
func (r *DocumentRepository) Save(ctx context.Context, d *domain.Document) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents (id, content, revision, chunk_count, indexed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			revision = EXCLUDED.revision,
			chunk_count = EXCLUDED.chunk_count,
			indexed_at = EXCLUDED.indexed_at`,
		d.ID, d.Text, d.Revision, d.ChunkCount, d.IndexedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	err := r.pool.QueryRow(ctx,
		`SELECT id, content, revision, chunk_count, indexed_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Text, &d.Revision, &d.ChunkCount, &d.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListAll returns every registered document, oldest revision activity first.
func (r *DocumentRepository) ListAll(ctx context.Context) ([]*domain.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content, revision, chunk_count, indexed_at
		 FROM documents ORDER BY indexed_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// ListIndexedBefore returns documents whose last indexing is older than the
// cutoff. Used by the content review task.
func (r *DocumentRepository) ListIndexedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content, revision, chunk_count, indexed_at
		 FROM documents WHERE indexed_at < $1 ORDER BY indexed_at ASC, id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Text, &d.Revision, &d.ChunkCount, &d.IndexedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
