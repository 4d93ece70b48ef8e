package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Postgres is an Index backed by Postgres with the pgvector extension.
// Upserts run in a single transaction so a failed batch leaves prior state
// intact, and document deletion is a single statement, atomic from a
// searcher's point of view.
type Postgres struct {
	pool  *pgxpool.Pool
	model string
	dim   int
}

// NewPostgres creates a Postgres index for vectors of the given model and
// dimension. Records and queries with a different model are rejected.
func NewPostgres(pool *pgxpool.Pool, model string, dim int) *Postgres {
	return &Postgres{pool: pool, model: model, dim: dim}
}

// Backend implements Index.
func (p *Postgres) Backend() string { return "postgres" }

// HealthCheck implements Index.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "vector index unreachable", err)
	}
	return nil
}

// Upsert implements Index.
func (p *Postgres) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	for i := range records {
		if records[i].Model != p.model || len(records[i].Embedding) != p.dim {
			return domain.ErrModelMismatch
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "failed to begin index transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO document_chunks
				(chunk_id, document_id, ordinal, content, token_count, revision, model, embedding)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				ordinal = EXCLUDED.ordinal,
				content = EXCLUDED.content,
				token_count = EXCLUDED.token_count,
				revision = EXCLUDED.revision,
				model = EXCLUDED.model,
				embedding = EXCLUDED.embedding`,
			r.ChunkID, r.DocumentID, r.Ordinal, r.Text, r.TokenCount, r.Revision, r.Model, pgvector.NewVector(r.Embedding),
		)
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "failed to upsert chunk records", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "failed to commit index transaction", err)
	}
	return nil
}

// DeleteDocument implements Index.
func (p *Postgres) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "document ID is required")
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "failed to delete chunk records", err)
	}
	return nil
}

// Search implements Index.
func (p *Postgres) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if q.Model != p.model || len(q.Embedding) != p.dim {
		return nil, domain.ErrModelMismatch
	}

	vec := pgvector.NewVector(q.Embedding)

	query := `
		SELECT chunk_id, document_id, ordinal, content, token_count, revision, model,
		       1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE model = $2 AND 1 - (embedding <=> $1) >= $3`
	args := []any{vec, q.Model, q.MinScore}

	if q.DocumentID != "" {
		query += fmt.Sprintf(" AND document_id = $%d", len(args)+1)
		args = append(args, q.DocumentID)
	}

	query += fmt.Sprintf(" ORDER BY score DESC, revision DESC, document_id ASC, ordinal ASC LIMIT $%d", len(args)+1)
	args = append(args, q.TopK)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "vector search failed", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, q.TopK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Ordinal, &m.Text, &m.TokenCount, &m.Revision, &m.Model, &m.Score); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "failed to scan search result", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndexUnavailable, "vector search failed", err)
	}
	return matches, nil
}
