// Package pgvector serves chunk searches from PostgreSQL with the pgvector
// extension. Metadata filters are pushed down into the statement.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Index struct {
	conn  querier
	table string
}

// Connect opens a pool with the vector type registered on every connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgvector dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pgvector pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgvector: %w", err)
	}
	return pool, nil
}

// New searches table, which holds id, document_id, knowledge_base_id, text,
// hash, meta (jsonb) and embedding (vector) columns.
func New(conn querier, table string) *Index {
	if table == "" {
		table = "document_chunks"
	}
	return &Index{conn: conn, table: table}
}

func (i *Index) SearchChunks(ctx context.Context, req ports.ChunkSearchRequest) ([]domain.Chunk, error) {
	if req.Limit <= 0 || len(req.Vector) == 0 {
		return nil, nil
	}
	query, args := buildSearchSQL(i.table, req)
	rows, err := i.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0, req.Limit)
	for rows.Next() {
		var (
			chunk domain.Chunk
			meta  []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.KnowledgeBaseID, &chunk.Text, &chunk.Hash, &meta, &chunk.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk meta %s: %w", chunk.ID, err)
			}
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// filterRecord mirrors domain.Chunk.FilterMetadata: meta with a non-zero
// document_id column merged in.
const filterRecord = `(COALESCE(c.meta, '{}'::jsonb) || jsonb_strip_nulls(jsonb_build_object('document_id', NULLIF(c.document_id, 0))))`

// buildSearchSQL orders by cosine distance and reports similarity as score.
func buildSearchSQL(table string, req ports.ChunkSearchRequest) (string, []any) {
	where, filterArgs := filter.SQL(req.Filter, filterRecord, 4)
	query := `SELECT c.id::text, c.document_id, c.knowledge_base_id, c.text, COALESCE(c.hash, ''), c.meta,
       1 - (c.embedding <=> $1) AS score
FROM ` + pgx.Identifier{table}.Sanitize() + ` c
WHERE c.knowledge_base_id = $2 AND ` + where + `
ORDER BY c.embedding <=> $1
LIMIT $3`
	args := append([]any{pgvector.NewVector(req.Vector), req.KnowledgeBaseID, req.Limit}, filterArgs...)
	return query, args
}
