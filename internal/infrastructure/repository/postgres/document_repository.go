package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// FetchDocumentsByIDs returns the documents that exist, in id order. Missing
// ids are skipped.
func (r *DocumentRepository) FetchDocumentsByIDs(ctx context.Context, ids []int64) ([]domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, source_uri, content
FROM documents
WHERE id = ANY($1)
ORDER BY id
`, ids)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0, len(ids))
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.SourceURI, &doc.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

type KnowledgeBaseRepository struct {
	db *sql.DB
}

func NewKnowledgeBaseRepository(db *sql.DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

// ListKnowledgeBases returns the requested knowledge bases, or all of them
// when ids is empty.
func (r *KnowledgeBaseRepository) ListKnowledgeBases(ctx context.Context, ids []int64) ([]domain.KnowledgeBase, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.db.QueryContext(ctx, `SELECT id, name, description, graph_type FROM knowledge_bases ORDER BY id`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT id, name, description, graph_type FROM knowledge_bases WHERE id = ANY($1) ORDER BY id`, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeBase
	for rows.Next() {
		var kb domain.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.GraphType); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		out = append(out, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge bases: %w", err)
	}
	return out, nil
}
