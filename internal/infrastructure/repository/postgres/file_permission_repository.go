package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FilePermissionRepository resolves per-user document allow-lists. Documents
// without permission rows are public.
type FilePermissionRepository struct {
	db *sql.DB
}

func NewFilePermissionRepository(db *sql.DB) *FilePermissionRepository {
	return &FilePermissionRepository{db: db}
}

// FetchAuthorizedFileIDs returns nil for users without any permission row,
// meaning no file restriction. Otherwise it returns the public documents
// plus the documents granted to the user and not yet expired.
func (r *FilePermissionRepository) FetchAuthorizedFileIDs(ctx context.Context, userID string) ([]int64, error) {
	if userID == "" {
		return nil, nil
	}

	var marker int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM file_permissions WHERE user_id = $1 LIMIT 1`, userID).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check file permissions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT d.id FROM documents d
WHERE NOT EXISTS (SELECT 1 FROM file_permissions p WHERE p.file_id = d.id)
UNION
SELECT p.file_id FROM file_permissions p
WHERE p.user_id = $1 AND (p.expires_at IS NULL OR p.expires_at > now())
ORDER BY 1
`, userID)
	if err != nil {
		return nil, fmt.Errorf("query authorized files: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan authorized file: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authorized files: %w", err)
	}
	return ids, nil
}
