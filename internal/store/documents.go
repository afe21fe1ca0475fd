package store

import (
	"context"
	"database/sql"
	"fmt"
)

const documentColumns = `id, project_id, name, COALESCE(file_key, ''), file_size, COALESCE(content_type, ''),
	version, parent_document_id, is_latest, uploaded_by, created_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Name,
		&item.FileKey,
		&item.FileSize,
		&item.ContentType,
		&item.Version,
		&item.ParentDocumentID,
		&item.IsLatest,
		&item.UploadedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return scanDocument(row)
}

// InsertDocumentVersion creates a version row. Without a parent it starts a
// new chain (version 1, latest). With a parent it appends to the parent's
// chain: the chain root row is locked FOR UPDATE so concurrent supersedes
// serialize, the previous latest row is flipped off, and the new row is
// inserted latest, all in one transaction. At no point can two rows of the
// same chain both be latest, and the chain never goes latest-less.
func (s *PostgresStore) InsertDocumentVersion(ctx context.Context, item Document) (Document, error) {
	if item.ParentDocumentID == nil {
		item.Version = 1
		item.IsLatest = true
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (id, project_id, name, file_key, file_size, content_type, version, parent_document_id, is_latest, uploaded_by)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), 1, NULL, TRUE, $7)
		`, item.ID, item.ProjectID, item.Name, item.FileKey, item.FileSize, item.ContentType, item.UploadedBy)
		if err != nil {
			return Document{}, fmt.Errorf("insert document chain head: %w", err)
		}
		return item, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin document version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	parentRow := tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1 AND project_id=$2
	`, *item.ParentDocumentID, item.ProjectID)
	parent, err := scanDocument(parentRow)
	if err != nil {
		// sql.ErrNoRows when the parent is missing or in another project.
		return Document{}, err
	}

	rootID := parent.ID
	if parent.ParentDocumentID != nil {
		rootID = *parent.ParentDocumentID
	}

	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM documents WHERE id=$1 FOR UPDATE`, rootID); err != nil {
		return Document{}, fmt.Errorf("lock chain root: %w", err)
	}

	var nextVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM documents WHERE id=$1 OR parent_document_id=$1
	`, rootID).Scan(&nextVersion)
	if err != nil {
		return Document{}, fmt.Errorf("next chain version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_latest=FALSE WHERE (id=$1 OR parent_document_id=$1) AND is_latest=TRUE
	`, rootID); err != nil {
		return Document{}, fmt.Errorf("clear latest flag: %w", err)
	}

	item.Version = nextVersion
	item.IsLatest = true
	item.ParentDocumentID = &rootID
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, file_key, file_size, content_type, version, parent_document_id, is_latest, uploaded_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, TRUE, $9)
	`, item.ID, item.ProjectID, item.Name, item.FileKey, item.FileSize, item.ContentType, item.Version, rootID, item.UploadedBy); err != nil {
		return Document{}, fmt.Errorf("insert document version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit document version tx: %w", err)
	}
	return item, nil
}

// ListLatestDocuments returns one row per chain: the current version.
func (s *PostgresStore) ListLatestDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE project_id=$1 AND is_latest=TRUE
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list latest documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ListDocumentHistory returns every version in documentID's chain, newest
// first. The chain is resolved by walking to the root parent and collecting
// the root plus all rows pointing at it.
func (s *PostgresStore) ListDocumentHistory(ctx context.Context, documentID string) ([]Document, error) {
	item, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rootID := item.ID
	if item.ParentDocumentID != nil {
		rootID = *item.ParentDocumentID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 OR parent_document_id=$1
		ORDER BY version DESC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list document history: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// DeleteDocumentChain removes every version in documentID's chain and
// returns the file keys of the removed rows so object storage can be
// cleaned up. Deleting a single mid-chain row would break the latest
// invariant, so deletion is always chain-wide.
func (s *PostgresStore) DeleteDocumentChain(ctx context.Context, documentID string) ([]string, error) {
	item, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rootID := item.ID
	if item.ParentDocumentID != nil {
		rootID = *item.ParentDocumentID
	}

	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM documents WHERE id=$1 OR parent_document_id=$1
		RETURNING COALESCE(file_key, '')
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("delete document chain: %w", err)
	}
	defer rows.Close()

	fileKeys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan deleted file key: %w", err)
		}
		if key != "" {
			fileKeys = append(fileKeys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted file keys: %w", err)
	}
	return fileKeys, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}
