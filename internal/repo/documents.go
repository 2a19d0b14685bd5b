package repo

import (
	"context"
	"database/sql"

	"opsline/internal/domain"
)

const documentColumns = `id,work_item_id,ngo_id,file_name,file_path,file_size,file_type,category,review_status,reviewer_user_id,reviewed_at,review_notes,uploaded_by,created_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var workItemID, ngoID, fileType, category, reviewerUserID, reviewedAt, reviewNotes sql.NullString
	err := row.Scan(&d.ID, &workItemID, &ngoID, &d.FileName, &d.FilePath, &d.FileSize, &fileType, &category,
		&d.ReviewStatus, &reviewerUserID, &reviewedAt, &reviewNotes, &d.UploadedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.WorkItemID = fromNull(workItemID)
	d.NGOID = fromNull(ngoID)
	if fileType.Valid {
		d.FileType = fileType.String
	}
	if category.Valid {
		d.Category = category.String
	}
	d.ReviewerUserID = fromNull(reviewerUserID)
	d.ReviewedAt = fromNull(reviewedAt)
	d.ReviewNotes = fromNull(reviewNotes)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, nullableStringPtr(d.WorkItemID), nullableStringPtr(d.NGOID), d.FileName, d.FilePath, d.FileSize,
		nullable(d.FileType), nullable(d.Category), d.ReviewStatus, nullableStringPtr(d.ReviewerUserID),
		nullableStringPtr(d.ReviewedAt), nullableStringPtr(d.ReviewNotes), d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

// UpdateDocumentReview writes only the review fields; the rest of a document
// row is immutable after upload.
func (r Repo) UpdateDocumentReview(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET review_status=?, reviewer_user_id=?, reviewed_at=?, review_notes=? WHERE id=?`,
		d.ReviewStatus, nullableStringPtr(d.ReviewerUserID), nullableStringPtr(d.ReviewedAt), nullableStringPtr(d.ReviewNotes), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListWorkItemDocuments(ctx context.Context, workItemID string) ([]domain.Document, error) {
	return r.listDocuments(ctx, r.DB.QueryContext, workItemID)
}

func (r Repo) ListWorkItemDocumentsTx(ctx context.Context, tx *sql.Tx, workItemID string) ([]domain.Document, error) {
	return r.listDocuments(ctx, tx.QueryContext, workItemID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listDocuments(ctx context.Context, query queryFunc, workItemID string) ([]domain.Document, error) {
	rows, err := query(ctx, `SELECT `+documentColumns+` FROM documents WHERE work_item_id=? ORDER BY created_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
