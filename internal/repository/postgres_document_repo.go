package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/docbot/internal/model"
)

// PostgresDocumentRepo は生成履歴を保存する。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

// Create は生成履歴を1件追加する。
func (r *PostgresDocumentRepo) Create(ctx context.Context, doc *model.GeneratedDocument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, line_user_id, document_type, spreadsheet_id, tab_name, edit_url, pdf_url, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.LineUserID, string(doc.DocumentType), doc.SpreadsheetID, doc.TabName,
		doc.EditURL, doc.PDFURL, doc.Total, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// ListByUser は新しい順に最大 limit 件を返す。
func (r *PostgresDocumentRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.GeneratedDocument, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, line_user_id, document_type, spreadsheet_id, tab_name, edit_url, pdf_url, total, created_at
		 FROM documents WHERE line_user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.GeneratedDocument
	for rows.Next() {
		d := &model.GeneratedDocument{}
		var dt string
		if err := rows.Scan(&d.ID, &d.LineUserID, &dt, &d.SpreadsheetID, &d.TabName,
			&d.EditURL, &d.PDFURL, &d.Total, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.DocumentType = model.DocumentType(dt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// DeleteOlderThan は before より前に作成された履歴を削除し、削除件数を返す。
func (r *PostgresDocumentRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
