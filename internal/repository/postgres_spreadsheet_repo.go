package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/docbot/internal/model"
)

// PostgresSpreadsheetRepo はユーザー・書類種別ごとのスプレッドシート参照を保存する。
type PostgresSpreadsheetRepo struct {
	db *sql.DB
}

// NewPostgresSpreadsheetRepo はPostgresSpreadsheetRepoを生成する。
func NewPostgresSpreadsheetRepo(db *sql.DB) *PostgresSpreadsheetRepo {
	return &PostgresSpreadsheetRepo{db: db}
}

// Find は見つからない場合はnilを返す。
func (r *PostgresSpreadsheetRepo) Find(ctx context.Context, userID string, docType model.DocumentType) (*model.SpreadsheetHandle, error) {
	h := &model.SpreadsheetHandle{}
	var dt string
	err := r.db.QueryRowContext(ctx,
		`SELECT line_user_id, document_type, spreadsheet_id, created_at, updated_at
		 FROM spreadsheets WHERE line_user_id = $1 AND document_type = $2`,
		userID, string(docType),
	).Scan(&h.LineUserID, &dt, &h.SpreadsheetID, &h.CreatedAt, &h.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find spreadsheet: %w", err)
	}
	h.DocumentType = model.DocumentType(dt)
	return h, nil
}

// Save はスプレッドシートの参照を作成または置き換える。
func (r *PostgresSpreadsheetRepo) Save(ctx context.Context, h *model.SpreadsheetHandle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spreadsheets (line_user_id, document_type, spreadsheet_id, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (line_user_id, document_type) DO UPDATE SET
		   spreadsheet_id = EXCLUDED.spreadsheet_id,
		   updated_at = NOW()`,
		h.LineUserID, string(h.DocumentType), h.SpreadsheetID,
	)
	if err != nil {
		return fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	return nil
}

// Delete はスプレッドシートの参照を削除する。
func (r *PostgresSpreadsheetRepo) Delete(ctx context.Context, userID string, docType model.DocumentType) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM spreadsheets WHERE line_user_id = $1 AND document_type = $2`,
		userID, string(docType),
	); err != nil {
		return fmt.Errorf("failed to delete spreadsheet: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SpreadsheetRepository = (*PostgresSpreadsheetRepo)(nil)
