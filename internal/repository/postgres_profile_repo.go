package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/docbot/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Find は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) Find(ctx context.Context, userID string) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT line_user_id, email, company_name, address, bank_account, created_at, updated_at
		 FROM users WHERE line_user_id = $1`,
		userID,
	).Scan(&p.LineUserID, &p.Email, &p.CompanyName, &p.Address, &p.BankAccount, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// Load は Find と同じ。会話の初期値の読み込みに使う。
func (r *PostgresProfileRepo) Load(ctx context.Context, userID string) (*model.UserProfile, error) {
	return r.Find(ctx, userID)
}

// Save は会社名・住所・振込先を1文のUPSERTで保存する。
func (r *PostgresProfileRepo) Save(ctx context.Context, p *model.UserProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (line_user_id, email, company_name, address, bank_account, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (line_user_id) DO UPDATE SET
		   email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
		   company_name = EXCLUDED.company_name,
		   address = EXCLUDED.address,
		   bank_account = EXCLUDED.bank_account,
		   updated_at = NOW()`,
		p.LineUserID, p.Email, p.CompanyName, p.Address, p.BankAccount,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// SaveEmail はメールアドレスだけを保存する。
func (r *PostgresProfileRepo) SaveEmail(ctx context.Context, userID, email string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (line_user_id, email, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (line_user_id) DO UPDATE SET
		   email = EXCLUDED.email,
		   updated_at = NOW()`,
		userID, email,
	)
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
