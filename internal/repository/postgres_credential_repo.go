package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/security"
)

// PostgresCredentialRepo は認証情報を暗号化してPostgreSQLに保存する。
type PostgresCredentialRepo struct {
	db     *sql.DB
	cipher *security.TokenCipher
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB, cipher *security.TokenCipher) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db, cipher: cipher}
}

// Find は認証情報を復号して返す。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) Find(ctx context.Context, userID string) (*model.Credential, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT encrypted_token FROM google_credentials WHERE line_user_id = $1`,
		userID,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return r.decode(data)
}

// Save は認証情報を暗号化して保存する。
func (r *PostgresCredentialRepo) Save(ctx context.Context, userID string, cred *model.Credential) error {
	data, err := r.encode(cred)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO google_credentials (line_user_id, encrypted_token, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (line_user_id) DO UPDATE SET
		   encrypted_token = EXCLUDED.encrypted_token,
		   updated_at = NOW()`,
		userID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Delete は認証情報を削除する。存在しなくてもエラーにしない。
func (r *PostgresCredentialRepo) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM google_credentials WHERE line_user_id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (r *PostgresCredentialRepo) encode(cred *model.Credential) ([]byte, error) {
	plain, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	data, err := r.cipher.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return data, nil
}

func (r *PostgresCredentialRepo) decode(data []byte) (*model.Credential, error) {
	plain, err := r.cipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	var cred model.Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
