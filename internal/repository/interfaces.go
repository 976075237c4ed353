// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/docbot/internal/model"
)

// ProfileRepository は事業者情報の永続化インターフェース。
type ProfileRepository interface {
	// Find は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.UserProfile, error)

	// Save は会社名・住所・振込先をまとめて保存する。
	// メールアドレスは空でなければ上書きする。
	Save(ctx context.Context, profile *model.UserProfile) error

	// SaveEmail はメールアドレスだけを保存する。行がなければ作成する。
	SaveEmail(ctx context.Context, userID, email string) error
}

// CredentialRepository はGoogle認証情報の永続化インターフェース。
type CredentialRepository interface {
	// Find は認証情報を復号して返す。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.Credential, error)
	Save(ctx context.Context, userID string, cred *model.Credential) error
	Delete(ctx context.Context, userID string) error
}

// SpreadsheetRepository は再利用するスプレッドシートの参照の永続化インターフェース。
type SpreadsheetRepository interface {
	// Find は見つからない場合はnilを返す。
	Find(ctx context.Context, userID string, docType model.DocumentType) (*model.SpreadsheetHandle, error)
	Save(ctx context.Context, handle *model.SpreadsheetHandle) error
	Delete(ctx context.Context, userID string, docType model.DocumentType) error
}

// DocumentRepository は生成履歴の永続化インターフェース。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.GeneratedDocument) error

	// ListByUser は新しい順に最大 limit 件を返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.GeneratedDocument, error)

	// DeleteOlderThan は before より前に作成された履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
