package gsuite

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/docbot/internal/assembly"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// TokenProvider はユーザーの有効なアクセストークンを返す。
type TokenProvider interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
}

// OpenerConfig は Opener の接続先設定。空の項目はGoogleの本番エンドポイントを使う。
type OpenerConfig struct {
	SheetsEndpoint string
	DriveEndpoint  string
	ExportBaseURL  string
	// BaseClient はトークン付与前のHTTPクライアント。
	BaseClient *http.Client
}

// Opener はユーザーのトークンで Backend を開く。
type Opener struct {
	tokens TokenProvider
	cfg    OpenerConfig
}

var _ assembly.BackendOpener = (*Opener)(nil)

// NewOpener は新しい Opener を生成する。
func NewOpener(tokens TokenProvider, cfg OpenerConfig) *Opener {
	return &Opener{tokens: tokens, cfg: cfg}
}

// Open はユーザーのトークンを取得し、Sheets・Driveのクライアントを組み立てる。
func (o *Opener) Open(ctx context.Context, userID string) (assembly.Backend, error) {
	token, err := o.tokens.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get google token: %w", err)
	}

	if o.cfg.BaseClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.cfg.BaseClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	sheetsOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if o.cfg.SheetsEndpoint != "" {
		sheetsOpts = append(sheetsOpts, option.WithEndpoint(o.cfg.SheetsEndpoint))
	}
	sheetsSvc, err := sheets.NewService(ctx, sheetsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	driveOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if o.cfg.DriveEndpoint != "" {
		driveOpts = append(driveOpts, option.WithEndpoint(o.cfg.DriveEndpoint))
	}
	driveSvc, err := drive.NewService(ctx, driveOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return NewBackend(sheetsSvc, driveSvc, client, o.cfg.ExportBaseURL), nil
}
