package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"golang.org/x/oauth2"
)

// Gate は書類作成の前にGoogle認証が有効かを確かめる。
// 期限切れのトークンは1回だけ更新を試み、拒否された認証情報は削除する。
type Gate struct {
	oauth  OAuthProvider
	creds  CredentialStore
	now    func() time.Time
	logger *slog.Logger
}

// GateOption は Gate の設定を変更する。
type GateOption func(*Gate)

// WithGateClock は現在時刻の取得関数を差し替える。
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate は Gate を生成する。
func NewGate(oauth OAuthProvider, creds CredentialStore, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{oauth: oauth, creds: creds, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAuthenticated は有効な認証情報があるかを返す。
// 一時的な更新失敗は未認証として扱い、認証情報は残す。
func (g *Gate) IsAuthenticated(ctx context.Context, userID string) (bool, error) {
	_, err := g.credential(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotAuthenticated):
		return false, nil
	default:
		return false, err
	}
}

// Token は書類バックエンドで使えるアクセストークンを返す。
func (g *Gate) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	cred, err := g.credential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return tokenFromCredential(cred), nil
}

func (g *Gate) credential(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := g.creds.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil || cred.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	if cred.AccessToken != "" && cred.Expiry.After(g.now().Add(expiryMargin)) {
		return cred, nil
	}

	token, err := g.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			g.logger.Warn("refresh token rejected, credential removed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			if derr := g.creds.Delete(ctx, userID); derr != nil {
				return nil, fmt.Errorf("failed to delete credential: %w", derr)
			}
			return nil, ErrNotAuthenticated
		}
		g.logger.Warn("token refresh failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	refreshed := credentialFromToken(token)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := g.creds.Save(ctx, userID, refreshed); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}
	return refreshed, nil
}
