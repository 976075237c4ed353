// Package auth はGoogle OAuthの認証フローと、書類作成前の認証ゲートを提供する。
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"golang.org/x/oauth2"
)

var (
	// ErrInvalidState はOAuthのstateが改ざんされているか形式が不正な場合に返される。
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrRefreshRejected はGoogleがリフレッシュトークンを拒否した場合に返される。
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrNotAuthenticated は有効な認証情報がない場合に返される。
	ErrNotAuthenticated = errors.New("google account is not linked")
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は同意画面のURLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Refresh はリフレッシュトークンで新しいトークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CredentialStore はユーザーごとの認証情報の保存先。
type CredentialStore interface {
	// Find は認証情報を返す。存在しない場合は nil, nil を返す。
	Find(ctx context.Context, userID string) (*model.Credential, error)
	Save(ctx context.Context, userID string, cred *model.Credential) error
	Delete(ctx context.Context, userID string) error
}

// Service はOAuthのstate発行とコールバック処理を提供する。
type Service struct {
	oauth  OAuthProvider
	creds  CredentialStore
	secret []byte
	logger *slog.Logger
}

// NewService はServiceを生成する。secret はstateの署名鍵。
func NewService(oauth OAuthProvider, creds CredentialStore, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:  oauth,
		creds:  creds,
		secret: []byte(secret),
		logger: logger,
	}
}

// AuthURL はLINEユーザー向けの同意画面URLを生成する。
func (s *Service) AuthURL(userID string) string {
	return s.oauth.AuthCodeURL(s.SignState(userID))
}

// SignState はユーザーIDに署名を付けたstateを返す。形式は "<userID>.<mac>"。
func (s *Service) SignState(userID string) string {
	return userID + "." + s.mac(userID)
}

// VerifyState はstateの署名を検証し、ユーザーIDを返す。
func (s *Service) VerifyState(state string) (string, error) {
	if unescaped, err := url.QueryUnescape(state); err == nil {
		state = unescaped
	}
	i := strings.LastIndex(state, ".")
	if i <= 0 || i == len(state)-1 {
		return "", ErrInvalidState
	}
	userID, mac := state[:i], state[i+1:]
	if !hmac.Equal([]byte(mac), []byte(s.mac(userID))) {
		return "", ErrInvalidState
	}
	return userID, nil
}

func (s *Service) mac(userID string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(userID))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// HandleCallback はOAuthコールバックを処理し、認証情報を保存してユーザーIDを返す。
// Googleがリフレッシュトークンを省略した場合は保存済みのものを引き継ぐ。
func (s *Service) HandleCallback(ctx context.Context, state, code string) (string, error) {
	userID, err := s.VerifyState(state)
	if err != nil {
		return "", err
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	cred := credentialFromToken(token)
	if cred.RefreshToken == "" {
		prev, err := s.creds.Find(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("failed to find credential: %w", err)
		}
		if prev != nil {
			cred.RefreshToken = prev.RefreshToken
		}
	}

	if err := s.creds.Save(ctx, userID, cred); err != nil {
		return "", fmt.Errorf("failed to save credential: %w", err)
	}

	s.logger.Info("google account linked",
		slog.String("user_id", userID),
		slog.Bool("has_refresh_token", cred.RefreshToken != ""),
	)
	return userID, nil
}

func credentialFromToken(t *oauth2.Token) *model.Credential {
	return &model.Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func tokenFromCredential(c *model.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// expiryMargin は期限切れ直前のトークンを無効とみなす余裕。
const expiryMargin = time.Minute
