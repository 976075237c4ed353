package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// 書類作成に必要なGoogle APIのスコープ。
const (
	ScopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"
	ScopeDrive        = "https://www.googleapis.com/auth/drive"
	ScopeDriveFile    = "https://www.googleapis.com/auth/drive.file"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// HTTPClient はトークンエンドポイントへの通信に使う。nil なら既定のクライアント。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0によるトークン取得と更新を提供する。
type GoogleOAuthProvider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := endpoints.Google
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	return &GoogleOAuthProvider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{ScopeSpreadsheets, ScopeDrive, ScopeDriveFile},
		},
		httpClient: config.HTTPClient,
	}
}

// AuthCodeURL は同意画面のURLを生成する。
// リフレッシュトークンを必ず受け取るため、オフラインアクセスと再同意を要求する。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange は認可コードをトークンに交換する。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}
	return token, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// Googleが更新を拒否した場合は ErrRefreshRejected を包んで返す。
func (p *GoogleOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.config.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return token, nil
}

func (p *GoogleOAuthProvider) withClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// isRejected はトークンエンドポイントがリフレッシュトークン自体を拒否したかを判定する。
func isRejected(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.ErrorCode == "invalid_grant" {
		return true
	}
	if rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return true
		}
	}
	return false
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
