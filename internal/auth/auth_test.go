package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"golang.org/x/oauth2"
)

// mockOAuthProvider はテスト用のOAuthProviderモック。
type mockOAuthProvider struct {
	exchangeFn func(ctx context.Context, code string) (*oauth2.Token, error)
	refreshFn  func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	refreshes  int
}

func (m *mockOAuthProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

func (m *mockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.refreshes++
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, errors.New("not implemented")
}

var _ OAuthProvider = (*mockOAuthProvider)(nil)

// memoryCredentials はテスト用のメモリ上の認証情報ストア。
type memoryCredentials struct {
	creds   map[string]*model.Credential
	findErr error
	deleted []string
}

func newMemoryCredentials() *memoryCredentials {
	return &memoryCredentials{creds: map[string]*model.Credential{}}
}

func (m *memoryCredentials) Find(_ context.Context, userID string) (*model.Credential, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.creds[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memoryCredentials) Save(_ context.Context, userID string, cred *model.Credential) error {
	cp := *cred
	m.creds[userID] = &cp
	return nil
}

func (m *memoryCredentials) Delete(_ context.Context, userID string) error {
	delete(m.creds, userID)
	m.deleted = append(m.deleted, userID)
	return nil
}

var _ CredentialStore = (*memoryCredentials)(nil)

func TestService_State_RoundTrip(t *testing.T) {
	svc := NewService(&mockOAuthProvider{}, newMemoryCredentials(), "secret", nil)

	state := svc.SignState("U123")
	if !strings.HasPrefix(state, "U123.") {
		t.Fatalf("SignState() = %q", state)
	}

	userID, err := svc.VerifyState(state)
	if err != nil {
		t.Fatalf("VerifyState() error = %v", err)
	}
	if userID != "U123" {
		t.Errorf("VerifyState() = %q, want U123", userID)
	}
}

func TestService_VerifyState_Rejects(t *testing.T) {
	svc := NewService(&mockOAuthProvider{}, newMemoryCredentials(), "secret", nil)
	other := NewService(&mockOAuthProvider{}, newMemoryCredentials(), "other-secret", nil)

	tests := []struct {
		name  string
		state string
	}{
		{"空", ""},
		{"区切りなし", "U123"},
		{"MACなし", "U123."},
		{"ユーザーIDなし", ".abc"},
		{"別の鍵で署名", other.SignState("U123")},
		{"ユーザーIDの差し替え", "U999" + svc.SignState("U123")[len("U123"):]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.VerifyState(tt.state); !errors.Is(err, ErrInvalidState) {
				t.Errorf("VerifyState(%q) error = %v, want ErrInvalidState", tt.state, err)
			}
		})
	}
}

func TestService_AuthURL_CarriesSignedState(t *testing.T) {
	svc := NewService(&mockOAuthProvider{}, newMemoryCredentials(), "secret", nil)

	u, err := url.Parse(svc.AuthURL("U123"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyState(u.Query().Get("state")); err != nil {
		t.Errorf("state in auth url does not verify: %v", err)
	}
}

func TestService_HandleCallback_SavesCredential(t *testing.T) {
	creds := newMemoryCredentials()
	expiry := time.Now().Add(time.Hour)
	oauth := &mockOAuthProvider{
		exchangeFn: func(_ context.Context, code string) (*oauth2.Token, error) {
			if code != "code-1" {
				t.Errorf("code = %q, want code-1", code)
			}
			return &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: expiry}, nil
		},
	}
	svc := NewService(oauth, creds, "secret", nil)

	userID, err := svc.HandleCallback(context.Background(), svc.SignState("U1"), "code-1")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if userID != "U1" {
		t.Errorf("userID = %q, want U1", userID)
	}
	got := creds.creds["U1"]
	if got == nil || got.AccessToken != "access" || got.RefreshToken != "refresh" || !got.Expiry.Equal(expiry) {
		t.Errorf("saved credential = %+v", got)
	}
}

func TestService_HandleCallback_KeepsPreviousRefreshToken(t *testing.T) {
	creds := newMemoryCredentials()
	creds.creds["U1"] = &model.Credential{AccessToken: "old", RefreshToken: "kept"}
	oauth := &mockOAuthProvider{
		exchangeFn: func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}, nil
		},
	}
	svc := NewService(oauth, creds, "secret", nil)

	if _, err := svc.HandleCallback(context.Background(), svc.SignState("U1"), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if got := creds.creds["U1"]; got.AccessToken != "new" || got.RefreshToken != "kept" {
		t.Errorf("saved credential = %+v", got)
	}
}

func TestService_HandleCallback_InvalidState(t *testing.T) {
	oauth := &mockOAuthProvider{
		exchangeFn: func(context.Context, string) (*oauth2.Token, error) {
			t.Error("Exchange should not be called for an invalid state")
			return nil, nil
		},
	}
	svc := NewService(oauth, newMemoryCredentials(), "secret", nil)

	if _, err := svc.HandleCallback(context.Background(), "U1.bad", "code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("HandleCallback() error = %v, want ErrInvalidState", err)
	}
}

func TestService_HandleCallback_ExchangeError(t *testing.T) {
	creds := newMemoryCredentials()
	oauth := &mockOAuthProvider{
		exchangeFn: func(context.Context, string) (*oauth2.Token, error) {
			return nil, errors.New("bad code")
		},
	}
	svc := NewService(oauth, creds, "secret", nil)

	if _, err := svc.HandleCallback(context.Background(), svc.SignState("U1"), "code"); err == nil {
		t.Error("HandleCallback() error = nil, want error")
	}
	if len(creds.creds) != 0 {
		t.Error("credential should not be saved on exchange failure")
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGate_IsAuthenticated(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		cred          *model.Credential
		refreshFn     func(context.Context, string) (*oauth2.Token, error)
		want          bool
		wantRefreshes int
		wantDeleted   bool
		wantAccess    string
	}{
		{
			name: "認証情報なし",
			want: false,
		},
		{
			name: "リフレッシュトークンなし",
			cred: &model.Credential{AccessToken: "a", Expiry: now.Add(time.Hour)},
			want: false,
		},
		{
			name:       "有効なトークン",
			cred:       &model.Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Hour)},
			want:       true,
			wantAccess: "a",
		},
		{
			name: "期限切れ間近は更新する",
			cred: &model.Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(30 * time.Second)},
			refreshFn: func(context.Context, string) (*oauth2.Token, error) {
				return &oauth2.Token{AccessToken: "b", Expiry: now.Add(time.Hour)}, nil
			},
			want:          true,
			wantRefreshes: 1,
			wantAccess:    "b",
		},
		{
			name: "更新拒否で削除",
			cred: &model.Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)},
			refreshFn: func(context.Context, string) (*oauth2.Token, error) {
				return nil, ErrRefreshRejected
			},
			want:          false,
			wantRefreshes: 1,
			wantDeleted:   true,
		},
		{
			name: "一時的な更新失敗では削除しない",
			cred: &model.Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)},
			refreshFn: func(context.Context, string) (*oauth2.Token, error) {
				return nil, errors.New("timeout")
			},
			want:          false,
			wantRefreshes: 1,
			wantAccess:    "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := newMemoryCredentials()
			if tt.cred != nil {
				creds.creds["U1"] = tt.cred
			}
			oauth := &mockOAuthProvider{refreshFn: tt.refreshFn}
			gate := NewGate(oauth, creds, nil, WithGateClock(fixedClock(now)))

			got, err := gate.IsAuthenticated(context.Background(), "U1")
			if err != nil {
				t.Fatalf("IsAuthenticated() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAuthenticated() = %v, want %v", got, tt.want)
			}
			if oauth.refreshes != tt.wantRefreshes {
				t.Errorf("refreshes = %d, want %d", oauth.refreshes, tt.wantRefreshes)
			}
			if deleted := len(creds.deleted) > 0; deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDeleted)
			}
			if tt.wantAccess != "" {
				stored := creds.creds["U1"]
				if stored == nil || stored.AccessToken != tt.wantAccess {
					t.Errorf("stored credential = %+v, want access %q", stored, tt.wantAccess)
				}
			}
		})
	}
}

func TestGate_Refresh_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	creds := newMemoryCredentials()
	creds.creds["U1"] = &model.Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Minute)}
	oauth := &mockOAuthProvider{
		refreshFn: func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "b", Expiry: now.Add(time.Hour)}, nil
		},
	}
	gate := NewGate(oauth, creds, nil, WithGateClock(fixedClock(now)))

	token, err := gate.Token(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken != "b" || token.RefreshToken != "r" {
		t.Errorf("token = %+v", token)
	}
	if creds.creds["U1"].RefreshToken != "r" {
		t.Error("refresh token should be kept in the store")
	}
}

func TestGate_Token_NotAuthenticated(t *testing.T) {
	gate := NewGate(&mockOAuthProvider{}, newMemoryCredentials(), nil)

	if _, err := gate.Token(context.Background(), "U1"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Token() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestGate_IsAuthenticated_StoreError(t *testing.T) {
	creds := newMemoryCredentials()
	creds.findErr = errors.New("db down")
	gate := NewGate(&mockOAuthProvider{}, creds, nil)

	ok, err := gate.IsAuthenticated(context.Background(), "U1")
	if err == nil || ok {
		t.Errorf("IsAuthenticated() = %v, %v, want false, error", ok, err)
	}
}
