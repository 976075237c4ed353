package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/docbot/internal/auth"
	"github.com/hitoshi/docbot/internal/middleware"
	"github.com/hitoshi/docbot/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	HandleCallback(ctx context.Context, state, code string) (string, error)
}

// AuthNotifier は認証完了を会話に伝える。
type AuthNotifier interface {
	NotifyAuthCompleted(ctx context.Context, userID string) error
}

// AuthHandler はGoogle OAuthのコールバックを処理する。
type AuthHandler struct {
	service  AuthServiceInterface
	notifier AuthNotifier
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, notifier AuthNotifier, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		notifier: notifier,
		logger:   logger,
	}
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body style="font-family: sans-serif; text-align: center; padding: 48px 16px;">
<h1 style="font-size: 1.4em;">{{.Title}}</h1>
<p>{{.Body}}</p>
</body>
</html>
`))

type pageData struct {
	Title string
	Body  string
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 同意画面で拒否された場合
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("google authorization denied", slog.String("reason", reason))
		renderPage(w, http.StatusBadRequest, pageData{
			Title: "Google認証が完了しませんでした",
			Body:  "LINEのトークに戻り、もう一度認証リンクを開いてください。",
		})
		return
	}

	state := q.Get("state")
	if state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}
	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	userID, err := h.service.HandleCallback(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			h.logger.Warn("oauth state rejected", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
			return
		}
		h.logger.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAuthFailedError())
		return
	}

	// 認証情報は保存済みのため、通知に失敗してもページは成功とする
	if err := h.notifier.NotifyAuthCompleted(r.Context(), userID); err != nil {
		h.logger.Error("failed to notify auth completion",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	renderPage(w, http.StatusOK, pageData{
		Title: "Google認証が完了しました",
		Body:  "このページを閉じて、LINEのトークに戻ってください。",
	})
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	resultPage.Execute(w, data)
}
