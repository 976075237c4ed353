package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/docbot/internal/metrics"
	"github.com/hitoshi/docbot/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// Webhook
	ChannelSecret string
	Dispatcher    EventDispatcher

	// Google認証
	AuthService  AuthServiceInterface
	AuthNotifier AuthNotifier
	RateLimiter  *middleware.RateLimiter

	// 運用
	HealthChecks   map[string]HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging
//
// OAuthコールバックにはさらに RateLimit → SecurityHeaders を適用する。
// /metrics はメトリクスハンドラーが設定されている場合のみ公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	webhookHandler := NewWebhookHandler(deps.ChannelSecret, deps.Dispatcher, logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthNotifier, logger)
	healthHandler := NewHealthHandler(deps.HealthChecks, logger)

	r.Post("/callback", webhookHandler.Callback)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Get("/auth/google/callback", authHandler.Callback)
	})

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}
