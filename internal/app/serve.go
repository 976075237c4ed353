package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/docbot/internal/assembly"
	"github.com/hitoshi/docbot/internal/auth"
	"github.com/hitoshi/docbot/internal/bot"
	"github.com/hitoshi/docbot/internal/config"
	"github.com/hitoshi/docbot/internal/conversation"
	"github.com/hitoshi/docbot/internal/database"
	"github.com/hitoshi/docbot/internal/gsuite"
	"github.com/hitoshi/docbot/internal/handler"
	"github.com/hitoshi/docbot/internal/line"
	"github.com/hitoshi/docbot/internal/metrics"
	"github.com/hitoshi/docbot/internal/middleware"
	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/pdfstore"
	"github.com/hitoshi/docbot/internal/repository"
	"github.com/hitoshi/docbot/internal/security"
	"github.com/hitoshi/docbot/internal/session"
	"github.com/hitoshi/docbot/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// runServe はAPIサーバーモードで起動する。
// 依存関係をワイヤリングしてHTTPサーバーを起動し、
// SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
// 受付済みのイベント処理はシャットダウン時に完了を待つ。
func runServe(cfg *config.Config) error {
	ctx := context.Background()
	logger := slog.Default()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	healthChecks := map[string]handler.HealthChecker{"database": db}

	// 2. セッションストアとユーザーロック
	var (
		store  session.Store
		locker session.Locker
	)
	if cfg.RedisEnabled() {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		store, err = session.NewStore(session.StoreTypeRedis,
			session.WithRedisClient(client),
			session.WithTTL(cfg.SessionTTL),
		)
		if err != nil {
			return fmt.Errorf("failed to create session store: %w", err)
		}
		locker = session.NewRedisLocker(client, cfg.LockTTL, logger)
		healthChecks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.Info("using redis session store")
	} else {
		store, err = session.NewStore(session.StoreTypeMemory, session.WithTTL(cfg.SessionTTL))
		if err != nil {
			return fmt.Errorf("failed to create session store: %w", err)
		}
		locker = session.NewLocalLocker()
		logger.Info("using in-memory session store")
	}
	defer store.Close()

	// 3. リポジトリ
	cipher, err := security.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create token cipher: %w", err)
	}
	credRepo := repository.NewPostgresCredentialRepo(db, cipher)
	profileRepo := repository.NewPostgresProfileRepo(db)
	sheetRepo := repository.NewPostgresSpreadsheetRepo(db)
	docRepo := repository.NewPostgresDocumentRepo(db)

	// 4. Google認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(oauthProvider, credRepo, cfg.SessionSecret, logger)
	gate := auth.NewGate(oauthProvider, credRepo, logger)

	// 5. 書類生成
	assembler, err := newAssembler(ctx, cfg, gate, sheetRepo, docRepo, logger)
	if err != nil {
		return err
	}

	// 6. 会話とイベント処理
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	machine := conversation.NewMachine(conversation.Deps{
		Gate:           gate,
		AuthURLs:       authService,
		Sheets:         assembler,
		Profiles:       profileRepo,
		Sanitizer:      security.NewTextSanitizer(),
		CandidateLimit: cfg.SheetCandidateLimit,
		Logger:         logger,
	})

	lineClient := line.NewClient(line.ClientConfig{
		ChannelAccessToken: cfg.LineChannelAccessToken,
		BaseURL:            cfg.LineAPIBaseURL,
		Logger:             logger,
	})

	dispatcher, err := bot.NewDispatcher(machine, store, locker, profileRepo, assembler, lineClient, bot.Config{
		DedupCacheSize: cfg.DedupCacheSize,
		RateLimit:      cfg.RateLimitEvents,
		Metrics:        collector,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         logger,
		Metrics:        collector,
		ChannelSecret:  cfg.LineChannelSecret,
		Dispatcher:     dispatcher,
		AuthService:    authService,
		AuthNotifier:   dispatcher,
		RateLimiter:    rateLimiter,
		HealthChecks:   healthChecks,
		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	logger.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		return fmt.Errorf("pending events were not finished: %w", err)
	}

	logger.Info("API server stopped gracefully")
	return nil
}

// newRedisClient はREDIS_URLからクライアントを生成し、疎通を確認する。
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newAssembler は書類生成器を組み立てる。
// LAYOUT_FILE が指定されていればそのレイアウトを、なければ組み込みのレイアウトを使う。
func newAssembler(
	ctx context.Context,
	cfg *config.Config,
	tokens gsuite.TokenProvider,
	sheets assembly.SpreadsheetRepository,
	docs assembly.DocumentRecorder,
	logger *slog.Logger,
) (*assembly.Assembler, error) {
	var layout *assembly.Layout
	if cfg.LayoutFile != "" {
		l, err := assembly.LoadLayout(cfg.LayoutFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load layout: %w", err)
		}
		layout = l
	}

	store, err := pdfstore.New(ctx, pdfstore.Config{
		Backend:        cfg.PDFStorage,
		S3Bucket:       cfg.S3Bucket,
		S3Region:       cfg.S3Region,
		S3Endpoint:     cfg.S3Endpoint,
		S3AccessKey:    cfg.S3AccessKeyID,
		S3SecretKey:    cfg.S3SecretKey,
		S3UsePathStyle: cfg.S3UsePathStyle,
		S3PresignTTL:   cfg.S3PresignTTL,
		SupabaseURL:    cfg.SupabaseURL,
		SupabaseKey:    cfg.SupabaseKey,
		SupabaseBucket: cfg.SupabaseBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf store: %w", err)
	}

	assembler, err := assembly.NewAssembler(gsuite.NewOpener(tokens, gsuite.OpenerConfig{}), sheets, docs, assembly.Config{
		Templates: map[model.DocumentType]string{
			model.DocumentEstimate: cfg.EstimateTemplateID,
			model.DocumentInvoice:  cfg.InvoiceTemplateID,
		},
		Layout:                layout,
		ExportMaxAttempts:     cfg.PDFExportMaxAttempts,
		ExportInitialInterval: cfg.PDFExportInitialInterval,
		CandidateLimit:        cfg.SheetCandidateLimit,
		PDFStore:              store,
		Logger:                logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}
	return assembler, nil
}
