// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// LINE
	LineChannelSecret      string `env:"LINE_CHANNEL_SECRET,notEmpty"`
	LineChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN,notEmpty"`
	LineAPIBaseURL         string `env:"LINE_API_BASE_URL"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,notEmpty"`

	// Secrets
	SessionSecret      string `env:"SESSION_SECRET,notEmpty"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY,notEmpty"`

	// Session
	RedisURL   string        `env:"REDIS_URL"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	LockTTL    time.Duration `env:"LOCK_TTL" envDefault:"2m"`

	// Documents
	EstimateTemplateID       string        `env:"ESTIMATE_TEMPLATE_ID"`
	InvoiceTemplateID        string        `env:"INVOICE_TEMPLATE_ID"`
	LayoutFile               string        `env:"LAYOUT_FILE"`
	SheetCandidateLimit      int           `env:"SHEET_CANDIDATE_LIMIT" envDefault:"5"`
	PDFExportMaxAttempts     int           `env:"PDF_EXPORT_MAX_ATTEMPTS" envDefault:"3"`
	PDFExportInitialInterval time.Duration `env:"PDF_EXPORT_INITIAL_INTERVAL" envDefault:"5s"`
	DocumentRetentionDays    int           `env:"DOCUMENT_RETENTION_DAYS" envDefault:"365"`

	// PDF storage
	PDFStorage     string        `env:"PDF_STORAGE" envDefault:"drive"`
	S3Bucket       string        `env:"S3_BUCKET"`
	S3Region       string        `env:"S3_REGION"`
	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3AccessKeyID  string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool          `env:"S3_USE_PATH_STYLE" envDefault:"false"`
	S3PresignTTL   time.Duration `env:"S3_PRESIGN_TTL" envDefault:"168h"`
	SupabaseURL    string        `env:"SUPABASE_URL"`
	SupabaseKey    string        `env:"SUPABASE_KEY"`
	SupabaseBucket string        `env:"SUPABASE_BUCKET"`

	// Rate Limit
	RateLimitEvents int `env:"RATE_LIMIT_EVENTS" envDefault:"30"`
	DedupCacheSize  int `env:"DEDUP_CACHE_SIZE" envDefault:"4096"`

	// Tracing
	OTelEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"docbot"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合は、不足しているものをまとめて1つのエラーで返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		if missing := missingKeys(err); len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables are not set: %v", missing)
		}
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.PDFStorage = strings.ToLower(strings.TrimSpace(cfg.PDFStorage))
	if cfg.SheetCandidateLimit <= 0 {
		cfg.SheetCandidateLimit = 5
	}
	if cfg.PDFExportMaxAttempts <= 0 {
		cfg.PDFExportMaxAttempts = 3
	}

	return cfg, nil
}

// missingKeys は未設定・空の必須変数名を取り出す。それ以外のエラーだけの場合は空を返す。
func missingKeys(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return nil
	}
	var missing []string
	for _, e := range agg.Errors {
		var empty env.EmptyEnvVarError
		var unset env.EnvVarIsNotSetError
		switch {
		case errors.As(e, &empty):
			missing = append(missing, empty.Key)
		case errors.As(e, &unset):
			missing = append(missing, unset.Key)
		}
	}
	if len(missing) != len(agg.Errors) {
		return nil
	}
	return missing
}

// RedisEnabled はRedisをセッションストアとロックに使うかを返す。
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// DocumentRetention は生成履歴の保持期間を返す。0以下は無期限。
func (c *Config) DocumentRetention() time.Duration {
	if c.DocumentRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.DocumentRetentionDays) * 24 * time.Hour
}
