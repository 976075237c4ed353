// Package pdfstore は生成したPDFをユーザーのDrive以外へ保存する実装を提供する。
package pdfstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/docbot/internal/assembly"
)

const (
	// BackendDrive はPDFをユーザーのDriveに保存する（外部ストアを使わない）。
	BackendDrive = "drive"
	// BackendS3 はS3互換ストレージに保存する。
	BackendS3 = "s3"
	// BackendSupabase はSupabase Storageに保存する。
	BackendSupabase = "supabase"
)

const pdfContentType = "application/pdf"

// Config はPDF保存先の設定。
type Config struct {
	Backend string

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PresignTTL   time.Duration

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

// New は設定に応じた assembly.PDFStore を返す。Drive を使う場合は nil を返す。
func New(ctx context.Context, cfg Config) (assembly.PDFStore, error) {
	switch cfg.Backend {
	case "", BackendDrive:
		return nil, nil
	case BackendS3:
		return NewS3Store(ctx, S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			PresignTTL:   cfg.S3PresignTTL,
		})
	case BackendSupabase:
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	default:
		return nil, fmt.Errorf("unknown pdf storage backend: %q", cfg.Backend)
	}
}
