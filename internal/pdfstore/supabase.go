package pdfstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/docbot/internal/assembly"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore はPDFをSupabase Storageの公開バケットに保存する。
type SupabaseStore struct {
	// FileOptions はクライアント共有のヘッダーを書き換えるため、アップロードを直列化する。
	mu      sync.Mutex
	storage *storage_go.Client
	bucket  string
}

var _ assembly.PDFStore = (*SupabaseStore)(nil)

// NewSupabaseStore は SupabaseStore を生成する。
func NewSupabaseStore(url, key, bucket string) (*SupabaseStore, error) {
	if url == "" || key == "" || bucket == "" {
		return nil, errors.New("supabase url, key and bucket are required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{storage: client.Storage, bucket: bucket}, nil
}

// Upload はPDFを上書き保存し、公開URLを返す。
func (s *SupabaseStore) Upload(ctx context.Context, name string, pdf []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	contentType := pdfContentType
	upsert := true

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.storage.UploadFile(s.bucket, name, bytes.NewReader(pdf), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}

	return s.storage.GetPublicUrl(s.bucket, name).SignedURL, nil
}
