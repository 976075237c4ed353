// Package session はユーザーごとの会話セッションの保存と排他制御を提供する。
//
// セッションは一定時間（既定24時間）更新がなければ失効し、存在しないものとして扱われる。
// 更新は楽観的ロック（Version）で保護され、同一ユーザーへの並行更新は
// ErrVersionConflict として検出される。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL はセッションの既定の有効期間。
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound は更新対象のセッションが存在しない（失効済みを含む）ことを示す。
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict は保存済みのVersionと一致しないことを示す。
	ErrVersionConflict = errors.New("session version conflict")
	// ErrInvalidConfig はストア生成時の設定不足を示す。
	ErrInvalidConfig = errors.New("invalid session store config")
	// ErrInvalidStoreType は未知のストア種別を示す。
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// Store はセッションの保存先のインターフェース。
type Store interface {
	// Get はユーザーのセッションを取得する。存在しないか失効済みの場合はnilを返す。
	Get(ctx context.Context, userID string) (*model.Session, error)

	// Create はVersionを1としてセッションを保存する。既存のセッションは置き換える。
	Create(ctx context.Context, sess *model.Session) error

	// Update はVersionが一致する場合のみセッションを上書きし、Versionを1進める。
	// 有効期限は更新時刻から延長される。
	Update(ctx context.Context, sess *model.Session) error

	// Delete はセッションを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, userID string) error

	// Close はストアが保持するリソースを解放する。
	Close() error
}

// StoreType はセッションストアの種別。
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption はストア生成時のオプション。
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// WithRedisClient はRedisドライバが使うクライアントを指定する。
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL はセッションの有効期間を指定する。
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithKeyPrefix はRedisキーの接頭辞を指定する。
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewStore は種別に応じたセッションストアを生成する。
// Redisの場合は WithRedisClient が必須。
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{
		ttl:       DefaultTTL,
		keyPrefix: "docbot:session:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(cfg), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

func stamp(sess *model.Session, now time.Time, ttl time.Duration) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(ttl)
}
