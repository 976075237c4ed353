package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL はユーザーロックの既定の保持上限。書類生成の所要時間をまかなう長さにする。
const DefaultLockTTL = 2 * time.Minute

// Locker はユーザー単位でセッション更新を直列化する。
type Locker interface {
	// Lock はユーザーのロックを取得し、解放関数を返す。
	// ctxが終了した場合は取得を諦めてエラーを返す。
	Lock(ctx context.Context, userID string) (func(), error)
}

// LocalLocker はプロセス内のキー付きミューテックス。
// 参照カウントで未使用のエントリを削除するため、ユーザー数に比例してメモリが増え続けない。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker はLocalLockerを生成する。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[userID]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, kl)
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", userID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(userID, kl)
		})
	}, nil
}

func (l *LocalLocker) release(userID string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, userID)
	}
}

// Len は管理中のエントリ数を返す。テスト用。
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisLocker はredsyncによる分散ロック。複数インスタンスで同じユーザーを同時に処理しないようにする。
type RedisLocker struct {
	rs        *redsync.Redsync
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{
		rs:        redsync.New(goredis.NewPool(client)),
		ttl:       ttl,
		keyPrefix: "docbot:lock:",
		logger:    logger,
	}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	mutex := l.rs.NewMutex(l.keyPrefix+userID,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(250*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", userID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := mutex.Unlock(); err != nil {
				l.logger.Error("failed to release user lock",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
