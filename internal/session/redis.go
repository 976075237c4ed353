package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/redis/go-redis/v9"
)

// redisStore はRedisによるStore実装。
// キーのTTLをセッションの有効期間として使い、更新はWATCHによる楽観的ロックで行う。
type redisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{
		client:    cfg.redisClient,
		ttl:       cfg.ttl,
		keyPrefix: cfg.keyPrefix,
		now:       cfg.now,
	}
}

func (s *redisStore) key(userID string) string {
	return s.keyPrefix + userID
}

// Get implements Store.
func (s *redisStore) Get(ctx context.Context, userID string) (*model.Session, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess, err := decodeSession(val)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// Create implements Store.
func (s *redisStore) Create(ctx context.Context, sess *model.Session) error {
	sess.CreatedAt = time.Time{}
	stamp(sess, s.now(), s.ttl)
	sess.Version = 1

	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.UserID), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *redisStore) Update(ctx context.Context, sess *model.Session) error {
	key := s.key(sess.UserID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		stored, err := decodeSession(val)
		if err != nil {
			return err
		}
		if stored.Version != sess.Version {
			return ErrVersionConflict
		}

		next := sess.Clone()
		stamp(next, s.now(), s.ttl)
		next.Version++

		newVal, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		*sess = *next
		return nil
	}, key)

	// WATCH中に他の書き込みがあった場合もバージョン競合として扱う
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// Delete implements Store.
func (s *redisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}

func decodeSession(val []byte) (*model.Session, error) {
	var sess model.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

var _ Store = (*redisStore)(nil)
