package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/docbot/internal/model"
)

// memoryStore はプロセス内マップによるStore実装。単一インスタンス運用とテストで使う。
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	ttl      time.Duration
	now      func() time.Time
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*model.Session),
		ttl:      cfg.ttl,
		now:      cfg.now,
	}
}

// Get implements Store.
func (s *memoryStore) Get(_ context.Context, userID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if stored.Expired(s.now()) {
		delete(s.sessions, userID)
		return nil, nil
	}
	return stored.Clone(), nil
}

// Create implements Store.
func (s *memoryStore) Create(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess.CreatedAt = time.Time{}
	stamp(sess, now, s.ttl)
	sess.Version = 1

	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

// Update implements Store.
func (s *memoryStore) Update(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored, ok := s.sessions[sess.UserID]
	if !ok || stored.Expired(now) {
		delete(s.sessions, sess.UserID)
		return ErrNotFound
	}
	if stored.Version != sess.Version {
		return ErrVersionConflict
	}

	stamp(sess, now, s.ttl)
	sess.Version++

	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

// Delete implements Store.
func (s *memoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// Close implements Store.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*model.Session)
	return nil
}

var _ Store = (*memoryStore)(nil)
