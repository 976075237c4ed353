package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/redis/go-redis/v9"
)

// fakeClock はテスト用に進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryTestStore(t *testing.T, clock *fakeClock) Store {
	t.Helper()
	store, err := NewStore(StoreTypeMemory, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestNewStore_Redis_RequiresClient(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewStore(redis) error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewStore_UnknownType(t *testing.T) {
	_, err := NewStore("etcd")
	if !errors.Is(err, ErrInvalidStoreType) {
		t.Errorf("NewStore(etcd) error = %v, want ErrInvalidStoreType", err)
	}
}

func TestNewStore_Redis_UsesPrefixedKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	store, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithKeyPrefix("test:"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	rs, ok := store.(*redisStore)
	if !ok {
		t.Fatalf("store type = %T, want *redisStore", store)
	}
	if got := rs.key("U123"); got != "test:U123" {
		t.Errorf("key() = %q, want %q", got, "test:U123")
	}
	if rs.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", rs.ttl, DefaultTTL)
	}
}

func TestMemoryStore_Get_Absent_ReturnsNil(t *testing.T) {
	store := newMemoryTestStore(t, &fakeClock{now: time.Now()})

	sess, err := store.Get(context.Background(), "U-none")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Errorf("Get() = %+v, want nil", sess)
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMemoryTestStore(t, clock)
	ctx := context.Background()

	sess := model.NewSession("U1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("Version = %d, want 1", sess.Version)
	}
	if !sess.ExpiresAt.Equal(clock.now.Add(DefaultTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, clock.now.Add(DefaultTTL))
	}

	got, err := store.Get(ctx, "U1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.State != model.StateEmailInput || got.Step != model.StepEmail {
		t.Errorf("Get() = %+v, want email_input/email", got)
	}
}

func TestMemoryStore_Get_ReturnsCopy(t *testing.T) {
	store := newMemoryTestStore(t, &fakeClock{now: time.Now()})
	ctx := context.Background()

	sess := model.NewSession("U1")
	sess.Items = []model.LineItem{{Name: "a", Quantity: 1, Price: 1}}
	_ = store.Create(ctx, sess)

	got, _ := store.Get(ctx, "U1")
	got.Items[0].Name = "changed"
	got.Items = append(got.Items, model.LineItem{Name: "b"})

	again, _ := store.Get(ctx, "U1")
	if len(again.Items) != 1 || again.Items[0].Name != "a" {
		t.Errorf("stored items mutated through returned copy: %+v", again.Items)
	}
}

func TestMemoryStore_Expiry_TreatedAsAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newMemoryTestStore(t, clock)
	ctx := context.Background()

	_ = store.Create(ctx, model.NewSession("U1"))

	clock.Advance(DefaultTTL - time.Second)
	if got, _ := store.Get(ctx, "U1"); got == nil {
		t.Fatal("session should still exist before TTL")
	}

	clock.Advance(2 * time.Second)
	if got, _ := store.Get(ctx, "U1"); got != nil {
		t.Errorf("Get() after TTL = %+v, want nil", got)
	}
}

func TestMemoryStore_Update_ExtendsExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newMemoryTestStore(t, clock)
	ctx := context.Background()

	_ = store.Create(ctx, model.NewSession("U1"))
	clock.Advance(20 * time.Hour)

	sess, _ := store.Get(ctx, "U1")
	sess.Email = "user@example.com"
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	clock.Advance(20 * time.Hour)
	got, _ := store.Get(ctx, "U1")
	if got == nil {
		t.Fatal("更新によって有効期限が延長されること")
	}
	if got.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "user@example.com")
	}
}

func TestMemoryStore_Update_VersionConflict(t *testing.T) {
	store := newMemoryTestStore(t, &fakeClock{now: time.Now()})
	ctx := context.Background()

	_ = store.Create(ctx, model.NewSession("U1"))

	first, _ := store.Get(ctx, "U1")
	second, _ := store.Get(ctx, "U1")

	first.Items = append(first.Items, model.LineItem{Name: "first"})
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Version = %d, want 2", first.Version)
	}

	second.Items = append(second.Items, model.LineItem{Name: "second"})
	if err := store.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("second Update() error = %v, want ErrVersionConflict", err)
	}

	got, _ := store.Get(ctx, "U1")
	if len(got.Items) != 1 || got.Items[0].Name != "first" {
		t.Errorf("Items = %+v, want only first", got.Items)
	}
}

func TestMemoryStore_Update_NotFound(t *testing.T) {
	store := newMemoryTestStore(t, &fakeClock{now: time.Now()})

	err := store.Update(context.Background(), &model.Session{UserID: "U-none", Version: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := newMemoryTestStore(t, &fakeClock{now: time.Now()})
	ctx := context.Background()

	_ = store.Create(ctx, model.NewSession("U1"))
	if err := store.Delete(ctx, "U1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Get(ctx, "U1"); got != nil {
		t.Errorf("Get() after Delete = %+v, want nil", got)
	}
	// 存在しないセッションの削除はエラーにならない
	if err := store.Delete(ctx, "U1"); err != nil {
		t.Errorf("Delete() of absent session error = %v", err)
	}
}
