package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hitoshi/docbot/internal/line"
)

// mockDispatcher は EventDispatcher のモック実装。
type mockDispatcher struct {
	mu     sync.Mutex
	events []line.Event
	calls  int
}

func (m *mockDispatcher) Dispatch(_ context.Context, events []line.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.events = append(m.events, events...)
}

// mockAuthService は AuthServiceInterface のモック実装。
type mockAuthService struct {
	handleCallbackFn func(ctx context.Context, state, code string) (string, error)
}

func (m *mockAuthService) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, state, code)
	}
	return "U1", nil
}

// mockNotifier は AuthNotifier のモック実装。
type mockNotifier struct {
	notifyFn func(ctx context.Context, userID string) error
	notified []string
}

func (m *mockNotifier) NotifyAuthCompleted(ctx context.Context, userID string) error {
	m.notified = append(m.notified, userID)
	if m.notifyFn != nil {
		return m.notifyFn(ctx, userID)
	}
	return nil
}

// コンパイル時にインターフェースの実装を確認する
var (
	_ EventDispatcher      = (*mockDispatcher)(nil)
	_ AuthServiceInterface = (*mockAuthService)(nil)
	_ AuthNotifier         = (*mockNotifier)(nil)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
