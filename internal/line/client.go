package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/sony/gobreaker"
)

const (
	// DefaultBaseURL はMessaging APIのエンドポイント。
	DefaultBaseURL = "https://api.line.me"
	// maxMessagesPerCall は1回の返信・プッシュで送れるメッセージ数。
	maxMessagesPerCall = 5
	maxErrorBody       = 4 << 10
)

// Destination は送信先。ReplyToken があれば返信を優先する。
type Destination struct {
	UserID     string
	ReplyToken string
}

// APIError はMessaging APIがエラーステータスを返したことを表す。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api returned status %d: %s", e.StatusCode, e.Body)
}

// clientError は呼び出し側の誤り（無効な返信トークンなど）で、回路遮断の対象にしない。
func clientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}

// ClientConfig は Client の設定。
type ClientConfig struct {
	ChannelAccessToken string
	BaseURL            string
	HTTPClient         *http.Client
	// BreakerTimeout は回路が開いてから半開に移るまでの時間。
	BreakerTimeout time.Duration
	// BreakerFailures は回路を開く連続失敗回数。
	BreakerFailures uint32
	Logger          *slog.Logger
}

// Client はMessaging APIへメッセージを送る。
// API障害が続いた場合は回路遮断で呼び出しを止める。
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient は Client を生成する。
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger
	failures := cfg.BreakerFailures

	return &Client{
		token:      cfg.ChannelAccessToken,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "line-messaging-api",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || clientError(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("name", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

// Send はメッセージを順番に送る。
// 先頭の最大5件は返信トークンで返信し、返信に失敗した場合と6件目以降はプッシュで送る。
func (c *Client) Send(ctx context.Context, dest Destination, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := convertMessages(msgs)

	replyToken := dest.ReplyToken
	for start := 0; start < len(out); start += maxMessagesPerCall {
		end := min(start+maxMessagesPerCall, len(out))
		batch := out[start:end]

		if replyToken != "" {
			err := c.reply(ctx, replyToken, batch)
			replyToken = ""
			if err == nil {
				continue
			}
			c.logger.Warn("reply failed, falling back to push",
				slog.String("user_id", dest.UserID),
				slog.String("error", err.Error()),
			)
		}

		if dest.UserID == "" {
			return errors.New("push requires a user id")
		}
		if err := c.push(ctx, dest.UserID, batch); err != nil {
			return err
		}
	}
	return nil
}

// Push は返信トークンを使わずにメッセージを送る。
func (c *Client) Push(ctx context.Context, userID string, msgs []model.Message) error {
	return c.Send(ctx, Destination{UserID: userID}, msgs)
}

func (c *Client) reply(ctx context.Context, replyToken string, msgs []outMessage) error {
	return c.post(ctx, "/v2/bot/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   msgs,
	})
}

func (c *Client) push(ctx context.Context, to string, msgs []outMessage) error {
	return c.post(ctx, "/v2/bot/message/push", map[string]any{
		"to":       to,
		"messages": msgs,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	})
	return err
}
