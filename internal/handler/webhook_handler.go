// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/docbot/internal/line"
	"github.com/hitoshi/docbot/internal/middleware"
	"github.com/hitoshi/docbot/internal/model"
)

// maxWebhookBodySize はWebhookリクエストボディの上限。
const maxWebhookBodySize = 1 << 20

// EventDispatcher は検証済みのイベントを処理に回す。
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []line.Event)
}

// WebhookHandler はLINEのWebhookを受け付ける。
type WebhookHandler struct {
	channelSecret string
	dispatcher    EventDispatcher
	logger        *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(channelSecret string, dispatcher EventDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		channelSecret: channelSecret,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// Callback は署名を検証してイベントを受理する。
// POST /callback
//
// イベントの処理完了は待たずに200を返す。
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidPayloadError())
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError())
		return
	}

	if !line.VerifySignature(h.channelSecret, body, r.Header.Get(line.SignatureHeader)) {
		h.logger.Warn("webhook signature verification failed",
			slog.Int("body_size", len(body)),
		)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSignatureError())
		return
	}

	events, err := line.ParseEvents(body)
	if err != nil {
		h.logger.Warn("failed to parse webhook body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError())
		return
	}

	h.dispatcher.Dispatch(r.Context(), events)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
