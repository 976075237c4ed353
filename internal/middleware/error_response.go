package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/docbot/internal/model"
)

// ErrorResponseBody はエラーレスポンスのJSON形式。
// LINEプラットフォームやブラウザに返すもので、内部の詳細は含めない。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteJSON は v をJSONとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	// ヘッダー送信後のエンコード失敗は返しようがない
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse は model.APIError をエラーレスポンスとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は500を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
