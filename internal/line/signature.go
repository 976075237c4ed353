// Package line はLINE Messaging APIのWebhook受信とメッセージ送信を提供する。
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader はWebhookの署名ヘッダー名。
const SignatureHeader = "X-Line-Signature"

// VerifySignature はリクエストボディのHMAC-SHA256署名を定数時間で検証する。
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign はボディの署名を計算する。テストと疎通確認用。
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
